package bridge

import (
	"encoding/json"
	"fmt"
)

// Inbound control message types.
const (
	controlPing           = "ping"
	controlStartRecording = "start_recording"
	controlStopRecording  = "stop_recording"
)

// Outbound frame types.
const (
	framePong             = "pong"
	frameRecordingStarted = "recording_started"
	frameRecordingStopped = "recording_stopped"
	frameTranscript       = "transcript"
	frameTextResponse     = "text_response"
	frameError            = "error"
)

// Client-visible error messages.
const (
	msgUpstreamUnavailable = "failed to connect to upstream service"
	msgUpstreamLost        = "upstream connection lost"
)

// controlMessage is a client-originated text frame. Only the tag is read;
// unknown tags are ignored.
type controlMessage struct {
	Type string `json:"type"`
}

func decodeControl(data []byte) (controlMessage, error) {
	var msg controlMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return controlMessage{}, fmt.Errorf("bridge: decode control message: %w", err)
	}
	if msg.Type == "" {
		return controlMessage{}, fmt.Errorf("bridge: decode control message: missing type")
	}
	return msg, nil
}

// outboundMessage is every JSON frame the bridge sends to the client.
type outboundMessage struct {
	Type    string `json:"type"`
	Text    string `json:"text,omitempty"`
	Message string `json:"message,omitempty"`
}

func errorMessage(msg string) outboundMessage {
	return outboundMessage{Type: frameError, Message: msg}
}
