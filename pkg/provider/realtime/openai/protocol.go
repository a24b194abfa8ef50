package openai

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/MrWong99/voxbridge/pkg/provider/realtime"
)

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type typedMessage struct {
	Type string `json:"type"`
}

type sessionUpdateMessage struct {
	Type    string        `json:"type"`
	Session sessionParams `json:"session"`
}

type sessionParams struct {
	Modalities              []string             `json:"modalities"`
	Voice                   string               `json:"voice,omitempty"`
	Instructions            string               `json:"instructions,omitempty"`
	InputAudioFormat        string               `json:"input_audio_format,omitempty"`
	OutputAudioFormat       string               `json:"output_audio_format,omitempty"`
	InputAudioTranscription *transcriptionParams `json:"input_audio_transcription,omitempty"`

	// TurnDetection is deliberately not omitempty: an explicit null disables
	// server VAD.
	TurnDetection *turnDetectionParams `json:"turn_detection"`
}

type transcriptionParams struct {
	Model string `json:"model"`
}

type turnDetectionParams struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold,omitempty"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms,omitempty"`
	SilenceDurationMs int     `json:"silence_duration_ms,omitempty"`
}

type appendAudioMessage struct {
	Type  string `json:"type"`
	Audio string `json:"audio"` // base64-encoded PCM16
}

// toSessionParams maps SessionOptions onto the session.update payload. Voice
// and output format only go on the wire when audio output is requested.
func toSessionParams(opts realtime.SessionOptions) sessionParams {
	modalities := make([]string, 0, len(opts.Modalities))
	for _, m := range opts.Modalities {
		modalities = append(modalities, string(m))
	}
	if len(modalities) == 0 {
		modalities = []string{string(realtime.ModalityText)}
	}

	p := sessionParams{
		Modalities:       modalities,
		Instructions:     opts.Instructions,
		InputAudioFormat: opts.InputAudioFormat,
	}
	if opts.AudioEnabled() {
		p.Voice = opts.Voice
		p.OutputAudioFormat = opts.OutputAudioFormat
	}
	if opts.TranscriptionModel != "" {
		p.InputAudioTranscription = &transcriptionParams{Model: opts.TranscriptionModel}
	}
	if td := opts.TurnDetection; td.Enabled() {
		p.TurnDetection = &turnDetectionParams{
			Type:              td.Type,
			Threshold:         td.Threshold,
			PrefixPaddingMs:   td.PrefixPaddingMs,
			SilenceDurationMs: td.SilenceDurationMs,
		}
	}
	return p
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

// serverErrorDetail represents the nested error object in an error event:
// {"type":"error","error":{"type":"...","code":"...","message":"..."}}.
type serverErrorDetail struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

type serverEvent struct {
	Type string `json:"type"`

	// *.delta events
	Delta string `json:"delta,omitempty"`

	// response.text.done / response.output_text.done
	Text string `json:"text,omitempty"`

	// conversation.item.input_audio_transcription.completed and
	// response.audio_transcript.done
	Transcript string `json:"transcript,omitempty"`

	ItemID string `json:"item_id,omitempty"`

	// warning events carry a flat message
	Message string `json:"message,omitempty"`

	Error *serverErrorDetail `json:"error,omitempty"`
}

// wireTypes maps every accepted wire name onto its logical event type. Both
// the beta and GA names are accepted. In audio mode the assistant's text
// arrives as an audio transcript, so those names fold into the text kinds.
var wireTypes = map[string]realtime.EventType{
	"session.created": realtime.EventSessionCreated,
	"session.updated": realtime.EventSessionUpdated,

	"response.text.delta":                    realtime.EventTextDelta,
	"response.output_text.delta":             realtime.EventTextDelta,
	"response.audio_transcript.delta":        realtime.EventTextDelta,
	"response.output_audio_transcript.delta": realtime.EventTextDelta,
	"response.text.done":                     realtime.EventTextDone,
	"response.output_text.done":              realtime.EventTextDone,
	"response.audio_transcript.done":         realtime.EventTextDone,
	"response.output_audio_transcript.done":  realtime.EventTextDone,

	"conversation.item.input_audio_transcription.completed": realtime.EventTranscriptionCompleted,

	"response.audio.delta":        realtime.EventAudioDelta,
	"response.output_audio.delta": realtime.EventAudioDelta,
	"response.audio.done":         realtime.EventAudioDone,
	"response.output_audio.done":  realtime.EventAudioDone,

	"response.done":                realtime.EventResponseDone,
	"input_audio_buffer.committed": realtime.EventInputCommitted,
	"error":                        realtime.EventError,
	"warning":                      realtime.EventWarning,
}

// decodeEvent parses one frame. A frame that is not a JSON object with a
// type field is an error; a well-formed event with an unrecognised type
// decodes to EventUnknown.
func decodeEvent(data []byte) (realtime.Event, error) {
	var raw serverEvent
	if err := json.Unmarshal(data, &raw); err != nil {
		return realtime.Event{}, fmt.Errorf("openai: decode event: %w", err)
	}
	if raw.Type == "" {
		return realtime.Event{}, fmt.Errorf("openai: decode event: missing type")
	}

	typ, ok := wireTypes[raw.Type]
	if !ok {
		return realtime.Event{Type: realtime.EventUnknown, WireType: raw.Type}, nil
	}

	evt := realtime.Event{Type: typ, WireType: raw.Type, ItemID: raw.ItemID}
	switch typ {
	case realtime.EventTextDelta:
		evt.Text = raw.Delta
	case realtime.EventTextDone:
		evt.Text = raw.Text
		if evt.Text == "" {
			evt.Text = raw.Transcript
		}
	case realtime.EventTranscriptionCompleted:
		evt.Text = raw.Transcript
	case realtime.EventAudioDelta:
		audio, err := base64.StdEncoding.DecodeString(raw.Delta)
		if err != nil {
			return realtime.Event{}, fmt.Errorf("openai: decode audio delta: %w", err)
		}
		evt.Audio = audio
	case realtime.EventError:
		evt.Message = "unknown error"
		if raw.Error != nil {
			if raw.Error.Message != "" {
				evt.Message = raw.Error.Message
			}
			evt.Code = raw.Error.Code
		}
	case realtime.EventWarning:
		evt.Message = raw.Message
		if evt.Message == "" && raw.Error != nil {
			evt.Message = raw.Error.Message
		}
	}
	return evt, nil
}
