// Package realtime defines the Link interface for upstream realtime speech/LLM
// endpoints.
//
// A Link owns exactly one connection to the upstream service. The bridge
// connects it, configures the session once, streams client audio into it and
// pulls decoded protocol events out of it. A Link is never shared across
// sessions.
//
// Write-side methods (SendAudio, CommitInput, Configure, Disconnect) are safe
// for concurrent use with each other and with NextEvent. NextEvent itself must
// only be called from one goroutine at a time.
package realtime

import (
	"context"
	"errors"
	"slices"
)

// ErrNotConnected is returned by write-side methods before Connect succeeds.
var ErrNotConnected = errors.New("realtime: not connected")

// ErrClosed is returned after Disconnect, or by NextEvent once the upstream
// stream has ended and no more events will arrive.
var ErrClosed = errors.New("realtime: link closed")

// Modality is an output channel the upstream model may produce.
type Modality string

const (
	ModalityText  Modality = "text"
	ModalityAudio Modality = "audio"
)

// TurnDetection configures how the upstream endpoint segments user speech.
type TurnDetection struct {
	// Type is the detector kind. "server_vad" lets the upstream endpoint detect
	// end of speech; "none" (or empty) requires an explicit CommitInput.
	Type string

	// Threshold is the VAD activation threshold in the range [0, 1].
	Threshold float64

	// PrefixPaddingMs is the audio retained before detected speech.
	PrefixPaddingMs int

	// SilenceDurationMs is the trailing silence that ends a turn.
	SilenceDurationMs int
}

// Enabled reports whether the upstream endpoint detects turns on its own.
func (t TurnDetection) Enabled() bool {
	return t.Type != "" && t.Type != "none"
}

// SessionOptions is sent exactly once per connection via [Link.Configure].
type SessionOptions struct {
	// Modalities is either {text} or {text, audio}.
	Modalities []Modality

	// Voice is the synthesis voice. Recorded but unused in text-only mode.
	Voice string

	// Instructions is the system prompt for the conversation.
	Instructions string

	// InputAudioFormat is the encoding of client audio, e.g. "pcm16".
	InputAudioFormat string

	// OutputAudioFormat is the encoding of upstream audio. Recorded but unused
	// in text-only mode.
	OutputAudioFormat string

	// TranscriptionModel selects the model used for user transcription.
	TranscriptionModel string

	// TurnDetection configures upstream speech segmentation.
	TurnDetection TurnDetection
}

// AudioEnabled reports whether the session requests audio output.
func (o SessionOptions) AudioEnabled() bool {
	return slices.Contains(o.Modalities, ModalityAudio)
}

// EventType is a logical upstream event kind. Several wire names may map to
// the same EventType.
type EventType string

const (
	EventSessionCreated         EventType = "session.created"
	EventSessionUpdated         EventType = "session.updated"
	EventTextDelta              EventType = "response.text.delta"
	EventTextDone               EventType = "response.text.done"
	EventTranscriptionCompleted EventType = "conversation.item.input_audio_transcription.completed"
	EventAudioDelta             EventType = "response.audio.delta"
	EventAudioDone              EventType = "response.audio.done"
	EventResponseDone           EventType = "response.done"
	EventInputCommitted         EventType = "input_audio_buffer.committed"
	EventError                  EventType = "error"
	EventWarning                EventType = "warning"
	EventUnknown                EventType = "unknown"
)

// Event is one decoded upstream protocol event.
type Event struct {
	// Type is the logical kind of the event.
	Type EventType

	// WireType is the event name exactly as received.
	WireType string

	// Text carries the delta for EventTextDelta, the final text (when the
	// upstream supplies it) for EventTextDone and the transcript for
	// EventTranscriptionCompleted.
	Text string

	// Audio carries decoded audio bytes for EventAudioDelta.
	Audio []byte

	// ItemID identifies the conversation item the event belongs to, if any.
	ItemID string

	// Message is the human-readable message for EventError and EventWarning.
	Message string

	// Code is the upstream error code for EventError, if any.
	Code string
}

// Link is one connection to an upstream realtime endpoint.
type Link interface {
	// Connect opens the upstream transport. Failures are returned as-is and
	// never retried inside the call.
	Connect(ctx context.Context) error

	// Configure sends the session configuration event. It must be called
	// exactly once after Connect and before any audio is forwarded.
	Configure(ctx context.Context, opts SessionOptions) error

	// SendAudio encodes and forwards one inbound audio frame. It fails fast
	// with ErrNotConnected when the link is not connected.
	SendAudio(ctx context.Context, chunk []byte) error

	// CommitInput marks the end of the current user utterance. Committing an
	// empty input buffer is a successful no-op.
	CommitInput(ctx context.Context) error

	// NextEvent blocks until the next decoded event, ctx expiry or the end of
	// the upstream stream. Unknown event types are skipped by the
	// implementation, never returned as errors. At end of stream it returns
	// ErrClosed, or the transport error that ended it.
	NextEvent(ctx context.Context) (Event, error)

	// Connected reports whether the transport is currently open.
	Connected() bool

	// Disconnect closes the transport. It is idempotent and never fails on an
	// already-closed connection.
	Disconnect() error
}

// Factory builds a fresh, unconnected Link for one session.
type Factory func() Link
