package bridge

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/MrWong99/voxbridge/pkg/memory"
)

// PersistTurns returns a sink that appends every completed turn to store.
// Register it for [KindTranscript] and [KindResponse]; other kinds are
// ignored.
func PersistTurns(store memory.TurnStore) Handler {
	return func(ctx context.Context, evt Event) error {
		if evt.Kind != KindTranscript && evt.Kind != KindResponse {
			return nil
		}
		if _, err := store.CreateMessage(ctx, evt.SessionID, evt.Role, evt.Text); err != nil {
			return fmt.Errorf("bridge: persist %s turn: %w", evt.Role, err)
		}
		return nil
	}
}

// Speaker hands assistant text to an external renderer such as a streaming
// avatar.
type Speaker interface {
	Speak(ctx context.Context, session, text string) error
}

// SpeakResponses returns a sink that forwards completed assistant responses
// to sp for the given renderer session. Blank text is never sent.
func SpeakResponses(sp Speaker, session string) Handler {
	return func(ctx context.Context, evt Event) error {
		if evt.Kind != KindResponse || strings.TrimSpace(evt.Text) == "" {
			return nil
		}
		if err := sp.Speak(ctx, session, evt.Text); err != nil {
			return fmt.Errorf("bridge: speak response: %w", err)
		}
		return nil
	}
}

// WithTimeout bounds every call to h by d. A non-positive d returns h as is.
func WithTimeout(h Handler, d time.Duration) Handler {
	if d <= 0 {
		return h
	}
	return func(ctx context.Context, evt Event) error {
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		return h(ctx, evt)
	}
}
