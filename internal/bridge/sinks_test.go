package bridge

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/voxbridge/pkg/memory"
	"github.com/MrWong99/voxbridge/pkg/memory/mock"
)

type recordingSpeaker struct {
	session, text []string
	err           error
}

func (s *recordingSpeaker) Speak(_ context.Context, session, text string) error {
	s.session = append(s.session, session)
	s.text = append(s.text, text)
	return s.err
}

func TestPersistTurns(t *testing.T) {
	t.Parallel()
	store := &mock.TurnStore{}
	h := PersistTurns(store)
	ctx := context.Background()

	for _, evt := range []Event{
		{Kind: KindTranscript, SessionID: "s1", Role: memory.RoleUser, Text: "hi"},
		{Kind: KindResponse, SessionID: "s1", Role: memory.RoleAssistant, Text: "hello"},
		{Kind: KindControl, SessionID: "s1", Control: "recording_started"},
		{Kind: KindAudio, SessionID: "s1", Audio: []byte{1, 2}},
	} {
		if err := h(ctx, evt); err != nil {
			t.Fatalf("handler(%s): %v", evt.Kind, err)
		}
	}

	calls := store.Calls()
	if len(calls) != 2 {
		t.Fatalf("persisted %d turns, want 2", len(calls))
	}
	if calls[0].Role != memory.RoleUser || calls[1].Role != memory.RoleAssistant {
		t.Errorf("roles = %s, %s", calls[0].Role, calls[1].Role)
	}
}

func TestPersistTurns_WrapsStoreError(t *testing.T) {
	t.Parallel()
	boom := errors.New("db down")
	h := PersistTurns(&mock.TurnStore{CreateMessageErr: boom})
	err := h(context.Background(), Event{Kind: KindTranscript, Role: memory.RoleUser, Text: "x"})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped %v", err, boom)
	}
}

func TestSpeakResponses(t *testing.T) {
	t.Parallel()
	sp := &recordingSpeaker{}
	h := SpeakResponses(sp, "avatar-1")
	ctx := context.Background()

	_ = h(ctx, Event{Kind: KindTranscript, Text: "user speech"})
	_ = h(ctx, Event{Kind: KindResponse, Text: "   "})
	if err := h(ctx, Event{Kind: KindResponse, Text: "Hello there"}); err != nil {
		t.Fatalf("speak: %v", err)
	}

	if len(sp.text) != 1 || sp.text[0] != "Hello there" || sp.session[0] != "avatar-1" {
		t.Errorf("speaker got sessions=%v texts=%v", sp.session, sp.text)
	}
}

func TestWithTimeout(t *testing.T) {
	t.Parallel()
	var deadline time.Time
	h := WithTimeout(func(ctx context.Context, _ Event) error {
		deadline, _ = ctx.Deadline()
		return nil
	}, time.Minute)

	start := time.Now()
	if err := h(context.Background(), Event{}); err != nil {
		t.Fatal(err)
	}
	if deadline.IsZero() || deadline.Sub(start) > time.Minute+time.Second {
		t.Errorf("deadline = %v, want about one minute from %v", deadline, start)
	}

	var called bool
	plain := WithTimeout(func(ctx context.Context, _ Event) error {
		_, called = ctx.Deadline()
		return nil
	}, 0)
	_ = plain(context.Background(), Event{})
	if called {
		t.Error("zero timeout should not add a deadline")
	}
}
