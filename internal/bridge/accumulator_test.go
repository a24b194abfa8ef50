package bridge

import (
	"strings"
	"testing"

	"github.com/MrWong99/voxbridge/pkg/memory"
)

func TestAccumulator_ConcatenatesDeltas(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		deltas []string
	}{
		{"single", []string{"Hello"}},
		{"split word", []string{"Hel", "lo"}},
		{"many", []string{"The ", "quick ", "brown ", "fox"}},
		{"unicode", []string{"gr", "üß", "e ", "😀"}},
		{"empty deltas inside", []string{"a", "", "b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var a Accumulator
			for _, d := range tt.deltas {
				a.TextDelta(d)
			}
			got := a.TextDone("")
			if want := strings.Join(tt.deltas, ""); got.Text != want {
				t.Errorf("Text = %q, want %q", got.Text, want)
			}
			if got.Role != memory.RoleAssistant {
				t.Errorf("Role = %q, want assistant", got.Role)
			}
		})
	}
}

func TestAccumulator_DoneResets(t *testing.T) {
	t.Parallel()
	var a Accumulator
	a.TextDelta("first")
	if !a.Pending() {
		t.Fatal("Pending = false after delta")
	}
	a.TextDone("")
	if a.Pending() || a.Partial() != "" {
		t.Fatalf("state not reset: pending=%v partial=%q", a.Pending(), a.Partial())
	}

	a.TextDelta("second")
	if got := a.TextDone(""); got.Text != "second" {
		t.Errorf("second response = %q, want %q", got.Text, "second")
	}
}

func TestAccumulator_DoneWithoutDeltas(t *testing.T) {
	t.Parallel()
	var a Accumulator

	got := a.TextDone("")
	if got.Text != "" || !got.Empty() {
		t.Errorf("TextDone with nothing open = %+v, want empty completion", got)
	}

	if got := a.TextDone("full text"); got.Text != "full text" {
		t.Errorf("TextDone fallback = %q, want %q", got.Text, "full text")
	}
}

func TestAccumulator_DeltasWinOverDoneText(t *testing.T) {
	t.Parallel()
	var a Accumulator
	a.TextDelta("Hel")
	a.TextDelta("lo")
	if got := a.TextDone("Hello there"); got.Text != "Hello" {
		t.Errorf("Text = %q, want concatenated deltas", got.Text)
	}
}

func TestAccumulator_TranscriptionPassesThrough(t *testing.T) {
	t.Parallel()
	var a Accumulator
	a.TextDelta("partial")

	got := a.TranscriptionCompleted("what time is it")
	if got.Role != memory.RoleUser || got.Text != "what time is it" {
		t.Errorf("got %+v", got)
	}
	if a.Partial() != "partial" {
		t.Error("transcription disturbed the open response")
	}
}

func TestAccumulator_Audio(t *testing.T) {
	t.Parallel()
	var a Accumulator
	chunk := []byte{1, 2, 3, 4}
	if got := a.AudioDelta(chunk); len(got) != 4 {
		t.Fatalf("AudioDelta returned %d bytes", len(got))
	}
	a.AudioDelta([]byte{5, 6})
	if n := a.AudioDone(); n != 6 {
		t.Errorf("AudioDone = %d, want 6", n)
	}
	if n := a.AudioDone(); n != 0 {
		t.Errorf("AudioDone after reset = %d, want 0", n)
	}
}

func TestAccumulator_Discard(t *testing.T) {
	t.Parallel()
	var a Accumulator
	a.TextDelta("half a sen")
	if n := a.Discard(); n != len("half a sen") {
		t.Errorf("Discard = %d", n)
	}
	if a.Pending() {
		t.Error("Pending after Discard")
	}
}

func TestCompletion_Empty(t *testing.T) {
	t.Parallel()
	for text, want := range map[string]bool{"": true, "  \n\t": true, "hi": false, " . ": false} {
		if got := (Completion{Text: text}).Empty(); got != want {
			t.Errorf("Completion{%q}.Empty() = %v, want %v", text, got, want)
		}
	}
}
