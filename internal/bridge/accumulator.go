package bridge

import (
	"strings"

	"github.com/MrWong99/voxbridge/pkg/memory"
)

// Completion is a finished utterance ready for routing.
type Completion struct {
	Role memory.Role
	Text string
}

// Empty reports whether the completion carries no visible text.
func (c Completion) Empty() bool {
	return strings.TrimSpace(c.Text) == ""
}

// Accumulator folds streamed upstream output into complete turns. It performs
// no I/O and is not safe for concurrent use: the upstream loop owns it.
//
// At most one assistant response is open at a time. User transcriptions
// arrive already complete and pass straight through, so both roles leave the
// accumulator through the same [Completion] value.
type Accumulator struct {
	response strings.Builder
	open     bool

	// audioBytes counts assistant audio forwarded for the open response.
	audioBytes int
}

// TextDelta appends text to the open assistant response, opening one if
// none exists.
func (a *Accumulator) TextDelta(text string) {
	a.open = true
	a.response.WriteString(text)
}

// TextDone closes the open assistant response and returns its text. When no
// deltas were received, final (the text carried by the done event, if any) is
// used instead. The result may be empty; callers decide whether to drop it.
func (a *Accumulator) TextDone(final string) Completion {
	text := a.response.String()
	if !a.open && text == "" {
		text = final
	}
	a.response.Reset()
	a.open = false
	return Completion{Role: memory.RoleAssistant, Text: text}
}

// TranscriptionCompleted returns the user's transcribed utterance.
func (a *Accumulator) TranscriptionCompleted(text string) Completion {
	return Completion{Role: memory.RoleUser, Text: text}
}

// AudioDelta records an assistant audio chunk and returns it for forwarding.
func (a *Accumulator) AudioDelta(chunk []byte) []byte {
	a.audioBytes += len(chunk)
	return chunk
}

// AudioDone returns the number of audio bytes forwarded for the response and
// resets the counter.
func (a *Accumulator) AudioDone() int {
	n := a.audioBytes
	a.audioBytes = 0
	return n
}

// Pending reports whether an assistant response is partially accumulated.
func (a *Accumulator) Pending() bool {
	return a.open
}

// Partial returns the text accumulated so far for the open response.
func (a *Accumulator) Partial() string {
	return a.response.String()
}

// Discard drops any partial response. It returns the number of bytes that were
// thrown away.
func (a *Accumulator) Discard() int {
	n := a.response.Len()
	a.response.Reset()
	a.open = false
	a.audioBytes = 0
	return n
}
