package turnloop

import "strings"

// transcript accumulates the text title generation runs against: the
// triggering user message plus every reportProgress update and the
// final assistant reply for the turn.
type transcript struct {
	parts []string
}

func newTranscript(userText string) *transcript {
	t := &transcript{}
	if strings.TrimSpace(userText) != "" {
		t.parts = append(t.parts, userText)
	}
	return t
}

func (t *transcript) addProgress(message string) {
	if strings.TrimSpace(message) == "" {
		return
	}
	t.parts = append(t.parts, message)
}

func (t *transcript) addFinal(text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	t.parts = append(t.parts, text)
}

func (t *transcript) String() string {
	return strings.Join(t.parts, "\n")
}
