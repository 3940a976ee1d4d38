package dispatch

import (
	"fmt"
	"math/rand/v2"
	"sync"
)

// CannedKind identifies a fixed pre-recorded message in a [Library].
type CannedKind string

const (
	// CannedThinking is spoken while a slow sub-answer is being produced.
	CannedThinking CannedKind = "thinking"

	// CannedCheckingSensors is spoken while sensor data is being queried.
	CannedCheckingSensors CannedKind = "checking-sensors"
)

// cannedResponse pairs the fixed spoken text of a kind with its pre-recorded
// audio variants.
type cannedResponse struct {
	text     string
	variants [][]byte
}

// Library holds pre-recorded audio variants for common short interjections.
// Playing a canned response skips the synthesis collaborator entirely: a
// variant is chosen uniformly at random and copied into the same
// artifact-addressing namespace used for synthesized segments.
//
// All methods are safe for concurrent use.
type Library struct {
	mu        sync.RWMutex
	responses map[CannedKind]cannedResponse
}

// NewLibrary creates an empty canned-response library.
func NewLibrary() *Library {
	return &Library{responses: make(map[CannedKind]cannedResponse)}
}

// Register adds (or replaces) the audio variants for kind. text is the fixed
// transcript appended to the conversation log whenever the kind is played.
// At least one variant is required.
func (l *Library) Register(kind CannedKind, text string, variants ...[]byte) error {
	if len(variants) == 0 {
		return fmt.Errorf("dispatch: canned kind %q needs at least one variant", kind)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.responses[kind] = cannedResponse{text: text, variants: variants}
	return nil
}

// Pick selects one variant for kind uniformly at random and returns it with
// the kind's fixed transcript. Returns [ErrUnknownCanned] for kinds that were
// never registered.
func (l *Library) Pick(kind CannedKind) (text string, pcm []byte, err error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	resp, ok := l.responses[kind]
	if !ok {
		return "", nil, fmt.Errorf("%w: %q", ErrUnknownCanned, kind)
	}
	return resp.text, resp.variants[rand.IntN(len(resp.variants))], nil
}

// Kinds returns the registered kinds, for startup logging.
func (l *Library) Kinds() []CannedKind {
	l.mu.RLock()
	defer l.mu.RUnlock()

	kinds := make([]CannedKind, 0, len(l.responses))
	for k := range l.responses {
		kinds = append(kinds, k)
	}
	return kinds
}
