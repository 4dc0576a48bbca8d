package agent

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
)

// DefaultTranscriptSize bounds the raw texts kept in memory.
const DefaultTranscriptSize = 256

// Transcript keeps raw prompts and replies addressed by content hash.
// The oldest entries are evicted first once the capacity is reached.
type Transcript struct {
	mu    sync.Mutex
	cap   int
	texts map[string]string
	order []string
}

// NewTranscript creates a transcript holding at most capacity texts.
func NewTranscript(capacity int) *Transcript {
	if capacity <= 0 {
		capacity = DefaultTranscriptSize
	}
	return &Transcript{cap: capacity, texts: make(map[string]string)}
}

// Ref returns the content reference of a text ("sha256:<hex>").
func Ref(text string) string {
	sum := sha256.Sum256([]byte(text))
	return "sha256:" + hex.EncodeToString(sum[:])
}

// Put stores text and returns its reference. A nil transcript only hashes.
func (t *Transcript) Put(text string) string {
	ref := Ref(text)
	if t == nil {
		return ref
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.texts[ref]; ok {
		return ref
	}
	if len(t.order) >= t.cap {
		oldest := t.order[0]
		t.order = t.order[1:]
		delete(t.texts, oldest)
	}
	t.texts[ref] = text
	t.order = append(t.order, ref)
	return ref
}

// Get returns the text behind a reference, if still held.
func (t *Transcript) Get(ref string) (string, bool) {
	if t == nil {
		return "", false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	text, ok := t.texts[ref]
	return text, ok
}
