package discord

import (
	"sync"
	"time"
)

// defaultDedupeWindow is how long an identical transcript is suppressed.
// Discord occasionally delivers the same voice packets on two SSRCs, which
// shows up as the same sentence transcribed twice within a second or two.
const defaultDedupeWindow = 30 * time.Second

// deduper suppresses repeated transcripts inside a sliding window.
// Safe for concurrent use.
type deduper struct {
	window time.Duration
	now    func() time.Time

	mu   sync.Mutex
	seen map[string]time.Time
}

func newDeduper(window time.Duration) *deduper {
	if window <= 0 {
		window = defaultDedupeWindow
	}
	return &deduper{
		window: window,
		now:    time.Now,
		seen:   make(map[string]time.Time),
	}
}

// Seen reports whether text already arrived within the window. Duplicates do
// not refresh the timestamp, so a phrase repeated every few seconds gets
// through again once the window since its first occurrence elapses. Expired
// entries are pruned as a side effect.
func (d *deduper) Seen(text string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for k, at := range d.seen {
		if now.Sub(at) >= d.window {
			delete(d.seen, k)
		}
	}

	if _, dup := d.seen[text]; dup {
		return true
	}
	d.seen[text] = now
	return false
}
