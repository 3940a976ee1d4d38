package discord

import (
	"testing"
	"time"
)

func TestDeduperSuppressesRepeatsInsideWindow(t *testing.T) {
	t.Parallel()

	now := time.Unix(1000, 0)
	d := newDeduper(30 * time.Second)
	d.now = func() time.Time { return now }

	if d.Seen("hello charlie") {
		t.Error("first occurrence should not be a duplicate")
	}
	now = now.Add(5 * time.Second)
	if !d.Seen("hello charlie") {
		t.Error("repeat after 5s should be suppressed")
	}
	if d.Seen("different text") {
		t.Error("unrelated text should not be suppressed")
	}
}

func TestDeduperExpiresAfterWindow(t *testing.T) {
	t.Parallel()

	now := time.Unix(1000, 0)
	d := newDeduper(30 * time.Second)
	d.now = func() time.Time { return now }

	d.Seen("hello")
	now = now.Add(31 * time.Second)
	if d.Seen("hello") {
		t.Error("repeat after the window elapsed should not be suppressed")
	}
}

func TestDeduperWindowAnchorsOnFirstOccurrence(t *testing.T) {
	t.Parallel()

	now := time.Unix(1000, 0)
	d := newDeduper(30 * time.Second)
	d.now = func() time.Time { return now }

	d.Seen("hello")
	now = now.Add(20 * time.Second)
	if !d.Seen("hello") {
		t.Error("repeat after 20s should be suppressed")
	}
	// Suppressed repeats must not extend the window: 40s after the first
	// occurrence the phrase gets through again.
	now = now.Add(20 * time.Second)
	if d.Seen("hello") {
		t.Error("phrase should get through once the window since its first occurrence elapses")
	}
}

func TestDeduperDefaultWindow(t *testing.T) {
	t.Parallel()

	d := newDeduper(0)
	if d.window != defaultDedupeWindow {
		t.Errorf("got window %v, want %v", d.window, defaultDedupeWindow)
	}
}
