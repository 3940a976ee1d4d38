package dispatch

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/floomby/charlie/internal/convo"
)

func TestPlaybackFollowsCreationOrder(t *testing.T) {
	t.Parallel()

	s, _, player := newTestScheduler(t)
	ctx := context.Background()

	d1 := s.NewDispatcher(nil)
	d2 := s.NewDispatcher(nil)
	for _, d := range []*Dispatcher{d1, d2} {
		if err := d.AppendSegment(ctx, "some words"); err != nil {
			t.Fatalf("AppendSegment: %v", err)
		}
		if err := d.Finalize(); err != nil {
			t.Fatalf("Finalize: %v", err)
		}
	}

	// The younger response's audio finishes first; it must still wait for
	// the older one.
	s.Deliver(Key{Dispatcher: d2.ID(), Segment: 0}, []byte("second"))
	assertNoPlay(t, s, player)

	s.Deliver(Key{Dispatcher: d1.ID(), Segment: 0}, []byte("first"))

	first := awaitPlay(t, s, player)
	if first.Key.Dispatcher != d1.ID() {
		t.Fatalf("first played dispatcher = %d, want %d", first.Key.Dispatcher, d1.ID())
	}
	second := awaitPlay(t, s, player)
	if second.Key.Dispatcher != d2.ID() {
		t.Fatalf("second played dispatcher = %d, want %d", second.Key.Dispatcher, d2.ID())
	}
}

func TestSegmentsPlayInIndexOrder(t *testing.T) {
	t.Parallel()

	s, _, player := newTestScheduler(t)
	ctx := context.Background()

	d := s.NewDispatcher(nil)
	for _, text := range []string{"one", "two", "three"} {
		if err := d.AppendSegment(ctx, text); err != nil {
			t.Fatalf("AppendSegment: %v", err)
		}
	}
	if err := d.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	// Completions arrive out of order.
	s.Deliver(Key{Dispatcher: d.ID(), Segment: 2}, []byte("c"))
	s.Deliver(Key{Dispatcher: d.ID(), Segment: 0}, []byte("a"))
	s.Deliver(Key{Dispatcher: d.ID(), Segment: 1}, []byte("b"))

	for i := range 3 {
		art := awaitPlay(t, s, player)
		if art.Key.Segment != i {
			t.Fatalf("play %d: segment = %d, want %d", i, art.Key.Segment, i)
		}
	}
}

func TestDrainedDispatcherEvicted(t *testing.T) {
	t.Parallel()

	s, _, player := newTestScheduler(t)
	ctx := context.Background()

	d := s.NewDispatcher(nil)
	if err := d.AppendSegment(ctx, "only"); err != nil {
		t.Fatalf("AppendSegment: %v", err)
	}
	if err := d.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	s.Deliver(Key{Dispatcher: d.ID(), Segment: 0}, []byte("pcm"))

	awaitPlay(t, s, player)
	s.Tick(ctx)

	if n := s.QueueLen(); n != 0 {
		t.Errorf("QueueLen after drain = %d, want 0", n)
	}
}

func TestErroredAndDrainedHeadsEvictedInCascade(t *testing.T) {
	t.Parallel()

	s, _, player := newTestScheduler(t)
	ctx := context.Background()

	d1 := s.NewDispatcher(nil)
	if err := d1.AppendSegment(ctx, "abandoned"); err != nil {
		t.Fatalf("AppendSegment: %v", err)
	}
	d1.SetErrored()

	d2 := s.NewDispatcher(nil)
	if err := d2.Finalize(); err != nil { // finalized with zero segments
		t.Fatalf("Finalize: %v", err)
	}

	d3 := s.NewDispatcher(nil)
	if err := d3.AppendSegment(ctx, "survivor"); err != nil {
		t.Fatalf("AppendSegment: %v", err)
	}
	if err := d3.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	s.Deliver(Key{Dispatcher: d3.ID(), Segment: 0}, []byte("pcm"))

	// A single pass steps over both dead heads and reaches d3.
	art := awaitPlay(t, s, player)
	if art.Key.Dispatcher != d3.ID() {
		t.Fatalf("played dispatcher = %d, want %d", art.Key.Dispatcher, d3.ID())
	}
	if n := s.QueueLen(); n > 1 {
		t.Errorf("QueueLen = %d, want at most 1", n)
	}
}

func TestStallEvictionUnblocksQueue(t *testing.T) {
	t.Parallel()

	s, _, player := newTestScheduler(t, WithStallTimeout(10*time.Millisecond))
	ctx := context.Background()

	d1 := s.NewDispatcher(nil)
	if err := d1.AppendSegment(ctx, "synthesis never completes"); err != nil {
		t.Fatalf("AppendSegment: %v", err)
	}
	if err := d1.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	d2 := s.NewDispatcher(nil)
	if err := d2.AppendSegment(ctx, "fine"); err != nil {
		t.Fatalf("AppendSegment: %v", err)
	}
	if err := d2.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	s.Deliver(Key{Dispatcher: d2.ID(), Segment: 0}, []byte("pcm"))

	s.Tick(ctx) // arms the stall clock for d1's missing segment
	time.Sleep(25 * time.Millisecond)
	s.Tick(ctx) // times out, flags d1

	if !d1.Errored() {
		t.Fatal("stalled head dispatcher not flagged errored")
	}

	art := awaitPlay(t, s, player)
	if art.Key.Dispatcher != d2.ID() {
		t.Fatalf("played dispatcher = %d, want %d", art.Key.Dispatcher, d2.ID())
	}
}

func TestStallClockResetsOnProgress(t *testing.T) {
	t.Parallel()

	s, _, player := newTestScheduler(t, WithStallTimeout(150*time.Millisecond))
	ctx := context.Background()

	d := s.NewDispatcher(nil)
	if err := d.AppendSegment(ctx, "one"); err != nil {
		t.Fatalf("AppendSegment: %v", err)
	}
	if err := d.AppendSegment(ctx, "two"); err != nil {
		t.Fatalf("AppendSegment: %v", err)
	}
	if err := d.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	s.Tick(ctx)
	time.Sleep(80 * time.Millisecond)
	s.Deliver(Key{Dispatcher: d.ID(), Segment: 0}, []byte("a"))
	awaitPlay(t, s, player)

	// Segment 1 now has its own full timeout budget.
	time.Sleep(80 * time.Millisecond)
	s.Tick(ctx)
	if d.Errored() {
		t.Fatal("dispatcher flagged errored despite recent progress")
	}

	s.Deliver(Key{Dispatcher: d.ID(), Segment: 1}, []byte("b"))
	awaitPlay(t, s, player)
}

func TestLateCompletionForEvictedDispatcherDiscarded(t *testing.T) {
	t.Parallel()

	s, _, player := newTestScheduler(t)
	ctx := context.Background()

	d1 := s.NewDispatcher(nil)
	if err := d1.AppendSegment(ctx, "doomed"); err != nil {
		t.Fatalf("AppendSegment: %v", err)
	}
	d1.SetErrored()
	s.Tick(ctx) // evicts d1

	if n := s.QueueLen(); n != 0 {
		t.Fatalf("QueueLen = %d, want 0", n)
	}

	// The late artifact must not play, now or ever.
	s.Deliver(Key{Dispatcher: d1.ID(), Segment: 0}, []byte("late"))
	assertNoPlay(t, s, player)

	// And a fresh dispatcher is unaffected.
	d2 := s.NewDispatcher(nil)
	if err := d2.AppendSegment(ctx, "alive"); err != nil {
		t.Fatalf("AppendSegment: %v", err)
	}
	if err := d2.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	s.Deliver(Key{Dispatcher: d2.ID(), Segment: 0}, []byte("pcm"))
	art := awaitPlay(t, s, player)
	if art.Key.Dispatcher != d2.ID() {
		t.Fatalf("played dispatcher = %d, want %d", art.Key.Dispatcher, d2.ID())
	}
}

func TestEvictionDropsBufferedReadyArtifacts(t *testing.T) {
	t.Parallel()

	s, _, player := newTestScheduler(t)
	ctx := context.Background()

	d := s.NewDispatcher(nil)
	if err := d.AppendSegment(ctx, "one"); err != nil {
		t.Fatalf("AppendSegment: %v", err)
	}
	if err := d.AppendSegment(ctx, "two"); err != nil {
		t.Fatalf("AppendSegment: %v", err)
	}
	if err := d.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	// Segment 1 is ready but segment 0 never will be. When the owner gives
	// up, the orphaned artifact goes with it.
	s.Deliver(Key{Dispatcher: d.ID(), Segment: 1}, []byte("b"))
	s.Tick(ctx)
	d.SetErrored()
	s.Tick(ctx)

	if n := s.QueueLen(); n != 0 {
		t.Fatalf("QueueLen = %d, want 0", n)
	}
	assertNoPlay(t, s, player)
}

func TestPlaybackErrorNotFatal(t *testing.T) {
	t.Parallel()

	s, _, player := newTestScheduler(t)
	player.err = context.DeadlineExceeded // any error will do
	ctx := context.Background()

	d := s.NewDispatcher(nil)
	if err := d.AppendSegment(ctx, "one"); err != nil {
		t.Fatalf("AppendSegment: %v", err)
	}
	if err := d.AppendSegment(ctx, "two"); err != nil {
		t.Fatalf("AppendSegment: %v", err)
	}
	if err := d.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	s.Deliver(Key{Dispatcher: d.ID(), Segment: 0}, []byte("a"))
	s.Deliver(Key{Dispatcher: d.ID(), Segment: 1}, []byte("b"))

	first := awaitPlay(t, s, player)
	if first.Key.Segment != 0 {
		t.Fatalf("first segment = %d, want 0", first.Key.Segment)
	}
	second := awaitPlay(t, s, player)
	if second.Key.Segment != 1 {
		t.Fatalf("second segment = %d, want 1", second.Key.Segment)
	}
}

func TestFailedSubmissionHandledByStallEviction(t *testing.T) {
	t.Parallel()

	s, synth, player := newTestScheduler(t, WithStallTimeout(10*time.Millisecond))
	synth.err = context.DeadlineExceeded
	ctx := context.Background()

	d := s.NewDispatcher(nil)
	if err := d.AppendSegment(ctx, "submission fails"); err != nil {
		t.Fatalf("AppendSegment: %v", err)
	}
	if err := d.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	s.Tick(ctx)
	time.Sleep(25 * time.Millisecond)
	s.Tick(ctx)
	s.Tick(ctx)

	if !d.Errored() {
		t.Fatal("dispatcher with failed submission never evicted")
	}
	if n := s.QueueLen(); n != 0 {
		t.Errorf("QueueLen = %d, want 0", n)
	}
	assertNoPlay(t, s, player)
}

func TestCannedSegmentPlaysWithoutSynthesizer(t *testing.T) {
	t.Parallel()

	synth := &recordSynth{}
	player := newChanPlayer()
	lib := NewLibrary()
	lib.Register(CannedThinking, "Let me think about that.", []byte("think-pcm"))
	live := convo.NewLog(nil)
	s := NewScheduler(Config{
		Synthesizer: synth,
		Player:      player,
		Canned:      lib,
		LiveLog:     live,
		AgentName:   "Charlie",
	}, WithLogger(quietLogger()))
	ctx := context.Background()

	d := s.NewDispatcher(nil)
	if err := d.AppendSegment(ctx, "The answer is 42."); err != nil {
		t.Fatalf("AppendSegment: %v", err)
	}
	if err := d.PlayCanned(CannedThinking); err != nil {
		t.Fatalf("PlayCanned: %v", err)
	}
	if err := d.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	s.Deliver(Key{Dispatcher: d.ID(), Segment: 0}, []byte("answer-pcm"))

	first := awaitPlay(t, s, player)
	if first.Key.Segment != 0 || first.Label != "segment" {
		t.Fatalf("first played = %+v, want synthesized segment 0", first)
	}
	second := awaitPlay(t, s, player)
	if second.Key.Segment != 1 || second.Label != "canned:thinking" {
		t.Fatalf("second played = %+v, want canned segment 1", second)
	}

	// The canned submission never touches the synthesizer.
	if calls := synth.recorded(); len(calls) != 1 {
		t.Errorf("synthesizer got %d calls, want 1", len(calls))
	}
}

func TestSpokenRepliesEchoedToLiveLog(t *testing.T) {
	t.Parallel()

	synth := &recordSynth{}
	live := convo.NewLog(nil)
	s := NewScheduler(Config{
		Synthesizer: synth,
		Player:      newChanPlayer(),
		LiveLog:     live,
		AgentName:   "Charlie",
	}, WithLogger(quietLogger()))

	d := s.NewDispatcher(nil)
	if err := d.AppendSegment(context.Background(), "Charlie: Nice weather today."); err != nil {
		t.Fatalf("AppendSegment: %v", err)
	}

	if live.Len() != 1 {
		t.Fatalf("live log Len = %d, want 1", live.Len())
	}
	window := live.ContextWindow(10)
	if !strings.Contains(window, "Charlie: Nice weather today.") {
		t.Errorf("context window %q missing echoed reply", window)
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	s, _, _ := newTestScheduler(t, WithPollInterval(time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
