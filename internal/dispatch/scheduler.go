package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/floomby/charlie/internal/convo"
	"github.com/floomby/charlie/internal/observe"
)

const (
	// DefaultPollInterval is the scheduling tick period.
	DefaultPollInterval = 100 * time.Millisecond

	// DefaultStallTimeout is how long the scheduler waits for the head
	// dispatcher's next segment before evicting the dispatcher.
	DefaultStallTimeout = 20 * time.Second
)

// Scheduler owns the global playback pipeline for one channel/session: the
// creation-order queue of dispatchers, the ready-map of completed synthesis
// artifacts, and the single serial audio [Player].
//
// Two independent paths mutate its state. The tick loop — one tick at a
// time, ticks never overlap — advances the head dispatcher, performs stall
// eviction, and pumps the player. The completion path ([Scheduler.Deliver])
// is driven by the synthesis collaborator at arbitrary times. Both are
// serialized on one mutex.
//
// All exported methods are safe for concurrent use.
type Scheduler struct {
	synth     Synthesizer
	player    Player
	canned    *Library
	liveLog   *convo.Log
	agentName string

	pollInterval time.Duration
	stallTimeout time.Duration
	logger       *slog.Logger
	metrics      *observe.Metrics

	mu           sync.Mutex
	nextID       uint64
	queue        []*Dispatcher
	live         map[uint64]struct{} // IDs currently enqueued
	ready        map[Key]Artifact
	pending      []Artifact // ready-to-play buffer, playback order
	submitted    map[Key]time.Time
	lastKey      Key
	lastProgress time.Time
	playing      bool
}

// Config assembles the collaborators a [Scheduler] needs.
type Config struct {
	// Synthesizer receives segment submissions. Must not be nil.
	Synthesizer Synthesizer

	// Player is the single serial audio consumer. Must not be nil.
	Player Player

	// Canned is the pre-recorded response library. May be nil if
	// [Dispatcher.PlayCanned] is never used.
	Canned *Library

	// LiveLog is the live conversation log that spoken replies are echoed
	// into. May be nil.
	LiveLog *convo.Log

	// AgentName is the agent's speaker identity, used both for the
	// conversation-log echo and for self-prefix stripping.
	AgentName string
}

// Option configures a [Scheduler] during construction.
type Option func(*Scheduler)

// WithPollInterval overrides the tick period. Default 100 ms.
func WithPollInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// WithStallTimeout overrides the stall-eviction threshold. Default 20 s.
func WithStallTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.stallTimeout = d
		}
	}
}

// WithLogger sets the structured logger. Default is [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = l
	}
}

// WithMetrics attaches observability instruments to the scheduler.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Scheduler) {
		s.metrics = m
	}
}

// NewScheduler creates a Scheduler from cfg and options. Call
// [Scheduler.Run] to start the tick loop.
func NewScheduler(cfg Config, opts ...Option) *Scheduler {
	canned := cfg.Canned
	if canned == nil {
		canned = NewLibrary()
	}
	s := &Scheduler{
		synth:        cfg.Synthesizer,
		player:       cfg.Player,
		canned:       canned,
		liveLog:      cfg.LiveLog,
		agentName:    cfg.AgentName,
		pollInterval: DefaultPollInterval,
		stallTimeout: DefaultStallTimeout,
		logger:       slog.Default(),
		live:         make(map[uint64]struct{}),
		ready:        make(map[Key]Artifact),
		submitted:    make(map[Key]time.Time),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// NewDispatcher creates a dispatcher with the next monotonic ID and enrolls
// it at the tail of the playback queue. snapshot may be nil.
func (s *Scheduler) NewDispatcher(snapshot *convo.Log) *Dispatcher {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	d := &Dispatcher{
		id:        s.nextID,
		scheduler: s,
		snapshot:  snapshot,
		total:     -1,
	}
	s.queue = append(s.queue, d)
	s.live[d.id] = struct{}{}

	if s.metrics != nil {
		s.metrics.QueueDepth.Add(context.Background(), 1)
	}
	return d
}

// Run drives the tick loop until ctx is cancelled. Only one Run should be
// active per Scheduler.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Deliver inserts a finished synthesis artifact into the ready-map. It is
// the completion-notification path: called by the synthesis collaborator at
// arbitrary times, concurrently with ticks, in no guaranteed order.
//
// Completions addressed to a dispatcher that is no longer enqueued (evicted
// or fully drained) are discarded — dispatcher IDs are never reused, so a
// late artifact can never be misattributed.
func (s *Scheduler) Deliver(key Key, pcm []byte) {
	s.deliver(Artifact{Key: key, PCM: pcm, Label: "segment"}, "synthesized")
}

// deliver is the shared insertion path for synthesized and canned artifacts.
func (s *Scheduler) deliver(art Artifact, source string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.live[art.Key.Dispatcher]; !ok {
		s.logger.Debug("discarding completion for departed dispatcher",
			"dispatcher", art.Key.Dispatcher,
			"segment", art.Key.Segment,
		)
		if s.metrics != nil {
			s.metrics.DiscardedCompletions.Add(context.Background(), 1)
		}
		return
	}

	if at, ok := s.submitted[art.Key]; ok {
		delete(s.submitted, art.Key)
		if s.metrics != nil {
			s.metrics.SynthesisLatency.Record(context.Background(),
				time.Since(at).Seconds(),
				metric.WithAttributes(attribute.String("source", source)),
			)
		}
	}

	s.ready[art.Key] = art
}

// Tick executes one scheduling pass: evict finished/errored heads in
// cascade, correlate the head's next segment against the ready-map, apply
// the stall check, and pump the player. Run calls Tick on the poll interval;
// tests may call it directly for deterministic stepping.
func (s *Scheduler) Tick(ctx context.Context) {
	now := time.Now()

	s.mu.Lock()

	for len(s.queue) > 0 {
		d := s.queue[0]

		if d.Errored() || d.drained() {
			s.evictHeadLocked(d)
			continue
		}

		key := d.nextKey()
		if art, ok := s.ready[key]; ok {
			delete(s.ready, key)
			s.pending = append(s.pending, art)
			d.advance()
			s.lastKey = d.nextKey()
			s.lastProgress = now
			break
		}

		// Stall check: the same key has been wanted with no progress for
		// longer than the timeout. Marking the dispatcher errored here
		// guarantees liveness — it is evicted on the next pass.
		if key != s.lastKey {
			s.lastKey = key
			s.lastProgress = now
		} else if now.Sub(s.lastProgress) > s.stallTimeout {
			s.logger.Warn("evicting stalled dispatcher",
				"dispatcher", d.id,
				"segment", key.Segment,
				"waited", now.Sub(s.lastProgress),
			)
			d.SetErrored()
			if s.metrics != nil {
				s.metrics.StallEvictions.Add(ctx, 1)
			}
		}
		break
	}

	s.pumpLocked(ctx)
	s.mu.Unlock()
}

// evictHeadLocked dequeues the head dispatcher and forgets everything
// addressed to it. Must be called with s.mu held and d at the queue head.
func (s *Scheduler) evictHeadLocked(d *Dispatcher) {
	s.queue = s.queue[1:]
	delete(s.live, d.id)
	for k := range s.ready {
		if k.Dispatcher == d.id {
			delete(s.ready, k)
		}
	}
	for k := range s.submitted {
		if k.Dispatcher == d.id {
			delete(s.submitted, k)
		}
	}

	if d.Errored() {
		s.logger.Info("dispatcher evicted with error", "dispatcher", d.id)
	} else {
		s.logger.Debug("dispatcher drained", "dispatcher", d.id)
	}
	if s.metrics != nil {
		s.metrics.QueueDepth.Add(context.Background(), -1)
	}
}

// pumpLocked starts playback of the oldest buffered artifact when the player
// is idle. Must be called with s.mu held.
func (s *Scheduler) pumpLocked(ctx context.Context) {
	if s.playing || len(s.pending) == 0 {
		return
	}

	art := s.pending[0]
	s.pending = s.pending[1:]
	s.playing = true

	go s.play(ctx, art)
}

// play runs one blocking Play call and releases the player. Playback errors
// are logged and treated like a finished artifact — never fatal.
func (s *Scheduler) play(ctx context.Context, art Artifact) {
	err := s.player.Play(ctx, art)

	s.mu.Lock()
	s.playing = false
	s.mu.Unlock()

	if err != nil {
		s.logger.Warn("playback failed",
			"dispatcher", art.Key.Dispatcher,
			"segment", art.Key.Segment,
			"label", art.Label,
			"err", err,
		)
		if s.metrics != nil {
			s.metrics.PlaybackErrors.Add(ctx, 1)
		}
		return
	}

	if s.metrics != nil {
		s.metrics.SegmentsPlayed.Add(ctx, 1,
			metric.WithAttributes(attribute.String("label", art.Label)),
		)
	}
}

// submitSegment forwards a segment to the synthesizer and echoes its text
// into the live conversation log. Submission failures are logged only; the
// missing completion is handled by stall eviction.
func (s *Scheduler) submitSegment(ctx context.Context, key Key, text string) {
	s.mu.Lock()
	s.submitted[key] = time.Now()
	s.mu.Unlock()

	if err := s.synth.Submit(ctx, key, text); err != nil {
		s.logger.Warn("synthesis submission failed",
			"dispatcher", key.Dispatcher,
			"segment", key.Segment,
			"err", err,
		)
	}

	if s.liveLog != nil {
		s.liveLog.Append(convo.Entry{Speaker: s.agentName, Text: text})
	}
}

// deliverCanned registers a canned artifact in the ready-map and echoes its
// fixed text into the live conversation log.
func (s *Scheduler) deliverCanned(key Key, kind CannedKind, pcm []byte, text string) {
	s.deliver(Artifact{Key: key, PCM: pcm, Label: "canned:" + string(kind)}, "canned")

	if s.liveLog != nil {
		s.liveLog.Append(convo.Entry{Speaker: s.agentName, Text: text})
	}
}

// QueueLen reports the number of enqueued dispatchers. Intended for tests
// and the startup dashboard.
func (s *Scheduler) QueueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}
