package convo

import (
	"context"
	"strings"
	"sync"
	"time"
)

// defaultDaemonInterval matches the historical five-minute summarization
// cadence.
const defaultDaemonInterval = 5 * time.Minute

// noTopicSentinel is the phrase some models emit when asked to summarize a
// conversation that had no substance. The daemon suppresses it so an empty
// ambient channel does not produce a bogus "hint" in prompts.
const noTopicSentinel = "no topic"

// Daemon periodically drives [Log.MaybeSummarize] for the primary and the
// ambient (latent) conversation logs. The ambient log is summarized with the
// overheard-conversation prompt and a post-process step that drops the
// "no topic" sentinel.
type Daemon struct {
	primary  *Log
	latent   *Log
	interval time.Duration

	stopOnce sync.Once
	done     chan struct{}
}

// DaemonOption configures a [Daemon].
type DaemonOption func(*Daemon)

// WithInterval overrides the summarization cadence. Default is five minutes.
func WithInterval(d time.Duration) DaemonOption {
	return func(dm *Daemon) {
		dm.interval = d
	}
}

// NewDaemon creates a Daemon for the given logs. latent may be nil.
func NewDaemon(primary, latent *Log, opts ...DaemonOption) *Daemon {
	d := &Daemon{
		primary:  primary,
		latent:   latent,
		interval: defaultDaemonInterval,
		done:     make(chan struct{}),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Start begins the periodic summarization loop in a background goroutine.
// The loop runs until [Daemon.Stop] is called or ctx is cancelled.
func (d *Daemon) Start(ctx context.Context) {
	go d.loop(ctx)
}

// Stop halts the loop. Safe to call multiple times.
func (d *Daemon) Stop() {
	d.stopOnce.Do(func() {
		close(d.done)
	})
}

// Tick runs one summarization pass immediately. Exposed for tests and for
// callers that want to force a pass outside the timer cadence.
func (d *Daemon) Tick(ctx context.Context) {
	d.primary.MaybeSummarize(ctx, SummarizeOptions{})

	if d.latent != nil {
		d.latent.MaybeSummarize(ctx, SummarizeOptions{
			PromptOverride: LatentSummarizePrompt,
			PostProcess:    suppressNoTopic,
		})
	}
}

func (d *Daemon) loop(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.done:
			return
		case <-ticker.C:
			d.Tick(ctx)
		}
	}
}

// suppressNoTopic replaces a sentinel "no topic" synopsis with empty text.
func suppressNoTopic(synopsis string) string {
	if strings.Contains(strings.ToLower(synopsis), noTopicSentinel) {
		return ""
	}
	return synopsis
}
