package convo

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/floomby/charlie/internal/observe"
)

// mockSummarizer is a test double for Summarizer.
type mockSummarizer struct {
	mu        sync.Mutex
	result    string
	err       error
	calls     int
	inputs    []string
	overrides []string
	notify    chan struct{}
}

func newMockSummarizer(result string) *mockSummarizer {
	return &mockSummarizer{result: result, notify: make(chan struct{}, 16)}
}

func (m *mockSummarizer) Summarize(_ context.Context, conversation string, promptOverride string) (string, error) {
	m.mu.Lock()
	m.calls++
	m.inputs = append(m.inputs, conversation)
	m.overrides = append(m.overrides, promptOverride)
	result, err := m.result, m.err
	m.mu.Unlock()

	m.notify <- struct{}{}
	return result, err
}

func (m *mockSummarizer) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *mockSummarizer) awaitCall(t *testing.T) {
	t.Helper()
	select {
	case <-m.notify:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for summarizer call")
	}
}

func appendN(l *Log, n int, speaker string) {
	for i := 0; i < n; i++ {
		l.Append(Entry{Speaker: speaker, Text: "utterance"})
	}
}

// waitForSynopsis polls until the async summarize goroutine has committed.
func waitForSynopsis(t *testing.T, l *Log, want string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if l.Synopsis() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("synopsis = %q, want %q", l.Synopsis(), want)
}

func TestLog_ContextWindow(t *testing.T) {
	t.Parallel()

	t.Run("plain entries", func(t *testing.T) {
		t.Parallel()
		l := NewLog(nil)
		l.Append(Entry{Speaker: "alice", Text: "hello"})
		l.Append(Entry{Speaker: "bob", Text: "hi there"})

		got := l.ContextWindow(LiveWindow)
		want := "alice: hello\n\nbob: hi there\n\n"
		if got != want {
			t.Errorf("ContextWindow = %q, want %q", got, want)
		}
	})

	t.Run("lastN bounds the view", func(t *testing.T) {
		t.Parallel()
		l := NewLog(nil)
		appendN(l, 5, "alice")
		l.Append(Entry{Speaker: "bob", Text: "latest"})

		got := l.ContextWindow(2)
		if strings.Count(got, "\n\n") != 2 {
			t.Errorf("want 2 entries in window, got %q", got)
		}
		if !strings.Contains(got, "bob: latest") {
			t.Errorf("window must contain the newest entry, got %q", got)
		}
	})

	t.Run("empty log", func(t *testing.T) {
		t.Parallel()
		l := NewLog(nil)
		if got := l.ContextWindow(LiveWindow); got != "" {
			t.Errorf("empty log window = %q, want empty", got)
		}
	})
}

func TestLog_MaybeSummarize_Thresholds(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("below size threshold", func(t *testing.T) {
		t.Parallel()
		s := newMockSummarizer("synopsis")
		l := NewLog(s)
		appendN(l, 9, "alice")

		l.MaybeSummarize(ctx, SummarizeOptions{})

		time.Sleep(50 * time.Millisecond)
		if s.callCount() != 0 {
			t.Fatalf("summarizer called %d times with 9 entries, want 0", s.callCount())
		}
	})

	t.Run("above threshold", func(t *testing.T) {
		t.Parallel()
		s := newMockSummarizer("the gist")
		l := NewLog(s)
		appendN(l, 11, "alice")

		l.MaybeSummarize(ctx, SummarizeOptions{})
		s.awaitCall(t)

		if s.callCount() != 1 {
			t.Fatalf("summarizer called %d times with 11 unsummarized entries, want 1", s.callCount())
		}
		waitForSynopsis(t, l, "the gist")
	})

	t.Run("exactly ten unsummarized does not trigger", func(t *testing.T) {
		t.Parallel()
		s := newMockSummarizer("synopsis")
		l := NewLog(s)
		appendN(l, 10, "alice")

		l.MaybeSummarize(ctx, SummarizeOptions{})

		time.Sleep(50 * time.Millisecond)
		if s.callCount() != 0 {
			t.Fatalf("10 unsummarized entries must not trigger, got %d calls", s.callCount())
		}
	})
}

func TestLog_SynopsisInContextWindow(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s := newMockSummarizer("they discussed the weather")
	l := NewLog(s)
	appendN(l, 11, "alice")

	l.MaybeSummarize(ctx, SummarizeOptions{})
	s.awaitCall(t)
	waitForSynopsis(t, l, "they discussed the weather")

	got := l.ContextWindow(LiveWindow)
	if !strings.HasPrefix(got, "Past conversation summary: they discussed the weather\n\n") {
		t.Errorf("window must be prefixed with the synopsis, got %q", got)
	}

	// Entries older than the watermark are filtered out of the window.
	if strings.Contains(got, "alice: utterance") {
		t.Errorf("summarized entries must be filtered from the window, got %q", got)
	}

	// New appends reset the watermark to the epoch, so the old entries are
	// visible again until the next summarization commits. This is the
	// historical behavior; keep it.
	l.Append(Entry{Speaker: "bob", Text: "fresh"})
	got = l.ContextWindow(LiveWindow)
	if !strings.Contains(got, "bob: fresh") || !strings.Contains(got, "alice: utterance") {
		t.Errorf("append must reset the watermark filter, got %q", got)
	}
}

func TestLog_SummarizeFailureStaysDirty(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s := newMockSummarizer("")
	s.err = errors.New("model unavailable")
	l := NewLog(s)
	appendN(l, 12, "alice")

	l.MaybeSummarize(ctx, SummarizeOptions{})
	s.awaitCall(t)

	if l.Synopsis() != "" {
		t.Errorf("failed summarization must not set a synopsis, got %q", l.Synopsis())
	}

	// The trigger condition persists, so the next pass retries.
	s.mu.Lock()
	s.err = nil
	s.result = "second try"
	s.mu.Unlock()

	l.MaybeSummarize(ctx, SummarizeOptions{})
	s.awaitCall(t)
	waitForSynopsis(t, l, "second try")
}

func TestLog_PostProcess(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s := newMockSummarizer("No Topic was discussed")
	l := NewLog(s)
	appendN(l, 11, "alice")

	l.MaybeSummarize(ctx, SummarizeOptions{PostProcess: suppressNoTopic})
	s.awaitCall(t)

	// Post-processing suppressed the sentinel, so the synopsis stays empty.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && l.Synopsis() != "" {
		time.Sleep(5 * time.Millisecond)
	}
	if got := l.Synopsis(); got != "" {
		t.Errorf("sentinel synopsis must be suppressed, got %q", got)
	}
}

func TestLog_Snapshot(t *testing.T) {
	t.Parallel()

	l := NewLog(nil)
	l.Append(Entry{Speaker: "alice", Text: "before"})

	snap := l.Snapshot()
	l.Append(Entry{Speaker: "bob", Text: "after"})

	if snap.Len() != 1 {
		t.Fatalf("snapshot length = %d, want 1", snap.Len())
	}
	if l.Len() != 2 {
		t.Fatalf("live log length = %d, want 2", l.Len())
	}
	if strings.Contains(snap.ContextWindow(LiveWindow), "after") {
		t.Error("snapshot must not see appends made after it was taken")
	}
}

// summarizationCounts collects the summarization counter and returns its
// per-status datapoint values.
func summarizationCounts(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect metrics: %v", err)
	}

	counts := make(map[string]int64)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "charlie.convo.summarizations" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("summarizations data type = %T, want Sum[int64]", m.Data)
			}
			for _, dp := range sum.DataPoints {
				status, _ := dp.Attributes.Value(attribute.Key("status"))
				counts[status.AsString()] = dp.Value
			}
		}
	}
	return counts
}

func TestLog_SummarizationMetrics(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	met, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	okSum := newMockSummarizer("fine")
	okLog := NewLog(okSum, WithMetrics(met))
	appendN(okLog, 11, "alice")
	okLog.MaybeSummarize(ctx, SummarizeOptions{})
	okSum.awaitCall(t)
	waitForSynopsis(t, okLog, "fine")

	errSum := newMockSummarizer("")
	errSum.err = errors.New("model unavailable")
	errLog := NewLog(errSum, WithMetrics(met))
	appendN(errLog, 11, "bob")
	errLog.MaybeSummarize(ctx, SummarizeOptions{})
	errSum.awaitCall(t)

	// The counter increments on the summarize goroutine after the summarizer
	// returns, so poll until both datapoints land.
	deadline := time.Now().Add(2 * time.Second)
	for {
		counts := summarizationCounts(t, reader)
		if counts["ok"] == 1 && counts["error"] == 1 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("summarization counts = %v, want ok=1 error=1", counts)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestDaemon_Tick(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	primary := newMockSummarizer("primary synopsis")
	latent := newMockSummarizer("latent synopsis")

	pl := NewLog(primary)
	ll := NewLog(latent)
	appendN(pl, 11, "alice")
	appendN(ll, 11, "bob")

	d := NewDaemon(pl, ll)
	d.Tick(ctx)

	primary.awaitCall(t)
	latent.awaitCall(t)

	latent.mu.Lock()
	override := latent.overrides[0]
	latent.mu.Unlock()
	if override != LatentSummarizePrompt {
		t.Errorf("latent log must be summarized with the overheard prompt, got %q", override)
	}

	primary.mu.Lock()
	primaryOverride := primary.overrides[0]
	primary.mu.Unlock()
	if primaryOverride != "" {
		t.Errorf("primary log must use the default prompt, got %q", primaryOverride)
	}
}
