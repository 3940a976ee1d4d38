// Package convo maintains per-channel conversation history with
// cache-invalidated summarization.
//
// A [Log] is an append-only sequence of utterances plus a cached synopsis of
// everything said before the synopsis watermark. Prompt builders call
// [Log.ContextWindow] to get a bounded textual view: the synopsis (if any)
// followed by the recent unsummarized entries. [Log.MaybeSummarize] refreshes
// the synopsis asynchronously through a [Summarizer] once enough unsummarized
// entries pile up.
//
// All exported methods are safe for concurrent use.
package convo

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/floomby/charlie/internal/observe"
)

const (
	// minEntriesForSynopsis is the minimum total log size before
	// summarization is considered at all.
	minEntriesForSynopsis = 10

	// maxUnsummarized is the unsummarized-entry count that must be exceeded
	// to trigger a summarization pass.
	maxUnsummarized = 10

	// SummaryWindow is how many trailing entries are handed to the
	// summarizer as input.
	SummaryWindow = 50

	// LiveWindow is the default entry count for live prompt construction.
	LiveWindow = 20
)

// synopsisPrefix starts the context window whenever a cached synopsis exists.
const synopsisPrefix = "Past conversation summary: "

// Entry is one utterance stored in a [Log] — either something a participant
// said or a reply the agent spoke.
type Entry struct {
	// Speaker is the display name of whoever produced the text.
	Speaker string

	// Text is the utterance content.
	Text string

	// Timestamp records when the utterance was appended. Zero means "now".
	Timestamp time.Time
}

// Summarizer condenses a conversation transcript into a short synopsis.
// promptOverride replaces the default summarization instruction when non-empty.
type Summarizer interface {
	Summarize(ctx context.Context, conversation string, promptOverride string) (string, error)
}

// SummarizeOptions tunes a [Log.MaybeSummarize] pass.
type SummarizeOptions struct {
	// PromptOverride replaces the default summarization instruction.
	// Used for the ambient log, which is summarized as overheard talk.
	PromptOverride string

	// PostProcess transforms a successful synopsis before it is cached.
	// Typical use: replacing a sentinel "no topic" result with empty text.
	PostProcess func(synopsis string) string
}

// Log is an append-only conversation history with a cached synopsis.
//
// The dirty flag is set on every append and deliberately never cleared by a
// successful summarization — context-window reads keep re-scanning from the
// watermark until another summarization moves it. Downstream prompt logic
// depends on this, so do not "fix" it.
type Log struct {
	summarizer Summarizer
	logger     *slog.Logger
	metrics    *observe.Metrics

	mu          sync.Mutex
	entries     []Entry
	synopsis    string
	watermark   time.Time // zero value = epoch
	dirty       bool
	summarizing bool
}

// LogOption configures a [Log] during construction.
type LogOption func(*Log)

// WithMetrics installs metric instruments. Successful and failed
// summarization passes are counted on [observe.Metrics.Summarizations].
func WithMetrics(m *observe.Metrics) LogOption {
	return func(l *Log) {
		l.metrics = m
	}
}

// NewLog creates an empty Log. summarizer may be nil, in which case
// [Log.MaybeSummarize] is a no-op.
func NewLog(summarizer Summarizer, opts ...LogOption) *Log {
	l := &Log{
		summarizer: summarizer,
		logger:     slog.Default(),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Append adds entry to the end of the log, marks it dirty, and resets the
// synopsis watermark to the epoch so reads re-scan until the next successful
// summarization.
func (l *Log) Append(entry Entry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = append(l.entries, entry)
	l.dirty = true
	l.watermark = time.Time{}
}

// Len returns the number of entries in the log.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Synopsis returns the cached synopsis, or "" if none has been produced yet.
func (l *Log) Synopsis() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.synopsis
}

// ContextWindow renders a bounded textual view of the conversation: the
// cached synopsis (when present) followed by the last lastN entries whose
// timestamp is at or after the synopsis watermark, formatted as
// "speaker: text" and blank-line separated.
//
// When the log is not dirty the synopsis alone is returned.
func (l *Log) ContextWindow(lastN int) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.contextWindowLocked(lastN)
}

func (l *Log) contextWindowLocked(lastN int) string {
	var sb strings.Builder
	filter := time.Time{}

	if l.synopsis != "" {
		sb.WriteString(synopsisPrefix)
		sb.WriteString(l.synopsis)
		sb.WriteString("\n\n")
		filter = l.watermark
	}

	if !l.dirty {
		return sb.String()
	}

	start := max(0, len(l.entries)-lastN)
	for _, e := range l.entries[start:] {
		if e.Timestamp.Before(filter) {
			continue
		}
		sb.WriteString(e.Speaker)
		sb.WriteString(": ")
		sb.WriteString(e.Text)
		sb.WriteString("\n\n")
	}
	return sb.String()
}

// MaybeSummarize refreshes the cached synopsis when the log is dirty, holds
// at least 10 entries, and more than 10 of them postdate the watermark. The
// summarizer runs on its own goroutine; on success the synopsis and watermark
// are updated, on failure the log stays dirty so the next pass retries.
//
// Calls while a summarization is already in flight are no-ops.
func (l *Log) MaybeSummarize(ctx context.Context, opts SummarizeOptions) {
	if l.summarizer == nil {
		return
	}

	l.mu.Lock()
	if l.summarizing || !l.dirty || len(l.entries) < minEntriesForSynopsis {
		l.mu.Unlock()
		return
	}

	unsummarized := 0
	for i := len(l.entries) - 1; i >= 0; i-- {
		if l.entries[i].Timestamp.Before(l.watermark) {
			break
		}
		if unsummarized > maxUnsummarized {
			break
		}
		unsummarized++
	}
	if unsummarized <= maxUnsummarized {
		l.mu.Unlock()
		return
	}

	conversation := l.contextWindowLocked(SummaryWindow)
	l.summarizing = true
	l.mu.Unlock()

	go l.summarize(ctx, conversation, opts)
}

// summarize performs the actual summarizer call and commits the result.
func (l *Log) summarize(ctx context.Context, conversation string, opts SummarizeOptions) {
	synopsis, err := l.summarizer.Summarize(ctx, conversation, opts.PromptOverride)

	if l.metrics != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		l.metrics.Summarizations.Add(context.Background(), 1,
			metric.WithAttributes(attribute.String("status", status)),
		)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.summarizing = false

	if err != nil {
		// Stay dirty; the trigger condition persists and the next pass retries.
		l.logger.Warn("conversation summarization failed", "err", err)
		return
	}

	if opts.PostProcess != nil {
		synopsis = opts.PostProcess(synopsis)
	}
	l.synopsis = synopsis
	l.watermark = time.Now()
	l.logger.Debug("conversation synopsis refreshed", "chars", len(synopsis))
}

// Snapshot returns an independent copy of the log as of now. The copy shares
// the summarizer but has its own entry slice and scalar state, so a response
// can keep a consistent view of history while the live log keeps growing.
func (l *Log) Snapshot() *Log {
	l.mu.Lock()
	defer l.mu.Unlock()

	clone := &Log{
		summarizer: l.summarizer,
		logger:     l.logger,
		metrics:    l.metrics,
		entries:    append([]Entry(nil), l.entries...),
		synopsis:   l.synopsis,
		watermark:  l.watermark,
		dirty:      l.dirty,
	}
	return clone
}

// String implements fmt.Stringer for debug logging.
func (l *Log) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return fmt.Sprintf("convo.Log{entries: %d, synopsis: %d chars, dirty: %v}", len(l.entries), len(l.synopsis), l.dirty)
}
