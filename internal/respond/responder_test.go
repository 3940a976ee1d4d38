package respond

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/floomby/charlie/internal/convo"
	"github.com/floomby/charlie/internal/dispatch"
	"github.com/floomby/charlie/pkg/provider/llm"
	llmmock "github.com/floomby/charlie/pkg/provider/llm/mock"
)

type recordSynth struct {
	mu    sync.Mutex
	texts []string
}

func (r *recordSynth) Submit(_ context.Context, _ dispatch.Key, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.texts = append(r.texts, text)
	return nil
}

type nullPlayer struct{}

func (nullPlayer) Play(context.Context, dispatch.Artifact) error { return nil }

type fixedSummarizer struct {
	synopsis string
}

func (f fixedSummarizer) Summarize(context.Context, string, string) (string, error) {
	return f.synopsis, nil
}

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFixture(t *testing.T, provider llm.Provider) (*Responder, *dispatch.Scheduler, *recordSynth) {
	t.Helper()
	synth := &recordSynth{}
	lib := dispatch.NewLibrary()
	if err := lib.Register(dispatch.CannedThinking, "Give me a moment to think.", []byte("think")); err != nil {
		t.Fatalf("Register: %v", err)
	}

	live := convo.NewLog(nil)
	latent := convo.NewLog(nil)
	s := dispatch.NewScheduler(dispatch.Config{
		Synthesizer: synth,
		Player:      nullPlayer{},
		Canned:      lib,
		LiveLog:     live,
		AgentName:   "Charlie",
	}, dispatch.WithLogger(quiet()))

	r := New(provider, s, live, latent, "Charlie", WithLogger(quiet()))
	return r, s, synth
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not reached before deadline")
}

func TestRespondStreamsBlankLineSeparatedSentences(t *testing.T) {
	t.Parallel()

	provider := &llmmock.Provider{
		StreamChunks: []llm.Chunk{
			{Text: "Hello"},
			{Text: " there.\n\nSecond"},
			{Text: " sentence."},
			{FinishReason: "stop"},
		},
	}
	r, _, synth := newFixture(t, provider)

	d := r.Respond(context.Background(), Request{
		Speaker:        "floomby",
		Text:           "charlie say hello",
		UsersInChannel: []string{"floomby", "Charlie"},
	})

	waitFor(t, d.IsFinalized)

	got := d.Segments()
	want := []string{"Hello there.", "Second sentence."}
	if len(got) != len(want) {
		t.Fatalf("segments = %q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("segment %d = %q, want %q", i, got[i], want[i])
		}
	}

	synth.mu.Lock()
	defer synth.mu.Unlock()
	if len(synth.texts) != 2 {
		t.Errorf("synthesizer got %d submissions, want 2", len(synth.texts))
	}
}

func TestRespondAppendsSpeakerToLiveLog(t *testing.T) {
	t.Parallel()

	provider := &llmmock.Provider{
		StreamChunks: []llm.Chunk{{Text: "Hi."}, {FinishReason: "stop"}},
	}
	synth := &recordSynth{}
	live := convo.NewLog(nil)
	s := dispatch.NewScheduler(dispatch.Config{
		Synthesizer: synth,
		Player:      nullPlayer{},
		LiveLog:     live,
		AgentName:   "Charlie",
	}, dispatch.WithLogger(quiet()))
	r := New(provider, s, live, nil, "Charlie", WithLogger(quiet()))

	d := r.Respond(context.Background(), Request{Speaker: "floomby", Text: "hey charlie"})
	waitFor(t, d.IsFinalized)

	window := live.ContextWindow(convo.LiveWindow)
	if !strings.Contains(window, "floomby: hey charlie") {
		t.Errorf("context window %q missing speaker entry", window)
	}
	if !strings.Contains(window, "Charlie: Hi.") {
		t.Errorf("context window %q missing agent echo", window)
	}
}

func TestRespondToolCallSpawnsChildResponse(t *testing.T) {
	t.Parallel()

	provider := &llmmock.Provider{
		StreamChunks: []llm.Chunk{
			{
				FinishReason: "tool_calls",
				ToolCalls: []llm.ToolCall{{
					ID:        "call-1",
					Name:      toolAnswerQuestion,
					Arguments: `{"question":"What is the population of Norway?"}`,
				}},
			},
		},
		CompleteResponse: &llm.CompletionResponse{Content: "About 5.5 million."},
	}
	r, s, _ := newFixture(t, provider)

	d := r.Respond(context.Background(), Request{Speaker: "floomby", Text: "charlie how many people live in norway"})
	waitFor(t, d.IsFinalized)

	// The parent holds the floor with the canned interjection.
	segs := d.Segments()
	if len(segs) != 1 || segs[0] != "Give me a moment to think." {
		t.Fatalf("parent segments = %q", segs)
	}

	waitFor(t, func() bool { return len(d.Children()) == 1 })
	child, err := d.Children()[0].Await(context.Background())
	if err != nil {
		t.Fatalf("child Await: %v", err)
	}
	if child == nil || !child.IsFinalized() {
		t.Fatal("child response not finalized")
	}
	childSegs := child.Segments()
	if len(childSegs) != 1 || childSegs[0] != "About 5.5 million." {
		t.Errorf("child segments = %q", childSegs)
	}

	// Parent and child are both enqueued for playback.
	if n := s.QueueLen(); n != 2 {
		t.Errorf("QueueLen = %d, want 2", n)
	}
}

func TestRespondStreamStartFailureMarksErrored(t *testing.T) {
	t.Parallel()

	provider := &llmmock.Provider{StreamErr: errors.New("no backend")}
	r, _, _ := newFixture(t, provider)

	d := r.Respond(context.Background(), Request{Speaker: "floomby", Text: "charlie?"})
	waitFor(t, d.Errored)

	if d.IsFinalized() {
		t.Error("errored dispatcher should not be finalized")
	}
}

func TestRespondMidStreamErrorMarksErrored(t *testing.T) {
	t.Parallel()

	provider := &llmmock.Provider{
		StreamChunks: []llm.Chunk{
			{Text: "Starting to ans"},
			{FinishReason: "error", Text: "connection reset"},
		},
	}
	r, _, _ := newFixture(t, provider)

	d := r.Respond(context.Background(), Request{Speaker: "floomby", Text: "charlie?"})
	waitFor(t, d.Errored)
}

func TestSystemPromptCarriesRosterAndLatentHint(t *testing.T) {
	t.Parallel()

	latent := convo.NewLog(fixedSummarizer{synopsis: "They were arguing about pizza toppings."})
	base := time.Now().Add(-time.Minute)
	for i := range 12 {
		latent.Append(convo.Entry{
			Speaker:   "bystander",
			Text:      "overheard line",
			Timestamp: base.Add(time.Duration(i) * time.Second),
		})
	}
	latent.MaybeSummarize(context.Background(), convo.SummarizeOptions{})
	waitFor(t, func() bool { return latent.Synopsis() != "" })

	provider := &llmmock.Provider{
		StreamChunks: []llm.Chunk{{Text: "Sure."}, {FinishReason: "stop"}},
	}
	synth := &recordSynth{}
	live := convo.NewLog(nil)
	s := dispatch.NewScheduler(dispatch.Config{
		Synthesizer: synth,
		Player:      nullPlayer{},
		LiveLog:     live,
		AgentName:   "Charlie",
	}, dispatch.WithLogger(quiet()))

	fixed := time.Date(2024, time.March, 9, 15, 4, 5, 0, time.UTC)
	r := New(provider, s, live, latent, "Charlie",
		WithLogger(quiet()),
		withClock(func() time.Time { return fixed }),
	)

	d := r.Respond(context.Background(), Request{
		Speaker:        "floomby",
		Text:           "charlie what were they talking about",
		UsersInChannel: []string{"floomby", "guest", "Charlie"},
	})
	waitFor(t, d.IsFinalized)

	streams, _ := provider.Recorded()
	if len(streams) != 1 {
		t.Fatalf("provider got %d stream calls, want 1", len(streams))
	}
	prompt := streams[0].Req.SystemPrompt
	if !strings.Contains(prompt, "floomby, guest, Charlie") {
		t.Errorf("prompt missing roster:\n%s", prompt)
	}
	if !strings.Contains(prompt, "[Hint: They were arguing about pizza toppings.]") {
		t.Errorf("prompt missing latent hint:\n%s", prompt)
	}
	if !strings.Contains(prompt, fixed.Format(time.RFC1123)) {
		t.Errorf("prompt missing timestamp:\n%s", prompt)
	}

	if len(streams[0].Req.Tools) != 1 || streams[0].Req.Tools[0].Name != toolAnswerQuestion {
		t.Errorf("tools = %+v", streams[0].Req.Tools)
	}
}
