// Package respond turns addressed utterances into spoken responses.
//
// A Responder owns the LLM conversation with the model: it assembles the
// system prompt from the channel roster and conversation history, streams
// the completion, and feeds blank-line-separated sentences into a response
// dispatcher as they arrive. When the model decides a question needs
// external resources it calls the answer_difficult_question tool; the
// responder then plays a canned "let me think" interjection, seals the
// parent response, and spawns a child response that answers properly.
package respond

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/floomby/charlie/internal/convo"
	"github.com/floomby/charlie/internal/dispatch"
	"github.com/floomby/charlie/internal/observe"
	"github.com/floomby/charlie/pkg/provider/llm"
)

// toolAnswerQuestion is offered to the model for questions that need more
// context, real-time data, or external resources.
const toolAnswerQuestion = "answer_difficult_question"

// Request is one addressed utterance the agent should answer.
type Request struct {
	// Speaker is the display name of the person who addressed the agent.
	Speaker string

	// Text is the flushed utterance batch, already joined.
	Text string

	// UsersInChannel is the current voice channel roster.
	UsersInChannel []string
}

// Responder generates spoken responses. Safe for concurrent use; each
// Respond call runs its own generation goroutine.
type Responder struct {
	provider  llm.Provider
	scheduler *dispatch.Scheduler
	liveLog   *convo.Log
	latentLog *convo.Log
	agentName string
	logger    *slog.Logger
	metrics   *observe.Metrics

	now func() time.Time
}

// Option configures a Responder.
type Option func(*Responder)

// WithLogger sets the structured logger. Default is slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(r *Responder) { r.logger = l }
}

// WithMetrics attaches observability instruments.
func WithMetrics(m *observe.Metrics) Option {
	return func(r *Responder) { r.metrics = m }
}

// withClock overrides the wall clock, for tests.
func withClock(now func() time.Time) Option {
	return func(r *Responder) { r.now = now }
}

// New creates a Responder. liveLog holds the addressed conversation,
// latentLog the overheard ambience; both may contribute context.
func New(provider llm.Provider, scheduler *dispatch.Scheduler, liveLog, latentLog *convo.Log, agentName string, opts ...Option) *Responder {
	r := &Responder{
		provider:  provider,
		scheduler: scheduler,
		liveLog:   liveLog,
		latentLog: latentLog,
		agentName: agentName,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Respond enrolls a new dispatcher for req and starts generation on its own
// goroutine. The dispatcher is returned immediately so the caller can track
// or await it; generation failures mark it errored rather than surfacing.
func (r *Responder) Respond(ctx context.Context, req Request) *dispatch.Dispatcher {
	r.liveLog.Append(convo.Entry{Speaker: req.Speaker, Text: req.Text})

	d := r.scheduler.NewDispatcher(r.liveLog.Snapshot())
	if r.metrics != nil {
		r.metrics.ResponsesStarted.Add(ctx, 1)
	}

	go r.generate(ctx, d, req)
	return d
}

// generate streams the model's reply into d.
func (r *Responder) generate(ctx context.Context, d *dispatch.Dispatcher, req Request) {
	started := r.now()
	ctx, span := observe.StartSpan(ctx, "respond.generate")
	defer span.End()

	chunks, err := r.provider.StreamCompletion(ctx, r.buildRequest(req))
	if err != nil {
		r.logger.Error("failed to start response stream", "speaker", req.Speaker, "err", err)
		d.SetErrored()
		return
	}

	var (
		acm       string
		toolCalls []llm.ToolCall
		failed    bool
	)

	for chunk := range chunks {
		if chunk.FinishReason == "error" {
			r.logger.Error("response stream failed", "speaker", req.Speaker, "detail", chunk.Text)
			failed = true
			break
		}

		if chunk.Text != "" && !d.IsFinalized() {
			acm += chunk.Text
			acm = r.flushSentences(ctx, d, acm)
		}
		if len(chunk.ToolCalls) > 0 {
			toolCalls = append(toolCalls, chunk.ToolCalls...)
		}
	}

	if failed {
		d.SetErrored()
		return
	}

	if len(toolCalls) > 0 {
		// The real answer takes a while; hold the floor with a canned
		// interjection and let a child response deliver the goods.
		if !d.IsFinalized() {
			if err := d.PlayCanned(dispatch.CannedThinking); err != nil {
				r.logger.Warn("canned interjection unavailable", "err", err)
			}
			if err := d.Finalize(); err != nil {
				r.logger.Warn("finalize after tool call", "err", err)
			}
		}
		for _, tc := range toolCalls {
			r.spawnAnswer(ctx, d, tc)
		}
	} else if !d.IsFinalized() {
		if strings.TrimSpace(acm) != "" {
			if err := d.AppendSegment(ctx, acm); err != nil {
				r.logger.Warn("append trailing segment", "err", err)
			}
		}
		if err := d.Finalize(); err != nil {
			r.logger.Warn("finalize response", "err", err)
		}
	}

	if r.metrics != nil {
		r.metrics.ResponseLatency.Record(ctx, r.now().Sub(started).Seconds())
	}
}

// flushSentences appends every complete blank-line-separated sentence in acm
// to d and returns the unfinished remainder.
func (r *Responder) flushSentences(ctx context.Context, d *dispatch.Dispatcher, acm string) string {
	for {
		sentence, rest, ok := strings.Cut(acm, "\n\n")
		if !ok {
			return acm
		}
		if err := d.AppendSegment(ctx, sentence); err != nil {
			r.logger.Warn("append segment", "err", err)
			return ""
		}
		acm = rest
	}
}

// spawnAnswer parses an answer_difficult_question call and registers a child
// response that answers it without streaming.
func (r *Responder) spawnAnswer(ctx context.Context, parent *dispatch.Dispatcher, tc llm.ToolCall) {
	if tc.Name != toolAnswerQuestion {
		r.logger.Warn("model requested unknown tool", "tool", tc.Name)
		return
	}

	var args struct {
		Question string `json:"question"`
	}
	if err := json.Unmarshal([]byte(tc.Arguments), &args); err != nil || args.Question == "" {
		r.logger.Warn("unparseable tool arguments", "tool", tc.Name, "err", err)
		return
	}

	parent.AddChild(dispatch.Spawn(func() (*dispatch.Dispatcher, error) {
		return r.answerQuestion(ctx, args.Question)
	}))
}

// answerQuestion produces the slow, researched answer on its own
// dispatcher.
func (r *Responder) answerQuestion(ctx context.Context, question string) (*dispatch.Dispatcher, error) {
	resp, err := r.provider.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: fmt.Sprintf("You are %s, a voice assistant. Answer the question directly and concisely.", r.agentName),
		Messages: []llm.Message{
			{Role: "user", Content: question},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("respond: answer question: %w", err)
	}

	d := r.scheduler.NewDispatcher(r.liveLog.Snapshot())
	if err := d.AppendSegment(ctx, resp.Content); err != nil {
		d.SetErrored()
		return d, err
	}
	if err := d.Finalize(); err != nil {
		d.SetErrored()
		return d, err
	}
	return d, nil
}

// buildRequest assembles the full completion request: system prompt, the
// two-message priming exchange, and the question itself.
func (r *Responder) buildRequest(req Request) llm.CompletionRequest {
	return llm.CompletionRequest{
		SystemPrompt: r.systemPrompt(req),
		Messages: []llm.Message{
			{
				Role:    "user",
				Content: "When you respond, skip two lines in between each sentence.\n\nDo not say anymore than you need to.\n\n",
			},
			{
				Role:    "assistant",
				Content: fmt.Sprintf("I am %s bot.\n\nI understand that I need to skip two lines in between each sentence when I respond.\n\n", r.agentName),
			},
			{
				Role:    "user",
				Content: fmt.Sprintf("Answer the question asked by %s.\n\n======\nQUESTION: %s\n======\n\n", req.Speaker, req.Text),
			},
		},
		Tools: []llm.ToolDefinition{
			{
				Name:        toolAnswerQuestion,
				Description: "Provides answers to questions which require more context, real time data, or external resources.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"question": map[string]any{
							"type":        "string",
							"description": "The question to answer.",
						},
					},
					"required": []string{"question"},
				},
			},
		},
	}
}

// systemPrompt renders the channel roster, the live conversation, and a
// hint from the overheard conversation's synopsis when one exists.
func (r *Responder) systemPrompt(req Request) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "You are %s a discord bot in a voice channel known for being concise with your responses.\n\n", r.agentName)
	fmt.Fprintf(&sb, "The current date time is %s.\n\n", r.now().Format(time.RFC1123))
	fmt.Fprintf(&sb, "The discord voice channel currently has the following users: %s\n\n", strings.Join(req.UsersInChannel, ", "))
	sb.WriteString("You will need to consult external resources to learn about current events.\n\n")

	sb.WriteString("The following is the conversation that has occurred so far:")
	if r.latentLog != nil {
		if synopsis := r.latentLog.Synopsis(); synopsis != "" {
			fmt.Fprintf(&sb, "\n\n[Hint: %s]", synopsis)
		}
	}
	sb.WriteString("\n\n")
	sb.WriteString(r.liveLog.ContextWindow(convo.LiveWindow))
	sb.WriteString("\n\nSkip two lines between every sentence in your response.\n\nBe concise with your responses.\n\n")

	return sb.String()
}
