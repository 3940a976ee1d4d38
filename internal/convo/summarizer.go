package convo

import (
	"context"
	"fmt"
	"strings"

	"github.com/floomby/charlie/pkg/provider/llm"
)

// defaultSummarizePrompt is the instruction used when no override is given.
const defaultSummarizePrompt = "Summarize the conversation:"

// LatentSummarizePrompt is the override used for the ambient log, where the
// agent was not addressed and is merely overhearing.
const LatentSummarizePrompt = "You have overheard a conversation, give a short summary of the conversation paying more attention to the most recent utterances."

// LLMSummarizer implements [Summarizer] on top of an [llm.Provider].
type LLMSummarizer struct {
	provider llm.Provider
}

// NewLLMSummarizer creates a Summarizer backed by the given provider.
func NewLLMSummarizer(provider llm.Provider) *LLMSummarizer {
	return &LLMSummarizer{provider: provider}
}

// Summarize sends the conversation text to the LLM with the summarization
// instruction and returns the synopsis text.
func (s *LLMSummarizer) Summarize(ctx context.Context, conversation string, promptOverride string) (string, error) {
	prompt := promptOverride
	if prompt == "" {
		prompt = defaultSummarizePrompt
	}

	resp, err := s.provider.Complete(ctx, llm.CompletionRequest{
		Messages: []llm.Message{
			{Role: "user", Content: prompt + "\n\n" + conversation},
		},
		Temperature: 0.3,
	})
	if err != nil {
		return "", fmt.Errorf("summarize: %w", err)
	}
	return strings.TrimSpace(resp.Content), nil
}

// Compile-time check that *LLMSummarizer satisfies [Summarizer].
var _ Summarizer = (*LLMSummarizer)(nil)
