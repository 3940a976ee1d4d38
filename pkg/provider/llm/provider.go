// Package llm defines the Provider interface for Large Language Model
// backends.
//
// Charlie uses an LLM for two jobs: generating spoken replies (streamed, so
// segments can be synthesized while the model is still talking) and
// summarizing conversation history. Provider abstracts over the concrete SDK
// so both jobs work against OpenAI, a local Ollama instance, or anything the
// any-llm adapter can reach.
//
// Implementations must be safe for concurrent use. Channels returned by
// StreamCompletion are closed by the implementation when the stream ends or
// the supplied context is cancelled.
package llm

import "context"

// Message is a single entry in a model conversation history.
type Message struct {
	// Role is one of "system", "user", "assistant", or "tool".
	Role string

	// Content is the text content of the message.
	Content string

	// Name optionally identifies the speaker, for multi-speaker channels.
	Name string

	// ToolCalls holds tool invocations requested by the assistant.
	ToolCalls []ToolCall

	// ToolCallID identifies the call a "tool"-role message responds to.
	ToolCallID string
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	// ID is the provider-assigned identifier for this call.
	ID string

	// Name is the tool name.
	Name string

	// Arguments is the JSON-encoded argument payload.
	Arguments string
}

// ToolDefinition describes a tool offered to the model.
type ToolDefinition struct {
	// Name is the tool's unique identifier.
	Name string

	// Description tells the model what the tool does.
	Description string

	// Parameters is the JSON Schema of the tool's input.
	Parameters map[string]any
}

// ModelCapabilities describes what a model supports. Assumed constant for
// the lifetime of a Provider.
type ModelCapabilities struct {
	// ContextWindow is the maximum token count for input plus output.
	ContextWindow int

	// MaxOutputTokens caps one completion's generated tokens.
	MaxOutputTokens int

	// SupportsToolCalling indicates native function/tool calling.
	SupportsToolCalling bool

	// SupportsStreaming indicates streaming completion support.
	SupportsStreaming bool
}

// Usage holds token accounting returned by the backend. Counts are in the
// model's native token unit.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the model needs to produce a
// response. Messages must be non-empty.
type CompletionRequest struct {
	// Messages is the ordered conversation history.
	Messages []Message

	// Tools is the set of tool definitions offered to the model. Check
	// Capabilities().SupportsToolCalling before setting this.
	Tools []ToolDefinition

	// Temperature controls output randomness in [0.0, 2.0]. Zero means the
	// provider default.
	Temperature float64

	// MaxTokens caps completion tokens; zero means the provider default.
	MaxTokens int

	// SystemPrompt is an optional instruction injected ahead of Messages.
	SystemPrompt string
}

// Chunk is one fragment of a streaming completion. A chunk may carry text,
// tool calls, a finish signal, or any combination.
type Chunk struct {
	// Text is the incremental text content, possibly empty.
	Text string

	// FinishReason is set on the final chunk: "stop", "length",
	// "tool_calls", or "error" for failures after the stream opened.
	FinishReason string

	// ToolCalls holds fully accumulated tool invocations, emitted on the
	// final chunk.
	ToolCalls []ToolCall
}

// CompletionResponse is returned by the non-streaming Complete method.
type CompletionResponse struct {
	// Content is the full assistant reply. Empty when the model responds
	// exclusively with tool calls.
	Content string

	// ToolCalls lists all invocations the model requested.
	ToolCalls []ToolCall

	// Usage is the token accounting for this exchange.
	Usage Usage
}

// Provider is the abstraction over any LLM backend.
//
// Implementations must be safe for concurrent use and must propagate context
// cancellation promptly.
type Provider interface {
	// StreamCompletion sends req and returns a read-only channel emitting
	// chunks as they arrive. The implementation closes the channel when
	// generation finishes or ctx is cancelled; callers must drain it.
	// Failures that prevent the stream from starting are returned as the
	// error; later failures arrive as a Chunk with FinishReason "error".
	StreamCompletion(ctx context.Context, req CompletionRequest) (<-chan Chunk, error)

	// Complete sends req and waits for the full response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// CountTokens estimates the context-window cost of messages. The result
	// need not be exact but should not undercount.
	CountTokens(messages []Message) (int, error)

	// Capabilities returns static metadata about the underlying model.
	Capabilities() ModelCapabilities
}
