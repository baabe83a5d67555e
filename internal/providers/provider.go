package providers

import "context"

// Provider is the interface every LLM adapter must implement. The engine
// never exposes callable tools to the model — Phase 2's context requests
// are satisfied deterministically by the Symbol Index, not by function
// calling — so the surface here is a plain text-in/text-out completion
// stream, not a tool-calling protocol.
type Provider interface {
	// Name returns the provider identifier ("anthropic", "openai_compat").
	Name() string

	// ModelID returns the model string sent to the API.
	ModelID() string

	// Complete sends a conversation to the LLM and returns a stream of
	// events. The caller reads from the channel until it is closed. On
	// error, an Event with Type="error" is sent before closing.
	Complete(ctx context.Context, req CompletionRequest) (<-chan Event, error)

	// MaxContextTokens returns the model's context window size.
	MaxContextTokens() int
}

// CompletionRequest is the provider-agnostic request format.
type CompletionRequest struct {
	SystemPrompt string
	Messages     []Message
	MaxTokens    int
}

// Message is a single turn in the conversation. An assistant message with
// Role="assistant" and a short Content is how the Session injects its
// prefill seed — the literal opening brace that forces the completion to
// continue as JSON.
type Message struct {
	Role    string // "user" | "assistant"
	Content string
}

// Event is one item in the completion stream.
type Event struct {
	Type  string // "text_delta" | "done" | "error"
	Text  string // for type="text_delta"
	Error string // for type="error"
	Usage *Usage // for type="done"
}

// Usage contains token consumption for the completed request.
type Usage struct {
	InputTokens  int
	OutputTokens int
	CostUSD      float64
}
