package providers

import (
	"context"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"golang.org/x/time/rate"
)

// AnthropicProvider implements Provider for Claude models. Uses the
// official Anthropic SDK with streaming.
type AnthropicProvider struct {
	client     *anthropic.Client
	modelID    string
	maxCtx     int
	inputCost  float64
	outputCost float64
	limiter    *rate.Limiter
}

// NewAnthropicProvider creates a provider for Anthropic models.
func NewAnthropicProvider(apiKey, modelID string, limiter *rate.Limiter) *AnthropicProvider {
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	model := SupportedModels[modelID]
	return &AnthropicProvider{
		client:     &client,
		modelID:    modelID,
		maxCtx:     model.MaxContext,
		inputCost:  model.InputCostPerMTok,
		outputCost: model.OutputCostPerMTok,
		limiter:    limiter,
	}
}

func (p *AnthropicProvider) Name() string         { return "anthropic" }
func (p *AnthropicProvider) ModelID() string       { return p.modelID }
func (p *AnthropicProvider) MaxContextTokens() int { return p.maxCtx }

func (p *AnthropicProvider) Complete(ctx context.Context, req CompletionRequest) (<-chan Event, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	messages := p.convertMessages(req.Messages)

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.modelID),
		MaxTokens: int64(req.MaxTokens),
		Messages:  messages,
	}

	if req.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{
			{Text: req.SystemPrompt},
		}
	}

	stream := p.client.Messages.NewStreaming(ctx, params)

	events := make(chan Event, 64)
	go p.processStream(stream, events)
	return events, nil
}

func (p *AnthropicProvider) processStream(stream *anthropic.MessageStream, events chan<- Event) {
	defer close(events)
	defer stream.Close()

	accum := anthropic.Message{}

	for stream.Next() {
		evt := stream.Current()
		_ = accum.Accumulate(evt)

		switch variant := evt.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			if delta, ok := variant.Delta.AsAny().(anthropic.TextDelta); ok {
				events <- Event{Type: "text_delta", Text: delta.Text}
			}
		}
	}

	if err := stream.Err(); err != nil {
		events <- Event{Type: "error", Error: err.Error()}
		return
	}

	inputTokens := int(accum.Usage.InputTokens)
	outputTokens := int(accum.Usage.OutputTokens)
	cost := (float64(inputTokens)/1_000_000)*p.inputCost +
		(float64(outputTokens)/1_000_000)*p.outputCost

	events <- Event{
		Type: "done",
		Usage: &Usage{
			InputTokens:  inputTokens,
			OutputTokens: outputTokens,
			CostUSD:      cost,
		},
	}
}

// convertMessages translates provider-agnostic messages to Anthropic
// format. Assistant messages are earlier replies in the thread, plus the
// trailing prefill seed — a short, partial piece of assistant content that
// the completion continues from.
func (p *AnthropicProvider) convertMessages(msgs []Message) []anthropic.MessageParam {
	result := make([]anthropic.MessageParam, 0, len(msgs))

	for _, msg := range msgs {
		block := anthropic.NewTextBlock(msg.Content)
		result = append(result, anthropic.MessageParam{
			Role:    anthropic.MessageParamRole(msg.Role),
			Content: []anthropic.ContentBlockParamUnion{block},
		})
	}

	return result
}
