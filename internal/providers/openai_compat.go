package providers

import (
	"context"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"golang.org/x/time/rate"
)

// OpenAICompatProvider implements Provider for all OpenAI-compatible APIs.
// Serves GPT-5.2, GLM-5, Kimi K2.5, and MiniMax M2.5 with configurable BaseURL.
type OpenAICompatProvider struct {
	client      *openai.Client
	modelID     string
	maxCtx      int
	inputCost   float64
	outputCost  float64
	extraParams map[string]any // injected into raw request (e.g. Kimi's thinking: disabled)
	limiter     *rate.Limiter
}

// NewOpenAICompatProvider creates a provider for any OpenAI-compatible API.
func NewOpenAICompatProvider(apiKey, modelID, baseURL string, extraParams map[string]any, limiter *rate.Limiter) *OpenAICompatProvider {
	client := openai.NewClient(
		option.WithAPIKey(apiKey),
		option.WithBaseURL(baseURL),
	)
	model := SupportedModels[modelID]
	return &OpenAICompatProvider{
		client:      &client,
		modelID:     modelID,
		maxCtx:      model.MaxContext,
		inputCost:   model.InputCostPerMTok,
		outputCost:  model.OutputCostPerMTok,
		extraParams: extraParams,
		limiter:     limiter,
	}
}

func (p *OpenAICompatProvider) Name() string         { return "openai_compat" }
func (p *OpenAICompatProvider) ModelID() string       { return p.modelID }
func (p *OpenAICompatProvider) MaxContextTokens() int { return p.maxCtx }

func (p *OpenAICompatProvider) Complete(ctx context.Context, req CompletionRequest) (<-chan Event, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	messages := p.convertMessages(req.SystemPrompt, req.Messages)

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(p.modelID),
		Messages: messages,
	}

	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}

	params.StreamOptions = &openai.ChatCompletionStreamOptionsParam{
		IncludeUsage: openai.Bool(true),
	}

	var reqOpts []option.RequestOption
	for key, val := range p.extraParams {
		reqOpts = append(reqOpts, option.WithJSONSet(key, val))
	}

	stream := p.client.Chat.Completions.NewStreaming(ctx, params, reqOpts...)

	events := make(chan Event, 64)
	go p.processStream(stream, events)
	return events, nil
}

func (p *OpenAICompatProvider) processStream(stream *openai.ChatCompletionStream, events chan<- Event) {
	defer close(events)
	defer stream.Close()

	var inputTokens, outputTokens int

	for stream.Next() {
		chunk := stream.Current()

		if chunk.Usage.PromptTokens > 0 || chunk.Usage.CompletionTokens > 0 {
			inputTokens = int(chunk.Usage.PromptTokens)
			outputTokens = int(chunk.Usage.CompletionTokens)
		}

		if len(chunk.Choices) == 0 {
			continue
		}

		if content := chunk.Choices[0].Delta.Content; content != "" {
			events <- Event{Type: "text_delta", Text: content}
		}
	}

	if err := stream.Err(); err != nil {
		events <- Event{Type: "error", Error: err.Error()}
		return
	}

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

// convertMessages translates provider-agnostic messages to OpenAI Chat
// Completion format. Assistant messages are earlier replies in the thread,
// plus the trailing prefill seed.
func (p *OpenAICompatProvider) convertMessages(systemPrompt string, msgs []Message) []openai.ChatCompletionMessageParamUnion {
	var result []openai.ChatCompletionMessageParamUnion

	if systemPrompt != "" {
		result = append(result, openai.ChatCompletionMessageParamUnion{
			OfSystem: &openai.ChatCompletionSystemMessageParam{
				Content: openai.ChatCompletionSystemMessageParamContentUnion{
					OfString: openai.String(systemPrompt),
				},
			},
		})
	}

	for _, msg := range msgs {
		switch msg.Role {
		case "user":
			result = append(result, openai.ChatCompletionMessageParamUnion{
				OfUser: &openai.ChatCompletionUserMessageParam{
					Content: openai.ChatCompletionUserMessageParamContentUnion{
						OfString: openai.String(msg.Content),
					},
				},
			})
		case "assistant":
			result = append(result, openai.ChatCompletionMessageParamUnion{
				OfAssistant: &openai.ChatCompletionAssistantMessageParam{
					Content: openai.ChatCompletionAssistantMessageParamContentUnion{
						OfString: openai.String(msg.Content),
					},
				},
			})
		}
	}

	return result
}
