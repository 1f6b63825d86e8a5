package chat

import (
	"context"
	"errors"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/ashureev/interview-room/internal/domain"
	"github.com/ashureev/interview-room/internal/shared"
)

const providerOpenAI = "openai"

// OpenAIModel calls the OpenAI chat completions API.
type OpenAIModel struct {
	client openai.Client
	model  string
}

// NewOpenAIModel creates an OpenAI client for model. The SDK's automatic
// retries are disabled.
func NewOpenAIModel(apiKey, model string, opts ...option.RequestOption) *OpenAIModel {
	if model == "" {
		model = "gpt-4o-mini"
	}
	all := append([]option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}, opts...)
	return &OpenAIModel{client: openai.NewClient(all...), model: model}
}

// Provider returns "openai".
func (o *OpenAIModel) Provider() string { return providerOpenAI }

// Generate sends one chat completion request.
func (o *OpenAIModel) Generate(ctx context.Context, req ModelRequest) (*ModelResponse, error) {
	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages:            openAIMessages(req),
		Model:               openai.ChatModel(o.model),
		Temperature:         openai.Float(req.Temperature),
		MaxCompletionTokens: openai.Int(int64(req.MaxOutputTokens)),
	})
	if err != nil {
		return nil, classifyOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, shared.NewError(shared.KindNetwork, "openai returned no choices", nil)
	}
	choice := resp.Choices[0]
	if choice.FinishReason == "content_filter" {
		return nil, shared.NewError(shared.KindModelSafety, "the model declined to answer this message", errors.New("content_filter"))
	}
	text := strings.TrimSpace(choice.Message.Content)
	if text == "" {
		if choice.Message.Refusal != "" {
			return nil, shared.NewError(shared.KindModelSafety, "the model declined to answer this message", errors.New(choice.Message.Refusal))
		}
		return nil, shared.NewError(shared.KindNetwork, "openai returned an empty response", nil)
	}
	return &ModelResponse{Text: text, TokensUsed: int(resp.Usage.TotalTokens)}, nil
}

func openAIMessages(req ModelRequest) []openai.ChatCompletionMessageParamUnion {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.History)+2)
	if req.SystemInstruction != "" {
		msgs = append(msgs, openai.SystemMessage(req.SystemInstruction))
	}
	for _, t := range req.History {
		if t.Role == string(domain.RoleUser) {
			msgs = append(msgs, openai.UserMessage(t.Content))
		} else {
			msgs = append(msgs, openai.AssistantMessage(t.Content))
		}
	}
	return append(msgs, openai.UserMessage(req.Message))
}

func classifyOpenAIError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		kind := classifyStatus(apiErr.StatusCode)
		return shared.NewError(kind, statusMessage(providerOpenAI, kind), err)
	}
	return classifyTransport(providerOpenAI, err)
}
