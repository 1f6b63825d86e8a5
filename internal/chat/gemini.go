package chat

import (
	"context"
	"errors"
	"strings"

	"google.golang.org/genai"

	"github.com/ashureev/interview-room/internal/domain"
	"github.com/ashureev/interview-room/internal/shared"
)

const providerGemini = "gemini"

// GeminiModel calls the Gemini API.
type GeminiModel struct {
	client *genai.Client
	model  string
}

// NewGeminiModel creates a Gemini client for model.
func NewGeminiModel(ctx context.Context, apiKey, model string) (*GeminiModel, error) {
	if model == "" {
		model = "gemini-2.0-flash"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, shared.NewError(shared.KindModelConfig, "create gemini client", err)
	}
	return &GeminiModel{client: client, model: model}, nil
}

// Provider returns "gemini".
func (g *GeminiModel) Provider() string { return providerGemini }

// Generate sends the history and message as one GenerateContent call.
func (g *GeminiModel) Generate(ctx context.Context, req ModelRequest) (*ModelResponse, error) {
	cfg := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(float32(req.Temperature)),
		MaxOutputTokens: int32(req.MaxOutputTokens),
	}
	if req.SystemInstruction != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.SystemInstruction}}}
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, geminiContents(req), cfg)
	if err != nil {
		return nil, classifyGeminiError(err)
	}
	if reason := geminiBlockReason(resp); reason != "" {
		return nil, shared.NewError(shared.KindModelSafety, "the model declined to answer this message", errors.New(reason))
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return nil, shared.NewError(shared.KindNetwork, "gemini returned an empty response", nil)
	}
	out := &ModelResponse{Text: text}
	if resp.UsageMetadata != nil {
		out.TokensUsed = int(resp.UsageMetadata.TotalTokenCount)
	}
	return out, nil
}

// geminiContents renders the conversation with Gemini's "user" and "model"
// roles, ending with the new user message.
func geminiContents(req ModelRequest) []*genai.Content {
	contents := make([]*genai.Content, 0, len(req.History)+1)
	for _, t := range req.History {
		role := "user"
		if t.Role != string(domain.RoleUser) {
			role = "model"
		}
		contents = append(contents, &genai.Content{Role: role, Parts: []*genai.Part{{Text: t.Content}}})
	}
	return append(contents, &genai.Content{Role: "user", Parts: []*genai.Part{{Text: req.Message}}})
}

var geminiSafetyReasons = map[string]bool{
	"SAFETY":             true,
	"PROHIBITED_CONTENT": true,
	"BLOCKLIST":          true,
	"SPII":               true,
}

// geminiBlockReason returns the reason a prompt or candidate was blocked.
func geminiBlockReason(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return string(resp.PromptFeedback.BlockReason)
	}
	if len(resp.Candidates) > 0 {
		reason := string(resp.Candidates[0].FinishReason)
		if geminiSafetyReasons[reason] {
			return reason
		}
	}
	return ""
}

func classifyGeminiError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		kind := classifyStatus(apiErr.Code)
		return shared.NewError(kind, statusMessage(providerGemini, kind), err)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		kind := classifyStatus(apiErrPtr.Code)
		return shared.NewError(kind, statusMessage(providerGemini, kind), err)
	}
	return classifyTransport(providerGemini, err)
}
