// Package chat implements the chat gateway: it persists interview messages,
// invokes the configured language model with server-fixed generation
// parameters and exposes the result over HTTP.
package chat

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/ashureev/interview-room/internal/config"
	"github.com/ashureev/interview-room/internal/domain"
	"github.com/ashureev/interview-room/internal/shared"
)

// ModelRequest is one generation call. History holds prior turns with the
// roles "user" and "assistant"; adapters translate roles as their vendor
// requires.
type ModelRequest struct {
	SystemInstruction string
	History           []domain.Turn
	Message           string
	Temperature       float64
	MaxOutputTokens   int
}

// ModelResponse is the generated reply.
type ModelResponse struct {
	Text       string
	TokensUsed int
}

// Model is a conversational language model.
type Model interface {
	Provider() string
	Generate(ctx context.Context, req ModelRequest) (*ModelResponse, error)
}

// NewModel builds the model selected by cfg.
func NewModel(ctx context.Context, cfg config.ModelConfig) (Model, error) {
	if cfg.APIKey == "" {
		return nil, shared.NewError(shared.KindModelConfig, "model API key is not configured", nil)
	}
	switch cfg.Provider {
	case "gemini", "":
		m, err := NewGeminiModel(ctx, cfg.APIKey, cfg.Name)
		if err != nil {
			return nil, err
		}
		return m, nil
	case "openai":
		return NewOpenAIModel(cfg.APIKey, cfg.Name), nil
	default:
		return nil, shared.NewError(shared.KindModelConfig, fmt.Sprintf("unsupported model provider %q", cfg.Provider), nil)
	}
}

// classifyStatus maps an upstream HTTP status onto an error kind.
func classifyStatus(status int) shared.Kind {
	switch {
	case status == http.StatusTooManyRequests:
		return shared.KindRateLimited
	case status >= 500:
		return shared.KindNetwork
	default:
		return shared.KindModelConfig
	}
}

// classifyTransport classifies errors that never produced an HTTP status.
func classifyTransport(provider string, err error) error {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return shared.NewError(shared.KindNetwork, "the model did not respond in time", err)
	case errors.Is(err, context.Canceled):
		return shared.NewError(shared.KindNetwork, "the model request was cancelled", err)
	case errors.As(err, &netErr):
		return shared.NewError(shared.KindNetwork, provider+" is unreachable", err)
	default:
		return shared.NewError(shared.KindModelConfig, provider+" request failed", err)
	}
}

func statusMessage(provider string, kind shared.Kind) string {
	switch kind {
	case shared.KindRateLimited:
		return provider + " quota exceeded, try again shortly"
	case shared.KindNetwork:
		return provider + " is temporarily unavailable"
	default:
		return provider + " rejected the request; check the model configuration"
	}
}

// normalizeHistory drops leading assistant turns, since models require the
// first supplied turn to come from the user, and folds vendor role aliases
// back to "assistant".
func normalizeHistory(history []domain.Turn) []domain.Turn {
	out := make([]domain.Turn, 0, len(history))
	for _, t := range history {
		role := t.Role
		if role == "model" {
			role = string(domain.RoleAssistant)
		}
		if len(out) == 0 && role != string(domain.RoleUser) {
			continue
		}
		out = append(out, domain.Turn{Role: role, Content: t.Content})
	}
	return out
}
