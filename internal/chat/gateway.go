package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/ashureev/interview-room/internal/domain"
	"github.com/ashureev/interview-room/internal/events"
	"github.com/ashureev/interview-room/internal/metrics"
	"github.com/ashureev/interview-room/internal/shared"
	"github.com/ashureev/interview-room/internal/store"
)

// MaxMessageLength bounds a single candidate utterance, in characters.
const MaxMessageLength = 4000

// Settings are the server-fixed generation parameters and persona.
type Settings struct {
	SystemInstruction string
	FirstTurnPreamble string
	Temperature       float64
	MaxOutputTokens   int
	Timeout           time.Duration
}

// TurnPublisher receives one event per finished exchange.
type TurnPublisher interface {
	PublishTurn(ctx context.Context, ev events.TurnEvent) error
}

// GatewayOption customizes a Gateway.
type GatewayOption func(*Gateway)

// WithMetrics records chat metrics.
func WithMetrics(m *metrics.Metrics) GatewayOption {
	return func(g *Gateway) { g.metrics = m }
}

// WithPublisher publishes turn events.
func WithPublisher(p TurnPublisher) GatewayOption {
	return func(g *Gateway) { g.publisher = p }
}

// WithConversationLogger records every exchange.
func WithConversationLogger(l ConversationLogger) GatewayOption {
	return func(g *Gateway) {
		if l != nil {
			g.convLog = l
		}
	}
}

// WithNow replaces the clock used for message timestamps.
func WithNow(now func() time.Time) GatewayOption {
	return func(g *Gateway) { g.now = now }
}

// Gateway persists conversation messages and obtains model replies.
type Gateway struct {
	repo      store.Repository
	model     Model
	settings  Settings
	metrics   *metrics.Metrics
	publisher TurnPublisher
	convLog   ConversationLogger
	now       func() time.Time
}

// NewGateway creates a gateway. A nil model makes every Send fail with a
// model configuration error while history reads keep working.
func NewGateway(repo store.Repository, model Model, settings Settings, opts ...GatewayOption) *Gateway {
	if settings.Temperature == 0 {
		settings.Temperature = 0.7
	}
	if settings.MaxOutputTokens <= 0 {
		settings.MaxOutputTokens = 500
	}
	if settings.Timeout <= 0 {
		settings.Timeout = 30 * time.Second
	}
	g := &Gateway{
		repo:     repo,
		model:    model,
		settings: settings,
		convLog:  noopConversationLogger{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Gateway) provider() string {
	if g.model == nil {
		return "none"
	}
	return g.model.Provider()
}

// Send records the user's utterance, asks the model for the next
// interviewer turn and records the reply. The user message is stored before
// the model is called and stays stored when the call fails. Nothing is
// retried.
func (g *Gateway) Send(ctx context.Context, userID string, req domain.ChatRequest) (*domain.ChatReply, error) {
	if err := validateSend(userID, &req); err != nil {
		g.metrics.RecordChat(g.provider(), string(shared.KindOf(err)), 0, 0)
		return nil, err
	}
	if g.model == nil {
		err := shared.NewError(shared.KindModelConfig, "language model is not configured", nil)
		g.metrics.RecordChat(g.provider(), string(err.Kind), 0, 0)
		return nil, err
	}

	history := normalizeHistory(req.History)
	if len(history) == 0 && req.Opening != "" {
		if err := g.recordOpening(ctx, userID, req.SessionID, req.Opening); err != nil {
			return nil, err
		}
	}

	userMsg := &domain.Message{
		ID:        uuid.NewString(),
		UserID:    userID,
		SessionID: req.SessionID,
		Role:      domain.RoleUser,
		Content:   req.Message,
		Timestamp: g.now(),
	}
	if err := g.repo.AppendMessage(ctx, userMsg); err != nil {
		g.metrics.RecordChat(g.provider(), string(shared.KindInternal), 0, 0)
		return nil, shared.NewError(shared.KindInternal, "failed to save message", err)
	}
	g.logTurn(userMsg, "inbound", "chat_user_message", map[string]any{"history_len": len(history)})

	modelReq := ModelRequest{
		SystemInstruction: g.settings.SystemInstruction,
		History:           history,
		Message:           req.Message,
		Temperature:       g.settings.Temperature,
		MaxOutputTokens:   g.settings.MaxOutputTokens,
	}
	if len(history) == 0 {
		modelReq.Message = firstTurnMessage(g.settings.FirstTurnPreamble, req.Opening, req.Message)
	}

	callCtx, cancel := context.WithTimeout(ctx, g.settings.Timeout)
	defer cancel()
	start := time.Now()
	resp, err := g.model.Generate(callCtx, modelReq)
	elapsed := time.Since(start)

	if err != nil {
		kind := shared.KindOf(err)
		slog.Warn("model call failed",
			"user_id", userID,
			"session_id", req.SessionID,
			"provider", g.provider(),
			"kind", kind,
			"error", err,
		)
		g.metrics.RecordChat(g.provider(), string(kind), elapsed, 0)
		g.publish(ctx, events.TurnEvent{
			Type:           events.TypeTurnFailed,
			UserID:         userID,
			SessionID:      req.SessionID,
			Provider:       g.provider(),
			HistoryLen:     len(history),
			ResponseTimeMs: elapsed.Milliseconds(),
			ErrorKind:      string(kind),
			Timestamp:      g.now(),
		})
		g.convLog.Log(ConversationLogEvent{
			UserID:     userID,
			SessionID:  req.SessionID,
			Channel:    "chat",
			Direction:  "outbound",
			EventType:  "chat_model_error",
			ContentRaw: shared.MessageOf(err),
			Meta:       map[string]any{"kind": string(kind)},
		})
		if kind == shared.KindInternal {
			return nil, shared.NewError(shared.KindModelConfig, "error processing chat", err)
		}
		return nil, err
	}

	reply := &domain.Message{
		ID:        uuid.NewString(),
		UserID:    userID,
		SessionID: req.SessionID,
		Role:      domain.RoleAssistant,
		Content:   resp.Text,
		Timestamp: g.now(),
		Metadata: domain.MessageMetadata{
			TokensUsed:     resp.TokensUsed,
			ResponseTimeMs: elapsed.Milliseconds(),
		},
	}
	if err := g.repo.AppendMessage(ctx, reply); err != nil {
		g.metrics.RecordChat(g.provider(), string(shared.KindInternal), elapsed, resp.TokensUsed)
		return nil, shared.NewError(shared.KindInternal, "failed to save reply", err)
	}

	slog.Info("chat reply generated",
		"user_id", userID,
		"session_id", req.SessionID,
		"provider", g.provider(),
		"history_len", len(history),
		"tokens_used", resp.TokensUsed,
		"response_time_ms", elapsed.Milliseconds(),
	)
	g.metrics.RecordChat(g.provider(), "ok", elapsed, resp.TokensUsed)
	g.logTurn(reply, "outbound", "chat_assistant_message", map[string]any{
		"tokens_used":      resp.TokensUsed,
		"response_time_ms": elapsed.Milliseconds(),
	})
	g.publish(ctx, events.TurnEvent{
		Type:           events.TypeTurnCompleted,
		UserID:         userID,
		SessionID:      req.SessionID,
		MessageID:      reply.ID,
		Provider:       g.provider(),
		HistoryLen:     len(history),
		TokensUsed:     resp.TokensUsed,
		ResponseTimeMs: elapsed.Milliseconds(),
		Timestamp:      reply.Timestamp,
	})

	return &domain.ChatReply{
		Response:  reply.Content,
		SessionID: req.SessionID,
		MessageID: reply.ID,
		Timestamp: reply.Timestamp,
		Metadata: domain.ReplyMetadata{
			ResponseTimeMs: elapsed.Milliseconds(),
			TokensUsed:     resp.TokensUsed,
		},
	}, nil
}

// History returns a session's stored messages in ascending time order.
func (g *Gateway) History(ctx context.Context, userID, sessionID string) ([]domain.Message, error) {
	if userID == "" {
		return nil, shared.Unauthenticated()
	}
	if strings.TrimSpace(sessionID) == "" {
		return nil, shared.Validation("sessionId is required")
	}
	msgs, err := g.repo.ListMessages(ctx, userID, sessionID)
	if err != nil {
		return nil, shared.NewError(shared.KindInternal, "failed to load history", err)
	}
	g.metrics.RecordHistoryRead()
	return msgs, nil
}

// recordOpening stores the scripted opening line as the session's first
// assistant message unless the session already has messages.
func (g *Gateway) recordOpening(ctx context.Context, userID, sessionID, opening string) error {
	existing, err := g.repo.ListMessages(ctx, userID, sessionID)
	if err != nil {
		return shared.NewError(shared.KindInternal, "failed to load history", err)
	}
	if len(existing) > 0 {
		return nil
	}
	msg := &domain.Message{
		ID:        uuid.NewString(),
		UserID:    userID,
		SessionID: sessionID,
		Role:      domain.RoleAssistant,
		Content:   opening,
		Timestamp: g.now(),
	}
	if err := g.repo.AppendMessage(ctx, msg); err != nil {
		return shared.NewError(shared.KindInternal, "failed to save opening", err)
	}
	return nil
}

func (g *Gateway) publish(ctx context.Context, ev events.TurnEvent) {
	if g.publisher == nil {
		return
	}
	if err := g.publisher.PublishTurn(ctx, ev); err != nil {
		slog.Warn("failed to publish turn event", "session_id", ev.SessionID, "type", ev.Type, "error", err)
	}
}

func (g *Gateway) logTurn(msg *domain.Message, direction, eventType string, meta map[string]any) {
	meta["message_id"] = msg.ID
	g.convLog.Log(ConversationLogEvent{
		Timestamp:  msg.Timestamp.UTC().Format(time.RFC3339Nano),
		UserID:     msg.UserID,
		SessionID:  msg.SessionID,
		Channel:    "chat",
		Direction:  direction,
		EventType:  eventType,
		ContentRaw: msg.Content,
		Meta:       meta,
	})
}

func validateSend(userID string, req *domain.ChatRequest) error {
	if userID == "" {
		return shared.Unauthenticated()
	}
	req.Message = strings.TrimSpace(req.Message)
	req.SessionID = strings.TrimSpace(req.SessionID)
	if req.Message == "" || req.SessionID == "" {
		return shared.Validation("message and sessionId are required")
	}
	if utf8.RuneCountInString(req.Message) > MaxMessageLength {
		return shared.Validation(fmt.Sprintf("message exceeds %d characters", MaxMessageLength))
	}
	for i, t := range req.History {
		switch t.Role {
		case string(domain.RoleUser), string(domain.RoleAssistant), "model":
		default:
			return shared.Validation(fmt.Sprintf("history[%d] has unknown role %q", i, t.Role))
		}
	}
	return nil
}

// firstTurnMessage wraps the candidate's first utterance in the interviewer
// persona so the model starts in role.
func firstTurnMessage(preamble, opening, message string) string {
	if preamble == "" {
		return message
	}
	var b strings.Builder
	b.WriteString(preamble)
	b.WriteString("\n\n")
	if opening != "" {
		fmt.Fprintf(&b, "You opened the interview with: %q\n", opening)
	}
	fmt.Fprintf(&b, "Candidate says: %q", message)
	return b.String()
}
