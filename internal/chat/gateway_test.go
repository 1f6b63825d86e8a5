package chat

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/ashureev/interview-room/internal/domain"
	"github.com/ashureev/interview-room/internal/events"
	"github.com/ashureev/interview-room/internal/metrics"
	"github.com/ashureev/interview-room/internal/shared"
	"github.com/ashureev/interview-room/internal/store"
)

type fakeModel struct {
	mu       sync.Mutex
	requests []ModelRequest
	reply    string
	tokens   int
	err      error
}

func (m *fakeModel) Provider() string { return "fake" }

func (m *fakeModel) Generate(_ context.Context, req ModelRequest) (*ModelResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if m.err != nil {
		return nil, m.err
	}
	return &ModelResponse{Text: m.reply, TokensUsed: m.tokens}, nil
}

func (m *fakeModel) calls() []ModelRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ModelRequest(nil), m.requests...)
}

type fakePublisher struct {
	mu     sync.Mutex
	events []events.TurnEvent
}

func (p *fakePublisher) PublishTurn(_ context.Context, ev events.TurnEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func newTestRepo(t *testing.T) store.Repository {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "chat.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

// steppingClock returns strictly increasing times so stored order is
// unambiguous.
func steppingClock() func() time.Time {
	var mu sync.Mutex
	now := time.UnixMilli(1_700_000_000_000)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Millisecond)
		return now
	}
}

const testOpening = "Tell me about your stack."

func newTestGateway(t *testing.T, model Model, opts ...GatewayOption) (*Gateway, store.Repository) {
	t.Helper()
	repo := newTestRepo(t)
	settings := Settings{
		SystemInstruction: "You are an interviewer.",
		FirstTurnPreamble: "Act as an interviewer.",
		Temperature:       0.7,
		MaxOutputTokens:   500,
	}
	opts = append([]GatewayOption{WithNow(steppingClock())}, opts...)
	return NewGateway(repo, model, settings, opts...), repo
}

func TestSendFirstExchangeStoresOpeningUserAndReply(t *testing.T) {
	t.Parallel()
	model := &fakeModel{reply: "What is a React hook?", tokens: 37}
	pub := &fakePublisher{}
	m := metrics.New(prometheus.NewRegistry())
	gw, repo := newTestGateway(t, model, WithPublisher(pub), WithMetrics(m))
	ctx := context.Background()

	reply, err := gw.Send(ctx, "user-1", domain.ChatRequest{
		Message:   "  React and Node  ",
		SessionID: "session_1",
		Opening:   testOpening,
	})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if reply.Response != "What is a React hook?" || reply.SessionID != "session_1" || reply.MessageID == "" {
		t.Fatalf("unexpected reply %+v", reply)
	}
	if reply.Metadata.TokensUsed != 37 {
		t.Fatalf("tokens = %d, want 37", reply.Metadata.TokensUsed)
	}

	calls := model.calls()
	if len(calls) != 1 {
		t.Fatalf("expected one model call, got %d", len(calls))
	}
	call := calls[0]
	if len(call.History) != 0 {
		t.Fatalf("expected empty model history, got %+v", call.History)
	}
	for _, want := range []string{"Act as an interviewer.", testOpening, `Candidate says: "React and Node"`} {
		if !strings.Contains(call.Message, want) {
			t.Errorf("first-turn message %q missing %q", call.Message, want)
		}
	}
	if call.Temperature != 0.7 || call.MaxOutputTokens != 500 || call.SystemInstruction != "You are an interviewer." {
		t.Fatalf("unexpected generation parameters %+v", call)
	}

	msgs, err := repo.ListMessages(ctx, "user-1", "session_1")
	if err != nil {
		t.Fatalf("ListMessages() error = %v", err)
	}
	want := []struct {
		role    domain.Role
		content string
	}{
		{domain.RoleAssistant, testOpening},
		{domain.RoleUser, "React and Node"},
		{domain.RoleAssistant, "What is a React hook?"},
	}
	if len(msgs) != len(want) {
		t.Fatalf("stored %d messages, want %d", len(msgs), len(want))
	}
	for i, w := range want {
		if msgs[i].Role != w.role || msgs[i].Content != w.content {
			t.Errorf("message %d = %s %q, want %s %q", i, msgs[i].Role, msgs[i].Content, w.role, w.content)
		}
	}
	if msgs[2].ID != reply.MessageID || msgs[2].Metadata.TokensUsed != 37 {
		t.Fatalf("reply metadata not persisted: %+v", msgs[2])
	}

	if len(pub.events) != 1 || pub.events[0].Type != events.TypeTurnCompleted || pub.events[0].MessageID != reply.MessageID {
		t.Fatalf("unexpected published events %+v", pub.events)
	}
	if got := testutil.ToFloat64(m.ChatRequests.WithLabelValues("ok")); got != 1 {
		t.Fatalf("ok requests = %v, want 1", got)
	}
}

func TestSendLaterExchangePassesHistoryVerbatim(t *testing.T) {
	t.Parallel()
	model := &fakeModel{reply: "Good. Next question."}
	gw, repo := newTestGateway(t, model)

	history := []domain.Turn{
		{Role: "assistant", Content: testOpening},
		{Role: "user", Content: "Go"},
		{Role: "model", Content: "What is a goroutine?"},
	}
	if _, err := gw.Send(context.Background(), "user-1", domain.ChatRequest{
		Message:   "A lightweight thread",
		SessionID: "session_2",
		History:   history,
		Opening:   testOpening,
	}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	call := model.calls()[0]
	if call.Message != "A lightweight thread" {
		t.Fatalf("later turns must not be wrapped, got %q", call.Message)
	}
	wantHistory := []domain.Turn{
		{Role: "user", Content: "Go"},
		{Role: "assistant", Content: "What is a goroutine?"},
	}
	if len(call.History) != len(wantHistory) {
		t.Fatalf("history = %+v", call.History)
	}
	for i := range wantHistory {
		if call.History[i] != wantHistory[i] {
			t.Errorf("history[%d] = %+v, want %+v", i, call.History[i], wantHistory[i])
		}
	}

	msgs, _ := repo.ListMessages(context.Background(), "user-1", "session_2")
	if len(msgs) != 2 {
		t.Fatalf("opening must only be stored on the first exchange, got %d messages", len(msgs))
	}
}

func TestSendValidation(t *testing.T) {
	t.Parallel()
	model := &fakeModel{reply: "unused"}
	gw, repo := newTestGateway(t, model)

	tests := []struct {
		name   string
		userID string
		req    domain.ChatRequest
		kind   shared.Kind
	}{
		{"no user", "", domain.ChatRequest{Message: "hi", SessionID: "s"}, shared.KindAuth},
		{"blank message", "u", domain.ChatRequest{Message: "   ", SessionID: "s"}, shared.KindValidation},
		{"missing session", "u", domain.ChatRequest{Message: "hi"}, shared.KindValidation},
		{"too long", "u", domain.ChatRequest{Message: strings.Repeat("a", MaxMessageLength+1), SessionID: "s"}, shared.KindValidation},
		{"bad role", "u", domain.ChatRequest{Message: "hi", SessionID: "s", History: []domain.Turn{{Role: "system", Content: "x"}}}, shared.KindValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := gw.Send(context.Background(), tt.userID, tt.req)
			if got := shared.KindOf(err); got != tt.kind {
				t.Fatalf("kind = %q, want %q (err %v)", got, tt.kind, err)
			}
		})
	}
	if n := len(model.calls()); n != 0 {
		t.Fatalf("model must not be called on invalid input, got %d calls", n)
	}
	if msgs, _ := repo.ListMessages(context.Background(), "u", "s"); len(msgs) != 0 {
		t.Fatalf("nothing should be stored, got %d messages", len(msgs))
	}
}

func TestSendModelFailureKeepsUserMessage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		modelErr error
		kind     shared.Kind
	}{
		{"safety", shared.NewError(shared.KindModelSafety, "declined", nil), shared.KindModelSafety},
		{"network", shared.NewError(shared.KindNetwork, "unreachable", nil), shared.KindNetwork},
		{"unclassified", errors.New("boom"), shared.KindModelConfig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			model := &fakeModel{err: tt.modelErr}
			pub := &fakePublisher{}
			gw, repo := newTestGateway(t, model, WithPublisher(pub))

			_, err := gw.Send(context.Background(), "user-1", domain.ChatRequest{Message: "hi", SessionID: "s1"})
			if got := shared.KindOf(err); got != tt.kind {
				t.Fatalf("kind = %q, want %q", got, tt.kind)
			}
			msgs, _ := repo.ListMessages(context.Background(), "user-1", "s1")
			if len(msgs) != 1 || msgs[0].Role != domain.RoleUser {
				t.Fatalf("expected only the user message stored, got %+v", msgs)
			}
			if n := len(model.calls()); n != 1 {
				t.Fatalf("failures must not be retried, got %d calls", n)
			}
			if len(pub.events) != 1 || pub.events[0].Type != events.TypeTurnFailed {
				t.Fatalf("expected failure event, got %+v", pub.events)
			}
		})
	}
}

func TestSendWithoutModel(t *testing.T) {
	t.Parallel()
	gw, _ := newTestGateway(t, nil)
	_, err := gw.Send(context.Background(), "u", domain.ChatRequest{Message: "hi", SessionID: "s"})
	if shared.KindOf(err) != shared.KindModelConfig {
		t.Fatalf("expected model config error, got %v", err)
	}
}

func TestSendHonorsTimeout(t *testing.T) {
	t.Parallel()
	repo := newTestRepo(t)
	slow := modelFunc(func(ctx context.Context, _ ModelRequest) (*ModelResponse, error) {
		<-ctx.Done()
		return nil, classifyTransport("fake", ctx.Err())
	})
	gw := NewGateway(repo, slow, Settings{Timeout: 20 * time.Millisecond})
	_, err := gw.Send(context.Background(), "u", domain.ChatRequest{Message: "hi", SessionID: "s"})
	if shared.KindOf(err) != shared.KindNetwork {
		t.Fatalf("expected network error on timeout, got %v", err)
	}
}

func TestHistoryIsScopedAndIdempotent(t *testing.T) {
	t.Parallel()
	gw, _ := newTestGateway(t, &fakeModel{reply: "Next?"})
	ctx := context.Background()

	if _, err := gw.Send(ctx, "user-1", domain.ChatRequest{Message: "Go", SessionID: "s1", Opening: testOpening}); err != nil {
		t.Fatal(err)
	}

	first, err := gw.History(ctx, "user-1", "s1")
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	second, _ := gw.History(ctx, "user-1", "s1")
	if len(first) != 3 || len(second) != 3 {
		t.Fatalf("expected 3 messages on both reads, got %d and %d", len(first), len(second))
	}
	for i := range first {
		if first[i].ID != second[i].ID {
			t.Fatal("repeated reads must return the same sequence")
		}
	}

	other, err := gw.History(ctx, "user-2", "s1")
	if err != nil || len(other) != 0 {
		t.Fatalf("other users must not see the session, got %d messages, %v", len(other), err)
	}

	if _, err := gw.History(ctx, "", "s1"); shared.KindOf(err) != shared.KindAuth {
		t.Fatalf("expected auth error, got %v", err)
	}
	if _, err := gw.History(ctx, "user-1", " "); shared.KindOf(err) != shared.KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestLocalClientBindsUser(t *testing.T) {
	t.Parallel()
	gw, _ := newTestGateway(t, &fakeModel{reply: "ok"})
	client := gw.For("user-9")

	if _, err := client.Send(context.Background(), domain.ChatRequest{Message: "hi", SessionID: "s"}); err != nil {
		t.Fatal(err)
	}
	msgs, err := client.History(context.Background(), "s")
	if err != nil || len(msgs) != 2 || msgs[0].UserID != "user-9" {
		t.Fatalf("unexpected history %+v, %v", msgs, err)
	}
}

func TestNormalizeHistory(t *testing.T) {
	t.Parallel()
	got := normalizeHistory([]domain.Turn{
		{Role: "model", Content: "opening"},
		{Role: "assistant", Content: "another"},
		{Role: "user", Content: "a"},
		{Role: "model", Content: "b"},
	})
	want := []domain.Turn{{Role: "user", Content: "a"}, {Role: "assistant", Content: "b"}}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("normalizeHistory() = %+v, want %+v", got, want)
	}
}

func TestFirstTurnMessage(t *testing.T) {
	t.Parallel()
	if got := firstTurnMessage("", testOpening, "hi"); got != "hi" {
		t.Fatalf("without preamble the message is unchanged, got %q", got)
	}
	got := firstTurnMessage("Be strict.", "", "I know Go")
	if got != "Be strict.\n\nCandidate says: \"I know Go\"" {
		t.Fatalf("unexpected wrapped message %q", got)
	}
}

type modelFunc func(ctx context.Context, req ModelRequest) (*ModelResponse, error)

func (f modelFunc) Provider() string { return "func" }

func (f modelFunc) Generate(ctx context.Context, req ModelRequest) (*ModelResponse, error) {
	return f(ctx, req)
}
