package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/interview-room/internal/identity"
	"github.com/ashureev/interview-room/internal/shared"
)

const testUserHeader = "X-User-ID"

// newTestRouter mounts h behind a middleware that trusts testUserHeader.
func newTestRouter(h *Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if id := req.Header.Get(testUserHeader); id != "" {
				req = req.WithContext(identity.WithUser(req.Context(), id))
			}
			next.ServeHTTP(w, req)
		})
	})
	h.RegisterRoutes(r)
	return r
}

type envelopeBody struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
}

func doRequest(t *testing.T, r http.Handler, method, path, userID, body string) (*httptest.ResponseRecorder, envelopeBody) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set(testUserHeader, userID)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var env envelopeBody
	if err := json.NewDecoder(w.Body).Decode(&env); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return w, env
}

func TestHandleMessageSuccess(t *testing.T) {
	t.Parallel()
	gw, _ := newTestGateway(t, &fakeModel{reply: "Tell me about closures.", tokens: 12})
	r := newTestRouter(NewHandler(gw, nil, nil))

	w, env := doRequest(t, r, http.MethodPost, "/api/chat/message", "user-1",
		`{"message":"JavaScript","sessionId":"session_1","history":[]}`)
	if w.Code != http.StatusOK || !env.Success {
		t.Fatalf("status = %d, env = %+v", w.Code, env)
	}
	var reply struct {
		Response  string `json:"response"`
		SessionID string `json:"sessionId"`
		MessageID string `json:"messageId"`
		Metadata  struct {
			TokensUsed int `json:"tokensUsed"`
		} `json:"metadata"`
	}
	if err := json.Unmarshal(env.Data, &reply); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if reply.Response != "Tell me about closures." || reply.SessionID != "session_1" || reply.MessageID == "" || reply.Metadata.TokensUsed != 12 {
		t.Fatalf("unexpected reply %+v", reply)
	}
}

func TestHandleMessageErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		userID   string
		body     string
		modelErr error
		status   int
		kind     shared.Kind
	}{
		{"unauthenticated", "", `{"message":"hi","sessionId":"s"}`, nil, http.StatusUnauthorized, shared.KindAuth},
		{"malformed body", "u", `{"message":`, nil, http.StatusBadRequest, shared.KindValidation},
		{"missing session", "u", `{"message":"hi"}`, nil, http.StatusBadRequest, shared.KindValidation},
		{"safety block", "u", `{"message":"hi","sessionId":"s"}`,
			shared.NewError(shared.KindModelSafety, "the model declined to answer this message", nil),
			http.StatusUnprocessableEntity, shared.KindModelSafety},
		{"upstream unavailable", "u", `{"message":"hi","sessionId":"s"}`,
			shared.NewError(shared.KindNetwork, "gemini is temporarily unavailable", nil),
			http.StatusBadGateway, shared.KindNetwork},
		{"bad model configuration", "u", `{"message":"hi","sessionId":"s"}`,
			shared.NewError(shared.KindModelConfig, "gemini rejected the request", nil),
			http.StatusInternalServerError, shared.KindModelConfig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			gw, _ := newTestGateway(t, &fakeModel{reply: "unused", err: tt.modelErr})
			r := newTestRouter(NewHandler(gw, nil, nil))

			w, env := doRequest(t, r, http.MethodPost, "/api/chat/message", tt.userID, tt.body)
			if w.Code != tt.status {
				t.Fatalf("status = %d, want %d", w.Code, tt.status)
			}
			if env.Success || env.Error != string(tt.kind) || env.Message == "" {
				t.Fatalf("unexpected envelope %+v", env)
			}
		})
	}
}

func TestHandleMessageRateLimited(t *testing.T) {
	t.Parallel()
	gw, _ := newTestGateway(t, &fakeModel{reply: "ok"})
	limiter := NewRateLimiter(1, time.Minute)
	t.Cleanup(limiter.Close)
	r := newTestRouter(NewHandler(gw, limiter, nil))

	body := `{"message":"hi","sessionId":"s"}`
	if w, _ := doRequest(t, r, http.MethodPost, "/api/chat/message", "u", body); w.Code != http.StatusOK {
		t.Fatalf("first request status = %d", w.Code)
	}
	w, env := doRequest(t, r, http.MethodPost, "/api/chat/message", "u", body)
	if w.Code != http.StatusTooManyRequests || env.Error != string(shared.KindRateLimited) {
		t.Fatalf("second request status = %d, env = %+v", w.Code, env)
	}
	if w, _ := doRequest(t, r, http.MethodPost, "/api/chat/message", "other", body); w.Code != http.StatusOK {
		t.Fatalf("other users must not share the limit, status = %d", w.Code)
	}
}

func TestHandleHistory(t *testing.T) {
	t.Parallel()
	gw, _ := newTestGateway(t, &fakeModel{reply: "Next question."})
	r := newTestRouter(NewHandler(gw, nil, nil))

	if _, err := gw.Send(context.Background(), "user-1", domainRequest("Go", "session_7", testOpening)); err != nil {
		t.Fatal(err)
	}

	w, env := doRequest(t, r, http.MethodGet, "/api/chat/history/session_7", "user-1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var hist HistoryResponse
	if err := json.Unmarshal(env.Data, &hist); err != nil {
		t.Fatal(err)
	}
	if hist.SessionID != "session_7" || hist.Count != 3 || len(hist.Messages) != 3 {
		t.Fatalf("unexpected history %+v", hist)
	}
	if hist.Messages[0].Content != testOpening {
		t.Fatalf("first message = %q, want the opening line", hist.Messages[0].Content)
	}

	w, env = doRequest(t, r, http.MethodGet, "/api/chat/history/session_7", "", "")
	if w.Code != http.StatusUnauthorized || env.Error != string(shared.KindAuth) {
		t.Fatalf("unauthenticated history status = %d, env = %+v", w.Code, env)
	}
}
