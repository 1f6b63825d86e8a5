package chat

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ashureev/interview-room/internal/domain"
	"github.com/ashureev/interview-room/internal/shared"
)

func domainRequest(message, sessionID, opening string) domain.ChatRequest {
	return domain.ChatRequest{Message: message, SessionID: sessionID, Opening: opening}
}

func newTestServer(t *testing.T, model Model) *httptest.Server {
	t.Helper()
	gw, _ := newTestGateway(t, model)
	srv := httptest.NewServer(newTestRouter(NewHandler(gw, nil, nil)))
	t.Cleanup(srv.Close)
	return srv
}

func TestClientRoundTrip(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, &fakeModel{reply: "Explain the event loop.", tokens: 9})
	client := NewClient(srv.URL+"/", WithUser(testUserHeader, "user-1"))
	ctx := context.Background()

	reply, err := client.Send(ctx, domainRequest("JavaScript", "session_1", testOpening))
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if reply.Response != "Explain the event loop." || reply.Metadata.TokensUsed != 9 {
		t.Fatalf("unexpected reply %+v", reply)
	}

	msgs, err := client.History(ctx, "session_1")
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(msgs) != 3 || msgs[2].ID != reply.MessageID {
		t.Fatalf("unexpected history %+v", msgs)
	}
}

func TestClientErrorKinds(t *testing.T) {
	t.Parallel()

	t.Run("unauthenticated", func(t *testing.T) {
		t.Parallel()
		srv := newTestServer(t, &fakeModel{reply: "x"})
		_, err := NewClient(srv.URL).Send(context.Background(), domainRequest("hi", "s", ""))
		if shared.KindOf(err) != shared.KindAuth {
			t.Fatalf("kind = %q, want auth", shared.KindOf(err))
		}
	})

	t.Run("safety block keeps message", func(t *testing.T) {
		t.Parallel()
		srv := newTestServer(t, &fakeModel{err: shared.NewError(shared.KindModelSafety, "the model declined to answer this message", nil)})
		_, err := NewClient(srv.URL, WithUser(testUserHeader, "u")).Send(context.Background(), domainRequest("hi", "s", ""))
		if shared.KindOf(err) != shared.KindModelSafety {
			t.Fatalf("kind = %q, want safety", shared.KindOf(err))
		}
		if shared.MessageOf(err) != "the model declined to answer this message" {
			t.Fatalf("message = %q", shared.MessageOf(err))
		}
	})

	t.Run("status without envelope", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "bad gateway", http.StatusBadGateway)
		}))
		t.Cleanup(srv.Close)
		_, err := NewClient(srv.URL).History(context.Background(), "s")
		if shared.KindOf(err) != shared.KindNetwork {
			t.Fatalf("kind = %q, want network", shared.KindOf(err))
		}
	})

	t.Run("unreachable", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()
		_, err := NewClient(url).Send(context.Background(), domainRequest("hi", "s", ""))
		if shared.KindOf(err) != shared.KindNetwork {
			t.Fatalf("kind = %q, want network", shared.KindOf(err))
		}
	})
}
