package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/ashureev/interview-room/internal/domain"
	"github.com/ashureev/interview-room/internal/shared"
)

// Client calls a remote chat API over HTTP.
type Client struct {
	baseURL    string
	userHeader string
	userID     string
	http       *http.Client
}

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithUser asserts userID through header on every request, for servers
// running in header identity mode.
func WithUser(header, userID string) ClientOption {
	return func(c *Client) {
		c.userHeader = header
		c.userID = userID
	}
}

// NewClient returns a client for the API at baseURL. The default HTTP
// client keeps cookies so an anonymous identity survives across calls.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	jar, _ := cookiejar.New(nil)
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 90 * time.Second, Jar: jar},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type apiEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
}

// Send posts req to /api/chat/message.
func (c *Client) Send(ctx context.Context, req domain.ChatRequest) (*domain.ChatReply, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode chat request: %w", err)
	}
	var reply domain.ChatReply
	if err := c.do(ctx, http.MethodPost, "/api/chat/message", body, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

// History fetches a session's stored messages.
func (c *Client) History(ctx context.Context, sessionID string) ([]domain.Message, error) {
	var resp HistoryResponse
	if err := c.do(ctx, http.MethodGet, "/api/chat/history/"+url.PathEscape(sessionID), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.userHeader != "" && c.userID != "" {
		req.Header.Set(c.userHeader, c.userID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return shared.NewError(shared.KindNetwork, "chat server unreachable", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var env apiEnvelope
	decodeErr := json.NewDecoder(io.LimitReader(resp.Body, 4<<20)).Decode(&env)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 || !env.Success {
		kind := shared.Kind(env.Error)
		if kind == "" || shared.HTTPStatus(kind) != resp.StatusCode {
			kind = shared.KindFromStatus(resp.StatusCode)
		}
		msg := env.Message
		if msg == "" {
			msg = fmt.Sprintf("chat server responded %d", resp.StatusCode)
		}
		return shared.NewError(kind, msg, nil)
	}
	if decodeErr != nil {
		return shared.NewError(shared.KindNetwork, "invalid response from chat server", decodeErr)
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return shared.NewError(shared.KindNetwork, "invalid response from chat server", err)
	}
	return nil
}

// LocalClient binds a Gateway to one user, for in-process controllers.
type LocalClient struct {
	gw     *Gateway
	userID string
}

// For returns a client acting as userID.
func (g *Gateway) For(userID string) *LocalClient {
	return &LocalClient{gw: g, userID: userID}
}

// Send forwards to Gateway.Send.
func (l *LocalClient) Send(ctx context.Context, req domain.ChatRequest) (*domain.ChatReply, error) {
	return l.gw.Send(ctx, l.userID, req)
}

// History forwards to Gateway.History.
func (l *LocalClient) History(ctx context.Context, sessionID string) ([]domain.Message, error) {
	return l.gw.History(ctx, l.userID, sessionID)
}
