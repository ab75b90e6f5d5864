package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/mschirtzinger/studysync/internal/logging"
	"github.com/mschirtzinger/studysync/internal/model"
)

// MessageType identifies a websocket frame from the document server.
type MessageType string

const (
	// MessageTypeDocument carries the whole current document.
	MessageTypeDocument MessageType = "document"
	// MessageTypeHello is sent on connect when no document exists yet.
	MessageTypeHello MessageType = "hello"
)

// Message is a websocket frame.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// ClientConfig configures a Client.
type ClientConfig struct {
	// BaseURL of the document server, e.g. http://localhost:8787.
	BaseURL string

	// Token is sent as a bearer token on every request.
	Token string

	// Timeout bounds each HTTP request (default 10s).
	Timeout time.Duration

	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client is a Store backed by the document server.
type Client struct {
	base   *url.URL
	token  string
	http   *http.Client
	logger *zap.Logger
}

// NewClient creates a client for the server at cfg.BaseURL.
func NewClient(cfg ClientConfig) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid server url %q", cfg.BaseURL)
	}
	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &Client{
		base:   base,
		token:  cfg.Token,
		http:   hc,
		logger: logging.OrNop(cfg.Logger).Named("remote"),
	}, nil
}

func (c *Client) docURL(id string) string {
	return c.base.String() + "/docs/" + url.PathEscape(id)
}

func (c *Client) newRequest(ctx context.Context, method, target string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (c *Client) Get(ctx context.Context, id string) (model.AppData, error) {
	if id == "" {
		return model.AppData{}, ErrNoID
	}
	req, err := c.newRequest(ctx, http.MethodGet, c.docURL(id), nil)
	if err != nil {
		return model.AppData{}, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return model.AppData{}, fmt.Errorf("failed to fetch document: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return model.AppData{}, ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return model.AppData{}, statusError(resp)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return model.AppData{}, fmt.Errorf("failed to read document: %w", err)
	}
	return decode(raw)
}

func (c *Client) Put(ctx context.Context, id string, d model.AppData) error {
	if id == "" {
		return ErrNoID
	}
	raw, err := encode(d)
	if err != nil {
		return err
	}
	req, err := c.newRequest(ctx, http.MethodPut, c.docURL(id), bytes.NewReader(raw))
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to upload document: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return statusError(resp)
	}
	return nil
}

// Subscribe opens the document websocket. The server sends the current
// document first, then every later version.
func (c *Client) Subscribe(ctx context.Context, id string, fn func(model.AppData)) (<-chan error, error) {
	if id == "" {
		return nil, ErrNoID
	}

	wsURL := *c.base
	switch wsURL.Scheme {
	case "https":
		wsURL.Scheme = "wss"
	default:
		wsURL.Scheme = "ws"
	}
	wsURL.Path = strings.TrimRight(wsURL.Path, "/") + "/docs/" + url.PathEscape(id) + "/ws"

	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}
	conn, _, err := websocket.Dial(ctx, wsURL.String(), &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		return nil, fmt.Errorf("failed to open document stream: %w", err)
	}
	conn.SetReadLimit(8 << 20)

	done := make(chan error, 1)
	go func() {
		defer conn.Close(websocket.StatusNormalClosure, "")
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				if ctx.Err() != nil {
					finish(done, nil)
					return
				}
				finish(done, fmt.Errorf("document stream closed: %w", err))
				return
			}

			var msg Message
			if err := json.Unmarshal(data, &msg); err != nil {
				c.logger.Warn("bad stream frame", zap.Error(err))
				continue
			}
			if msg.Type != MessageTypeDocument {
				continue
			}
			d, err := decode(msg.Data)
			if err != nil {
				c.logger.Warn("bad document frame", zap.Error(err))
				continue
			}
			fn(d)
		}
	}()
	return done, nil
}

// StatusError is a non-success HTTP response from the server.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.Code)
	}
	return fmt.Sprintf("server returned %d: %s", e.Code, e.Message)
}

func statusError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body)
	return &StatusError{Code: resp.StatusCode, Message: body.Error}
}
