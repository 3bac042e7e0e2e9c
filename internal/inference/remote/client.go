// Package remote implements [inference.Gateway] against the hosted inference
// service over a single WebSocket connection.
//
// Each call is one request frame and one response frame:
//
//	-> {"id":7,"fn":"/transcribe_check","data":[{"name":"audio.wav",...},"Singlish"]}
//	<- {"id":7,"data":["lah, I'm coming already"]}
//
// Calls are serialised on the connection. The connection is dialled lazily
// and dropped after any transport failure, so the next call redials.
package remote

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/toecm/pureconvo/internal/inference"
)

// Endpoint names exposed by the hosted service.
const (
	fnDialects   = "/get_dialects"
	fnTranscribe = "/transcribe_check"
	fnClarify    = "/generate_clarifications"
	fnMission    = "/generate_mission"
	fnSubmit     = "/check_and_submit_logic"
	fnCloudSync  = "/check_cloud_sync"
)

const (
	defaultTimeout = 60 * time.Second

	// readLimit bounds a single response frame.
	readLimit = 4 << 20
)

var _ inference.Gateway = (*Client)(nil)

// Option is a functional option for [New].
type Option func(*Client)

// WithTimeout bounds each call, including any redial. Zero disables the
// per-call bound and relies on the caller's context.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithHTTPClient sets the HTTP client used for the WebSocket handshake.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.dialOpts.HTTPClient = hc }
}

// WithHeader adds a header to the WebSocket handshake request.
func WithHeader(key, value string) Option {
	return func(c *Client) { c.dialOpts.HTTPHeader.Add(key, value) }
}

// Client is a WebSocket RPC client for the hosted inference service.
// It is safe for concurrent use.
type Client struct {
	url      string
	timeout  time.Duration
	dialOpts *websocket.DialOptions

	mu     sync.Mutex
	conn   *websocket.Conn
	nextID uint64
}

// New returns a client for the service at url (ws:// or wss://). No
// connection is made until the first call.
func New(url string, opts ...Option) (*Client, error) {
	if url == "" {
		return nil, errors.New("remote: url must not be empty")
	}
	if !strings.HasPrefix(url, "ws://") && !strings.HasPrefix(url, "wss://") {
		return nil, fmt.Errorf("remote: url %q must use ws or wss scheme", url)
	}
	c := &Client{
		url:      url,
		timeout:  defaultTimeout,
		dialOpts: &websocket.DialOptions{HTTPHeader: http.Header{}},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// ---- wire types ----

type request struct {
	ID   uint64 `json:"id"`
	Fn   string `json:"fn"`
	Data []any  `json:"data"`
}

type response struct {
	ID    uint64 `json:"id"`
	Data  []any  `json:"data"`
	Error string `json:"error,omitempty"`
}

// fileData is how the service expects binary uploads.
type fileData struct {
	Name string `json:"name"`
	Mime string `json:"mime"`
	Data string `json:"data"`
}

func wavFile(wav []byte) fileData {
	return fileData{Name: "audio.wav", Mime: "audio/wav", Data: base64.StdEncoding.EncodeToString(wav)}
}

// ---- Gateway ----

// Dialects implements [inference.Gateway].
func (c *Client) Dialects(ctx context.Context) ([]string, error) {
	data, err := c.call(ctx, fnDialects)
	if err != nil {
		return nil, fmt.Errorf("remote: dialects: %w", err)
	}
	names, err := inference.DecodeDialects(first(data))
	if err != nil {
		return nil, fmt.Errorf("remote: dialects: %w", err)
	}
	return names, nil
}

// Transcribe implements [inference.Gateway].
func (c *Client) Transcribe(ctx context.Context, wav []byte, dialect string) (string, error) {
	data, err := c.call(ctx, fnTranscribe, wavFile(wav), dialect)
	if err != nil {
		if errors.Is(err, inference.ErrConnection) {
			return "", fmt.Errorf("remote: transcribe: %w", err)
		}
		return "", fmt.Errorf("remote: transcribe: %w: %w", inference.ErrTranscription, err)
	}
	text, err := inference.DecodeText(first(data))
	if err != nil {
		return "", fmt.Errorf("remote: transcribe: %w", err)
	}
	return text, nil
}

// Clarify implements [inference.Gateway].
func (c *Client) Clarify(ctx context.Context, text, dialect string) (inference.Clarification, error) {
	data, err := c.call(ctx, fnClarify, text, dialect)
	if err != nil {
		return inference.Clarification{}, fmt.Errorf("remote: clarify: %w", err)
	}
	return inference.DecodeClarification(first(data)), nil
}

// GenerateMission implements [inference.Gateway].
func (c *Client) GenerateMission(ctx context.Context, topic string) (inference.Prompt, error) {
	data, err := c.call(ctx, fnMission, topic)
	if err != nil {
		return inference.Prompt{}, fmt.Errorf("remote: mission: %w", err)
	}
	p, ok := inference.DecodePrompt(first(data))
	if !ok {
		return inference.Prompt{}, fmt.Errorf("remote: mission: %w: empty prompt", inference.ErrRemote)
	}
	return p, nil
}

// Submit implements [inference.Gateway].
func (c *Client) Submit(ctx context.Context, sub inference.Submission) (inference.Ack, error) {
	data, err := c.call(ctx, fnSubmit,
		sub.Transcript,
		sub.Dialect,
		sub.CustomDialect,
		sub.Meaning,
		sub.Tone,
		sub.Context,
		sub.Pragmatics,
		sub.SourceTag,
		sub.EditSource,
		sub.Operator,
		wavFile(sub.Audio),
		sub.Admin,
	)
	if err != nil {
		return inference.Ack{}, fmt.Errorf("remote: submit: %w: %w", inference.ErrSubmission, err)
	}
	msg, _ := first(data).(string)
	return inference.Ack{Message: msg}, nil
}

// CloudSync implements [inference.Gateway].
func (c *Client) CloudSync(ctx context.Context) (inference.SyncStatus, error) {
	data, err := c.call(ctx, fnCloudSync)
	if err != nil {
		return inference.SyncStatus{}, fmt.Errorf("remote: cloud sync: %w", err)
	}
	switch v := first(data).(type) {
	case bool:
		return inference.SyncStatus{OK: v}, nil
	case string:
		lower := strings.ToLower(v)
		ok := !strings.Contains(lower, "error") && !strings.Contains(lower, "fail")
		return inference.SyncStatus{OK: ok, Detail: v}, nil
	case map[string]any:
		ok, _ := v["ok"].(bool)
		detail, _ := v["detail"].(string)
		return inference.SyncStatus{OK: ok, Detail: detail}, nil
	default:
		return inference.SyncStatus{}, fmt.Errorf("remote: cloud sync: %w: unexpected payload %T", inference.ErrRemote, v)
	}
}

// Close closes the underlying connection, if any. The client redials on the
// next call.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close(websocket.StatusNormalClosure, "closing")
	c.conn = nil
	return err
}

// ---- transport ----

// call sends one request and waits for the response with the same id.
// Transport failures wrap [inference.ErrConnection] and drop the connection;
// service-reported failures wrap [inference.ErrRemote] and keep it.
func (c *Client) call(ctx context.Context, fn string, args ...any) ([]any, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	conn, err := c.connLocked(ctx)
	if err != nil {
		return nil, err
	}

	c.nextID++
	id := c.nextID
	if args == nil {
		args = []any{}
	}
	if err := wsjson.Write(ctx, conn, request{ID: id, Fn: fn, Data: args}); err != nil {
		c.dropLocked(err)
		return nil, fmt.Errorf("%w: write %s: %w", inference.ErrConnection, fn, err)
	}

	for {
		var resp response
		if err := wsjson.Read(ctx, conn, &resp); err != nil {
			c.dropLocked(err)
			return nil, fmt.Errorf("%w: read %s: %w", inference.ErrConnection, fn, err)
		}
		if resp.ID != id {
			slog.Debug("remote: discarding stale response", "fn", fn, "want", id, "got", resp.ID)
			continue
		}
		if resp.Error != "" {
			return nil, fmt.Errorf("%w: %s: %s", inference.ErrRemote, fn, resp.Error)
		}
		return resp.Data, nil
	}
}

func (c *Client) connLocked(ctx context.Context) (*websocket.Conn, error) {
	if c.conn != nil {
		return c.conn, nil
	}
	conn, _, err := websocket.Dial(ctx, c.url, c.dialOpts)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", inference.ErrConnection, c.url, err)
	}
	conn.SetReadLimit(readLimit)
	c.conn = conn
	slog.Debug("remote: connected", "url", c.url)
	return conn, nil
}

func (c *Client) dropLocked(cause error) {
	if c.conn == nil {
		return
	}
	_ = c.conn.Close(websocket.StatusInternalError, "transport error")
	c.conn = nil
	slog.Warn("remote: connection dropped", "url", c.url, "err", cause)
}

func first(data []any) any {
	if len(data) == 0 {
		return nil
	}
	return data[0]
}
