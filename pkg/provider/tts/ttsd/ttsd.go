// Package ttsd implements tts.Provider as a WebSocket client to a local
// synthesis daemon. The daemon (typically Piper or Coqui wrapped in a small
// server) accepts JSON jobs and answers with base64-encoded PCM; jobs
// complete in whatever order the daemon finishes them, so every exchange is
// correlated by nonce.
package ttsd

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/coder/websocket"

	"github.com/floomby/charlie/pkg/provider/tts"
)

const defaultVoice = "en_US-amy-medium"

// synthRequest is the JSON job sent to the daemon.
type synthRequest struct {
	Nonce string `json:"nonce"`
	Text  string `json:"text"`
	Voice string `json:"voice,omitempty"`
}

// synthResponse is the daemon's answer to one job.
type synthResponse struct {
	Nonce string `json:"nonce"`
	Audio string `json:"audio,omitempty"` // base64-encoded PCM
	Error string `json:"error,omitempty"`
}

// Client implements tts.Provider over one persistent WebSocket connection.
type Client struct {
	conn    *websocket.Conn
	voice   string
	logger  *slog.Logger
	results chan tts.Result

	writeMu sync.Mutex
	once    sync.Once
}

// Option is a functional option for Client.
type Option func(*Client)

// WithVoice sets the default voice for requests that do not name one.
func WithVoice(voice string) Option {
	return func(c *Client) { c.voice = voice }
}

// WithLogger sets the structured logger. Default is slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// Dial connects to the synthesis daemon at url (e.g.
// "ws://127.0.0.1:5002/synthesize") and starts the result reader. The
// caller must call Close when done.
func Dial(ctx context.Context, url string, opts ...Option) (*Client, error) {
	if url == "" {
		return nil, errors.New("ttsd: url must not be empty")
	}

	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("ttsd: dial %s: %w", url, err)
	}
	// Synthesized PCM for a long sentence easily exceeds the default limit.
	conn.SetReadLimit(32 << 20)

	c := &Client{
		conn:    conn,
		voice:   defaultVoice,
		logger:  slog.Default(),
		results: make(chan tts.Result, 64),
	}
	for _, o := range opts {
		o(c)
	}

	go c.readLoop()

	return c, nil
}

// Synthesize submits one job to the daemon. The finished audio arrives on
// Results under the request's nonce.
func (c *Client) Synthesize(ctx context.Context, req tts.Request) error {
	if req.Nonce == "" {
		return errors.New("ttsd: request nonce must not be empty")
	}

	voice := req.Voice
	if voice == "" {
		voice = c.voice
	}
	payload, err := json.Marshal(synthRequest{
		Nonce: req.Nonce,
		Text:  req.Text,
		Voice: voice,
	})
	if err != nil {
		return fmt.Errorf("ttsd: marshal request: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.Write(ctx, websocket.MessageText, payload); err != nil {
		return fmt.Errorf("ttsd: write request: %w", err)
	}
	return nil
}

// Results returns the completion channel. Closed by Close or when the
// daemon connection drops.
func (c *Client) Results() <-chan tts.Result {
	return c.results
}

// Close tears down the daemon connection. The Results channel is closed
// once the reader drains.
func (c *Client) Close() error {
	var err error
	c.once.Do(func() {
		err = c.conn.Close(websocket.StatusNormalClosure, "done")
	})
	return err
}

// readLoop pumps daemon responses into the results channel until the
// connection closes.
func (c *Client) readLoop() {
	defer close(c.results)

	for {
		_, msg, err := c.conn.Read(context.Background())
		if err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				c.logger.Warn("tts daemon connection lost", "err", err)
			}
			return
		}

		var resp synthResponse
		if err := json.Unmarshal(msg, &resp); err != nil {
			c.logger.Warn("tts daemon sent malformed response", "err", err)
			continue
		}
		if resp.Nonce == "" {
			continue
		}

		if resp.Error != "" {
			c.results <- tts.Result{Nonce: resp.Nonce, Err: errors.New(resp.Error)}
			continue
		}

		pcm, err := base64.StdEncoding.DecodeString(resp.Audio)
		if err != nil {
			c.results <- tts.Result{Nonce: resp.Nonce, Err: fmt.Errorf("ttsd: decode audio: %w", err)}
			continue
		}
		c.results <- tts.Result{Nonce: resp.Nonce, PCM: pcm}
	}
}

var _ tts.Provider = (*Client)(nil)
