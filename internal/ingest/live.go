package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nhle/task-notifications/internal/backend"
)

// LiveOptions configures a LiveChannel.
type LiveOptions struct {
	Dialer *websocket.Dialer

	// MinBackoff and MaxBackoff bound the reconnect delay. Defaults 1s and 30s.
	MinBackoff time.Duration
	MaxBackoff time.Duration

	Logger *slog.Logger
}

// LiveChannel is the foreground delivery path: a websocket to the backend
// that carries push payloads while the app is running. It reconnects with
// capped exponential backoff and gives up only on an auth failure.
type LiveChannel struct {
	url        string
	tokens     backend.TokenSource
	dialer     *websocket.Dialer
	minBackoff time.Duration
	maxBackoff time.Duration
	logger     *slog.Logger
}

// NewLiveChannel creates a LiveChannel for url.
func NewLiveChannel(url string, tokens backend.TokenSource, opts LiveOptions) *LiveChannel {
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.MinBackoff <= 0 {
		opts.MinBackoff = time.Second
	}
	if opts.MaxBackoff < opts.MinBackoff {
		opts.MaxBackoff = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &LiveChannel{
		url:        url,
		tokens:     tokens,
		dialer:     opts.Dialer,
		minBackoff: opts.MinBackoff,
		maxBackoff: opts.MaxBackoff,
		logger:     opts.Logger.With("component", "ingest", "path", PathForeground),
	}
}

// Path reports PathForeground.
func (l *LiveChannel) Path() Path { return PathForeground }

// Run keeps a connection open and forwards every frame until ctx is done.
func (l *LiveChannel) Run(ctx context.Context, out chan<- Delivery) error {
	backoff := l.minBackoff
	for {
		connected, err := l.session(ctx, out)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if backend.IsAuthError(err) {
			return err
		}
		if connected {
			backoff = l.minBackoff
		}

		l.logger.Warn("live channel disconnected, reconnecting", "error", err, "backoff", backoff)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > l.maxBackoff {
			backoff = l.maxBackoff
		}
	}
}

// session dials once and reads until the connection drops.
func (l *LiveChannel) session(ctx context.Context, out chan<- Delivery) (bool, error) {
	token, err := l.tokens.AccessToken(ctx)
	if err != nil {
		return false, fmt.Errorf("loading access token: %w", err)
	}

	header := http.Header{}
	header.Add("Authorization", "Bearer "+token)

	conn, resp, err := l.dialer.DialContext(ctx, l.url, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return false, fmt.Errorf("dialing live channel: %w", backend.ErrSessionExpired)
		}
		return false, fmt.Errorf("dialing live channel: %w", err)
	}
	defer conn.Close()

	l.logger.Info("live channel connected")

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			conn.Close()
		case <-stop:
		}
	}()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return true, fmt.Errorf("reading live channel: %w", err)
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}
		if err := send(ctx, out, Delivery{Path: PathForeground, Body: data, ReceivedAt: time.Now()}); err != nil {
			return true, err
		}
	}
}
