package ingest

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const defaultMaxBody = 64 << 10

// WakeHandler is the background delivery path for a closed or
// backgrounded app: the platform relay POSTs the push to a local listener.
type WakeHandler struct {
	queue   chan Delivery
	maxBody int64
	logger  *slog.Logger
}

// NewWakeHandler creates a handler with a bounded queue of the given size.
func NewWakeHandler(queueSize int, logger *slog.Logger) *WakeHandler {
	if queueSize <= 0 {
		queueSize = 64
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WakeHandler{
		queue:   make(chan Delivery, queueSize),
		maxBody: defaultMaxBody,
		logger:  logger.With("component", "ingest", "path", PathBackground),
	}
}

// RegisterRoutes mounts POST /push on r.
func (h *WakeHandler) RegisterRoutes(r gin.IRouter) {
	r.POST("/push", h.push)
}

func (h *WakeHandler) push(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, h.maxBody+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "reading body"})
		return
	}
	if int64(len(body)) > h.maxBody {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "payload too large"})
		return
	}
	if !json.Valid(body) {
		h.logger.Warn("rejecting non-JSON push")
		c.JSON(http.StatusBadRequest, gin.H{"error": "body must be JSON"})
		return
	}

	select {
	case h.queue <- Delivery{Path: PathBackground, Body: body, ReceivedAt: time.Now()}:
		c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
	default:
		h.logger.Warn("wake queue full, rejecting push")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "queue full"})
	}
}

// Path reports PathBackground.
func (h *WakeHandler) Path() Path { return PathBackground }

// Run forwards accepted pushes until ctx is done.
func (h *WakeHandler) Run(ctx context.Context, out chan<- Delivery) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d := <-h.queue:
			if err := send(ctx, out, d); err != nil {
				return err
			}
		}
	}
}
