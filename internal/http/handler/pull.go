package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"dataspace.app/orchestrator/common"
	"dataspace.app/orchestrator/internal/http/dto"
	"dataspace.app/orchestrator/internal/metrics"
	"dataspace.app/orchestrator/internal/pull"
)

type PullHandlerConfig struct {
	StreamPrefix string
	// Block bounds each XREAD; an idle stream gets a keepalive comment this often.
	Block time.Duration
}

// PullHandler is the consumer pull backend: the connector posts endpoint data
// references to Ingest, and orchestrators follow Stream for their provider.
type PullHandler struct {
	publisher pull.Publisher
	redis     *redis.Client
	cfg       PullHandlerConfig
	metrics   *metrics.Metrics
}

func NewPullHandler(publisher pull.Publisher, redisClient *redis.Client, cfg PullHandlerConfig, m *metrics.Metrics) *PullHandler {
	if cfg.Block <= 0 {
		cfg.Block = 25 * time.Second
	}
	return &PullHandler{
		publisher: publisher,
		redis:     redisClient,
		cfg:       cfg,
		metrics:   m,
	}
}

func (h *PullHandler) Ingest(c *gin.Context) {
	ctx := c.Request.Context()

	var edr dto.EndpointDataReference
	if err := c.ShouldBindJSON(&edr); err != nil {
		h.metrics.RecordPullMessage("rejected")
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid endpoint data reference"})
		return
	}
	if edr.TransferID() == "" {
		h.metrics.RecordPullMessage("rejected")
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing transfer process id"})
		return
	}

	msg := edr.ToMessage(time.Now())
	if msg.ProviderHost == "" {
		h.metrics.RecordPullMessage("rejected")
		c.JSON(http.StatusBadRequest, gin.H{"error": "endpoint has no host"})
		return
	}

	id, err := h.publisher.Publish(ctx, msg)
	if err != nil {
		h.metrics.RecordPullMessage("failed")
		slog.ErrorContext(ctx, "failed to publish endpoint data reference", "error", err, "transfer_id", msg.TransferProcessID)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "failed to publish credential"})
		return
	}

	h.metrics.RecordPullMessage("published")
	c.JSON(http.StatusOK, dto.PublishResponse{
		Status:    "published",
		Stream:    pull.StreamKey(h.cfg.StreamPrefix, msg.ProviderHost),
		MessageID: id,
	})
}

// Stream relays every credential published for :host as an SSE data line.
// Clients resume with ?last_id=<stream id>; the default is new messages only.
func (h *PullHandler) Stream(c *gin.Context) {
	ctx := c.Request.Context()
	if h.redis == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "redis not configured"})
		return
	}

	host := common.ExtractHostname(c.Param("host"))
	if host == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing provider host"})
		return
	}

	stream := pull.StreamKey(h.cfg.StreamPrefix, host)
	lastID, err := h.startID(ctx, stream, c.Query("last_id"))
	if err != nil {
		slog.ErrorContext(ctx, "pull stream position lookup failed", "error", err, "stream", stream)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "stream unavailable"})
		return
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}

	setSSEHeaders(c.Writer)
	c.Status(http.StatusOK)
	sseComment(c.Writer, "ready")
	flusher.Flush()

	slog.InfoContext(ctx, "pull stream opened", "stream", stream, "last_id", lastID)

	for {
		if ctx.Err() != nil {
			return
		}

		res, err := h.redis.XRead(ctx, &redis.XReadArgs{
			Streams: []string{stream, lastID},
			Block:   h.cfg.Block,
			Count:   100,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				sseComment(c.Writer, "ping "+time.Now().UTC().Format(time.RFC3339Nano))
				flusher.Flush()
				continue
			}
			if ctx.Err() != nil {
				return
			}
			slog.ErrorContext(ctx, "pull stream read failed", "error", err, "stream", stream)
			sseWrite(c.Writer, "error", map[string]string{"error": err.Error()})
			flusher.Flush()
			return
		}

		for _, streamRes := range res {
			for _, msg := range streamRes.Messages {
				lastID = msg.ID
				payload, ok := msg.Values[pull.PayloadField].(string)
				if !ok || !json.Valid([]byte(payload)) {
					slog.WarnContext(ctx, "skipping malformed stream entry", "stream", stream, "message_id", msg.ID)
					continue
				}
				sseWrite(c.Writer, "", payload)
				flusher.Flush()
			}
		}
	}
}

// startID pins "new messages only" to the current tail of the stream. Every
// XREAD then resumes from a concrete id, so entries added between two blocking
// reads are still delivered.
func (h *PullHandler) startID(ctx context.Context, stream, requested string) (string, error) {
	if requested != "" && requested != "$" {
		return requested, nil
	}
	tail, err := h.redis.XRevRangeN(ctx, stream, "+", "-", 1).Result()
	if err != nil {
		return "", err
	}
	if len(tail) == 0 {
		return "0-0", nil
	}
	return tail[0].ID, nil
}

func setSSEHeaders(w http.ResponseWriter) {
	headers := w.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	headers.Set("X-Accel-Buffering", "no")
}

func sseWrite(w http.ResponseWriter, event string, data any) {
	payload := marshalPayload(data)
	if event != "" {
		_, _ = fmt.Fprintf(w, "event: %s\n", event)
	}
	for _, line := range strings.Split(payload, "\n") {
		_, _ = fmt.Fprintf(w, "data: %s\n", line)
	}
	_, _ = fmt.Fprint(w, "\n")
}

// sseComment writes a line every SSE client ignores; it keeps proxies from
// closing an idle stream.
func sseComment(w http.ResponseWriter, text string) {
	_, _ = fmt.Fprintf(w, ": %s\n\n", text)
}

func marshalPayload(data any) string {
	switch payload := data.(type) {
	case string:
		return payload
	case []byte:
		return string(payload)
	default:
		bytes, err := json.Marshal(payload)
		if err != nil {
			return fmt.Sprintf("%v", data)
		}
		return string(bytes)
	}
}
