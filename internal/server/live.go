package server

import (
	"io"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/vyon/backend/internal/realtime"
	"github.com/MarcoPoloResearchLab/vyon/backend/internal/store"
)

const (
	// LiveEventValue carries the full current value of the subscribed path.
	LiveEventValue     = "value"
	liveEventHeartbeat = "heartbeat"
)

// LiveSnapshot is the data of a "value" event.
type LiveSnapshot struct {
	Path      string `json:"path"`
	Exists    bool   `json:"exists"`
	Value     any    `json:"value"`
	Timestamp int64  `json:"timestamp"`
}

func newLiveSnapshot(snapshot realtime.Snapshot) LiveSnapshot {
	return LiveSnapshot{
		Path:      snapshot.Path,
		Exists:    snapshot.Exists,
		Value:     snapshot.Data,
		Timestamp: snapshot.Timestamp.UTC().UnixMilli(),
	}
}

func (h *httpHandler) handleLive(c *gin.Context) {
	path, err := store.ParsePath(c.Query("path"))
	if err != nil {
		badRequest(c, "invalid_path")
		return
	}

	ctx := c.Request.Context()
	subscription, err := h.social.Subscribe(ctx, path)
	if err != nil {
		h.writeError(c, err)
		return
	}
	defer subscription.Close()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	heartbeat := time.NewTicker(h.heartbeatInterval)
	defer heartbeat.Stop()

	h.logger.Debug("live subscription opened", zap.String("path", path.String()))
	c.Stream(func(io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case snapshot, ok := <-subscription.Updates:
			if !ok {
				return false
			}
			c.SSEvent(LiveEventValue, newLiveSnapshot(snapshot))
			return true
		case <-heartbeat.C:
			c.SSEvent(liveEventHeartbeat, gin.H{"timestamp": h.clock().UTC().UnixMilli()})
			return true
		}
	})
	h.logger.Debug("live subscription closed", zap.String("path", path.String()))
}
