package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mossy-p/roulette-signaling/internal/clock"
	"github.com/mossy-p/roulette-signaling/internal/matchmaking"
	"github.com/mossy-p/roulette-signaling/internal/models"
)

// Pinger reports the health of a backing service.
type Pinger interface {
	Ping(ctx context.Context) string
}

// StatusHandler serves GET /status
type StatusHandler struct {
	state     *matchmaking.State
	clock     clock.Clock
	startedAt time.Time
	redis     Pinger
}

// NewStatusHandler records the start time from c. redis may be nil.
func NewStatusHandler(state *matchmaking.State, c clock.Clock, redis Pinger) *StatusHandler {
	if c == nil {
		c = clock.Real()
	}
	return &StatusHandler{state: state, clock: c, startedAt: c.Now(), redis: redis}
}

func (h *StatusHandler) Status(c *gin.Context) {
	stats := h.state.Stats()
	uptime := h.clock.Now().Sub(h.startedAt)

	status := models.Status{
		Status:      "ok",
		StartedAt:   h.startedAt,
		Uptime:      uptime.Round(time.Second).String(),
		UptimeNanos: uptime,
		Connections: stats.Connections,
		Queued:      stats.Queued,
		Pairs:       stats.Pairs,
	}
	if h.redis != nil {
		status.Redis = h.redis.Ping(c.Request.Context())
	}
	c.JSON(http.StatusOK, status)
}
