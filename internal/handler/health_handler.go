package handler

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/certify-backend/internal/config"
	"github.com/stemsi/certify-backend/internal/response"
)

// Pinger is anything that can report its own reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// HealthHandler reports dependency reachability and worker queue depth.
type HealthHandler struct {
	checks    map[string]Pinger
	rdb       *redis.Client
	startTime time.Time
}

// NewHealthHandler creates a HealthHandler. rdb may be nil when Redis is not in use.
func NewHealthHandler(checks map[string]Pinger, rdb *redis.Client) *HealthHandler {
	return &HealthHandler{checks: checks, rdb: rdb, startTime: time.Now()}
}

type healthStatus struct {
	Status     string            `json:"status"`
	Uptime     string            `json:"uptime"`
	Goroutines int               `json:"goroutines"`
	Checks     map[string]string `json:"checks"`
	Queues     map[string]int64  `json:"queues,omitempty"`
}

// Health godoc
// GET /health
// Responds 503 when any dependency check fails.
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	st := healthStatus{
		Status:     "ok",
		Uptime:     time.Since(h.startTime).Truncate(time.Second).String(),
		Goroutines: runtime.NumGoroutine(),
		Checks:     make(map[string]string, len(h.checks)),
	}
	for name, p := range h.checks {
		if err := p.Ping(ctx); err != nil {
			st.Checks[name] = err.Error()
			st.Status = "degraded"
			continue
		}
		st.Checks[name] = "ok"
	}

	if h.rdb != nil {
		pipe := h.rdb.Pipeline()
		answers := pipe.LLen(ctx, config.WorkerKey.PersistAnswersQueue)
		regrade := pipe.LLen(ctx, config.WorkerKey.RegradeAttemptsQueue)
		if _, err := pipe.Exec(ctx); err == nil {
			st.Queues = map[string]int64{
				config.WorkerKey.PersistAnswersQueue:  answers.Val(),
				config.WorkerKey.RegradeAttemptsQueue: regrade.Val(),
			}
		}
	}

	status := http.StatusOK
	if st.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	response.Success(c, status, st)
}
