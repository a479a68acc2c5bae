package handlers

import (
	"context"
	"time"

	"github.com/fasthttp/router"

	xhttp "github.com/nimasrn/school-notify/pkg/http"
	"github.com/nimasrn/school-notify/pkg/logger"
)

// Pinger is anything the service cannot work without, e.g. postgres or
// redis.
type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	deps    map[string]Pinger
	timeout time.Duration
}

func RegisterHealthRoutes(g *router.Group, h *HealthHandler) {
	g.GET("/health", h.GetHealth)
}

func NewHealthHandler(deps map[string]Pinger) *HealthHandler {
	return &HealthHandler{deps: deps, timeout: 2 * time.Second}
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func (h *HealthHandler) GetHealth(ctx *xhttp.RequestCtx) {
	c, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	resp := healthResponse{Status: "ok", Checks: make(map[string]string, len(h.deps))}
	status := xhttp.StatusOK
	for name, dep := range h.deps {
		if err := dep.Ping(c); err != nil {
			logger.Warn("[health] dependency down", "dependency", name, "error", err)
			resp.Checks[name] = err.Error()
			resp.Status = "degraded"
			status = xhttp.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}
	writeJSON(ctx, status, resp)
}
