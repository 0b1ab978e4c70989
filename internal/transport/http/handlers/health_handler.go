package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/sentinel/console/internal/transport/http/dto"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadinessProbe reports whether startup has finished.
type ReadinessProbe interface {
	IsReady() bool
}

type HealthHandler struct {
	store Pinger
	ready ReadinessProbe
}

func NewHealthHandler(store Pinger, ready ReadinessProbe) *HealthHandler {
	return &HealthHandler{store: store, ready: ready}
}

// Health always answers 200 while the process is serving; the body says
// what is degraded.
func (h *HealthHandler) Health(c *fiber.Ctx) error {
	resp := dto.HealthResponse{Status: "healthy", Store: "ok"}
	if h.ready != nil {
		resp.Ready = h.ready.IsReady()
	}
	if h.store == nil || h.store.Ping(c.Context()) != nil {
		resp.Store = "unavailable"
		resp.Status = "degraded"
	}
	return c.JSON(resp)
}
