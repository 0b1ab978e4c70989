package handlers

import (
	"bytes"
	"encoding/json"

	"github.com/gofiber/fiber/v2"
	"github.com/sentinel/console/internal/core/ports"
	"github.com/sentinel/console/internal/core/services"
	"github.com/sentinel/console/internal/domain"
	"github.com/sentinel/console/internal/infrastructure/logger"
	"github.com/sentinel/console/internal/transport/http/dto"
)

// WebhookHandler turns third-party webhooks into channel notifications.
type WebhookHandler struct {
	notify ports.Notifier
	logger *logger.Logger
}

func NewWebhookHandler(notify ports.Notifier, logger *logger.Logger) *WebhookHandler {
	return &WebhookHandler{notify: notify, logger: logger}
}

// Watchtower accepts a single report or a list of them.
func (h *WebhookHandler) Watchtower(c *fiber.Ctx) error {
	body := bytes.TrimSpace(c.Body())
	var entries []dto.WatchtowerEntry
	var err error
	if len(body) > 0 && body[0] == '[' {
		err = json.Unmarshal(body, &entries)
	} else {
		var entry dto.WatchtowerEntry
		err = json.Unmarshal(body, &entry)
		entries = []dto.WatchtowerEntry{entry}
	}
	if err != nil {
		h.logger.Warnw("webhook_watchtower_parse_failed", "error", err)
		return badRequest(c, "invalid request body")
	}

	delivered := 0
	for _, e := range entries {
		name := e.ContainerName()
		if name == "" {
			continue
		}
		status := domain.UpdateStatusSuccess
		if e.Status != "" && e.Status != "updated" {
			status = domain.UpdateStatusFailed
		}
		image := e.Image
		if image == "" {
			image = "unknown"
		}
		if _, ok := h.notify.Send(c.Context(), domain.CategoryUpdates, services.UpdateNotification(name, "watchtower", status, "Image: "+image)); ok {
			delivered++
		}
	}
	h.logger.Infow("webhook_watchtower", "entries", len(entries), "delivered", delivered)
	return c.JSON(dto.StatusResponse{Status: "ok"})
}

func (h *WebhookHandler) Jellyseerr(c *fiber.Ctx) error {
	var p dto.JellyseerrPayload
	if err := c.BodyParser(&p); err != nil {
		h.logger.Warnw("webhook_jellyseerr_parse_failed", "error", err)
		return badRequest(c, "invalid request body")
	}

	mediaType := p.Media.MediaType
	if mediaType == "" {
		mediaType = "media"
	}
	msg := services.MediaRequestNotification(p.Title(), mediaType, p.Event(), p.Request.RequestedBy.Username, p.PosterURL())
	_, ok := h.notify.Send(c.Context(), domain.CategoryMedia, msg)
	h.logger.Infow("webhook_jellyseerr", "event", p.Event(), "title", p.Title(), "delivered", ok)
	return c.JSON(dto.StatusResponse{Status: "ok"})
}
