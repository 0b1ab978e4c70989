package handlers

import (
	"context"
	"strings"

	"github.com/gofiber/contrib/websocket"
	"github.com/sentinel/console/internal/infrastructure/chat"
	"github.com/sentinel/console/internal/infrastructure/logger"
)

// ChatHandler attaches websocket clients to the chat hub.
type ChatHandler struct {
	hub    *chat.Hub
	logger *logger.Logger
}

func NewChatHandler(hub *chat.Hub, logger *logger.Logger) *ChatHandler {
	return &ChatHandler{hub: hub, logger: logger}
}

// Handle serves one client. ?user= names the client and ?channels= is an
// optional comma separated subscription list.
func (h *ChatHandler) Handle(c *websocket.Conn) {
	user := c.Query("user")
	if user == "" {
		user = c.RemoteAddr().String()
	}
	var channels []string
	for _, name := range strings.Split(c.Query("channels"), ",") {
		if name = strings.TrimSpace(name); name != "" {
			channels = append(channels, name)
		}
	}

	h.logger.Infow("chat_ws_open", "user", user, "channels", channels)
	h.hub.Serve(context.Background(), c, user, channels)
	h.logger.Infow("chat_ws_closed", "user", user)
}
