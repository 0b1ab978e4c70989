package chat

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sentinel/console/internal/core/ports"
	"github.com/sentinel/console/internal/domain"
	"github.com/sentinel/console/internal/infrastructure/logger"
)

var (
	ErrChannelNotFound = errors.New("chat: channel not found")
	ErrMessageNotFound = errors.New("chat: message not found")
	ErrHubClosed       = errors.New("chat: hub closed")
)

// historyLimit bounds the number of messages kept for edits and replay.
const historyLimit = 500

// Frame types
const (
	FrameHello     = "hello"
	FrameMessage   = "message"
	FrameEdit      = "edit"
	FrameReaction  = "reaction"
	FrameSubscribe = "subscribe"
	FrameError     = "error"
)

// Frame is the JSON envelope exchanged with websocket clients.
type Frame struct {
	Type      string                 `json:"type"`
	ChannelID string                 `json:"channel_id,omitempty"`
	MessageID string                 `json:"message_id,omitempty"`
	Emoji     string                 `json:"emoji,omitempty"`
	UserID    string                 `json:"user_id,omitempty"`
	Channels  []domain.ChannelHandle `json:"channels,omitempty"`
	Message   *domain.Message        `json:"message,omitempty"`
	Error     string                 `json:"error,omitempty"`
}

// Conn is the subset of a websocket connection the hub needs.
type Conn interface {
	ReadJSON(v interface{}) error
	WriteJSON(v interface{}) error
	Close() error
}

type client struct {
	conn    Conn
	user    string
	writeMu sync.Mutex

	subMu sync.RWMutex
	subs  map[string]bool
}

func (c *client) subscribed(channelID string) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	return len(c.subs) == 0 || c.subs[channelID]
}

func (c *client) send(f Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(f)
}

type storedMessage struct {
	channelID string
	msg       domain.Message
}

// Hub is an in-process chat server: it owns the channel directory, fans
// messages out to connected websocket clients and turns their reaction frames
// into reaction events.
type Hub struct {
	log *logger.Logger

	mu       sync.RWMutex
	channels map[string]domain.ChannelHandle
	messages map[string]storedMessage
	order    []string
	clients  map[*client]struct{}
	handlers []ports.ReactionHandler
	closed   bool
}

func NewHub(channelNames []string, log *logger.Logger) *Hub {
	h := &Hub{
		log:      log,
		channels: make(map[string]domain.ChannelHandle),
		messages: make(map[string]storedMessage),
		clients:  make(map[*client]struct{}),
	}
	for _, name := range channelNames {
		h.AddChannel(name)
	}
	return h
}

// AddChannel creates a channel, or returns the existing one with that name.
func (h *Hub) AddChannel(name string) domain.ChannelHandle {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.channels {
		if ch.Name == name {
			return ch
		}
	}
	ch := domain.ChannelHandle{ID: uuid.NewString(), Name: name}
	h.channels[ch.ID] = ch
	return ch
}

// RemoveChannel deletes a channel by name. Posting to it afterwards fails.
func (h *Hub) RemoveChannel(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.channels {
		if ch.Name == name {
			delete(h.channels, id)
		}
	}
}

// Channels lists the directory sorted by name.
func (h *Hub) Channels(ctx context.Context) ([]domain.ChannelHandle, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]domain.ChannelHandle, 0, len(h.channels))
	for _, ch := range h.channels {
		out = append(out, ch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (h *Hub) Post(ctx context.Context, channel domain.ChannelHandle, msg domain.Message) (domain.MessageRef, error) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return domain.MessageRef{}, ErrHubClosed
	}
	if _, ok := h.channels[channel.ID]; !ok {
		h.mu.Unlock()
		return domain.MessageRef{}, ErrChannelNotFound
	}
	ref := domain.MessageRef{ChannelID: channel.ID, MessageID: uuid.NewString()}
	h.remember(ref.MessageID, storedMessage{channelID: channel.ID, msg: msg})
	targets := h.subscribers(channel.ID)
	h.mu.Unlock()

	h.broadcast(targets, Frame{Type: FrameMessage, ChannelID: ref.ChannelID, MessageID: ref.MessageID, Message: &msg})
	return ref, nil
}

func (h *Hub) Edit(ctx context.Context, ref domain.MessageRef, msg domain.Message) error {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	h.mu.Lock()
	stored, ok := h.messages[ref.MessageID]
	if !ok {
		h.mu.Unlock()
		return ErrMessageNotFound
	}
	stored.msg = msg
	h.messages[ref.MessageID] = stored
	targets := h.subscribers(stored.channelID)
	h.mu.Unlock()

	h.broadcast(targets, Frame{Type: FrameEdit, ChannelID: stored.channelID, MessageID: ref.MessageID, Message: &msg})
	return nil
}

// Message returns a delivered message by id.
func (h *Hub) Message(id string) (domain.Message, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	stored, ok := h.messages[id]
	return stored.msg, ok
}

func (h *Hub) OnReaction(handler ports.ReactionHandler) {
	h.mu.Lock()
	h.handlers = append(h.handlers, handler)
	h.mu.Unlock()
}

// Dispatch delivers a reaction to the registered handlers until one claims
// it.
func (h *Hub) Dispatch(ctx context.Context, r domain.Reaction) bool {
	h.mu.RLock()
	handlers := append([]ports.ReactionHandler(nil), h.handlers...)
	h.mu.RUnlock()

	for _, handler := range handlers {
		if handler(ctx, r) {
			return true
		}
	}
	return false
}

// remember stores a message, evicting the oldest past historyLimit. Caller
// holds h.mu.
func (h *Hub) remember(id string, m storedMessage) {
	h.messages[id] = m
	h.order = append(h.order, id)
	if len(h.order) > historyLimit {
		delete(h.messages, h.order[0])
		h.order = h.order[1:]
	}
}

// subscribers snapshots the clients listening on channelID. Caller holds h.mu.
func (h *Hub) subscribers(channelID string) []*client {
	out := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		if c.subscribed(channelID) {
			out = append(out, c)
		}
	}
	return out
}

func (h *Hub) broadcast(targets []*client, f Frame) {
	for _, c := range targets {
		if err := c.send(f); err != nil {
			h.log.Warnw("chat_client_write_failed", "user", c.user, "error", err)
			h.unregister(c)
		}
	}
}

func (h *Hub) register(c *client) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrHubClosed
	}
	h.clients[c] = struct{}{}
	return nil
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if ok {
		_ = c.conn.Close()
	}
}

// Serve runs one client connection until it disconnects or ctx ends.
// channels optionally restricts delivery to the named channels.
func (h *Hub) Serve(ctx context.Context, conn Conn, user string, channels []string) {
	c := &client{conn: conn, user: user, subs: map[string]bool{}}
	h.setSubscriptions(c, channels)
	if err := h.register(c); err != nil {
		_ = conn.Close()
		return
	}
	defer h.unregister(c)

	dir, _ := h.Channels(ctx)
	if err := c.send(Frame{Type: FrameHello, UserID: user, Channels: dir}); err != nil {
		return
	}
	h.log.Infow("chat_client_connected", "user", user)

	for {
		if ctx.Err() != nil {
			return
		}
		var f Frame
		if err := conn.ReadJSON(&f); err != nil {
			h.log.Debugw("chat_client_disconnected", "user", user, "error", err)
			return
		}
		switch f.Type {
		case FrameReaction:
			handled := h.Dispatch(ctx, domain.Reaction{
				ChannelID: f.ChannelID,
				MessageID: f.MessageID,
				UserID:    user,
				Emoji:     f.Emoji,
			})
			h.log.Debugw("chat_reaction", "user", user, "message_id", f.MessageID, "emoji", f.Emoji, "handled", handled)
		case FrameSubscribe:
			h.setSubscriptions(c, f.channelNames())
		default:
			_ = c.send(Frame{Type: FrameError, Error: "unsupported frame type: " + f.Type})
		}
	}
}

func (f Frame) channelNames() []string {
	names := make([]string, 0, len(f.Channels))
	for _, ch := range f.Channels {
		names = append(names, ch.Name)
	}
	return names
}

func (h *Hub) setSubscriptions(c *client, names []string) {
	subs := make(map[string]bool, len(names))
	h.mu.RLock()
	for _, name := range names {
		for id, ch := range h.channels {
			if ch.Name == name {
				subs[id] = true
			}
		}
	}
	h.mu.RUnlock()

	c.subMu.Lock()
	c.subs = subs
	c.subMu.Unlock()
}

// Close disconnects every client. Posting afterwards fails.
func (h *Hub) Close() error {
	h.mu.Lock()
	h.closed = true
	clients := h.clients
	h.clients = make(map[*client]struct{})
	h.mu.Unlock()

	for c := range clients {
		_ = c.conn.Close()
	}
	return nil
}
