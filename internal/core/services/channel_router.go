package services

import (
	"context"
	"strings"
	"sync"

	"github.com/sentinel/console/internal/core/ports"
	"github.com/sentinel/console/internal/domain"
	"github.com/sentinel/console/internal/infrastructure/logger"
	"github.com/sentinel/console/internal/infrastructure/metrics"
)

// ChannelRouter resolves notification categories to chat channels and is the
// single delivery entry point for every producer.
type ChannelRouter struct {
	platform ports.ChatPlatform
	names    map[domain.Category]string
	log      *logger.Logger
	metrics  *metrics.Collector

	mu    sync.RWMutex
	cache map[domain.Category]domain.ChannelHandle
}

func NewChannelRouter(platform ports.ChatPlatform, names map[domain.Category]string, log *logger.Logger, m *metrics.Collector) *ChannelRouter {
	return &ChannelRouter{
		platform: platform,
		names:    names,
		log:      log,
		metrics:  m,
		cache:    make(map[domain.Category]domain.ChannelHandle),
	}
}

// Refresh resolves every configured channel name against the live directory
// and replaces the cache. Names are matched ignoring case.
func (r *ChannelRouter) Refresh(ctx context.Context) error {
	dir, err := r.platform.Channels(ctx)
	if err != nil {
		r.log.Errorw("channel_router_refresh_failed", "error", err)
		return err
	}
	byName := make(map[string]domain.ChannelHandle, len(dir))
	for _, ch := range dir {
		byName[strings.ToLower(ch.Name)] = ch
	}

	cache := make(map[domain.Category]domain.ChannelHandle, len(r.names))
	for _, category := range domain.Categories {
		name := r.names[category]
		if name == "" {
			continue
		}
		ch, ok := byName[strings.ToLower(name)]
		if !ok {
			r.log.Warnw("channel_router_unresolved", "category", category, "channel", name)
			continue
		}
		cache[category] = ch
	}

	r.mu.Lock()
	r.cache = cache
	r.mu.Unlock()
	r.log.Infow("channel_router_refresh_ok", "resolved", len(cache))
	return nil
}

// Route returns the channel for category, if resolved.
func (r *ChannelRouter) Route(category domain.Category) (domain.ChannelHandle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.cache[category]
	return ch, ok
}

// RouteKey resolves a category name or alias and routes it.
func (r *ChannelRouter) RouteKey(key string) (domain.ChannelHandle, bool) {
	category, err := domain.ParseCategory(key)
	if err != nil {
		return domain.ChannelHandle{}, false
	}
	return r.Route(category)
}

func (r *ChannelRouter) invalidate(category domain.Category) {
	r.mu.Lock()
	delete(r.cache, category)
	r.mu.Unlock()
}

// Send delivers msg to the channel of category. Failures are logged and
// reported as delivered=false.
func (r *ChannelRouter) Send(ctx context.Context, category domain.Category, msg domain.Message) (domain.MessageRef, bool) {
	ch, ok := r.Route(category)
	if !ok {
		// The directory may have changed since startup
		if err := r.Refresh(ctx); err == nil {
			ch, ok = r.Route(category)
		}
	}
	if !ok {
		r.log.Warnw("channel_router_send_failed", "category", category, "error", ErrChannelUnresolved)
		r.metrics.Notification(string(category), false)
		return domain.MessageRef{}, false
	}

	ref, err := r.platform.Post(ctx, ch, msg)
	if err != nil {
		r.log.Warnw("channel_router_send_failed", "category", category, "channel", ch.Name, "error", err)
		r.invalidate(category)
		r.metrics.Notification(string(category), false)
		return domain.MessageRef{}, false
	}
	r.metrics.Notification(string(category), true)
	return ref, true
}

// SendKey is Send for a category name or alias.
func (r *ChannelRouter) SendKey(ctx context.Context, key string, msg domain.Message) (domain.MessageRef, bool) {
	category, err := domain.ParseCategory(key)
	if err != nil {
		r.log.Warnw("channel_router_send_failed", "key", key, "error", err)
		return domain.MessageRef{}, false
	}
	return r.Send(ctx, category, msg)
}

// Edit replaces a delivered message.
func (r *ChannelRouter) Edit(ctx context.Context, ref domain.MessageRef, msg domain.Message) bool {
	if err := r.platform.Edit(ctx, ref, msg); err != nil {
		r.log.Warnw("channel_router_edit_failed", "message_id", ref.MessageID, "error", err)
		return false
	}
	return true
}
