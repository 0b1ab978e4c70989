package services

import (
	"context"
	"errors"
	"testing"

	"github.com/sentinel/console/internal/core/ports"
	"github.com/sentinel/console/internal/domain"
	"github.com/sentinel/console/internal/infrastructure/chat"
	"github.com/sentinel/console/internal/infrastructure/logger"
	"github.com/sentinel/console/internal/infrastructure/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testChannelNames = map[domain.Category]string{
	domain.CategoryUpdates: "container-updates",
	domain.CategoryMedia:   "Media-Downloads",
	domain.CategoryTasks:   "claude-tasks",
	domain.CategoryHomelab: "argus-assistant",
}

func newTestRouter(t *testing.T, channels ...string) (*ChannelRouter, *chat.Hub) {
	t.Helper()
	hub := chat.NewHub(channels, logger.NewNop())
	t.Cleanup(func() { _ = hub.Close() })
	r := NewChannelRouter(hub, testChannelNames, logger.NewNop(), metrics.NewCollector())
	return r, hub
}

func TestRouterResolvesCaseInsensitively(t *testing.T) {
	r, _ := newTestRouter(t, "container-updates", "media-downloads", "claude-tasks")
	require.NoError(t, r.Refresh(context.Background()))

	ch, ok := r.Route(domain.CategoryMedia)
	assert.True(t, ok)
	assert.Equal(t, "media-downloads", ch.Name)

	_, ok = r.Route(domain.CategoryHomelab)
	assert.False(t, ok, "argus-assistant does not exist")
}

func TestRouterAliases(t *testing.T) {
	r, _ := newTestRouter(t, "container-updates", "media-downloads", "claude-tasks")
	require.NoError(t, r.Refresh(context.Background()))

	for _, key := range []string{"updates", "Container Updates", "container_updates", "DOWNLOADS", "claude-tasks"} {
		_, ok := r.RouteKey(key)
		assert.True(t, ok, key)
	}
	_, ok := r.RouteKey("projects")
	assert.False(t, ok)
}

func TestSendDeliversToResolvedChannel(t *testing.T) {
	r, hub := newTestRouter(t, "container-updates")
	ctx := context.Background()
	require.NoError(t, r.Refresh(ctx))

	ref, ok := r.SendKey(ctx, "container-updates", domain.Message{Title: "Updated grafana"})
	require.True(t, ok)
	stored, found := hub.Message(ref.MessageID)
	require.True(t, found)
	assert.Equal(t, "Updated grafana", stored.Title)

	assert.True(t, r.Edit(ctx, ref, domain.Message{Title: "Updated grafana (2)"}))
	stored, _ = hub.Message(ref.MessageID)
	assert.Equal(t, "Updated grafana (2)", stored.Title)
}

func TestSendReportsFailureWithoutPanicking(t *testing.T) {
	r, hub := newTestRouter(t, "container-updates")
	ctx := context.Background()
	require.NoError(t, r.Refresh(ctx))

	_, ok := r.Send(ctx, domain.CategoryAnnouncements, domain.Message{Title: "unconfigured"})
	assert.False(t, ok)

	hub.RemoveChannel("container-updates")
	_, ok = r.Send(ctx, domain.CategoryUpdates, domain.Message{Title: "channel gone"})
	assert.False(t, ok)
	_, cached := r.Route(domain.CategoryUpdates)
	assert.False(t, cached, "a failed post drops the cached channel")

	_, ok = r.SendKey(ctx, "nonsense", domain.Message{})
	assert.False(t, ok)
}

func TestSendRefreshesLazily(t *testing.T) {
	r, hub := newTestRouter(t)
	ctx := context.Background()
	require.NoError(t, r.Refresh(ctx))

	hub.AddChannel("argus-assistant")
	_, ok := r.Send(ctx, domain.CategoryHomelab, HomelabAlert("Disk", "pve-node-1 at 91%", "critical"))
	assert.True(t, ok)
}

type brokenDirectory struct{ ports.ChatPlatform }

func (brokenDirectory) Channels(context.Context) ([]domain.ChannelHandle, error) {
	return nil, errors.New("gateway down")
}

func TestRefreshErrorKeepsRouterUsable(t *testing.T) {
	r := NewChannelRouter(brokenDirectory{}, testChannelNames, logger.NewNop(), nil)
	assert.Error(t, r.Refresh(context.Background()))
	_, ok := r.Send(context.Background(), domain.CategoryUpdates, domain.Message{})
	assert.False(t, ok)
}
