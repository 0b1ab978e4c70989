package db

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sentinel/console/internal/domain"
	"github.com/sentinel/console/internal/infrastructure/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordMilestoneOnce(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	repo := NewDownloadRepository(store, logger.NewNop())
	item := domain.NewDownloadItem("movie", 42, "Arrival")

	for _, m := range []int{50, 80, 100} {
		ok, err := repo.RecordMilestone(ctx, item, m)
		require.NoError(t, err)
		assert.True(t, ok, "first record of %d", m)

		ok, err = repo.RecordMilestone(ctx, item, m)
		require.NoError(t, err)
		assert.False(t, ok, "second record of %d", m)
	}

	got, err := repo.Milestones(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.Milestones{50, 80, 100}, got)
}

func TestRecordMilestoneConcurrent(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	repo := NewDownloadRepository(store, logger.NewNop())
	item := domain.NewDownloadItem("episode", 7, "Severance S02E01")

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := repo.RecordMilestone(ctx, item, 80)
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestMilestonesUnknownDownload(t *testing.T) {
	store, _ := newTestStore(t)
	got, err := NewDownloadRepository(store, logger.NewNop()).Milestones(context.Background(), "movie_1")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestStartTrackingKeepsMilestones(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	repo := NewDownloadRepository(store, logger.NewNop())
	item := domain.NewDownloadItem("movie", 3, "Dune")

	_, err := repo.RecordMilestone(ctx, item, 50)
	require.NoError(t, err)
	require.NoError(t, repo.StartTracking(ctx, item))

	got, err := repo.Milestones(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.Milestones{50}, got)
}

func TestPurgeCompletedDownloads(t *testing.T) {
	store, clock := newTestStore(t)
	ctx := context.Background()
	repo := NewDownloadRepository(store, logger.NewNop())

	old := domain.NewDownloadItem("movie", 1, "Old")
	recent := domain.NewDownloadItem("movie", 2, "Recent")
	active := domain.NewDownloadItem("movie", 3, "Active")

	for _, item := range []domain.DownloadItem{old, recent, active} {
		require.NoError(t, repo.StartTracking(ctx, item))
	}
	require.NoError(t, repo.CompleteDownload(ctx, old.ID))
	clock.Advance(20 * time.Hour)
	require.NoError(t, repo.CompleteDownload(ctx, recent.ID))
	require.NoError(t, repo.CompleteDownload(ctx, old.ID))
	clock.Advance(5 * time.Hour)

	count, err := repo.PurgeCompletedDownloads(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count, "completion time is set once")

	_, err = repo.RecordMilestone(ctx, recent, 100)
	require.NoError(t, err)
	got, err := repo.Milestones(ctx, old.ID)
	require.NoError(t, err)
	assert.Empty(t, got)
}
