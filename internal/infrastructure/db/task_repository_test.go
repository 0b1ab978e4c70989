package db

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sentinel/console/internal/domain"
	"github.com/sentinel/console/internal/infrastructure/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskLifecycleFixDNS(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	repo := NewTaskRepository(store, logger.NewNop())

	id, err := repo.CreateTask(ctx, "Fix DNS", domain.TaskPriorityHigh, "alice")
	require.NoError(t, err)
	assert.Equal(t, uint(1), id)

	ok, err := repo.ClaimTask(ctx, id, "worker-A", "Worker A")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.ClaimTask(ctx, id, "worker-B", "Worker B")
	require.NoError(t, err)
	assert.False(t, ok, "second claim must lose")

	ok, err = repo.CompleteTask(ctx, id, "worker-A", "done")
	require.NoError(t, err)
	assert.True(t, ok)

	stats, err := repo.TaskStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats[domain.TaskStatusCompleted])
	assert.Equal(t, int64(0), stats[domain.TaskStatusPending])

	logs, err := repo.TaskLogs(ctx, id)
	require.NoError(t, err)
	require.Len(t, logs, 3)
	assert.Equal(t, domain.TaskActionCreated, logs[0].Action)
	assert.Equal(t, domain.TaskActionClaimed, logs[1].Action)
	assert.Equal(t, domain.TaskActionCompleted, logs[2].Action)
}

func TestCompletedListKeepsClaimantAndNotes(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	repo := NewTaskRepository(store, logger.NewNop())

	id, err := repo.CreateTask(ctx, "Rotate certificates", domain.TaskPriorityMedium, "bob")
	require.NoError(t, err)
	_, err = repo.ClaimTask(ctx, id, "inst-9", "build-box")
	require.NoError(t, err)
	_, err = repo.CompleteTask(ctx, id, "inst-9", "renewed via acme")
	require.NoError(t, err)

	done, err := repo.CompletedTasks(ctx, 10)
	require.NoError(t, err)
	require.Len(t, done, 1)
	task := done[0]
	assert.Equal(t, id, task.ID)
	require.NotNil(t, task.InstanceID)
	assert.Equal(t, "inst-9", *task.InstanceID)
	require.NotNil(t, task.InstanceName)
	assert.Equal(t, "build-box", *task.InstanceName)
	require.NotNil(t, task.Notes)
	assert.Equal(t, "renewed via acme", *task.Notes)
	assert.NotNil(t, task.ClaimedAt)
	assert.NotNil(t, task.CompletedAt)
}

func TestClaimIsExclusiveUnderContention(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	repo := NewTaskRepository(store, logger.NewNop())

	id, err := repo.CreateTask(ctx, "Patch hosts", domain.TaskPriorityLow, "ops")
	require.NoError(t, err)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			ok, err := repo.ClaimTask(ctx, id, fmt.Sprintf("worker-%d", n), "w")
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestClaimMissingTask(t *testing.T) {
	store, _ := newTestStore(t)
	repo := NewTaskRepository(store, logger.NewNop())

	ok, err := repo.ClaimTask(context.Background(), 404, "worker-A", "A")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCompleteRequiresClaimant(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	repo := NewTaskRepository(store, logger.NewNop())

	id, err := repo.CreateTask(ctx, "Upgrade kernel", domain.TaskPriorityHigh, "ops")
	require.NoError(t, err)

	ok, err := repo.CompleteTask(ctx, id, "worker-A", "")
	require.NoError(t, err)
	assert.False(t, ok, "pending task cannot be completed")

	_, err = repo.ClaimTask(ctx, id, "worker-A", "A")
	require.NoError(t, err)

	ok, err = repo.CompleteTask(ctx, id, "worker-B", "stolen")
	require.NoError(t, err)
	assert.False(t, ok, "only the claimant completes")

	task, err := repo.GetTask(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusInProgress, task.Status)
	assert.Nil(t, task.Notes)
}

func TestCancelOnlyPending(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	repo := NewTaskRepository(store, logger.NewNop())

	a, _ := repo.CreateTask(ctx, "a", domain.TaskPriorityLow, "ops")
	b, _ := repo.CreateTask(ctx, "b", domain.TaskPriorityLow, "ops")
	_, err := repo.ClaimTask(ctx, b, "w", "w")
	require.NoError(t, err)

	ok, err := repo.CancelTask(ctx, a)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.CancelTask(ctx, b)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = repo.ClaimTask(ctx, a, "w", "w")
	require.NoError(t, err)
	assert.False(t, ok, "cancelled is terminal")
}

func TestPendingOrderedByPriorityThenAge(t *testing.T) {
	store, clock := newTestStore(t)
	ctx := context.Background()
	repo := NewTaskRepository(store, logger.NewNop())

	low, _ := repo.CreateTask(ctx, "low", domain.TaskPriorityLow, "ops")
	clock.Advance(time.Second)
	oldHigh, _ := repo.CreateTask(ctx, "high-1", domain.TaskPriorityHigh, "ops")
	clock.Advance(time.Second)
	medium, _ := repo.CreateTask(ctx, "medium", "", "ops")
	clock.Advance(time.Second)
	newHigh, _ := repo.CreateTask(ctx, "high-2", domain.TaskPriorityHigh, "ops")

	pending, err := repo.PendingTasks(ctx, 10)
	require.NoError(t, err)
	var order []uint
	for _, task := range pending {
		order = append(order, task.ID)
	}
	assert.Equal(t, []uint{oldHigh, newHigh, medium, low}, order)

	next, err := repo.NextTask(ctx)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, oldHigh, next.ID)
}

func TestNextTaskEmptyQueue(t *testing.T) {
	store, _ := newTestStore(t)
	next, err := NewTaskRepository(store, logger.NewNop()).NextTask(context.Background())
	require.NoError(t, err)
	assert.Nil(t, next)
}

func TestGetTaskNotFound(t *testing.T) {
	store, _ := newTestStore(t)
	_, err := NewTaskRepository(store, logger.NewNop()).GetTask(context.Background(), 99)
	assert.ErrorIs(t, err, domain.ErrTaskNotFound)
}

func TestReapStaleTasks(t *testing.T) {
	store, clock := newTestStore(t)
	ctx := context.Background()
	repo := NewTaskRepository(store, logger.NewNop())

	stale, _ := repo.CreateTask(ctx, "stale", domain.TaskPriorityMedium, "ops")
	fresh, _ := repo.CreateTask(ctx, "fresh", domain.TaskPriorityMedium, "ops")
	pending, _ := repo.CreateTask(ctx, "pending", domain.TaskPriorityMedium, "ops")
	finished, _ := repo.CreateTask(ctx, "finished", domain.TaskPriorityMedium, "ops")

	_, err := repo.ClaimTask(ctx, stale, "worker-A", "A")
	require.NoError(t, err)
	_, err = repo.ClaimTask(ctx, finished, "worker-A", "A")
	require.NoError(t, err)
	_, err = repo.CompleteTask(ctx, finished, "worker-A", "")
	require.NoError(t, err)

	clock.Advance(90 * time.Minute)
	_, err = repo.ClaimTask(ctx, fresh, "worker-B", "B")
	require.NoError(t, err)
	clock.Advance(45 * time.Minute)

	count, err := repo.ReapStaleTasks(ctx, 2*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	task, err := repo.GetTask(ctx, stale)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusPending, task.Status)
	assert.Nil(t, task.InstanceID)
	assert.Nil(t, task.ClaimedAt)

	task, err = repo.GetTask(ctx, fresh)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusInProgress, task.Status)

	task, err = repo.GetTask(ctx, pending)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusPending, task.Status)

	task, err = repo.GetTask(ctx, finished)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCompleted, task.Status)

	ok, err := repo.ClaimTask(ctx, stale, "worker-C", "C")
	require.NoError(t, err)
	assert.True(t, ok, "reaped task is claimable again")

	ok, err = repo.CompleteTask(ctx, stale, "worker-A", "late")
	require.NoError(t, err)
	assert.False(t, ok, "previous holder lost the claim")
}
