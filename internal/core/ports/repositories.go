package ports

import (
	"context"
	"time"

	"github.com/sentinel/console/internal/domain"
)

type TaskRepository interface {
	CreateTask(ctx context.Context, description string, priority domain.TaskPriority, submittedBy string) (uint, error)
	ClaimTask(ctx context.Context, id uint, instanceID, instanceName string) (bool, error)
	CompleteTask(ctx context.Context, id uint, instanceID, notes string) (bool, error)
	CancelTask(ctx context.Context, id uint) (bool, error)
	ReapStaleTasks(ctx context.Context, staleAfter time.Duration) (int64, error)
	GetTask(ctx context.Context, id uint) (*domain.Task, error)
	PendingTasks(ctx context.Context, limit int) ([]domain.Task, error)
	NextTask(ctx context.Context) (*domain.Task, error)
	CompletedTasks(ctx context.Context, limit int) ([]domain.Task, error)
	TaskStats(ctx context.Context) (domain.TaskCounts, error)
	TaskLogs(ctx context.Context, id uint) ([]domain.TaskLog, error)
}

type InstanceRepository interface {
	Heartbeat(ctx context.Context, id, name string, status domain.InstanceStatus, currentTask *uint) error
	ActiveInstances(ctx context.Context, window time.Duration) ([]domain.Instance, error)
}

type DownloadRepository interface {
	StartTracking(ctx context.Context, item domain.DownloadItem) error
	Milestones(ctx context.Context, id string) (domain.Milestones, error)
	RecordMilestone(ctx context.Context, item domain.DownloadItem, milestone int) (bool, error)
	CompleteDownload(ctx context.Context, id string) error
	PurgeCompletedDownloads(ctx context.Context, olderThan time.Duration) (int64, error)
}

type UpdateRepository interface {
	RecordUpdate(ctx context.Context, container, host string, status domain.UpdateStatus, actor string) (uint, error)
	UpdateStatus(ctx context.Context, id uint, status domain.UpdateStatus, completed bool) error
	RecentUpdates(ctx context.Context, limit int) ([]domain.UpdateRecord, error)
}

type JobStateRepository interface {
	LastFired(ctx context.Context, name string) (string, error)
	MarkFired(ctx context.Context, name, day string) error
}
