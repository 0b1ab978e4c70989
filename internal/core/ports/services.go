package ports

import (
	"context"
	"time"

	"github.com/sentinel/console/internal/domain"
)

// Executor runs shell commands on remote hosts. Failures are reported in the
// result, never as an error.
type Executor interface {
	Execute(ctx context.Context, target domain.RemoteTarget, command string, timeout time.Duration) domain.CommandResult
}

// ChatPlatform is the chat server notifications are delivered to.
type ChatPlatform interface {
	Channels(ctx context.Context) ([]domain.ChannelHandle, error)
	Post(ctx context.Context, channel domain.ChannelHandle, msg domain.Message) (domain.MessageRef, error)
	Edit(ctx context.Context, ref domain.MessageRef, msg domain.Message) error
	OnReaction(handler ReactionHandler)
}

// ReactionHandler consumes inbound reactions. It reports whether the
// reaction was meant for it.
type ReactionHandler func(ctx context.Context, reaction domain.Reaction) bool

// Notifier delivers a message to the channel of a category.
type Notifier interface {
	Send(ctx context.Context, category domain.Category, msg domain.Message) (domain.MessageRef, bool)
	Edit(ctx context.Context, ref domain.MessageRef, msg domain.Message) bool
}

// MediaSource is a download manager queue (Radarr, Sonarr).
type MediaSource interface {
	Kind() string
	Queue(ctx context.Context) ([]domain.QueueItem, error)
	RemoveFromQueue(ctx context.Context, id int) error
}

// ActionApplier carries out one approved action.
type ActionApplier interface {
	Apply(ctx context.Context, action domain.ApprovalAction, actor string) domain.CommandResult
}

// TaskQueue is the task queue surface exposed to workers over HTTP.
type TaskQueue interface {
	Submit(ctx context.Context, description, priority, submittedBy string) (*domain.Task, error)
	Claim(ctx context.Context, id uint, instanceID, instanceName string) (bool, error)
	Complete(ctx context.Context, id uint, instanceID, notes string) (bool, error)
	Cancel(ctx context.Context, id uint) (bool, error)
	Get(ctx context.Context, id uint) (*domain.Task, error)
	Pending(ctx context.Context, limit int) ([]domain.Task, error)
	Next(ctx context.Context) (*domain.Task, error)
	Completed(ctx context.Context, limit int) ([]domain.Task, error)
	Stats(ctx context.Context) (domain.TaskCounts, error)
	Logs(ctx context.Context, id uint) ([]domain.TaskLog, error)
	Heartbeat(ctx context.Context, id, name string, status domain.InstanceStatus, currentTask *uint) error
	ActiveInstances(ctx context.Context, window time.Duration) ([]domain.Instance, error)
}

// FileReader fetches a file from a remote host.
type FileReader interface {
	ReadFile(ctx context.Context, target domain.RemoteTarget, path string) ([]byte, error)
}
