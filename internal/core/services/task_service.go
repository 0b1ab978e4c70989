package services

import (
	"context"
	"strings"
	"time"

	"github.com/sentinel/console/internal/core/ports"
	"github.com/sentinel/console/internal/domain"
	"github.com/sentinel/console/internal/infrastructure/logger"
)

// TaskService is the task queue as seen by submitters and worker instances.
// Every state change is announced on the tasks channel.
type TaskService struct {
	tasks     ports.TaskRepository
	instances ports.InstanceRepository
	notify    ports.Notifier
	log       *logger.Logger
}

func NewTaskService(tasks ports.TaskRepository, instances ports.InstanceRepository, notify ports.Notifier, log *logger.Logger) *TaskService {
	return &TaskService{tasks: tasks, instances: instances, notify: notify, log: log}
}

// ==================== Queue ====================

func (s *TaskService) Submit(ctx context.Context, description, priority, submittedBy string) (*domain.Task, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return nil, domain.ErrEmptyDescription
	}
	p, err := domain.ParsePriority(priority)
	if err != nil {
		return nil, err
	}
	if submittedBy == "" {
		submittedBy = "api"
	}

	id, err := s.tasks.CreateTask(ctx, description, p, submittedBy)
	if err != nil {
		return nil, err
	}
	task, err := s.tasks.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	s.notify.Send(ctx, domain.CategoryTasks, TaskNotification(domain.TaskActionCreated, task, ""))
	return task, nil
}

// Claim hands task id to an instance. It reports false when another
// instance got there first or the task is no longer pending.
func (s *TaskService) Claim(ctx context.Context, id uint, instanceID, instanceName string) (bool, error) {
	if instanceName == "" {
		instanceName = instanceID
	}
	ok, err := s.tasks.ClaimTask(ctx, id, instanceID, instanceName)
	if err != nil || !ok {
		return ok, err
	}

	if err := s.instances.Heartbeat(ctx, instanceID, instanceName, domain.InstanceStatusWorking, &id); err != nil {
		s.log.Warnw("task_service_heartbeat_failed", "instance_id", instanceID, "error", err)
	}
	if task, err := s.tasks.GetTask(ctx, id); err == nil {
		s.notify.Send(ctx, domain.CategoryTasks, TaskNotification(domain.TaskActionClaimed, task, instanceName))
	}
	return true, nil
}

// Complete finishes a task held by instanceID.
func (s *TaskService) Complete(ctx context.Context, id uint, instanceID, notes string) (bool, error) {
	ok, err := s.tasks.CompleteTask(ctx, id, instanceID, notes)
	if err != nil || !ok {
		return ok, err
	}

	task, err := s.tasks.GetTask(ctx, id)
	if err != nil {
		return true, nil
	}
	name := instanceID
	if task.InstanceName != nil && *task.InstanceName != "" {
		name = *task.InstanceName
	}
	if err := s.instances.Heartbeat(ctx, instanceID, name, domain.InstanceStatusIdle, nil); err != nil {
		s.log.Warnw("task_service_heartbeat_failed", "instance_id", instanceID, "error", err)
	}
	s.notify.Send(ctx, domain.CategoryTasks, TaskNotification(domain.TaskActionCompleted, task, name))
	return true, nil
}

func (s *TaskService) Cancel(ctx context.Context, id uint) (bool, error) {
	ok, err := s.tasks.CancelTask(ctx, id)
	if err != nil || !ok {
		return ok, err
	}
	if task, err := s.tasks.GetTask(ctx, id); err == nil {
		s.notify.Send(ctx, domain.CategoryTasks, TaskNotification(domain.TaskActionCancelled, task, ""))
	}
	return true, nil
}

func (s *TaskService) Get(ctx context.Context, id uint) (*domain.Task, error) {
	return s.tasks.GetTask(ctx, id)
}

func (s *TaskService) Pending(ctx context.Context, limit int) ([]domain.Task, error) {
	return s.tasks.PendingTasks(ctx, limit)
}

// Next returns the task a worker should pick up, or nil when the queue is
// empty.
func (s *TaskService) Next(ctx context.Context) (*domain.Task, error) {
	return s.tasks.NextTask(ctx)
}

func (s *TaskService) Completed(ctx context.Context, limit int) ([]domain.Task, error) {
	return s.tasks.CompletedTasks(ctx, limit)
}

func (s *TaskService) Stats(ctx context.Context) (domain.TaskCounts, error) {
	return s.tasks.TaskStats(ctx)
}

func (s *TaskService) Logs(ctx context.Context, id uint) ([]domain.TaskLog, error) {
	return s.tasks.TaskLogs(ctx, id)
}

// ==================== Instances ====================

func (s *TaskService) Heartbeat(ctx context.Context, id, name string, status domain.InstanceStatus, currentTask *uint) error {
	if name == "" {
		name = id
	}
	return s.instances.Heartbeat(ctx, id, name, status, currentTask)
}

func (s *TaskService) ActiveInstances(ctx context.Context, window time.Duration) ([]domain.Instance, error) {
	return s.instances.ActiveInstances(ctx, window)
}
