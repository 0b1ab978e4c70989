package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sentinel/console/internal/core/ports"
	"github.com/sentinel/console/internal/domain"
	"github.com/sentinel/console/internal/infrastructure/logger"
	"gorm.io/gorm"
)

const defaultTaskLimit = 20

// priorityOrder sorts high before medium before low.
const priorityOrder = "CASE priority WHEN 'high' THEN 1 WHEN 'medium' THEN 2 WHEN 'low' THEN 3 ELSE 4 END"

type taskRepository struct {
	store *Store
	log   *logger.Logger
}

func NewTaskRepository(store *Store, log *logger.Logger) ports.TaskRepository {
	return &taskRepository{store: store, log: log}
}

func appendTaskLog(tx *gorm.DB, at time.Time, taskID uint, action, details, instanceID string) error {
	return tx.Create(&domain.TaskLog{
		TaskID:     taskID,
		Action:     action,
		Details:    details,
		InstanceID: instanceID,
		Timestamp:  at,
	}).Error
}

func (r *taskRepository) CreateTask(ctx context.Context, description string, priority domain.TaskPriority, submittedBy string) (uint, error) {
	if !priority.Valid() {
		priority = domain.TaskPriorityMedium
	}

	db, err := r.store.conn(ctx)
	if err != nil {
		return 0, err
	}

	now := r.store.Now()
	task := domain.Task{
		Description: description,
		Status:      domain.TaskStatusPending,
		Priority:    priority,
		SubmittedBy: submittedBy,
		CreatedAt:   now,
	}
	err = db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&task).Error; err != nil {
			return err
		}
		details := fmt.Sprintf("priority=%s submitted_by=%s", priority, submittedBy)
		return appendTaskLog(tx, now, task.ID, domain.TaskActionCreated, details, "")
	})
	if err != nil {
		r.log.Errorw("task_repo_create_failed", "error", err)
		return 0, err
	}
	r.log.Infow("task_repo_create_ok", "id", task.ID, "priority", priority)
	return task.ID, nil
}

// ClaimTask moves a pending task to in_progress. Exactly one of several
// concurrent claimants wins; the rest get false.
func (r *taskRepository) ClaimTask(ctx context.Context, id uint, instanceID, instanceName string) (bool, error) {
	db, err := r.store.conn(ctx)
	if err != nil {
		return false, err
	}

	now := r.store.Now()
	claimed := false
	err = db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&domain.Task{}).
			Where("id = ? AND status = ?", id, domain.TaskStatusPending).
			Updates(map[string]interface{}{
				"status":        domain.TaskStatusInProgress,
				"instance_id":   instanceID,
				"instance_name": instanceName,
				"claimed_at":    now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		claimed = true
		return appendTaskLog(tx, now, id, domain.TaskActionClaimed, "claimed by "+instanceName, instanceID)
	})
	if err != nil {
		r.log.Errorw("task_repo_claim_failed", "id", id, "instance", instanceID, "error", err)
		return false, err
	}
	if claimed {
		r.log.Infow("task_repo_claim_ok", "id", id, "instance", instanceID)
	}
	return claimed, nil
}

// CompleteTask succeeds only for the instance holding the claim.
func (r *taskRepository) CompleteTask(ctx context.Context, id uint, instanceID, notes string) (bool, error) {
	db, err := r.store.conn(ctx)
	if err != nil {
		return false, err
	}

	now := r.store.Now()
	updates := map[string]interface{}{
		"status":       domain.TaskStatusCompleted,
		"completed_at": now,
	}
	if notes != "" {
		updates["notes"] = notes
	}

	completed := false
	err = db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&domain.Task{}).
			Where("id = ? AND instance_id = ? AND status = ?", id, instanceID, domain.TaskStatusInProgress).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		completed = true
		return appendTaskLog(tx, now, id, domain.TaskActionCompleted, notes, instanceID)
	})
	if err != nil {
		r.log.Errorw("task_repo_complete_failed", "id", id, "instance", instanceID, "error", err)
		return false, err
	}
	if completed {
		r.log.Infow("task_repo_complete_ok", "id", id, "instance", instanceID)
	}
	return completed, nil
}

func (r *taskRepository) CancelTask(ctx context.Context, id uint) (bool, error) {
	db, err := r.store.conn(ctx)
	if err != nil {
		return false, err
	}

	now := r.store.Now()
	cancelled := false
	err = db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&domain.Task{}).
			Where("id = ? AND status = ?", id, domain.TaskStatusPending).
			Update("status", domain.TaskStatusCancelled)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		cancelled = true
		return appendTaskLog(tx, now, id, domain.TaskActionCancelled, "", "")
	})
	if err != nil {
		r.log.Errorw("task_repo_cancel_failed", "id", id, "error", err)
		return false, err
	}
	if cancelled {
		r.log.Infow("task_repo_cancel_ok", "id", id)
	}
	return cancelled, nil
}

// ReapStaleTasks returns tasks claimed longer than staleAfter ago to the
// pending queue and clears their claimant.
func (r *taskRepository) ReapStaleTasks(ctx context.Context, staleAfter time.Duration) (int64, error) {
	db, err := r.store.conn(ctx)
	if err != nil {
		return 0, err
	}

	now := r.store.Now()
	cutoff := now.Add(-staleAfter)
	var reaped int64
	err = db.Transaction(func(tx *gorm.DB) error {
		var stale []domain.Task
		if err := tx.Where("status = ? AND claimed_at < ?", domain.TaskStatusInProgress, cutoff).
			Find(&stale).Error; err != nil {
			return err
		}
		for _, task := range stale {
			res := tx.Model(&domain.Task{}).
				Where("id = ? AND status = ?", task.ID, domain.TaskStatusInProgress).
				Updates(map[string]interface{}{
					"status":        domain.TaskStatusPending,
					"instance_id":   nil,
					"instance_name": nil,
					"claimed_at":    nil,
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				continue
			}
			reaped++
			holder := ""
			if task.InstanceID != nil {
				holder = *task.InstanceID
			}
			if err := appendTaskLog(tx, now, task.ID, domain.TaskActionReaped, "claim expired", holder); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		r.log.Errorw("task_repo_reap_failed", "error", err)
		return 0, err
	}
	if reaped > 0 {
		r.log.Infow("task_repo_reap_ok", "count", reaped)
	}
	return reaped, nil
}

func (r *taskRepository) GetTask(ctx context.Context, id uint) (*domain.Task, error) {
	db, err := r.store.conn(ctx)
	if err != nil {
		return nil, err
	}
	var task domain.Task
	if err := db.First(&task, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrTaskNotFound
		}
		r.log.Errorw("task_repo_get_failed", "id", id, "error", err)
		return nil, err
	}
	return &task, nil
}

func (r *taskRepository) PendingTasks(ctx context.Context, limit int) ([]domain.Task, error) {
	db, err := r.store.conn(ctx)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultTaskLimit
	}
	tasks := []domain.Task{}
	if err := db.Where("status = ?", domain.TaskStatusPending).
		Order(priorityOrder).
		Order("created_at ASC").
		Order("id ASC").
		Limit(limit).
		Find(&tasks).Error; err != nil {
		r.log.Errorw("task_repo_pending_failed", "error", err)
		return nil, err
	}
	return tasks, nil
}

// NextTask returns the pending task a worker should pick up, or nil when the
// queue is empty.
func (r *taskRepository) NextTask(ctx context.Context) (*domain.Task, error) {
	tasks, err := r.PendingTasks(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, nil
	}
	return &tasks[0], nil
}

func (r *taskRepository) CompletedTasks(ctx context.Context, limit int) ([]domain.Task, error) {
	db, err := r.store.conn(ctx)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultTaskLimit
	}
	tasks := []domain.Task{}
	if err := db.Where("status = ?", domain.TaskStatusCompleted).
		Order("completed_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&tasks).Error; err != nil {
		r.log.Errorw("task_repo_completed_failed", "error", err)
		return nil, err
	}
	return tasks, nil
}

func (r *taskRepository) TaskStats(ctx context.Context) (domain.TaskCounts, error) {
	db, err := r.store.conn(ctx)
	if err != nil {
		return nil, err
	}
	var rows []struct {
		Status domain.TaskStatus
		Count  int64
	}
	if err := db.Model(&domain.Task{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error; err != nil {
		r.log.Errorw("task_repo_stats_failed", "error", err)
		return nil, err
	}
	counts := domain.TaskCounts{
		domain.TaskStatusPending:    0,
		domain.TaskStatusInProgress: 0,
		domain.TaskStatusCompleted:  0,
		domain.TaskStatusCancelled:  0,
	}
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

func (r *taskRepository) TaskLogs(ctx context.Context, id uint) ([]domain.TaskLog, error) {
	db, err := r.store.conn(ctx)
	if err != nil {
		return nil, err
	}
	logs := []domain.TaskLog{}
	if err := db.Where("task_id = ?", id).Order("id ASC").Find(&logs).Error; err != nil {
		r.log.Errorw("task_repo_logs_failed", "id", id, "error", err)
		return nil, err
	}
	return logs, nil
}
