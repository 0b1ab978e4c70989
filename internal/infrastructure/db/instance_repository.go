package db

import (
	"context"
	"time"

	"github.com/sentinel/console/internal/core/ports"
	"github.com/sentinel/console/internal/domain"
	"github.com/sentinel/console/internal/infrastructure/logger"
	"gorm.io/gorm/clause"
)

type instanceRepository struct {
	store *Store
	log   *logger.Logger
}

func NewInstanceRepository(store *Store, log *logger.Logger) ports.InstanceRepository {
	return &instanceRepository{store: store, log: log}
}

// Heartbeat upserts an instance and refreshes its last-seen time.
func (r *instanceRepository) Heartbeat(ctx context.Context, id, name string, status domain.InstanceStatus, currentTask *uint) error {
	db, err := r.store.conn(ctx)
	if err != nil {
		return err
	}
	if status == "" {
		status = domain.InstanceStatusIdle
	}
	inst := domain.Instance{
		ID:            id,
		Name:          name,
		LastSeen:      r.store.Now(),
		CurrentTaskID: currentTask,
		Status:        status,
	}
	if err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "last_seen", "current_task_id", "status"}),
	}).Create(&inst).Error; err != nil {
		r.log.Errorw("instance_repo_heartbeat_failed", "id", id, "error", err)
		return err
	}
	return nil
}

// ActiveInstances lists instances seen within window, most recent first.
func (r *instanceRepository) ActiveInstances(ctx context.Context, window time.Duration) ([]domain.Instance, error) {
	db, err := r.store.conn(ctx)
	if err != nil {
		return nil, err
	}
	cutoff := r.store.Now().Add(-window)
	instances := []domain.Instance{}
	if err := db.Where("last_seen > ?", cutoff).Order("last_seen DESC").Find(&instances).Error; err != nil {
		r.log.Errorw("instance_repo_active_failed", "error", err)
		return nil, err
	}
	return instances, nil
}
