package db

import (
	"context"

	"github.com/sentinel/console/internal/core/ports"
	"github.com/sentinel/console/internal/domain"
	"github.com/sentinel/console/internal/infrastructure/logger"
)

type updateRepository struct {
	store *Store
	log   *logger.Logger
}

func NewUpdateRepository(store *Store, log *logger.Logger) ports.UpdateRepository {
	return &updateRepository{store: store, log: log}
}

func (r *updateRepository) RecordUpdate(ctx context.Context, container, host string, status domain.UpdateStatus, actor string) (uint, error) {
	db, err := r.store.conn(ctx)
	if err != nil {
		return 0, err
	}
	rec := domain.UpdateRecord{
		ContainerName: container,
		Host:          host,
		Status:        status,
		Actor:         actor,
		CreatedAt:     r.store.Now(),
	}
	if err := db.Create(&rec).Error; err != nil {
		r.log.Errorw("update_repo_record_failed", "container", container, "error", err)
		return 0, err
	}
	r.log.Infow("update_repo_record_ok", "id", rec.ID, "container", container, "status", status)
	return rec.ID, nil
}

func (r *updateRepository) UpdateStatus(ctx context.Context, id uint, status domain.UpdateStatus, completed bool) error {
	db, err := r.store.conn(ctx)
	if err != nil {
		return err
	}
	updates := map[string]interface{}{"status": status}
	if completed {
		updates["completed_at"] = r.store.Now()
	}
	if err := db.Model(&domain.UpdateRecord{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		r.log.Errorw("update_repo_status_failed", "id", id, "error", err)
		return err
	}
	return nil
}

func (r *updateRepository) RecentUpdates(ctx context.Context, limit int) ([]domain.UpdateRecord, error) {
	db, err := r.store.conn(ctx)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultTaskLimit
	}
	records := []domain.UpdateRecord{}
	if err := db.Order("created_at DESC").Order("id DESC").Limit(limit).Find(&records).Error; err != nil {
		r.log.Errorw("update_repo_recent_failed", "error", err)
		return nil, err
	}
	return records, nil
}
