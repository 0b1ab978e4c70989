package db

import (
	"context"
	"errors"
	"time"

	"github.com/sentinel/console/internal/core/ports"
	"github.com/sentinel/console/internal/domain"
	"github.com/sentinel/console/internal/infrastructure/logger"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const milestoneRetries = 3

type downloadRepository struct {
	store *Store
	log   *logger.Logger
}

func NewDownloadRepository(store *Store, log *logger.Logger) ports.DownloadRepository {
	return &downloadRepository{store: store, log: log}
}

func insertDownload(tx *gorm.DB, item domain.DownloadItem, at time.Time) error {
	return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&domain.DownloadRecord{
		ID:                 item.ID,
		MediaKind:          item.MediaKind,
		Title:              item.Title,
		NotifiedMilestones: domain.Milestones{},
		StartedAt:          at,
	}).Error
}

// StartTracking records a download if it is not already known.
func (r *downloadRepository) StartTracking(ctx context.Context, item domain.DownloadItem) error {
	db, err := r.store.conn(ctx)
	if err != nil {
		return err
	}
	if err := insertDownload(db, item, r.store.Now()); err != nil {
		r.log.Errorw("download_repo_track_failed", "id", item.ID, "error", err)
		return err
	}
	return nil
}

func (r *downloadRepository) Milestones(ctx context.Context, id string) (domain.Milestones, error) {
	db, err := r.store.conn(ctx)
	if err != nil {
		return nil, err
	}
	var rec domain.DownloadRecord
	if err := db.First(&rec, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Milestones{}, nil
		}
		r.log.Errorw("download_repo_milestones_failed", "id", id, "error", err)
		return nil, err
	}
	return rec.NotifiedMilestones, nil
}

// RecordMilestone adds milestone to the download's notified set, creating the
// record on first observation. It returns true only for the call that
// actually added it.
func (r *downloadRepository) RecordMilestone(ctx context.Context, item domain.DownloadItem, milestone int) (bool, error) {
	db, err := r.store.conn(ctx)
	if err != nil {
		return false, err
	}

	for attempt := 0; attempt < milestoneRetries; attempt++ {
		recorded, retry := false, false
		err := db.Transaction(func(tx *gorm.DB) error {
			if err := insertDownload(tx, item, r.store.Now()); err != nil {
				return err
			}
			var rec domain.DownloadRecord
			if err := tx.First(&rec, "id = ?", item.ID).Error; err != nil {
				return err
			}
			if rec.NotifiedMilestones.Has(milestone) {
				return nil
			}
			// Compare-and-set on the previous set so concurrent writers
			// cannot both claim the same milestone.
			res := tx.Model(&domain.DownloadRecord{}).
				Where("id = ? AND notified_milestones = ?", item.ID, rec.NotifiedMilestones).
				Update("notified_milestones", rec.NotifiedMilestones.With(milestone))
			if res.Error != nil {
				return res.Error
			}
			recorded = res.RowsAffected == 1
			retry = !recorded
			return nil
		})
		if err != nil {
			r.log.Errorw("download_repo_milestone_failed", "id", item.ID, "milestone", milestone, "error", err)
			return false, err
		}
		if !retry {
			if recorded {
				r.log.Infow("download_repo_milestone_ok", "id", item.ID, "milestone", milestone)
			}
			return recorded, nil
		}
	}
	return false, nil
}

// CompleteDownload stamps the completion time once.
func (r *downloadRepository) CompleteDownload(ctx context.Context, id string) error {
	db, err := r.store.conn(ctx)
	if err != nil {
		return err
	}
	if err := db.Model(&domain.DownloadRecord{}).
		Where("id = ? AND completed_at IS NULL", id).
		Update("completed_at", r.store.Now()).Error; err != nil {
		r.log.Errorw("download_repo_complete_failed", "id", id, "error", err)
		return err
	}
	return nil
}

// PurgeCompletedDownloads deletes records completed more than olderThan ago.
func (r *downloadRepository) PurgeCompletedDownloads(ctx context.Context, olderThan time.Duration) (int64, error) {
	db, err := r.store.conn(ctx)
	if err != nil {
		return 0, err
	}
	cutoff := r.store.Now().Add(-olderThan)
	res := db.Where("completed_at IS NOT NULL AND completed_at < ?", cutoff).Delete(&domain.DownloadRecord{})
	if res.Error != nil {
		r.log.Errorw("download_repo_purge_failed", "error", res.Error)
		return 0, res.Error
	}
	if res.RowsAffected > 0 {
		r.log.Infow("download_repo_purge_ok", "count", res.RowsAffected)
	}
	return res.RowsAffected, nil
}
