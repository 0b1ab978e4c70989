package db

import (
	"context"
	"errors"

	"github.com/sentinel/console/internal/core/ports"
	"github.com/sentinel/console/internal/domain"
	"github.com/sentinel/console/internal/infrastructure/logger"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type jobStateRepository struct {
	store *Store
	log   *logger.Logger
}

func NewJobStateRepository(store *Store, log *logger.Logger) ports.JobStateRepository {
	return &jobStateRepository{store: store, log: log}
}

// LastFired returns the YYYY-MM-DD a job last fired on, or "" if never.
func (r *jobStateRepository) LastFired(ctx context.Context, name string) (string, error) {
	db, err := r.store.conn(ctx)
	if err != nil {
		return "", err
	}
	var state domain.JobState
	if err := db.Where("name = ?", name).First(&state).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil
		}
		r.log.Errorw("job_state_repo_get_failed", "name", name, "error", err)
		return "", err
	}
	return state.LastFiredOn, nil
}

func (r *jobStateRepository) MarkFired(ctx context.Context, name, day string) error {
	db, err := r.store.conn(ctx)
	if err != nil {
		return err
	}
	state := domain.JobState{Name: name, LastFiredOn: day, UpdatedAt: r.store.Now()}
	if err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_fired_on", "updated_at"}),
	}).Create(&state).Error; err != nil {
		r.log.Errorw("job_state_repo_set_failed", "name", name, "error", err)
		return err
	}
	r.log.Infow("job_state_repo_set_ok", "name", name, "day", day)
	return nil
}
