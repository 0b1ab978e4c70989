package db

import (
	"github.com/sentinel/console/internal/domain"
	"gorm.io/gorm"
)

func RunMigrations(db *gorm.DB) error {
	err := db.AutoMigrate(
		&domain.Task{},
		&domain.TaskLog{},
		&domain.Instance{},
		&domain.UpdateRecord{},
		&domain.DownloadRecord{},
		&domain.JobState{},
	)
	if err != nil {
		return err
	}

	return createCustomIndexes(db)
}

func createCustomIndexes(db *gorm.DB) error {
	// Pending queue scan: status filter, then priority and age ordering
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_tasks_queue
		ON tasks (status, priority, created_at)
	`).Error; err != nil {
		return err
	}

	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_tasks_claimed
		ON tasks (status, claimed_at)
	`).Error; err != nil {
		return err
	}

	return nil
}
