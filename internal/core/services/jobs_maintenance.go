package services

import (
	"context"
	"errors"
	"time"

	"github.com/sentinel/console/internal/core/ports"
	"github.com/sentinel/console/internal/infrastructure/logger"
)

// Maintenance resets abandoned tasks and purges old download records.
type Maintenance struct {
	tasks          ports.TaskRepository
	downloads      ports.DownloadRepository
	staleAfter     time.Duration
	downloadMaxAge time.Duration
	log            *logger.Logger
}

func NewMaintenance(tasks ports.TaskRepository, downloads ports.DownloadRepository, staleAfter, downloadMaxAge time.Duration, log *logger.Logger) *Maintenance {
	return &Maintenance{
		tasks:          tasks,
		downloads:      downloads,
		staleAfter:     staleAfter,
		downloadMaxAge: downloadMaxAge,
		log:            log,
	}
}

func (m *Maintenance) Run(ctx context.Context) error {
	reaped, reapErr := m.tasks.ReapStaleTasks(ctx, m.staleAfter)
	if reapErr == nil && reaped > 0 {
		m.log.Infow("maintenance_reaped_tasks", "count", reaped, "stale_after", m.staleAfter)
	}

	purged, purgeErr := m.downloads.PurgeCompletedDownloads(ctx, m.downloadMaxAge)
	if purgeErr == nil && purged > 0 {
		m.log.Debugw("maintenance_purged_downloads", "count", purged)
	}
	return errors.Join(reapErr, purgeErr)
}
