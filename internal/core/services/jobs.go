package services

import (
	"context"
	"fmt"

	"github.com/sentinel/console/internal/config"
)

// Job names
const (
	JobDownloadProgress  = "download-progress"
	JobDownloadFailures  = "download-failures"
	JobStaleTasks        = "stale-tasks"
	JobDailyUpdateReport = "daily-update-report"
	JobDailyTaskDigest   = "daily-task-digest"
	JobApprovalExpiry    = "approval-expiry"
)

// JobSet is everything the default jobs drive.
type JobSet struct {
	Downloads   *DownloadMonitor
	Maintenance *Maintenance
	Reporter    *Reporter
	Approvals   *ApprovalService
}

// RegisterDefaultJobs registers the standard job table on s.
func RegisterDefaultJobs(s *Scheduler, cfg config.SchedulerConfig, approvalSweep config.ApprovalConfig, set JobSet) error {
	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	reportH, reportM, err := config.ParseClock(cfg.UpdateReportAt)
	if err != nil {
		return fmt.Errorf("update report time: %w", err)
	}
	digestH, digestM, err := config.ParseClock(cfg.TaskDigestAt)
	if err != nil {
		return fmt.Errorf("task digest time: %w", err)
	}

	jobs := []Job{
		{
			Name:         JobDownloadProgress,
			Cadence:      Every(cfg.ProgressInterval),
			InitialDelay: cfg.ProgressDelay,
			Run:          set.Downloads.PollProgress,
		},
		{
			Name:         JobDownloadFailures,
			Cadence:      Every(cfg.FailureInterval),
			InitialDelay: cfg.FailureDelay,
			Run:          set.Downloads.PollFailures,
		},
		{
			Name:    JobStaleTasks,
			Cadence: Every(cfg.MaintenanceInterval),
			Run:     set.Maintenance.Run,
		},
		{
			Name:    JobDailyUpdateReport,
			Cadence: DailyAt(reportH, reportM, loc),
			Run:     set.Reporter.DailyUpdateReport,
		},
		{
			Name:    JobDailyTaskDigest,
			Cadence: DailyAt(digestH, digestM, loc),
			Run:     set.Reporter.DailyTaskDigest,
		},
		{
			Name:         JobApprovalExpiry,
			Cadence:      Every(approvalSweep.SweepInterval),
			InitialDelay: approvalSweep.SweepInterval,
			Run: func(ctx context.Context) error {
				set.Approvals.Sweep(ctx)
				return nil
			},
		},
	}
	for _, job := range jobs {
		if err := s.Register(job); err != nil {
			return err
		}
	}
	return nil
}
