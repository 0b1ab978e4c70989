package services

import (
	"context"
	"fmt"

	"github.com/sentinel/console/internal/core/ports"
	"github.com/sentinel/console/internal/domain"
	"github.com/sentinel/console/internal/infrastructure/logger"
)

// UpdateRunner applies one approved container update: pull the image,
// restart the container and record the outcome in the update history.
type UpdateRunner struct {
	cmds    *RemoteCommands
	updates ports.UpdateRepository
	notify  ports.Notifier
	log     *logger.Logger
}

func NewUpdateRunner(cmds *RemoteCommands, updates ports.UpdateRepository, notify ports.Notifier, log *logger.Logger) *UpdateRunner {
	return &UpdateRunner{cmds: cmds, updates: updates, notify: notify, log: log}
}

// Apply runs the update for action. A failure to write the history row is
// logged but does not stop the update itself.
func (u *UpdateRunner) Apply(ctx context.Context, action domain.ApprovalAction, actor string) domain.CommandResult {
	recordID, err := u.updates.RecordUpdate(ctx, action.Target, action.Host, domain.UpdateStatusPending, actor)
	if err != nil {
		u.log.Warnw("update_runner_record_failed", "container", action.Target, "host", action.Host, "error", err)
	}

	res := u.cmds.DockerPull(ctx, action.Host, action.Target)
	if res.Success {
		res = u.cmds.DockerRestart(ctx, action.Host, action.Target)
	}

	status := domain.UpdateStatusSuccess
	details := fmt.Sprintf("Pulled and restarted by %s", actor)
	if !res.Success {
		status = domain.UpdateStatusFailed
		details = res.Output()
	}

	if recordID != 0 {
		if err := u.updates.UpdateStatus(ctx, recordID, status, true); err != nil {
			u.log.Warnw("update_runner_status_failed", "id", recordID, "error", err)
		}
	}

	u.log.Infow("update_runner_apply",
		"container", action.Target,
		"host", action.Host,
		"actor", actor,
		"status", status,
		"exit_code", res.ExitCode,
	)
	u.notify.Send(ctx, domain.CategoryUpdates, UpdateNotification(action.Target, action.Host, status, details))
	return res
}
