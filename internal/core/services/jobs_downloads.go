package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/sentinel/console/internal/core/ports"
	"github.com/sentinel/console/internal/domain"
	"github.com/sentinel/console/internal/infrastructure/logger"
)

// DownloadMilestones are the progress thresholds announced for a download.
var DownloadMilestones = []int{50, 80, 100}

// failedDownload is a failure that has been announced.
type failedDownload struct {
	source    ports.MediaSource
	queueID   int
	item      domain.DownloadItem
	messageID string
}

// DownloadMonitor polls the media manager queues for progress and failures.
type DownloadMonitor struct {
	sources   []ports.MediaSource
	downloads ports.DownloadRepository
	notify    ports.Notifier
	log       *logger.Logger

	mu       sync.Mutex
	notified map[string]*failedDownload
	messages map[string]*failedDownload
}

func NewDownloadMonitor(sources []ports.MediaSource, downloads ports.DownloadRepository, notify ports.Notifier, log *logger.Logger) *DownloadMonitor {
	return &DownloadMonitor{
		sources:   sources,
		downloads: downloads,
		notify:    notify,
		log:       log,
		notified:  make(map[string]*failedDownload),
		messages:  make(map[string]*failedDownload),
	}
}

// PollProgress records every newly crossed milestone of every queued item
// and announces each one. Milestones already recorded are never announced
// again, so repeated polls of an unchanged queue are silent.
func (m *DownloadMonitor) PollProgress(ctx context.Context) error {
	var errs []error
	for _, src := range m.sources {
		queue, err := src.Queue(ctx)
		if err != nil {
			m.log.Warnw("download_progress_queue_failed", "kind", src.Kind(), "error", err)
			errs = append(errs, fmt.Errorf("%s queue: %w", src.Kind(), err))
			continue
		}
		for _, q := range queue {
			if err := m.trackProgress(ctx, src.Kind(), q); err != nil {
				errs = append(errs, err)
				if errors.Is(err, domain.ErrStoreUnavailable) {
					return errors.Join(errs...)
				}
			}
		}
	}
	return errors.Join(errs...)
}

func (m *DownloadMonitor) trackProgress(ctx context.Context, kind string, q domain.QueueItem) error {
	item := domain.NewDownloadItem(kind, q.ID, q.Title)
	percent := q.Percent()

	for _, milestone := range DownloadMilestones {
		if percent < float64(milestone) {
			break
		}
		recorded, err := m.downloads.RecordMilestone(ctx, item, milestone)
		if err != nil {
			return fmt.Errorf("record %s@%d: %w", item.ID, milestone, err)
		}
		if !recorded {
			continue
		}
		if milestone == 100 {
			if err := m.downloads.CompleteDownload(ctx, item.ID); err != nil {
				m.log.Warnw("download_progress_complete_failed", "id", item.ID, "error", err)
			}
		}
		m.log.Infow("download_progress_milestone", "id", item.ID, "milestone", milestone)
		m.notify.Send(ctx, domain.CategoryMedia, DownloadProgressNotification(item, milestone))
	}
	return nil
}

// PollFailures announces each failed or warning queue item once. Items
// that have left the queue are forgotten so a later failure is announced
// again.
func (m *DownloadMonitor) PollFailures(ctx context.Context) error {
	var errs []error
	for _, src := range m.sources {
		queue, err := src.Queue(ctx)
		if err != nil {
			m.log.Warnw("download_failures_queue_failed", "kind", src.Kind(), "error", err)
			errs = append(errs, fmt.Errorf("%s queue: %w", src.Kind(), err))
			continue
		}

		present := make(map[string]bool, len(queue))
		for _, q := range queue {
			item := domain.NewDownloadItem(src.Kind(), q.ID, q.Title)
			present[item.ID] = true
			if !q.Failed() || m.isNotified(item.ID) {
				continue
			}
			m.announceFailure(ctx, src, q, item)
		}
		m.prune(src.Kind(), present)
	}
	return errors.Join(errs...)
}

func (m *DownloadMonitor) isNotified(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.notified[id]
	return ok
}

func (m *DownloadMonitor) announceFailure(ctx context.Context, src ports.MediaSource, q domain.QueueItem, item domain.DownloadItem) {
	ref, ok := m.notify.Send(ctx, domain.CategoryMedia, DownloadFailedNotification(item, q))
	if !ok {
		return
	}
	f := &failedDownload{source: src, queueID: q.ID, item: item, messageID: ref.MessageID}

	m.mu.Lock()
	m.notified[item.ID] = f
	m.messages[ref.MessageID] = f
	m.mu.Unlock()
	m.log.Infow("download_failure_notified", "id", item.ID, "status", q.Status)
}

func (m *DownloadMonitor) prune(kind string, present map[string]bool) {
	prefix := kind + "_"
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, f := range m.notified {
		if strings.HasPrefix(id, prefix) && !present[id] {
			delete(m.notified, id)
			delete(m.messages, f.messageID)
		}
	}
}

// HandleReaction removes a failed item from its queue when the wastebasket
// is added to its notification. On failure the announcement stays
// registered so the user can retry.
func (m *DownloadMonitor) HandleReaction(ctx context.Context, r domain.Reaction) bool {
	m.mu.Lock()
	f, ok := m.messages[r.MessageID]
	m.mu.Unlock()
	if !ok {
		return false
	}
	if !isWastebasket(r.Emoji) {
		return true
	}

	ref := domain.MessageRef{ChannelID: r.ChannelID, MessageID: r.MessageID}
	if err := f.source.RemoveFromQueue(ctx, f.queueID); err != nil {
		m.log.Warnw("download_remove_failed", "id", f.item.ID, "user", r.UserID, "error", err)
		m.notify.Edit(ctx, ref, domain.Message{
			Title: "⚠️ Removal failed",
			Body:  fmt.Sprintf("Failed to remove %s from the queue", f.item.Title),
			Color: domain.ColorWarning,
		})
		return true
	}

	m.mu.Lock()
	delete(m.messages, r.MessageID)
	delete(m.notified, f.item.ID)
	m.mu.Unlock()

	m.log.Infow("download_removed", "id", f.item.ID, "user", r.UserID)
	m.notify.Edit(ctx, ref, domain.Message{
		Title:  "✅ Download removed",
		Body:   fmt.Sprintf("%s removed from the %s queue", f.item.Title, mediaLabel(f.item.MediaKind)),
		Color:  domain.ColorSuccess,
		Footer: "Removed by " + r.UserID,
	})
	return true
}

// NotifiedFailures returns the number of failures currently announced.
func (m *DownloadMonitor) NotifiedFailures() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.notified)
}

func isWastebasket(emoji string) bool {
	const variation = "\ufe0f"
	return strings.TrimSuffix(emoji, variation) == strings.TrimSuffix(domain.EmojiWastebasket, variation)
}
