package services

import (
	"fmt"
	"strings"

	"github.com/sentinel/console/internal/domain"
)

func UpdateNotification(container, host string, status domain.UpdateStatus, details string) domain.Message {
	msg := domain.Message{Footer: "Container updates"}
	switch status {
	case domain.UpdateStatusSuccess:
		msg.Title = "✅ Updated " + container
		msg.Color = domain.ColorSuccess
	case domain.UpdateStatusFailed:
		msg.Title = "❌ Update failed: " + container
		msg.Color = domain.ColorError
	default:
		msg.Title = "🔄 Updating " + container
		msg.Color = domain.ColorInfo
	}
	msg.AddField("Container", container, true)
	msg.AddField("Host", host, true)
	if details != "" {
		msg.Body = truncate(details, 1000)
	}
	return msg
}

func DownloadProgressNotification(item domain.DownloadItem, milestone int) domain.Message {
	msg := domain.Message{Footer: "Downloads"}
	if milestone >= 100 {
		msg.Title = "✅ Download complete"
		msg.Color = domain.ColorSuccess
	} else {
		msg.Title = fmt.Sprintf("⬇️ Download %d%%", milestone)
		msg.Color = domain.ColorInfo
	}
	msg.Body = item.Title
	msg.AddField("Type", mediaLabel(item.MediaKind), true)
	msg.AddField("Progress", fmt.Sprintf("%d%%", milestone), true)
	return msg
}

func DownloadFailedNotification(item domain.DownloadItem, q domain.QueueItem) domain.Message {
	msg := domain.Message{
		Title:     "⚠️ Download needs attention",
		Body:      item.Title,
		Color:     domain.ColorWarning,
		Footer:    "React with " + domain.EmojiWastebasket + " to remove it from the queue",
		Reactions: []string{domain.EmojiWastebasket},
	}
	msg.AddField("Type", mediaLabel(item.MediaKind), true)
	msg.AddField("Status", q.Status, true)
	var reasons []string
	for _, sm := range q.StatusMessages {
		reasons = append(reasons, sm.Messages...)
	}
	if len(reasons) > 0 {
		msg.AddField("Reason", truncate(strings.Join(reasons, "\n"), 1000), false)
	}
	return msg
}

func TaskNotification(event string, task *domain.Task, instanceName string) domain.Message {
	msg := domain.Message{
		Title:  fmt.Sprintf("Task #%d %s", task.ID, event),
		Body:   truncate(task.Description, 1000),
		Footer: "Task queue",
	}
	switch event {
	case domain.TaskActionCreated:
		msg.Color = domain.ColorInfo
		msg.AddField("Priority", string(task.Priority), true)
		msg.AddField("Submitted by", task.SubmittedBy, true)
	case domain.TaskActionClaimed:
		msg.Color = domain.ColorWarning
		msg.AddField("Instance", instanceName, true)
	case domain.TaskActionCompleted:
		msg.Color = domain.ColorSuccess
		msg.AddField("Instance", instanceName, true)
		if task.Notes != nil && *task.Notes != "" {
			msg.AddField("Notes", truncate(*task.Notes, 1000), false)
		}
	default:
		msg.Color = domain.ColorMuted
	}
	return msg
}

// HomelabAlert is a free-form alert; severity is info, warning or critical.
func HomelabAlert(title, body, severity string) domain.Message {
	color := domain.ColorInfo
	switch severity {
	case "warning":
		color = domain.ColorWarning
	case "critical":
		color = domain.ColorError
	}
	return domain.Message{Title: title, Body: body, Color: color, Footer: "Homelab"}
}

func mediaLabel(kind string) string {
	switch kind {
	case "movie":
		return "Movie"
	case "episode":
		return "TV"
	}
	return kind
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

// MediaRequestNotification announces a media request lifecycle event from
// the request manager.
func MediaRequestNotification(title, mediaType, event, requestedBy, posterURL string) domain.Message {
	msg := domain.Message{
		Title:  "🎬 " + title,
		Footer: "Media requests",
	}
	switch event {
	case "requested":
		msg.Color = domain.ColorInfo
	case "approved":
		msg.Color = domain.ColorWarning
	case "completed":
		msg.Color = domain.ColorSuccess
		msg.Title = "✅ " + title + " is available"
	case "failed", "declined":
		msg.Color = domain.ColorError
	default:
		msg.Color = domain.ColorMuted
	}
	if posterURL != "" {
		msg.Body = posterURL
	}
	msg.AddField("Type", mediaType, true)
	msg.AddField("Status", event, true)
	if requestedBy != "" {
		msg.AddField("Requested by", requestedBy, true)
	}
	return msg
}
