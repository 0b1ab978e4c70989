package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ==================== ENUMS ====================

type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusCancelled  TaskStatus = "cancelled"
)

type TaskPriority string

const (
	TaskPriorityHigh   TaskPriority = "high"
	TaskPriorityMedium TaskPriority = "medium"
	TaskPriorityLow    TaskPriority = "low"
)

// Valid reports whether p is one of the known priorities.
func (p TaskPriority) Valid() bool {
	switch p {
	case TaskPriorityHigh, TaskPriorityMedium, TaskPriorityLow:
		return true
	}
	return false
}

type InstanceStatus string

const (
	InstanceStatusIdle    InstanceStatus = "idle"
	InstanceStatusWorking InstanceStatus = "working"
	InstanceStatusBusy    InstanceStatus = "busy"
)

type UpdateStatus string

const (
	UpdateStatusPending UpdateStatus = "pending"
	UpdateStatusSuccess UpdateStatus = "success"
	UpdateStatusFailed  UpdateStatus = "failed"
)

// ==================== JSON TYPES ====================

// Milestones is the set of progress thresholds already announced for a
// download. Stored as a sorted JSON array in a text column.
type Milestones []int

func (m Milestones) Value() (driver.Value, error) {
	if m == nil {
		return "[]", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (m *Milestones) Scan(value interface{}) error {
	if value == nil {
		*m = Milestones{}
		return nil
	}
	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return errors.New("failed to scan Milestones: invalid type")
	}
	if len(raw) == 0 {
		*m = Milestones{}
		return nil
	}
	return json.Unmarshal(raw, m)
}

func (m Milestones) Has(milestone int) bool {
	for _, v := range m {
		if v == milestone {
			return true
		}
	}
	return false
}

// With returns a sorted copy of m that includes milestone.
func (m Milestones) With(milestone int) Milestones {
	out := make(Milestones, 0, len(m)+1)
	out = append(out, m...)
	if !m.Has(milestone) {
		out = append(out, milestone)
	}
	sort.Ints(out)
	return out
}

// ==================== ENTITIES ====================

type Task struct {
	ID           uint         `gorm:"primaryKey" json:"id"`
	Description  string       `gorm:"type:text;not null" json:"description"`
	Status       TaskStatus   `gorm:"size:20;not null;default:'pending';index" json:"status"`
	Priority     TaskPriority `gorm:"size:10;not null;default:'medium';index" json:"priority"`
	InstanceID   *string      `gorm:"size:255" json:"instance_id,omitempty"`
	InstanceName *string      `gorm:"size:255" json:"instance_name,omitempty"`
	SubmittedBy  string       `gorm:"size:255" json:"submitted_by"`
	CreatedAt    time.Time    `json:"created_at"`
	ClaimedAt    *time.Time   `json:"claimed_at,omitempty"`
	CompletedAt  *time.Time   `json:"completed_at,omitempty"`
	Notes        *string      `gorm:"type:text" json:"notes,omitempty"`
}

// TaskLog is an append-only audit row for a task lifecycle transition.
type TaskLog struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	TaskID     uint      `gorm:"not null;index" json:"task_id"`
	Action     string    `gorm:"size:50;not null" json:"action"`
	Details    string    `gorm:"type:text" json:"details,omitempty"`
	InstanceID string    `gorm:"size:255" json:"instance_id,omitempty"`
	Timestamp  time.Time `gorm:"autoCreateTime" json:"timestamp"`
}

type Instance struct {
	ID            string         `gorm:"primaryKey;size:255" json:"id"`
	Name          string         `gorm:"size:255" json:"name"`
	LastSeen      time.Time      `gorm:"index" json:"last_seen"`
	CurrentTaskID *uint          `json:"current_task_id,omitempty"`
	Status        InstanceStatus `gorm:"size:20;not null;default:'idle'" json:"status"`
}

type UpdateRecord struct {
	ID            uint         `gorm:"primaryKey" json:"id"`
	ContainerName string       `gorm:"size:255;not null;index" json:"container_name"`
	Host          string       `gorm:"size:255;not null" json:"host"`
	Status        UpdateStatus `gorm:"size:20;not null;default:'pending'" json:"status"`
	Actor         string       `gorm:"size:255" json:"actor"`
	CreatedAt     time.Time    `gorm:"index" json:"created_at"`
	CompletedAt   *time.Time   `json:"completed_at,omitempty"`
}

func (UpdateRecord) TableName() string { return "update_history" }

type DownloadRecord struct {
	ID                 string     `gorm:"primaryKey;size:255" json:"id"`
	MediaKind          string     `gorm:"size:20;not null" json:"media_kind"`
	Title              string     `gorm:"type:text" json:"title"`
	NotifiedMilestones Milestones `gorm:"type:text;not null" json:"notified_milestones"`
	StartedAt          time.Time  `json:"started_at"`
	CompletedAt        *time.Time `gorm:"index" json:"completed_at,omitempty"`
}

// JobState persists the last calendar day a daily job fired so a restart
// close to the trigger time does not fire it twice.
type JobState struct {
	Name        string    `gorm:"primaryKey;size:100" json:"name"`
	LastFiredOn string    `gorm:"size:10" json:"last_fired_on"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ==================== VALUE TYPES ====================

// DownloadItem identifies a queue entry in one of the media managers.
type DownloadItem struct {
	ID        string
	MediaKind string
	Title     string
}

// NewDownloadItem builds the store key for a queue entry. Queue ids are only
// unique per media manager, so the kind prefixes the id.
func NewDownloadItem(kind string, queueID int, title string) DownloadItem {
	return DownloadItem{
		ID:        fmt.Sprintf("%s_%d", kind, queueID),
		MediaKind: kind,
		Title:     title,
	}
}

// QueueItem is a download reported by a media manager queue.
type QueueItem struct {
	ID             int             `json:"id"`
	Title          string          `json:"title"`
	Size           float64         `json:"size"`
	SizeLeft       float64         `json:"sizeleft"`
	Status         string          `json:"status"`
	StatusMessages []StatusMessage `json:"statusMessages"`
}

type StatusMessage struct {
	Title    string   `json:"title"`
	Messages []string `json:"messages"`
}

// Percent returns completion in the range 0..100.
func (q QueueItem) Percent() float64 {
	if q.Size <= 0 {
		return 0
	}
	p := (q.Size - q.SizeLeft) / q.Size * 100
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// Failed reports whether the manager flagged the download as broken.
func (q QueueItem) Failed() bool {
	switch strings.ToLower(q.Status) {
	case "failed", "warning":
		return true
	}
	return false
}

// TaskCounts is the per-status breakdown of the queue.
type TaskCounts map[TaskStatus]int64

func (c TaskCounts) Total() int64 {
	var n int64
	for _, v := range c {
		n += v
	}
	return n
}

// ParsePriority accepts high, medium or low in any case. Empty means medium.
func ParsePriority(s string) (TaskPriority, error) {
	if s == "" {
		return TaskPriorityMedium, nil
	}
	p := TaskPriority(strings.ToLower(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidPriority, s)
	}
	return p, nil
}
