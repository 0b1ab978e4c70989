package dto

import (
	"strings"

	"github.com/sentinel/console/internal/domain"
)

type ErrorResponse struct {
	Error   string   `json:"error"`
	Details []string `json:"details,omitempty"`
}

type StatusResponse struct {
	Status string `json:"status"`
}

type CreateTaskRequest struct {
	Description string `json:"description"`
	Priority    string `json:"priority"`
	SubmittedBy string `json:"submitted_by"`
}

func (r *CreateTaskRequest) Validate() []string {
	var errors []string
	if strings.TrimSpace(r.Description) == "" {
		errors = append(errors, "description is required")
	}
	if _, err := domain.ParsePriority(r.Priority); err != nil {
		errors = append(errors, "priority must be one of high, medium, low")
	}
	return errors
}

type CreateTaskResponse struct {
	TaskID uint   `json:"task_id"`
	Status string `json:"status"`
}

type ClaimTaskRequest struct {
	InstanceID   string `json:"instance_id"`
	InstanceName string `json:"instance_name"`
}

type CompleteTaskRequest struct {
	InstanceID string `json:"instance_id"`
	Notes      string `json:"notes"`
}

type HeartbeatRequest struct {
	InstanceID    string `json:"instance_id"`
	InstanceName  string `json:"instance_name"`
	Status        string `json:"status"`
	CurrentTaskID *uint  `json:"current_task_id,omitempty"`
}

func (r *HeartbeatRequest) GetStatus() domain.InstanceStatus {
	switch s := domain.InstanceStatus(strings.ToLower(r.Status)); s {
	case domain.InstanceStatusWorking, domain.InstanceStatusBusy:
		return s
	}
	return domain.InstanceStatusIdle
}

type TasksResponse struct {
	Tasks []domain.Task `json:"tasks"`
}

type NextTaskResponse struct {
	Task    *domain.Task `json:"task"`
	Message string       `json:"message,omitempty"`
}

type TaskDetailResponse struct {
	Task *domain.Task     `json:"task"`
	Logs []domain.TaskLog `json:"logs"`
}

type InstancesResponse struct {
	Instances []domain.Instance `json:"instances"`
}

type StatsResponse struct {
	Tasks           map[domain.TaskStatus]int64 `json:"tasks"`
	Total           int64                       `json:"total"`
	ActiveInstances int                         `json:"active_instances"`
}

type HealthResponse struct {
	Status string `json:"status"`
	Ready  bool   `json:"ready"`
	Store  string `json:"store"`
}
