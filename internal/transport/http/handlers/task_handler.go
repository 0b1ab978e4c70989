package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sentinel/console/internal/core/ports"
	"github.com/sentinel/console/internal/infrastructure/logger"
	"github.com/sentinel/console/internal/transport/http/dto"
)

const listLimit = 50

type TaskHandler struct {
	service      ports.TaskQueue
	activeWindow time.Duration
	logger       *logger.Logger
}

func NewTaskHandler(service ports.TaskQueue, activeWindow time.Duration, logger *logger.Logger) *TaskHandler {
	return &TaskHandler{service: service, activeWindow: activeWindow, logger: logger}
}

func (h *TaskHandler) ListPending(c *fiber.Ctx) error {
	tasks, err := h.service.Pending(c.Context(), c.QueryInt("limit", listLimit))
	if err != nil {
		h.logger.Errorw("tasks_list_failed", "error", err)
		return writeError(c, err)
	}
	return c.JSON(dto.TasksResponse{Tasks: tasks})
}

func (h *TaskHandler) ListCompleted(c *fiber.Ctx) error {
	tasks, err := h.service.Completed(c.Context(), c.QueryInt("limit", listLimit))
	if err != nil {
		h.logger.Errorw("tasks_completed_failed", "error", err)
		return writeError(c, err)
	}
	return c.JSON(dto.TasksResponse{Tasks: tasks})
}

func (h *TaskHandler) CreateTask(c *fiber.Ctx) error {
	var req dto.CreateTaskRequest
	if err := c.BodyParser(&req); err != nil {
		h.logger.Warnw("task_create_body_parse_failed", "error", err)
		return badRequest(c, "invalid request body")
	}
	if errors := req.Validate(); len(errors) > 0 {
		h.logger.Warnw("task_create_validation_failed", "details", errors)
		return badRequest(c, "validation failed", errors...)
	}

	task, err := h.service.Submit(c.Context(), req.Description, req.Priority, req.SubmittedBy)
	if err != nil {
		h.logger.Errorw("task_create_failed", "error", err)
		return writeError(c, err)
	}

	h.logger.Infow("task_create_success", "id", task.ID, "priority", task.Priority)
	return c.Status(fiber.StatusCreated).JSON(dto.CreateTaskResponse{TaskID: task.ID, Status: "created"})
}

func (h *TaskHandler) NextTask(c *fiber.Ctx) error {
	task, err := h.service.Next(c.Context())
	if err != nil {
		h.logger.Errorw("task_next_failed", "error", err)
		return writeError(c, err)
	}
	if task == nil {
		return c.JSON(dto.NextTaskResponse{Message: "no pending tasks"})
	}
	return c.JSON(dto.NextTaskResponse{Task: task})
}

func (h *TaskHandler) GetTask(c *fiber.Ctx) error {
	id, ok := parseID(c)
	if !ok {
		return badRequest(c, "invalid task id")
	}
	task, err := h.service.Get(c.Context(), id)
	if err != nil {
		return writeError(c, err)
	}
	logs, err := h.service.Logs(c.Context(), id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(dto.TaskDetailResponse{Task: task, Logs: logs})
}

func (h *TaskHandler) ClaimTask(c *fiber.Ctx) error {
	id, ok := parseID(c)
	if !ok {
		return badRequest(c, "invalid task id")
	}
	var req dto.ClaimTaskRequest
	if err := c.BodyParser(&req); err != nil || req.InstanceID == "" {
		return badRequest(c, "instance_id required")
	}

	claimed, err := h.service.Claim(c.Context(), id, req.InstanceID, req.InstanceName)
	if err != nil {
		h.logger.Errorw("task_claim_failed", "id", id, "error", err)
		return writeError(c, err)
	}
	if !claimed {
		h.logger.Infow("task_claim_conflict", "id", id, "instance_id", req.InstanceID)
		return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Error: "task not available"})
	}
	h.logger.Infow("task_claim_success", "id", id, "instance_id", req.InstanceID)
	return c.JSON(dto.StatusResponse{Status: "claimed"})
}

func (h *TaskHandler) CompleteTask(c *fiber.Ctx) error {
	id, ok := parseID(c)
	if !ok {
		return badRequest(c, "invalid task id")
	}
	var req dto.CompleteTaskRequest
	if err := c.BodyParser(&req); err != nil || req.InstanceID == "" {
		return badRequest(c, "instance_id required")
	}

	done, err := h.service.Complete(c.Context(), id, req.InstanceID, req.Notes)
	if err != nil {
		h.logger.Errorw("task_complete_failed", "id", id, "error", err)
		return writeError(c, err)
	}
	if !done {
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Error: "task not found or not claimed by this instance"})
	}
	h.logger.Infow("task_complete_success", "id", id, "instance_id", req.InstanceID)
	return c.JSON(dto.StatusResponse{Status: "completed"})
}

func (h *TaskHandler) CancelTask(c *fiber.Ctx) error {
	id, ok := parseID(c)
	if !ok {
		return badRequest(c, "invalid task id")
	}
	cancelled, err := h.service.Cancel(c.Context(), id)
	if err != nil {
		return writeError(c, err)
	}
	if !cancelled {
		return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Error: "only pending tasks can be cancelled"})
	}
	return c.JSON(dto.StatusResponse{Status: "cancelled"})
}

func (h *TaskHandler) ListInstances(c *fiber.Ctx) error {
	instances, err := h.service.ActiveInstances(c.Context(), h.activeWindow)
	if err != nil {
		h.logger.Errorw("instances_list_failed", "error", err)
		return writeError(c, err)
	}
	return c.JSON(dto.InstancesResponse{Instances: instances})
}

func (h *TaskHandler) Heartbeat(c *fiber.Ctx) error {
	var req dto.HeartbeatRequest
	if err := c.BodyParser(&req); err != nil || req.InstanceID == "" {
		return badRequest(c, "instance_id required")
	}
	if err := h.service.Heartbeat(c.Context(), req.InstanceID, req.InstanceName, req.GetStatus(), req.CurrentTaskID); err != nil {
		h.logger.Errorw("instance_heartbeat_failed", "instance_id", req.InstanceID, "error", err)
		return writeError(c, err)
	}
	return c.JSON(dto.StatusResponse{Status: "ok"})
}

func (h *TaskHandler) Stats(c *fiber.Ctx) error {
	stats, err := h.service.Stats(c.Context())
	if err != nil {
		return writeError(c, err)
	}
	instances, err := h.service.ActiveInstances(c.Context(), h.activeWindow)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(dto.StatsResponse{Tasks: stats, Total: stats.Total(), ActiveInstances: len(instances)})
}
