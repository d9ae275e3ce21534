package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"taskloop/task-service/internal/repository"
	"taskloop/task-service/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// InternalHandler serves the service-to-service API: scheduler job callbacks
// and the task/rule endpoints the recurring service drives generation
// through. Not exposed through the gateway and not JWT-authenticated.
type InternalHandler struct {
	svc    *service.TaskService
	logger *zap.Logger
}

func NewInternalHandler(svc *service.TaskService, logger *zap.Logger) *InternalHandler {
	return &InternalHandler{svc: svc, logger: logger}
}

type triggerReminderRequest struct {
	TaskID     int64 `json:"task_id"`
	ReminderID int64 `json:"reminder_id"`
	UserID     int64 `json:"user_id"`
}

// TriggerReminder handles the scheduler's reminder job callback.
func (h *InternalHandler) TriggerReminder(c *gin.Context) {
	var req triggerReminderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	h.logger.Info("Reminder trigger callback received",
		zap.Int64("reminder_id", req.ReminderID),
		zap.Int64("task_id", req.TaskID),
	)

	if err := h.svc.TriggerReminder(c.Request.Context(), req.ReminderID); err != nil {
		h.logger.Error("TriggerReminder failed", zap.Error(err), zap.Int64("reminder_id", req.ReminderID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to trigger reminder"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type generateRecurringRequest struct {
	TaskID int64 `json:"task_id"`
	UserID int64 `json:"user_id"`
}

// GenerateRecurring handles the scheduler's due-date safety-net callback and
// direct generation requests.
func (h *InternalHandler) GenerateRecurring(c *gin.Context) {
	var req generateRecurringRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	h.logger.Info("Recurring generation callback received", zap.Int64("task_id", req.TaskID))

	status, newTaskID, err := h.svc.GenerateNextInstance(c.Request.Context(), req.TaskID)
	if err != nil {
		h.logger.Error("GenerateRecurring failed", zap.Error(err), zap.Int64("task_id", req.TaskID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate next instance"})
		return
	}

	resp := gin.H{"status": status}
	if newTaskID != nil {
		resp["new_task_id"] = *newTaskID
	}
	c.JSON(http.StatusOK, resp)
}

// GetTask returns a task without ownership checks, for internal callers.
func (h *InternalHandler) GetTask(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid task id"})
		return
	}
	task, getErr := h.svc.GetTask(c.Request.Context(), id)
	if getErr != nil {
		if errors.Is(getErr, repository.ErrTaskNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"task": task})
}

// CreateTask creates a task on behalf of another service. Unlike the public
// endpoint it honors user_id, parent_task_id and recurrence_rule_id from the
// body, and reports whether the create was deduplicated.
func (h *InternalHandler) CreateTask(c *gin.Context) {
	var in service.CreateTaskInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	task, created, err := h.svc.CreateTask(c.Request.Context(), in)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrTitleRequired),
			errors.Is(err, service.ErrInvalidPriority),
			errors.Is(err, service.ErrRecurrenceRuleRequired),
			errors.Is(err, service.ErrDueDateRequired):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			h.logger.Error("Internal CreateTask failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		}
		return
	}

	status := http.StatusCreated
	if !created {
		status = http.StatusOK
	}
	c.JSON(status, gin.H{"task": task, "created": created})
}

// GetRule returns a recurrence rule for internal callers.
func (h *InternalHandler) GetRule(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid rule id"})
		return
	}
	rule, getErr := h.svc.GetRule(c.Request.Context(), id)
	if getErr != nil {
		if errors.Is(getErr, repository.ErrRuleNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "recurrence rule not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"rule": rule})
}

type advanceRuleRequest struct {
	GeneratedDueDate time.Time `json:"generated_due_date"`
}

// AdvanceRule bumps a rule's occurrence counter. Idempotent per due date.
func (h *InternalHandler) AdvanceRule(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid rule id"})
		return
	}
	var req advanceRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.GeneratedDueDate.IsZero() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "generated_due_date required"})
		return
	}

	rule, advErr := h.svc.AdvanceRule(c.Request.Context(), id, req.GeneratedDueDate)
	if advErr != nil {
		if errors.Is(advErr, repository.ErrRuleNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "recurrence rule not found"})
			return
		}
		h.logger.Error("AdvanceRule failed", zap.Error(advErr), zap.Int64("rule_id", id))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"rule": rule})
}
