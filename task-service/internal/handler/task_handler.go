package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"taskloop/task-service/internal/repository"
	"taskloop/task-service/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type TaskHandler struct {
	svc    *service.TaskService
	logger *zap.Logger
}

func NewTaskHandler(svc *service.TaskService, logger *zap.Logger) *TaskHandler {
	return &TaskHandler{svc: svc, logger: logger}
}

func authedUserID(c *gin.Context) int64 {
	return c.GetInt64("user_id")
}

func taskIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid task id"})
		return 0, false
	}
	return id, true
}

func (h *TaskHandler) writeServiceError(c *gin.Context, op string, err error) {
	switch {
	case errors.Is(err, repository.ErrTaskNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
	case errors.Is(err, service.ErrTitleRequired),
		errors.Is(err, service.ErrInvalidPriority),
		errors.Is(err, service.ErrRecurrenceRuleRequired),
		errors.Is(err, service.ErrDueDateRequired):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		h.logger.Error(op+": internal error", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func (h *TaskHandler) CreateTask(c *gin.Context) {
	var in service.CreateTaskInput
	if err := c.ShouldBindJSON(&in); err != nil {
		h.logger.Warn("CreateTask: invalid request body", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	in.UserID = authedUserID(c)
	// Series plumbing fields are internal-only.
	in.ParentTaskID = nil
	in.RecurrenceRuleID = nil

	h.logger.Info("CreateTask request received",
		zap.Int64("user_id", in.UserID),
		zap.String("title", in.Title),
		zap.Bool("is_recurring", in.IsRecurring),
	)

	task, _, err := h.svc.CreateTask(c.Request.Context(), in)
	if err != nil {
		h.writeServiceError(c, "CreateTask", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"task": task})
}

func (h *TaskHandler) ListTasks(c *gin.Context) {
	userID := authedUserID(c)
	tasks, err := h.svc.ListTasks(c.Request.Context(), userID)
	if err != nil {
		h.writeServiceError(c, "ListTasks", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks})
}

func (h *TaskHandler) GetTask(c *gin.Context) {
	id, ok := taskIDParam(c)
	if !ok {
		return
	}
	task, err := h.svc.GetTask(c.Request.Context(), id)
	if err != nil {
		h.writeServiceError(c, "GetTask", err)
		return
	}
	if task.UserID != authedUserID(c) {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"task": task})
}

func (h *TaskHandler) UpdateTask(c *gin.Context) {
	id, ok := taskIDParam(c)
	if !ok {
		return
	}

	// Decode twice: once into the typed input, once into a raw map so an
	// explicit "due_date": null clears the date while an absent key leaves
	// it untouched.
	var raw map[string]json.RawMessage
	if err := c.ShouldBindJSON(&raw); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	var in service.UpdateTaskInput
	body, _ := json.Marshal(raw)
	if err := json.Unmarshal(body, &in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	_, in.DueDateSet = raw["due_date"]

	task, err := h.svc.UpdateTask(c.Request.Context(), id, in)
	if err != nil {
		h.writeServiceError(c, "UpdateTask", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"task": task})
}

func (h *TaskHandler) CompleteTask(c *gin.Context) {
	id, ok := taskIDParam(c)
	if !ok {
		return
	}
	h.logger.Info("CompleteTask request received",
		zap.Int64("task_id", id),
		zap.String("client_ip", c.ClientIP()),
	)

	task, err := h.svc.CompleteTask(c.Request.Context(), id)
	if err != nil {
		h.writeServiceError(c, "CompleteTask", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"task": task})
}

func (h *TaskHandler) ReopenTask(c *gin.Context) {
	id, ok := taskIDParam(c)
	if !ok {
		return
	}
	task, err := h.svc.ReopenTask(c.Request.Context(), id)
	if err != nil {
		h.writeServiceError(c, "ReopenTask", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"task": task})
}

func (h *TaskHandler) DeleteTask(c *gin.Context) {
	id, ok := taskIDParam(c)
	if !ok {
		return
	}
	if err := h.svc.DeleteTask(c.Request.Context(), id); err != nil {
		h.writeServiceError(c, "DeleteTask", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (h *TaskHandler) DeleteSeries(c *gin.Context) {
	id, ok := taskIDParam(c)
	if !ok {
		return
	}
	if err := h.svc.DeleteSeries(c.Request.Context(), id); err != nil {
		h.writeServiceError(c, "DeleteSeries", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}
