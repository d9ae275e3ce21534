package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"taskloop/scheduler-service/internal/jobstore"
	"taskloop/scheduler-service/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var timeNow = time.Now

// JobStore is the slice of the job store the HTTP handlers need.
// *jobstore.Store satisfies it.
type JobStore interface {
	Upsert(ctx context.Context, job jobstore.Job, fireAt time.Time) error
	Delete(ctx context.Context, name string) (bool, error)
	Get(ctx context.Context, name string) (*jobstore.Job, error)
}

type JobHandler struct {
	store  JobStore
	logger *zap.Logger
}

func NewJobHandler(store JobStore, logger *zap.Logger) *JobHandler {
	return &JobHandler{store: store, logger: logger}
}

type upsertJobRequest struct {
	Schedule    string          `json:"schedule"`
	CallbackURL string          `json:"callback_url"`
	Data        json.RawMessage `json:"data,omitempty"`
}

// UpsertJob registers or replaces a job. Idempotent per name: PUT twice and
// exactly one job exists, with the latest schedule.
func (h *JobHandler) UpsertJob(c *gin.Context) {
	name := c.Param("name")
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "job name required"})
		return
	}

	var req upsertJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.CallbackURL == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "callback_url required"})
		return
	}

	schedule, err := service.ParseSchedule(req.Schedule)
	if err != nil {
		h.logger.Warn("Rejected job with invalid schedule",
			zap.String("job", name),
			zap.String("schedule", req.Schedule),
			zap.Error(err),
		)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	job := jobstore.Job{
		Name:        name,
		Schedule:    req.Schedule,
		CallbackURL: req.CallbackURL,
		Data:        req.Data,
	}
	fireAt := schedule.NextFireTime(timeNow())
	if err := h.store.Upsert(c.Request.Context(), job, fireAt); err != nil {
		h.logger.Error("Failed to store job", zap.Error(err), zap.String("job", name))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store job"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"job_id":         name,
		"next_fire_time": fireAt,
	})
}

// DeleteJob removes a job by name. Deleting an absent job is a success:
// callers cancel best-effort and may race the dispatcher's own cleanup of a
// fired one-shot.
func (h *JobHandler) DeleteJob(c *gin.Context) {
	name := c.Param("name")
	existed, err := h.store.Delete(c.Request.Context(), name)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete job"})
		return
	}
	if !existed {
		h.logger.Info("Delete of absent job", zap.String("job", name))
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// GetJob returns a job's definition.
func (h *JobHandler) GetJob(c *gin.Context) {
	name := c.Param("name")
	job, err := h.store.Get(c.Request.Context(), name)
	if err != nil {
		if errors.Is(err, jobstore.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get job"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"job": job})
}
