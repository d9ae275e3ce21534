package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"taskloop/pkg/circuitbreaker"

	"go.uber.org/zap"
)

var ErrRuleNotFound = errors.New("recurrence rule not found")

// Rule mirrors the task service's recurrence rule representation.
type Rule struct {
	ID                   int64      `json:"id"`
	UserID               int64      `json:"user_id"`
	Frequency            string     `json:"frequency"`
	Interval             int        `json:"interval"`
	EndDate              *time.Time `json:"end_date,omitempty"`
	OccurrenceCount      *int       `json:"occurrence_count,omitempty"`
	CurrentCount         int        `json:"current_count"`
	LastGeneratedDueDate *time.Time `json:"last_generated_due_date,omitempty"`
}

type CreateTaskRequest struct {
	UserID           int64      `json:"user_id"`
	Title            string     `json:"title"`
	Description      string     `json:"description"`
	Priority         string     `json:"priority"`
	DueDate          *time.Time `json:"due_date,omitempty"`
	IsRecurring      bool       `json:"is_recurring"`
	ParentTaskID     *int64     `json:"parent_task_id,omitempty"`
	RecurrenceRuleID *int64     `json:"recurrence_rule_id,omitempty"`
}

type CreatedTask struct {
	ID int64 `json:"id"`
}

// TaskAPI is the slice of the task service's internal API the coordinator
// needs to generate next instances.
type TaskAPI interface {
	GetRule(ctx context.Context, ruleID int64) (*Rule, error)
	CreateTask(ctx context.Context, req CreateTaskRequest) (*CreatedTask, bool, error)
	AdvanceRule(ctx context.Context, ruleID int64, generatedDueDate time.Time) error
}

// HTTPTaskAPI talks to the task service over its internal HTTP API, behind
// a circuit breaker so a struggling task service sheds load instead of
// accumulating blocked consumers.
type HTTPTaskAPI struct {
	baseURL    string
	httpClient *http.Client
	breaker    *circuitbreaker.CircuitBreaker
	logger     *zap.Logger
}

func NewHTTPTaskAPI(baseURL string, logger *zap.Logger) *HTTPTaskAPI {
	return &HTTPTaskAPI{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		breaker: circuitbreaker.NewCircuitBreaker(circuitbreaker.DefaultConfig()),
		logger:  logger,
	}
}

func (c *HTTPTaskAPI) GetRule(ctx context.Context, ruleID int64) (*Rule, error) {
	var rule *Rule
	err := c.breaker.Execute(func() error {
		url := fmt.Sprintf("%s/internal/recurrence-rules/%d", c.baseURL, ruleID)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("failed to call task service: %w", err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK:
			var body struct {
				Rule Rule `json:"rule"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				return err
			}
			rule = &body.Rule
			return nil
		case resp.StatusCode == http.StatusNotFound:
			return ErrRuleNotFound
		case resp.StatusCode >= 500:
			return fmt.Errorf("task service 5xx: %d", resp.StatusCode)
		default:
			return fmt.Errorf("task service error: %d", resp.StatusCode)
		}
	})
	if err != nil {
		return nil, err
	}
	return rule, nil
}

func (c *HTTPTaskAPI) CreateTask(ctx context.Context, in CreateTaskRequest) (*CreatedTask, bool, error) {
	var task *CreatedTask
	var created bool
	err := c.breaker.Execute(func() error {
		payload, err := json.Marshal(in)
		if err != nil {
			return err
		}
		url := c.baseURL + "/internal/tasks"
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("failed to call task service: %w", err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusCreated || resp.StatusCode == http.StatusOK:
			var body struct {
				Task    CreatedTask `json:"task"`
				Created bool        `json:"created"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				return err
			}
			task = &body.Task
			created = body.Created
			return nil
		case resp.StatusCode >= 500:
			return fmt.Errorf("task service 5xx: %d", resp.StatusCode)
		default:
			return fmt.Errorf("task service error: %d", resp.StatusCode)
		}
	})
	if err != nil {
		return nil, false, err
	}
	return task, created, nil
}

func (c *HTTPTaskAPI) AdvanceRule(ctx context.Context, ruleID int64, generatedDueDate time.Time) error {
	return c.breaker.Execute(func() error {
		payload, err := json.Marshal(map[string]time.Time{
			"generated_due_date": generatedDueDate,
		})
		if err != nil {
			return err
		}
		url := fmt.Sprintf("%s/internal/recurrence-rules/%d/advance", c.baseURL, ruleID)
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("failed to call task service: %w", err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK:
			return nil
		case resp.StatusCode == http.StatusNotFound:
			return ErrRuleNotFound
		case resp.StatusCode >= 500:
			return fmt.Errorf("task service 5xx: %d", resp.StatusCode)
		default:
			return fmt.Errorf("task service error: %d", resp.StatusCode)
		}
	})
}
