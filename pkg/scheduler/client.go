package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// JobRequest registers a time-triggered callback with the scheduler service.
// Schedule is either an RFC3339 instant (one-shot) or a cron / @every spec
// (recurring). Registration is idempotent per job name: re-registering
// overwrites the existing job instead of duplicating it.
type JobRequest struct {
	Schedule    string          `json:"schedule"`
	CallbackURL string          `json:"callback_url"`
	Data        json.RawMessage `json:"data,omitempty"`
}

// Client talks to the scheduler service's internal job API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 5 * time.Second, // short timeout so callers never hang on the scheduler
		},
	}
}

// ScheduleJob upserts the named job and returns the job id (the name itself).
func (c *Client) ScheduleJob(ctx context.Context, name string, job JobRequest) (string, error) {
	body, err := json.Marshal(job)
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/internal/jobs/%s", c.baseURL, name)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to call scheduler: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return "", fmt.Errorf("scheduler 5xx: %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("scheduler error: %d", resp.StatusCode)
	}

	return name, nil
}

// DeleteJob removes the named job. A missing job is not an error: the job
// may already have fired or been cancelled by a concurrent path.
func (c *Client) DeleteJob(ctx context.Context, name string) error {
	url := fmt.Sprintf("%s/internal/jobs/%s", c.baseURL, name)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call scheduler: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.StatusCode >= 500 {
		return fmt.Errorf("scheduler 5xx: %d", resp.StatusCode)
	}
	return fmt.Errorf("scheduler error: %d", resp.StatusCode)
}
