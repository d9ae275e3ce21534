package jobstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var ErrJobNotFound = errors.New("job not found")

const (
	fireTimesKey = "scheduler:firetimes"
	jobKeyPrefix = "scheduler:job:"
)

// Job is a registered callback job. Jobs are keyed by name, so registering
// the same name twice overwrites instead of duplicating.
type Job struct {
	Name        string          `json:"name"`
	Schedule    string          `json:"schedule"`
	CallbackURL string          `json:"callback_url"`
	Data        json.RawMessage `json:"data,omitempty"`
	Failures    int             `json:"failures"`
}

// Store keeps jobs in Redis: a sorted set ordered by next fire time plus a
// hash per job with its definition. Survives scheduler restarts.
type Store struct {
	rdb    *redis.Client
	logger *zap.Logger
}

func NewStore(rdb *redis.Client, logger *zap.Logger) *Store {
	return &Store{rdb: rdb, logger: logger}
}

func jobKey(name string) string {
	return jobKeyPrefix + name
}

// Upsert registers or replaces the named job and queues its next fire time.
func (s *Store) Upsert(ctx context.Context, job Job, fireAt time.Time) error {
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, jobKey(job.Name), map[string]interface{}{
		"schedule":     job.Schedule,
		"callback_url": job.CallbackURL,
		"data":         string(job.Data),
		"failures":     0,
	})
	pipe.ZAdd(ctx, fireTimesKey, redis.Z{
		Score:  float64(fireAt.Unix()),
		Member: job.Name,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.Error("Failed to upsert job", zap.Error(err), zap.String("job", job.Name))
		return err
	}
	s.logger.Info("Job registered",
		zap.String("job", job.Name),
		zap.String("schedule", job.Schedule),
		zap.Time("fire_at", fireAt),
	)
	return nil
}

// Delete removes the named job. Reports whether it existed.
func (s *Store) Delete(ctx context.Context, name string) (bool, error) {
	pipe := s.rdb.TxPipeline()
	zrem := pipe.ZRem(ctx, fireTimesKey, name)
	pipe.Del(ctx, jobKey(name))
	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.Error("Failed to delete job", zap.Error(err), zap.String("job", name))
		return false, err
	}
	existed := zrem.Val() > 0
	if existed {
		s.logger.Info("Job deleted", zap.String("job", name))
	}
	return existed, nil
}

func (s *Store) Get(ctx context.Context, name string) (*Job, error) {
	fields, err := s.rdb.HGetAll(ctx, jobKey(name)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, ErrJobNotFound
	}

	job := &Job{
		Name:        name,
		Schedule:    fields["schedule"],
		CallbackURL: fields["callback_url"],
	}
	if data := fields["data"]; data != "" {
		job.Data = json.RawMessage(data)
	}
	if failures := fields["failures"]; failures != "" {
		fmt.Sscanf(failures, "%d", &job.Failures)
	}
	return job, nil
}

// Due returns jobs whose fire time is at or before now.
func (s *Store) Due(ctx context.Context, now time.Time, limit int64) ([]*Job, error) {
	names, err := s.rdb.ZRangeByScore(ctx, fireTimesKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   fmt.Sprintf("%d", now.Unix()),
		Count: limit,
	}).Result()
	if err != nil {
		s.logger.Error("Failed to query due jobs", zap.Error(err))
		return nil, err
	}

	jobs := make([]*Job, 0, len(names))
	for _, name := range names {
		job, err := s.Get(ctx, name)
		if err != nil {
			if errors.Is(err, ErrJobNotFound) {
				// Dangling entry, clean it up.
				s.rdb.ZRem(ctx, fireTimesKey, name)
				continue
			}
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// Reschedule moves the job's fire time, keeping its definition.
func (s *Store) Reschedule(ctx context.Context, name string, fireAt time.Time) error {
	if err := s.rdb.ZAdd(ctx, fireTimesKey, redis.Z{
		Score:  float64(fireAt.Unix()),
		Member: name,
	}).Err(); err != nil {
		s.logger.Error("Failed to reschedule job", zap.Error(err), zap.String("job", name))
		return err
	}
	return nil
}

// MarkFailure bumps the job's failure counter and returns the new value.
func (s *Store) MarkFailure(ctx context.Context, name string) (int64, error) {
	return s.rdb.HIncrBy(ctx, jobKey(name), "failures", 1).Result()
}
