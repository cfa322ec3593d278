package server

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/voyagen/ptepg/internal/cache"
	"github.com/voyagen/ptepg/internal/service"
)

// Runner is the part of service.Ingester the server drives.
type Runner interface {
	Start(ctx context.Context, windowDays int) error
	LastReport() *service.Report
}

// LocalTrigger starts ingestion in a background goroutine of this process.
type LocalTrigger struct {
	base   context.Context
	runner Runner
}

// NewLocalTrigger returns a trigger whose runs are bound to base, not to the
// request that started them.
func NewLocalTrigger(base context.Context, runner Runner) *LocalTrigger {
	return &LocalTrigger{base: base, runner: runner}
}

// Trigger implements Trigger. The runner's own lock decides whether a run is underway,
// so scheduled runs conflict with triggered ones.
func (t *LocalTrigger) Trigger(_ context.Context, windowDays int) error {
	return t.runner.Start(t.base, windowDays)
}

// LastReport implements ReportSource from the runner's memory.
func (t *LocalTrigger) LastReport(context.Context) (*service.Report, error) {
	return t.runner.LastReport(), nil
}

// QueueTrigger pushes run requests onto the Redis queue for a worker to pick up.
type QueueTrigger struct {
	rds *cache.Redis
	now func() time.Time
}

// NewQueueTrigger returns a trigger backed by cache.RunQueue.
func NewQueueTrigger(rds *cache.Redis) *QueueTrigger {
	return &QueueTrigger{rds: rds, now: time.Now}
}

// Trigger implements Trigger. A held run lock is reported as a conflict.
func (t *QueueTrigger) Trigger(ctx context.Context, windowDays int) error {
	if cache.IsLocked(ctx, t.rds, cache.RunLockKey) {
		return service.ErrRunInProgress
	}
	return cache.Enqueue(ctx, t.rds, cache.RunQueue, cache.RunRequest{
		WindowDays:  windowDays,
		RequestedAt: t.now().UTC(),
		Source:      "api",
	})
}

// RedisReports reads the last report cached by any worker.
type RedisReports struct {
	rds *cache.Redis
}

// NewRedisReports returns a ReportSource reading cache.LastReportKey.
func NewRedisReports(rds *cache.Redis) *RedisReports {
	return &RedisReports{rds: rds}
}

// LastReport implements ReportSource.
func (s *RedisReports) LastReport(ctx context.Context) (*service.Report, error) {
	report, err := cache.Get[service.Report](ctx, s.rds, cache.LastReportKey)
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &report, nil
}
