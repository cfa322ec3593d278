package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

// RunRequest asks a worker to perform one ingestion run.
type RunRequest struct {
	WindowDays  int       `json:"window_days,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
	Source      string    `json:"source"`
}

// RunQueue is the Redis list key used for queued run requests.
const RunQueue = KeyPrefix + "queue:runs"

// Enqueue pushes a request onto the left side of a Redis list.
func Enqueue(ctx context.Context, r *Redis, queue string, req RunRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("queue marshal: %w", err)
	}
	return r.client.LPush(ctx, queue, data).Err()
}

// Dequeue blocks until a request is available on the right side of the list
// or the timeout expires. On timeout or shutdown (nil, nil) is returned so the
// caller can loop and check ctx.
func Dequeue(ctx context.Context, r *Redis, queue string, timeout time.Duration) (*RunRequest, error) {
	result, err := r.client.BRPop(ctx, timeout, queue).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) || ctx.Err() != nil {
			return nil, nil
		}
		return nil, fmt.Errorf("queue dequeue: %w", err)
	}
	// BRPop returns [key, value].
	if len(result) < 2 {
		return nil, nil
	}
	var req RunRequest
	if err := json.Unmarshal([]byte(result[1]), &req); err != nil {
		return nil, fmt.Errorf("queue unmarshal: %w", err)
	}
	return &req, nil
}
