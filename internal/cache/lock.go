package cache

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/voyagen/ptepg/internal/logging"
)

// ErrLocked is returned by TryLock when the lock is already held.
var ErrLocked = errors.New("lock is already held")

// RunLockKey guards ingestion runs across processes.
const RunLockKey = KeyPrefix + "lock:run"

var unlockScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	end
	return 0
`)

var refreshScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("pexpire", KEYS[1], ARGV[2])
	end
	return 0
`)

// TryLock attempts to acquire a distributed lock identified by key using SET NX PX.
// While held, the lock's ttl is renewed every ttl/3, so a long run keeps it; the ttl
// only bounds how long a crashed holder can block others. The returned unlock stops
// the renewal and releases the lock.
func TryLock(ctx context.Context, r *Redis, key string, ttl time.Duration) (unlock func(), err error) {
	token := randomToken()

	ok, err := r.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("cache lock %s: %w", key, err)
	}
	if !ok {
		return nil, ErrLocked
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		keepLock(r, key, token, ttl, stop)
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			// Background context: the lock must be released even if the run was cancelled.
			_ = unlockScript.Run(context.Background(), r.client, []string{key}, token).Err()
		})
	}, nil
}

// keepLock pushes the expiry of a held lock forward until stop is closed or the
// lock is lost.
func keepLock(r *Redis, key, token string, ttl time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(max(ttl/3, time.Millisecond))
	defer ticker.Stop()
	lastRefresh := time.Now()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		ctx, cancel := context.WithTimeout(context.Background(), ttl/3+time.Second)
		n, err := refreshScript.Run(ctx, r.client, []string{key}, token, ttl.Milliseconds()).Int64()
		cancel()
		if err != nil {
			if time.Since(lastRefresh) > ttl {
				logging.Warn().Err(err).Str("key", key).Msg("lock expired while refresh kept failing")
				return
			}
			logging.Warn().Err(err).Str("key", key).Msg("lock refresh failed")
			continue
		}
		lastRefresh = time.Now()
		if n == 0 {
			logging.Warn().Str("key", key).Msg("lock lost before release")
			return
		}
	}
}

// IsLocked returns true if the lock key exists.
func IsLocked(ctx context.Context, r *Redis, key string) bool {
	n, _ := r.client.Exists(ctx, key).Result()
	return n > 0
}

func randomToken() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// Locker adapts TryLock to a fixed key and ttl.
type Locker struct {
	r   *Redis
	key string
	ttl time.Duration
}

// NewLocker returns a Locker for key.
func NewLocker(r *Redis, key string, ttl time.Duration) *Locker {
	return &Locker{r: r, key: key, ttl: ttl}
}

// TryLock acquires the lock or returns ErrLocked.
func (l *Locker) TryLock(ctx context.Context) (func(), error) {
	return TryLock(ctx, l.r, l.key, l.ttl)
}
