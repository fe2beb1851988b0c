package services

import (
	"errors"
	"time"

	"github.com/tsaircargo/whatsapp-gateway/pkg/logger"
	"github.com/tsaircargo/whatsapp-gateway/pkg/redis"
)

// ErrRunInProgress is returned when another scheduler run holds the lease.
var ErrRunInProgress = errors.New("another retry run is in progress")

const runLockKey = "retry:run:lock"

// RunLocker serializes scheduler runs across processes. Per-record claims
// already make concurrent runs safe; the lease only avoids wasted duplicate
// scans when several triggers fire at once.
type RunLocker interface {
	Acquire(runID string, ttl time.Duration) error
	Release(runID string)
}

// RedisRunLocker is a single-key lease on top of SET NX.
type RedisRunLocker struct {
	redis redis.RedisAdapter
}

func NewRedisRunLocker(redisAdapter redis.RedisAdapter) *RedisRunLocker {
	return &RedisRunLocker{redis: redisAdapter}
}

func (l *RedisRunLocker) Acquire(runID string, ttl time.Duration) error {
	ok, err := l.redis.SetNX(runLockKey, []byte(runID), ttl)
	if err != nil {
		// Redis being down must not stop deliveries; the claim keeps runs safe.
		logger.Warn("run lock unavailable, proceeding without lease", "error", err)
		return nil
	}
	if !ok {
		return ErrRunInProgress
	}
	return nil
}

func (l *RedisRunLocker) Release(runID string) {
	holder, err := l.redis.Get(runLockKey)
	if err != nil {
		if !errors.Is(err, redis.NilError) {
			logger.Warn("run lock release failed", "error", err)
		}
		return
	}
	// Only the holder may release; an expired lease may belong to a newer run.
	if string(holder) != runID {
		return
	}
	if err := l.redis.Del(runLockKey); err != nil {
		logger.Warn("run lock release failed", "error", err)
	}
}

// NoopRunLocker is used when no Redis is configured, e.g. one-shot CLI runs.
type NoopRunLocker struct{}

func (NoopRunLocker) Acquire(string, time.Duration) error { return nil }
func (NoopRunLocker) Release(string)                      {}
