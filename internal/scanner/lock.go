package scanner

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DeviceLocker grants exclusive ownership of a camera device. Acquire fails
// immediately with ErrCameraBusy when someone else holds it.
type DeviceLocker interface {
	Acquire(ctx context.Context, deviceID string) (release func(), err error)
}

// MemoryLocker is a process-local DeviceLocker.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewMemoryLocker creates an empty locker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]struct{})}
}

func (m *MemoryLocker) Acquire(_ context.Context, deviceID string) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, busy := m.held[deviceID]; busy {
		return nil, ErrCameraBusy
	}
	m.held[deviceID] = struct{}{}
	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.held, deviceID)
			m.mu.Unlock()
		})
	}, nil
}

var (
	refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)
	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)
)

// RedisLocker shares device ownership across API instances. Locks carry a
// TTL and are refreshed while held, so a crashed holder frees the device.
type RedisLocker struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisLocker creates a locker storing keys under prefix.
func NewRedisLocker(client *redis.Client, prefix string, ttl time.Duration, logger *slog.Logger) *RedisLocker {
	if prefix == "" {
		prefix = "qrattend:camera:"
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisLocker{client: client, prefix: prefix, ttl: ttl, logger: logger}
}

func (r *RedisLocker) Acquire(ctx context.Context, deviceID string) (func(), error) {
	key := r.prefix + deviceID
	token := uuid.NewString()
	ok, err := r.client.SetNX(ctx, key, token, r.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire camera lock: %w", err)
	}
	if !ok {
		return nil, ErrCameraBusy
	}

	stop := make(chan struct{})
	go r.refresh(key, token, stop)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := releaseScript.Run(ctx, r.client, []string{key}, token).Err(); err != nil {
				r.logger.Warn("release camera lock", "device_id", deviceID, "error", err)
			}
		})
	}, nil
}

func (r *RedisLocker) refresh(key, token string, stop <-chan struct{}) {
	ticker := time.NewTicker(r.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			n, err := refreshScript.Run(ctx, r.client, []string{key}, token, r.ttl.Milliseconds()).Int()
			cancel()
			if err != nil {
				r.logger.Warn("refresh camera lock", "key", key, "error", err)
				continue
			}
			if n == 0 {
				r.logger.Warn("camera lock lost", "key", key)
				return
			}
		}
	}
}
