// Package app assembles storage, queue and clock backends from config for
// the binaries.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"qrattend/internal/attendance"
	"qrattend/internal/config"
	"qrattend/internal/queue"
	"qrattend/internal/roster"
	"qrattend/internal/store"
)

// Backends are the shared stores every binary runs against.
type Backends struct {
	DB       *store.DB
	Redis    *store.Redis
	NATS     *nats.Conn
	Students roster.Repository
	Records  attendance.Repository
	Queue    queue.Queue
	Clock    attendance.Clock

	// CascadeDelete removes a student's attendance when the store has no
	// foreign key to do it. Nil for Postgres.
	CascadeDelete func(studentID string)
}

// Open connects the backends cfg selects. With STORE_BACKEND=postgres the
// schema is migrated before returning.
func Open(ctx context.Context, cfg config.App, logger *slog.Logger) (*Backends, error) {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Backends{Clock: attendance.Clock{Location: cfg.Location()}}

	if cfg.QueueBackend == "redis" || cfg.DeviceLockBackend == "redis" || cfg.StoreBackend == "postgres" {
		b.Redis = store.NewRedis(cfg.RedisAddr)
	}

	switch cfg.StoreBackend {
	case "memory":
		records := attendance.NewMemory()
		b.Students = roster.NewMemory()
		b.Records = records
		b.CascadeDelete = records.DeleteStudent
	case "postgres", "":
		db, err := store.NewDB(ctx, cfg.DatabaseURL)
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		b.DB = db
		if err := store.Migrate(ctx, db.Client); err != nil {
			b.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		b.Students = roster.NewPostgres(db.Client)
		b.Records = attendance.NewPostgres(db.Client)
	default:
		return nil, fmt.Errorf("unknown STORE_BACKEND %q", cfg.StoreBackend)
	}

	switch cfg.QueueBackend {
	case "memory":
		b.Queue = queue.NewInMemory(64)
	case "nats":
		conn, err := nats.Connect(cfg.NATSURL, nats.Name("qrattend"), nats.MaxReconnects(-1))
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("connect nats: %w", err)
		}
		b.NATS = conn
		b.Queue = queue.NewNATSQueue(conn, cfg.QueueSubject, "qrattend-workers")
	case "redis", "":
		if b.Redis == nil {
			b.Redis = store.NewRedis(cfg.RedisAddr)
		}
		b.Queue = queue.NewRedisQueue(b.Redis.Client, "")
	default:
		b.Close()
		return nil, fmt.Errorf("unknown QUEUE_BACKEND %q", cfg.QueueBackend)
	}

	logger.Info("backends ready", "store", cfg.StoreBackend, "queue", cfg.QueueBackend)
	return b, nil
}

// Health lists the reachability checks for the connected backends.
func (b *Backends) Health() map[string]func(context.Context) bool {
	checks := make(map[string]func(context.Context) bool)
	if b.DB != nil {
		checks["db"] = b.DB.Healthy
	}
	if b.Redis != nil {
		checks["redis"] = b.Redis.Healthy
	}
	if b.NATS != nil {
		conn := b.NATS
		checks["nats"] = func(context.Context) bool { return conn.IsConnected() }
	}
	return checks
}

// Close releases every connection. Safe on a partially opened value.
func (b *Backends) Close() {
	if b.NATS != nil {
		_ = b.NATS.Drain()
	}
	if b.DB != nil {
		_ = b.DB.Close()
	}
	if b.Redis != nil {
		_ = b.Redis.Close()
	}
}
