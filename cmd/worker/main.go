package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"qrattend/internal/app"
	"qrattend/internal/attendance"
	"qrattend/internal/config"
	"qrattend/internal/queue"
	"qrattend/internal/statscache"
)

// Worker consumes attendance.marked messages and keeps the cached daily
// statistics current for every API instance.
func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	if cfg.QueueBackend == "memory" {
		log.Fatal("worker needs a shared queue; set QUEUE_BACKEND to redis or nats")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	backends, err := app.Open(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("backends init failed: %v", err)
	}
	defer backends.Close()

	var redisClient *redis.Client
	if backends.Redis != nil {
		redisClient = backends.Redis.Client
	}
	aggregator := attendance.NewAggregator(backends.Students, backends.Records, backends.Clock)
	stats := statscache.New(redisClient, aggregator, cfg.StatsCacheTTL, logger.With("component", "statscache"))

	messages, err := backends.Queue.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	log.Printf("worker started on %s queue, waiting for messages...", cfg.QueueBackend)
	for msg := range messages {
		if msg.Type != queue.TypeAttendanceMarked {
			continue
		}
		evt, err := queue.DecodeMarked(msg)
		if err != nil {
			log.Printf("decode message failed: %v", err)
			continue
		}
		if _, err := stats.Refresh(ctx, evt.Date); err != nil {
			log.Printf("refresh stats for %s failed: %v", evt.Date, err)
			continue
		}
		log.Printf("student %s marked %s on %s, stats refreshed", evt.StudentID, evt.Status, evt.Date)
	}
	log.Println("worker stopped")
}
