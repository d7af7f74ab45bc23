package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"qrattend/internal/app"
	"qrattend/internal/appstate"
	"qrattend/internal/attendance"
	"qrattend/internal/cloudinary"
	"qrattend/internal/config"
	"qrattend/internal/handler"
	"qrattend/internal/realtime"
	"qrattend/internal/roster"
	"qrattend/internal/scanner"
	"qrattend/internal/statscache"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("warning: .env not loaded: %v", err)
	}
	cfg := config.Load()

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	if err := runHTTP(cfg, logger); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backends, err := app.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer backends.Close()

	classifier, err := attendance.NewClassifier(cfg.CutoffTime)
	if err != nil {
		return err
	}

	var redisClient *redis.Client
	if backends.Redis != nil {
		redisClient = backends.Redis.Client
	}
	aggregator := attendance.NewAggregator(backends.Students, backends.Records, backends.Clock)
	stats := statscache.New(redisClient, aggregator, cfg.StatsCacheTTL, logger.With("component", "statscache"))

	state := appstate.New()
	if err := state.LoadPreferences(cfg.PreferencesPath); err != nil {
		log.Printf("warning: preferences not loaded: %v", err)
	}

	hub := realtime.NewHub(logger.With("component", "hub"))
	go hub.Run(ctx)

	// An in-memory queue has no consumer outside this process.
	var next attendance.Publisher = backends.Queue
	if cfg.QueueBackend == "memory" {
		next = nil
	}
	relay := realtime.NewRelay(hub, next, stats, state, logger.With("component", "relay"))
	ledger := attendance.NewLedger(backends.Records, backends.Students,
		attendance.WithClock(backends.Clock),
		attendance.WithPublisher(relay),
		attendance.WithLogger(logger.With("component", "ledger")),
	)

	var locker scanner.DeviceLocker = scanner.NewMemoryLocker()
	if cfg.DeviceLockBackend == "redis" {
		locker = scanner.NewRedisLocker(redisClient, "", cfg.DeviceLockTTL, logger.With("component", "device-lock"))
	}
	scanners := scanner.NewManager(scanner.Config{
		Cooldown:               cfg.ScanCooldown,
		RestartDelay:           cfg.ScannerRestartDelay,
		BlockAllDuringCooldown: cfg.ScanCooldownBlockAll,
		Classifier:             classifier,
		Location:               cfg.Location(),
	}, scanner.Deps{
		Locker:   locker,
		Students: backends.Students,
		Ledger:   ledger,
		Logger:   logger.With("component", "scanner"),
	})
	defer scanners.StopAll()

	var publisher handler.QRPublisher
	if cfg.CloudinaryConfigured() {
		publisher = cloudinary.New(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder)
		log.Println("Cloudinary configured:", cfg.CloudinaryCloudName)
	} else {
		log.Println("Cloudinary not configured (CLOUDINARY_CLOUD_NAME / API_KEY / API_SECRET not set)")
	}

	h := handler.New(handler.Deps{
		Roster:           roster.NewService(backends.Students),
		Ledger:           ledger,
		Stats:            stats,
		State:            state,
		PrefsPath:        cfg.PreferencesPath,
		Publisher:        publisher,
		Hub:              hub,
		ScannerWS:        realtime.NewScannerEndpoint(scanners, cfg.CameraStartTimeout, state, logger.With("component", "scanner-ws")),
		Health:           backends.Health(),
		Logger:           logger.With("component", "http"),
		OnStudentDeleted: backends.CascadeDelete,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      handler.NewRouter(h, cfg.RateLimitPerMin),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Starting server on :%s (cutoff %s)", cfg.HTTPPort, classifier.Cutoff)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	log.Println("Shutting down server...")

	// Give outstanding requests 10 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}

	log.Println("Server exited")
	return nil
}
