// Package handler exposes the attendance API over HTTP and websockets.
package handler

import (
	"context"
	"errors"
	"log/slog"
	"mime"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"qrattend/internal/appstate"
	"qrattend/internal/attendance"
	"qrattend/internal/cloudinary"
	"qrattend/internal/realtime"
	"qrattend/internal/roster"
	"qrattend/internal/store"
)

// StatsSource serves daily summaries, usually through the stats cache.
type StatsSource interface {
	GetStats(ctx context.Context, date string) (attendance.Stats, error)
}

// QRPublisher stores a rendered QR code on an image CDN.
type QRPublisher interface {
	UploadPNG(ctx context.Context, data []byte, publicID string) (*cloudinary.UploadResult, error)
}

// Deps are the services behind the routes. Publisher, Hub, ScannerWS and
// OnStudentDeleted are optional.
type Deps struct {
	Roster    *roster.Service
	Ledger    *attendance.Ledger
	Stats     StatsSource
	State     *appstate.State
	PrefsPath string
	Publisher QRPublisher
	Hub       *realtime.Hub
	ScannerWS *realtime.ScannerEndpoint
	Health    map[string]func(ctx context.Context) bool
	Logger    *slog.Logger

	// OnStudentDeleted runs after a student is removed, for backends
	// without a cascading foreign key.
	OnStudentDeleted func(studentID string)
}

type Handler struct {
	Deps
}

func New(d Deps) *Handler {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return &Handler{Deps: d}
}

// Register mounts every route on r.
func (h *Handler) Register(r gin.IRouter) {
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", h.Healthz)

	v1 := r.Group("/v1")
	v1.GET("/students", h.ListStudents)
	v1.POST("/students", h.CreateStudent)
	v1.GET("/students/:id", h.GetStudent)
	v1.PUT("/students/:id", h.UpdateStudent)
	v1.DELETE("/students/:id", h.DeleteStudent)
	v1.GET("/students/:id/qr.png", h.StudentQR)
	v1.POST("/students/:id/qr/publish", h.PublishStudentQR)
	v1.GET("/classes", h.ListClasses)

	v1.POST("/attendance", h.MarkAttendance)
	v1.GET("/attendance", h.DayAttendance)
	v1.GET("/attendance/range", h.RangeAttendance)
	v1.GET("/attendance/export", h.ExportAttendance)
	v1.GET("/stats", h.DailyStats)

	v1.GET("/state", h.GetState)
	v1.PUT("/state/selected-class", h.SetSelectedClass)

	v1.POST("/scan/validate", h.ValidateScan)

	if h.Hub != nil {
		r.GET("/ws/dashboard", func(c *gin.Context) { h.Hub.ServeWS(c.Writer, c.Request) })
	}
	if h.ScannerWS != nil {
		r.GET("/ws/scanner", func(c *gin.Context) { h.ScannerWS.ServeWS(c.Writer, c.Request) })
	}
}

func (h *Handler) Healthz(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{"status": "ok"}
	for name, check := range h.Health {
		ok := check(c.Request.Context())
		body[name] = ok
		if !ok {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}
	c.JSON(status, body)
}

// writeError maps service errors onto status codes.
func (h *Handler) writeError(c *gin.Context, err error) {
	var invalid *roster.ValidationError
	switch {
	case errors.As(err, &invalid):
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation failed", "fields": invalid.Fields})
	case errors.Is(err, roster.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, roster.ErrDuplicateNumber):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, attendance.ErrInvalidStatus), errors.Is(err, attendance.ErrStudentRequired):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, store.ErrUnavailable):
		h.Logger.Error("storage unavailable", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage unavailable"})
	default:
		h.Logger.Error("request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// attachment marks the response as a download named filename, quoting it
// as a MIME parameter.
func attachment(c *gin.Context, filename string) {
	c.Header("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": filename}))
}

func (h *Handler) today() string { return h.Ledger.Clock().Today() }

// refreshTodayStats drops the cached summary after roster changes alter
// the student total and hands the recomputed one to the shared state.
func (h *Handler) refreshTodayStats(ctx context.Context) {
	today := h.today()
	if inv, ok := h.Deps.Stats.(interface {
		Invalidate(ctx context.Context, date string) error
	}); ok {
		if err := inv.Invalidate(ctx, today); err != nil {
			h.Logger.Warn("invalidate stats cache", "error", err)
		}
	}
	stats, err := h.Deps.Stats.GetStats(ctx, today)
	if err != nil {
		h.Logger.Warn("recompute stats", "error", err)
		return
	}
	h.State.SetStats(stats)
}
