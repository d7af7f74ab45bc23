package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"qrattend/internal/attendance"
	"qrattend/internal/export"
)

type markRequest struct {
	StudentID string `json:"student_id" binding:"required"`
	Status    string `json:"status" binding:"required"`
}

// MarkAttendance records a status by hand, for students who cannot scan.
func (h *Handler) MarkAttendance(c *gin.Context) {
	var req markRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	status, err := attendance.ParseStatus(req.Status)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if _, err := h.Roster.Get(c.Request.Context(), req.StudentID); err != nil {
		h.writeError(c, err)
		return
	}
	rec, err := h.Ledger.MarkAttendance(c.Request.Context(), req.StudentID, status)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// DayAttendance lists one day's records, latest scan first.
func (h *Handler) DayAttendance(c *gin.Context) {
	date, ok := h.dateParam(c, "date", h.today())
	if !ok {
		return
	}
	records, err := h.Ledger.Day(c.Request.Context(), date)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"date": date, "records": records, "total": len(records)})
}

func (h *Handler) RangeAttendance(c *gin.Context) {
	from, to, ok := h.rangeParams(c)
	if !ok {
		return
	}
	records, err := h.Ledger.Range(c.Request.Context(), from, to, c.Query("student_id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"from": from, "to": to, "records": records, "total": len(records)})
}

func (h *Handler) ExportAttendance(c *gin.Context) {
	from, to, ok := h.rangeParams(c)
	if !ok {
		return
	}
	records, err := h.Ledger.Range(c.Request.Context(), from, to, c.Query("student_id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	buf, err := export.AttendanceWorkbook(records)
	if err != nil {
		h.writeError(c, err)
		return
	}
	attachment(c, export.Filename(from, to))
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", buf.Bytes())
}

func (h *Handler) DailyStats(c *gin.Context) {
	date, ok := h.dateParam(c, "date", h.today())
	if !ok {
		return
	}
	stats, err := h.Deps.Stats.GetStats(c.Request.Context(), date)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *Handler) dateParam(c *gin.Context, name, fallback string) (string, bool) {
	v := c.Query(name)
	if v == "" {
		return fallback, true
	}
	date, err := attendance.ParseDate(v)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": name + " must be YYYY-MM-DD"})
		return "", false
	}
	return date, true
}

// rangeParams reads from/to, both defaulting to today.
func (h *Handler) rangeParams(c *gin.Context) (string, string, bool) {
	today := h.today()
	from, ok := h.dateParam(c, "from", today)
	if !ok {
		return "", "", false
	}
	to, ok := h.dateParam(c, "to", today)
	if !ok {
		return "", "", false
	}
	if from > to {
		c.JSON(http.StatusBadRequest, gin.H{"error": "from must not be after to"})
		return "", "", false
	}
	return from, to, true
}
