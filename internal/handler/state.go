package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"qrattend/internal/roster"
)

// GetState returns the shared dashboard state. It is read from the stores
// on first use each day or when refresh=true; after that scans and roster
// edits keep it current.
func (h *Handler) GetState(c *gin.Context) {
	today := h.today()
	if !h.State.Current(today) || c.Query("refresh") == "true" {
		if err := h.loadState(c.Request.Context(), today); err != nil {
			h.writeError(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, h.State.Snapshot())
}

func (h *Handler) loadState(ctx context.Context, date string) error {
	students, err := h.Roster.List(ctx, roster.Filter{})
	if err != nil {
		return err
	}
	records, err := h.Ledger.Day(ctx, date)
	if err != nil {
		return err
	}
	stats, err := h.Deps.Stats.GetStats(ctx, date)
	if err != nil {
		return err
	}
	h.State.Load(date, students, records, stats)
	return nil
}

type selectedClassRequest struct {
	Class *string `json:"class"`
}

// SetSelectedClass changes the persisted class filter; null clears it.
func (h *Handler) SetSelectedClass(c *gin.Context) {
	var req selectedClassRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Class != nil && *req.Class == "" {
		req.Class = nil
	}
	h.State.SetSelectedClass(req.Class)
	if h.PrefsPath != "" {
		if err := h.State.SavePreferences(h.PrefsPath); err != nil {
			h.Logger.Warn("save preferences", "error", err)
		}
	}
	c.JSON(http.StatusOK, gin.H{"selected_class": h.State.SelectedClass()})
}
