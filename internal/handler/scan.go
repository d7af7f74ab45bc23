package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"qrattend/internal/qrcode"
)

type validateRequest struct {
	Payload string `json:"payload"`
}

// ValidateScan checks a payload and looks the student up without writing
// attendance.
func (h *Handler) ValidateScan(c *gin.Context) {
	var req validateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	studentID, err := qrcode.Validate(req.Payload)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"valid": false, "error": err.Error()})
		return
	}
	st, err := h.Roster.Repo().GetByID(c.Request.Context(), studentID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": true, "student_id": studentID, "known": st != nil, "student": st})
}
