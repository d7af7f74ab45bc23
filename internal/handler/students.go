package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"qrattend/internal/qrcode"
	"qrattend/internal/roster"
)

func (h *Handler) ListStudents(c *gin.Context) {
	students, err := h.Roster.List(c.Request.Context(), roster.Filter{
		Search: c.Query("search"),
		Class:  c.Query("class"),
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"students": students, "total": len(students)})
}

func (h *Handler) CreateStudent(c *gin.Context) {
	var in roster.Input
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	st, err := h.Roster.Create(c.Request.Context(), in)
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.State.AddStudent(st)
	h.refreshTodayStats(c.Request.Context())
	c.JSON(http.StatusCreated, st)
}

func (h *Handler) GetStudent(c *gin.Context) {
	st, err := h.Roster.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *Handler) UpdateStudent(c *gin.Context) {
	var in roster.Input
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	st, err := h.Roster.Update(c.Request.Context(), c.Param("id"), in)
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.State.UpdateStudent(st)
	c.JSON(http.StatusOK, st)
}

func (h *Handler) DeleteStudent(c *gin.Context) {
	id := c.Param("id")
	if err := h.Roster.Delete(c.Request.Context(), id); err != nil {
		h.writeError(c, err)
		return
	}
	if h.OnStudentDeleted != nil {
		h.OnStudentDeleted(id)
	}
	h.State.RemoveStudent(id)
	h.refreshTodayStats(c.Request.Context())
	c.Status(http.StatusNoContent)
}

func (h *Handler) ListClasses(c *gin.Context) {
	classes, err := h.Roster.Classes(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"classes": classes})
}

// StudentQR renders the student's code as a PNG download.
func (h *Handler) StudentQR(c *gin.Context) {
	size := qrcode.DefaultSize
	if v := c.Query("size"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 64 || parsed > 2048 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "size must be between 64 and 2048"})
			return
		}
		size = parsed
	}
	st, err := h.Roster.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	png, err := qrcode.PNG(st.QRCode, size)
	if err != nil {
		h.writeError(c, err)
		return
	}
	attachment(c, "qr-"+st.StudentNumber+".png")
	c.Data(http.StatusOK, "image/png", png)
}

// PublishStudentQR uploads the student's code to the image CDN.
func (h *Handler) PublishStudentQR(c *gin.Context) {
	if h.Publisher == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "image storage not configured"})
		return
	}
	st, err := h.Roster.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	png, err := qrcode.PNG(st.QRCode, qrcode.DefaultSize)
	if err != nil {
		h.writeError(c, err)
		return
	}
	res, err := h.Publisher.UploadPNG(c.Request.Context(), png, "student-"+st.ID)
	if err != nil {
		h.Logger.Error("publish qr code", "student_id", st.ID, "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "image upload failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": res.SecureURL, "public_id": res.PublicID})
}
