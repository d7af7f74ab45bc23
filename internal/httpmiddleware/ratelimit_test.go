package httpmiddleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func newLimitedRouter(l *SimpleTokenBucket) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(l.GinMiddleware())
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
	return r
}

func hit(r http.Handler, device string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	if device != "" {
		req.Header.Set("X-Device-ID", device)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestTokenBucket_LimitsAndRefills(t *testing.T) {
	now := time.Date(2026, 10, 19, 7, 0, 0, 0, time.UTC)
	l := NewSimpleTokenBucket(2, 60)
	l.now = func() time.Time { return now }
	r := newLimitedRouter(l)

	assert.Equal(t, http.StatusOK, hit(r, "").Code)
	assert.Equal(t, http.StatusOK, hit(r, "").Code)
	w := hit(r, "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))

	now = now.Add(time.Second)
	assert.Equal(t, http.StatusOK, hit(r, "").Code)
}

func TestTokenBucket_CustomKey(t *testing.T) {
	l := NewSimpleTokenBucket(1, 1).WithKey(func(c *gin.Context) string { return c.GetHeader("X-Device-ID") })
	r := newLimitedRouter(l)

	assert.Equal(t, http.StatusOK, hit(r, "kiosk-1").Code)
	assert.Equal(t, http.StatusTooManyRequests, hit(r, "kiosk-1").Code)
	assert.Equal(t, http.StatusOK, hit(r, "kiosk-2").Code)
}

func TestTokenBucket_ZeroRateDisables(t *testing.T) {
	r := newLimitedRouter(NewSimpleTokenBucket(0, 0))
	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, hit(r, "").Code)
	}
}
