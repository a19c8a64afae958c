package httpmiddleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestAllow(t *testing.T) {
	l := NewSimpleTokenBucket(2, 60)

	assert.True(t, l.allow("1.2.3.4"))
	assert.True(t, l.allow("1.2.3.4"))
	assert.False(t, l.allow("1.2.3.4"))

	// other clients have their own bucket
	assert.True(t, l.allow("5.6.7.8"))
}

func TestGinMiddlewareExemptPaths(t *testing.T) {
	gin.SetMode(gin.TestMode)
	l := NewSimpleTokenBucket(1, 60)

	r := gin.New()
	r.Use(l.GinMiddleware())
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/ws/scans", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/limited", func(c *gin.Context) { c.Status(http.StatusOK) })

	get := func(path string) int {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, path, nil)
		r.ServeHTTP(w, req)
		return w.Code
	}

	// exempt paths never consume tokens
	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, get("/healthz"))
		assert.Equal(t, http.StatusOK, get("/ws/scans"))
	}

	assert.Equal(t, http.StatusOK, get("/limited"))
	assert.Equal(t, http.StatusTooManyRequests, get("/limited"))
}
