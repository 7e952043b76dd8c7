package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"micstream/internal/core/domain"
	"micstream/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newErrorRouter(t *testing.T, err error) *gin.Engine {
	gin.SetMode(gin.TestMode)
	logger := zaptest.NewLogger(t).Sugar()

	router := gin.New()
	router.Use(RequestIDMiddleware(), RecoveryMiddleware(logger), ErrorHandlerMiddleware(logger), TracingMiddleware())
	router.GET("/fail", func(c *gin.Context) {
		c.Error(err)
	})
	router.GET("/panic", func(c *gin.Context) {
		panic("boom")
	})
	return router
}

func serve(router *gin.Engine, path string) (*httptest.ResponseRecorder, map[string]interface{}) {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	router.ServeHTTP(w, req)

	var body map[string]interface{}
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	return w, body
}

func TestErrorHandler_AppError(t *testing.T) {
	router := newErrorRouter(t, errors.WriterBusy("recordings/a.wav"))

	w, body := serve(router, "/fail")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "WRITER_BUSY", body["error"])
	assert.Equal(t, map[string]interface{}{"file_path": "recordings/a.wav"}, body["details"])
}

func TestErrorHandler_MapsDomainErrors(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("start: %w", domain.ErrWriterBusy), http.StatusConflict, "WRITER_BUSY"},
		{domain.ErrNotAccepting, http.StatusServiceUnavailable, "NOT_ACCEPTING"},
		{domain.ErrRecordingNotFound, http.StatusNotFound, "NOT_FOUND"},
		{fmt.Errorf("patch header: %w", domain.ErrFinalizeIO), http.StatusInternalServerError, "FINALIZE_IO_FAILURE"},
		{fmt.Errorf("disk on fire"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			w, body := serve(newErrorRouter(t, tc.err), "/fail")
			assert.Equal(t, tc.status, w.Code)
			assert.Equal(t, tc.code, body["error"])
		})
	}
}

func TestRecoveryMiddleware_ReturnsInternalError(t *testing.T) {
	w, body := serve(newErrorRouter(t, nil), "/panic")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "INTERNAL_ERROR", body["error"])
}

func TestRequestIDMiddleware_GeneratesAndEchoes(t *testing.T) {
	router := newErrorRouter(t, errors.InvalidInput("bad"))

	w, _ := serve(router, "/fail")
	require.NotEmpty(t, w.Header().Get(RequestIDHeader))

	w2 := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/fail", nil)
	req.Header.Set(RequestIDHeader, "req-fixed")
	router.ServeHTTP(w2, req)
	assert.Equal(t, "req-fixed", w2.Header().Get(RequestIDHeader))
}
