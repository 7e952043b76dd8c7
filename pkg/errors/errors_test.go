package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCode_HTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusConflict, CodeWriterBusy.HTTPStatus())
	assert.Equal(t, http.StatusServiceUnavailable, CodeNotAccepting.HTTPStatus())
	assert.Equal(t, http.StatusTooManyRequests, CodeRateLimit.HTTPStatus())
	assert.Equal(t, http.StatusInternalServerError, Code("SOMETHING_ELSE").HTTPStatus())
}

func TestFinalizeFailed_KeepsCauseOutOfBody(t *testing.T) {
	cause := stderrors.New("disk full")
	err := FinalizeFailed(cause, "recordings/a.wav")

	assert.Contains(t, err.Error(), string(CodeFinalizeIOFailure))
	assert.Contains(t, err.Error(), "disk full")
	assert.True(t, stderrors.Is(err, cause))
	assert.Equal(t, http.StatusInternalServerError, err.HTTPStatus())

	body := err.Body()
	assert.Equal(t, "FINALIZE_IO_FAILURE", body["error"])
	assert.Equal(t, map[string]any{"file_path": "recordings/a.wav"}, body["details"])
	assert.NotContains(t, fmt.Sprint(body), "disk full")
}

func TestFinalizeFailed_NoPathNoDetails(t *testing.T) {
	body := FinalizeFailed(stderrors.New("x"), "").Body()
	_, ok := body["details"]
	assert.False(t, ok)
}

func TestAs_FindsWrapped(t *testing.T) {
	appErr := WriterBusy("recordings/x.wav")
	wrapped := fmt.Errorf("start: %w", appErr)

	got, ok := As(wrapped)
	require.True(t, ok)
	assert.Same(t, appErr, got)

	_, ok = As(stderrors.New("plain"))
	assert.False(t, ok)
	_, ok = As(nil)
	assert.False(t, ok)
}

func TestRateLimited_CarriesRetryAfter(t *testing.T) {
	err := RateLimited(2 * time.Second)
	assert.Equal(t, 2*time.Second, err.RetryAfter)
	assert.Equal(t, http.StatusTooManyRequests, err.HTTPStatus())
}

func TestWith_InitializesDetails(t *testing.T) {
	err := &AppError{Code: CodeMalformedFrame}
	err.With("connection_id", "c1")
	assert.Equal(t, "c1", err.Details["connection_id"])
}
