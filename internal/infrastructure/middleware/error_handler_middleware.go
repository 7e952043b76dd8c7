package middleware

import (
	stderrors "errors"
	"math"
	"net/http"
	"strconv"

	"micstream/internal/core/domain"
	"micstream/pkg/errors"
	rlog "micstream/pkg/logger"
	"micstream/pkg/utils"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

// RequestIDMiddleware assigns every request an id, echoes it in the response
// and stores it in the request context for the context logger.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = utils.GenerateRequestID()
		}
		c.Header(RequestIDHeader, id)
		c.Request = c.Request.WithContext(rlog.WithRequestID(c.Request.Context(), id))
		c.Next()
	}
}

// ErrorHandlerMiddleware renders the last error a handler attached as a JSON
// error body. Errors outside pkg/errors are mapped from core sentinels.
func ErrorHandlerMiddleware(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		err := c.Errors.Last().Err

		appErr, ok := errors.As(err)
		if !ok {
			appErr = fromDomainError(err)
		}
		status := appErr.HTTPStatus()

		fields := []interface{}{
			"code", appErr.Code,
			"status", status,
			"path", c.Request.URL.Path,
			"method", c.Request.Method,
			"request_id", c.Writer.Header().Get(RequestIDHeader),
		}
		if status >= http.StatusInternalServerError {
			logger.Errorw("request failed", append(fields, "error", err)...)
		} else {
			logger.Infow("request rejected", append(fields, "message", appErr.Message)...)
		}

		setRetryAfter(c, appErr)
		c.JSON(status, appErr.Body())
	}
}

func setRetryAfter(c *gin.Context, appErr *errors.AppError) {
	if appErr.RetryAfter > 0 {
		c.Header("Retry-After", strconv.Itoa(int(math.Ceil(appErr.RetryAfter.Seconds()))))
	}
}

func fromDomainError(err error) *errors.AppError {
	switch {
	case stderrors.Is(err, domain.ErrWriterBusy):
		return errors.Wrap(err, errors.CodeWriterBusy, "A recording is already in progress")
	case stderrors.Is(err, domain.ErrNotAccepting):
		return errors.Wrap(err, errors.CodeNotAccepting, "Server is not accepting connections")
	case stderrors.Is(err, domain.ErrRecordingNotFound):
		return errors.Wrap(err, errors.CodeNotFound, "Recording not found")
	case stderrors.Is(err, domain.ErrFinalizeIO):
		return errors.FinalizeFailed(err, "")
	default:
		return errors.Internal(err)
	}
}

// RecoveryMiddleware recovers from panics and returns proper error responses
func RecoveryMiddleware(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Errorw("panic recovered",
					"error", err,
					"path", c.Request.URL.Path,
					"method", c.Request.Method,
				)

				c.AbortWithStatusJSON(http.StatusInternalServerError, errors.Internal(nil).Body())
			}
		}()

		c.Next()
	}
}
