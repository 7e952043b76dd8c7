package http

import (
	"context"
	"net/http"

	"micstream/internal/core/domain"
	"micstream/pkg/errors"
	"micstream/pkg/validation"

	"github.com/gin-gonic/gin"
)

// RecordingControl is the server surface the REST API drives.
type RecordingControl interface {
	StartRecording(ctx context.Context) (domain.StartResult, error)
	StopRecording(ctx context.Context) (*domain.RecordingSummary, error)
	RecordingStatus() domain.RecordingStatus
	Recordings(ctx context.Context) ([]*domain.RecordingSummary, error)
	Recording(ctx context.Context, id domain.RecordingID) (*domain.RecordingSummary, error)
}

type RecordingHandler struct {
	control RecordingControl
}

func NewRecordingHandler(control RecordingControl) *RecordingHandler {
	return &RecordingHandler{control: control}
}

func (h *RecordingHandler) SetupRoutes(router gin.IRouter) {
	api := router.Group("/api/v1")
	{
		api.POST("/recording/start", h.StartRecording)
		api.POST("/recording/stop", h.StopRecording)
		api.GET("/recording/status", h.GetStatus)
		api.GET("/recordings", h.ListRecordings)
		api.GET("/recordings/:id", h.GetRecording)
	}
}

func (h *RecordingHandler) StartRecording(c *gin.Context) {
	result, err := h.control.StartRecording(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}

	if !result.Started {
		if result.Reason == domain.ErrWriterBusy.Error() {
			c.Error(errors.WriterBusy(result.FilePath))
		} else {
			c.Error(errors.NotAccepting())
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"recording": result,
	})
}

func (h *RecordingHandler) StopRecording(c *gin.Context) {
	summary, err := h.control.StopRecording(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}

	if summary == nil {
		c.JSON(http.StatusOK, gin.H{
			"stopped": false,
			"message": "no active recording",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"stopped":   true,
		"recording": summary,
	})
}

func (h *RecordingHandler) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.control.RecordingStatus())
}

func (h *RecordingHandler) ListRecordings(c *gin.Context) {
	recordings, err := h.control.Recordings(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}
	if recordings == nil {
		recordings = []*domain.RecordingSummary{}
	}

	c.JSON(http.StatusOK, gin.H{
		"recordings": recordings,
		"count":      len(recordings),
	})
}

func (h *RecordingHandler) GetRecording(c *gin.Context) {
	raw := c.Param("id")
	if err := validation.ValidateRecordingID(raw); err != nil {
		c.Error(errors.InvalidInput(err.Error()))
		return
	}
	id := domain.RecordingID(raw)

	recording, err := h.control.Recording(c.Request.Context(), id)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"recording": recording,
	})
}
