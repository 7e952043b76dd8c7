package domain

import "errors"

var (
	ErrPermissionDenied       = errors.New("microphone permission denied")
	ErrTransportOpenFailure   = errors.New("transport open failed")
	ErrTransportAbnormalClose = errors.New("transport closed abnormally")
	ErrMaxRetriesExceeded     = errors.New("max reconnect attempts exceeded")
	ErrMalformedFrame         = errors.New("malformed frame")
	ErrWriterBusy             = errors.New("recording already active")
	ErrNotAccepting           = errors.New("server is not accepting connections")
	ErrFinalizeIO             = errors.New("recording finalize failed")
	ErrSessionAborted         = errors.New("recording session aborted")
	ErrRecordingNotFound      = errors.New("recording not found")
	ErrSinkClosed             = errors.New("file sink closed")
)
