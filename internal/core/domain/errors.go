package domain

import (
	"errors"
	"fmt"
)

var (
	ErrSessionClosed      = errors.New("call session is closed")
	ErrCoordinatorStopped = errors.New("coordinator stopped")
)

type CaptureCategory string

const (
	CapturePermissionDenied CaptureCategory = "permission_denied"
	CaptureDeviceMissing    CaptureCategory = "device_missing"
	CaptureDeviceBusy       CaptureCategory = "device_busy"
	CaptureConstraints      CaptureCategory = "unsatisfiable_constraints"
	CaptureInsecureContext  CaptureCategory = "insecure_context"
)

// CaptureError ends a call attempt before any signaling happens.
type CaptureError struct {
	Category CaptureCategory
	Err      error
}

func NewCaptureError(category CaptureCategory, err error) *CaptureError {
	return &CaptureError{Category: category, Err: err}
}

func (e *CaptureError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("capture failed (%s)", e.Category)
	}
	return fmt.Sprintf("capture failed (%s): %v", e.Category, e.Err)
}

func (e *CaptureError) Unwrap() error {
	return e.Err
}

// Message is the explanation shown to the user before any call UI appears.
func (e *CaptureError) Message() string {
	switch e.Category {
	case CapturePermissionDenied:
		return "Access to the camera or microphone was denied. Allow access and try again."
	case CaptureDeviceMissing:
		return "No camera or microphone was found."
	case CaptureDeviceBusy:
		return "The camera or microphone is already in use by another application."
	case CaptureConstraints:
		return "The available devices cannot satisfy the requested audio/video settings."
	case CaptureInsecureContext:
		return "Media capture requires a secure connection."
	default:
		return "Could not start the camera or microphone."
	}
}
