package capture

import (
	"errors"
	"os"
	"strings"
	"syscall"

	"github.com/Wyydra/yacall/internal/core/domain"
)

// Classify maps a device error onto the category shown to the user. Errors
// that are already classified are returned unchanged.
func Classify(err error) *domain.CaptureError {
	var ce *domain.CaptureError
	if errors.As(err, &ce) {
		return ce
	}
	return domain.NewCaptureError(category(err), err)
}

func category(err error) domain.CaptureCategory {
	switch {
	case errors.Is(err, os.ErrPermission), errors.Is(err, syscall.EACCES), errors.Is(err, syscall.EPERM):
		return domain.CapturePermissionDenied
	case errors.Is(err, syscall.EBUSY):
		return domain.CaptureDeviceBusy
	case errors.Is(err, os.ErrNotExist), errors.Is(err, syscall.ENODEV), errors.Is(err, syscall.ENXIO):
		return domain.CaptureDeviceMissing
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "permission denied"), strings.Contains(msg, "not allowed"):
		return domain.CapturePermissionDenied
	case strings.Contains(msg, "busy"), strings.Contains(msg, "in use"):
		return domain.CaptureDeviceBusy
	case strings.Contains(msg, "constraint"), strings.Contains(msg, "fits the"), strings.Contains(msg, "unsupported"):
		return domain.CaptureConstraints
	case strings.Contains(msg, "insecure"), strings.Contains(msg, "secure context"):
		return domain.CaptureInsecureContext
	}
	return domain.CaptureDeviceMissing
}
