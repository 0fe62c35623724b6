//go:build !linux || !cgo

package capture

import (
	"context"
	"errors"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
)

// Device capture needs the V4L2 and malgo drivers, which are only built on
// Linux with cgo.
type Device struct {
	VideoBitRate int
	MaxWidth     int
	MaxHeight    int
}

func (Device) Capture(ctx context.Context, c port.Constraints) (port.LocalStream, error) {
	return nil, domain.NewCaptureError(domain.CaptureDeviceMissing, errors.New("device capture is not available in this build"))
}
