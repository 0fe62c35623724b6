package port

import (
	"context"

	"github.com/Wyydra/yacall/internal/core/domain"
)

type Constraints struct {
	Audio bool
	Video bool
}

// LocalStream is owned by the call lifecycle; the coordinator only reads
// its tracks and never stops them.
type LocalStream interface {
	ID() string
	Kinds() []domain.MediaKind
	SetEnabled(kind domain.MediaKind, enabled bool)
	Enabled(kind domain.MediaKind) bool
	Stop()
}

// MediaCapturer may block for as long as the user takes to answer a
// permission prompt. Failures are *domain.CaptureError.
type MediaCapturer interface {
	Capture(ctx context.Context, c Constraints) (LocalStream, error)
}
