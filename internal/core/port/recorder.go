package port

import (
	"context"

	"github.com/Wyydra/yacall/internal/core/domain"
)

type CallRecorder interface {
	CallEnded(ctx context.Context, record domain.CallRecord) error
}
