package memory

import (
	"context"
	"sync"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/rs/zerolog/log"
)

// Recorder keeps call records in memory. Used when no record-keeper URL is
// configured.
type Recorder struct {
	mu      sync.Mutex
	records []domain.CallRecord
}

func NewRecorder() *Recorder {
	return &Recorder{
		records: make([]domain.CallRecord, 0),
	}
}

func (r *Recorder) CallEnded(ctx context.Context, rec domain.CallRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)

	log.Info().
		Str("call", rec.Attempt.ID.String()).
		Str("remote", rec.Attempt.Remote.String()).
		Bool("connected", rec.Connected).
		Str("reason", string(rec.Reason)).
		Msg("Call recorded")
	return nil
}

// Records returns a copy of everything recorded so far.
func (r *Recorder) Records() []domain.CallRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.CallRecord, len(r.records))
	copy(out, r.records)
	return out
}
