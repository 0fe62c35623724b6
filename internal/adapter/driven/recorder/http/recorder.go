package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Wyydra/yacall/internal/core/domain"
)

// record is the body posted to the record-keeper.
type record struct {
	CallID    string    `json:"callId"`
	LocalID   string    `json:"localId"`
	RemoteID  string    `json:"remoteId"`
	Role      string    `json:"role"`
	Connected bool      `json:"connected"`
	EndedAt   time.Time `json:"endedAt"`
	Reason    string    `json:"reason"`
}

// Recorder posts one JSON document per finished call to an external
// record-keeper.
type Recorder struct {
	URL  string
	HTTP *http.Client
}

func NewRecorder(url string) *Recorder {
	return &Recorder{
		URL:  strings.TrimRight(url, "/"),
		HTTP: &http.Client{Timeout: 5 * time.Second},
	}
}

func (r *Recorder) CallEnded(ctx context.Context, rec domain.CallRecord) error {
	b, err := json.Marshal(record{
		CallID:    rec.Attempt.ID.String(),
		LocalID:   rec.Attempt.Local.String(),
		RemoteID:  rec.Attempt.Remote.String(),
		Role:      rec.Attempt.Role.String(),
		Connected: rec.Connected,
		EndedAt:   rec.EndedAt.UTC(),
		Reason:    string(rec.Reason),
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.URL, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("content-type", "application/json")

	resp, err := r.HTTP.Do(req)
	if err != nil {
		return err
	}
	io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("record call %s: status %s", rec.Attempt.ID, resp.Status)
	}
	return nil
}
