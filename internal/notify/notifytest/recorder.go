// Package notifytest records notifier calls for assertions.
package notifytest

import (
	"context"
	"sync"

	"github.com/iliyamo/studio-reservation/internal/notify"
)

// Recorder is a notify.Notifier that keeps every message.
type Recorder struct {
	mu        sync.Mutex
	Confirmed []notify.Message
	Cancelled []notify.Message
}

var _ notify.Notifier = (*Recorder)(nil)

func (r *Recorder) ReservationConfirmed(_ context.Context, m notify.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Confirmed = append(r.Confirmed, m)
	return nil
}

func (r *Recorder) ReservationCancelled(_ context.Context, m notify.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Cancelled = append(r.Cancelled, m)
	return nil
}

// Counts returns the number of confirmations and cancellations seen.
func (r *Recorder) Counts() (confirmed, cancelled int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Confirmed), len(r.Cancelled)
}
