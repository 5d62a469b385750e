package manager

import (
	"context"
	"sync"
	"time"

	"github.com/rudransh-shrivastava/geckos/internal/transport"
)

// descriptionFuture holds the first local description the engine reports.
type descriptionFuture struct {
	once  sync.Once
	ready chan struct{}
	desc  transport.SessionDescription
}

func newDescriptionFuture() *descriptionFuture {
	return &descriptionFuture{ready: make(chan struct{})}
}

func (f *descriptionFuture) resolve(d transport.SessionDescription) {
	f.once.Do(func() {
		f.desc = d
		close(f.ready)
	})
}

// wait returns the description, or false if it did not arrive within
// timeout. Expiry is not an error.
func (f *descriptionFuture) wait(ctx context.Context, timeout time.Duration) (*transport.SessionDescription, bool) {
	if timeout <= 0 {
		select {
		case <-f.ready:
			d := f.desc
			return &d, true
		default:
			return nil, false
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-f.ready:
		d := f.desc
		return &d, true
	case <-timer.C:
		return nil, false
	case <-ctx.Done():
		return nil, false
	}
}
