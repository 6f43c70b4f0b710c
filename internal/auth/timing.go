package auth

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"time"
)

// FailureDelay pads failed credential checks to a common minimum duration, so
// an unknown identifier and a wrong password take about the same time.
type FailureDelay struct {
	base   time.Duration
	jitter time.Duration
}

func NewFailureDelay(base, jitter time.Duration) *FailureDelay {
	return &FailureDelay{base: base, jitter: jitter}
}

// cryptoRandIntn returns a secure random number between 0 and max (exclusive)
func cryptoRandIntn(max int64) int64 {
	if max <= 0 {
		return 0
	}

	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0
	}
	return int64(binary.BigEndian.Uint64(b[:]) % uint64(max))
}

// Target is the padded duration for one failure: base plus random jitter.
func (d *FailureDelay) Target() time.Duration {
	return d.base + time.Duration(cryptoRandIntn(int64(d.jitter)))
}

// WaitFrom sleeps until Target has elapsed since start, or ctx is done.
// A nil FailureDelay does not wait.
func (d *FailureDelay) WaitFrom(ctx context.Context, start time.Time) {
	if d == nil {
		return
	}

	remaining := d.Target() - time.Since(start)
	if remaining <= 0 {
		return
	}

	timer := time.NewTimer(remaining)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
