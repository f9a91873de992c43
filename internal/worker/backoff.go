package worker

import (
	"math/rand"
	"time"
)

// Backoff computes retry delays for a failing source: base doubled per
// consecutive failure, capped at max, with up to half the delay taken off as jitter.
type Backoff struct {
	Base time.Duration
	Max  time.Duration

	// jitter returns a value in [0, 1); nil uses math/rand
	jitter func() float64
}

// Next returns the delay before retry number attempt (1-based)
func (b Backoff) Next(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := b.Base
	for i := 1; i < attempt && d < b.Max; i++ {
		d *= 2
	}
	if d > b.Max {
		d = b.Max
	}

	j := b.jitter
	if j == nil {
		j = rand.Float64
	}
	half := d / 2
	return half + time.Duration(j()*float64(d-half))
}
