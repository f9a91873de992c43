package worker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff_Next(t *testing.T) {
	low := Backoff{Base: 30 * time.Second, Max: 30 * time.Minute, jitter: func() float64 { return 0 }}
	high := Backoff{Base: 30 * time.Second, Max: 30 * time.Minute, jitter: func() float64 { return 0.999999 }}

	tests := []struct {
		attempt int
		full    time.Duration
	}{
		{0, 30 * time.Second},
		{1, 30 * time.Second},
		{2, time.Minute},
		{3, 2 * time.Minute},
		{6, 16 * time.Minute},
		{7, 30 * time.Minute},
		{50, 30 * time.Minute},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.full/2, low.Next(tt.attempt), "attempt %d lower bound", tt.attempt)
		got := high.Next(tt.attempt)
		assert.LessOrEqual(t, got, tt.full, "attempt %d upper bound", tt.attempt)
		assert.Greater(t, got, tt.full*9/10, "attempt %d near upper bound", tt.attempt)
	}
}

func TestBackoff_DefaultJitterWithinBounds(t *testing.T) {
	b := Backoff{Base: time.Second, Max: time.Minute}
	for i := 0; i < 100; i++ {
		d := b.Next(3)
		assert.GreaterOrEqual(t, d, 2*time.Second)
		assert.LessOrEqual(t, d, 4*time.Second)
	}
}
