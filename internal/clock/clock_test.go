package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWindow(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	w := NewWindow(start, 5*time.Minute)

	assert.Equal(t, start, w.IssuedAt)
	assert.Equal(t, start.Add(5*time.Minute), w.ExpiresAt)

	assert.False(t, w.Expired(start))
	assert.False(t, w.Expired(w.ExpiresAt), "the boundary instant is still valid")
	assert.True(t, w.Expired(w.ExpiresAt.Add(time.Nanosecond)))

	assert.Equal(t, 2*time.Minute, w.Remaining(start.Add(3*time.Minute)))
	assert.Equal(t, time.Duration(0), w.Remaining(start.Add(10*time.Minute)))
}

func TestFakeAdvance(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	f := NewFake(start)
	f.Advance(90 * time.Second)
	assert.Equal(t, start.Add(90*time.Second), f.Now())
}

func TestRealIsUTC(t *testing.T) {
	assert.Equal(t, time.UTC, Real().Now().Location())
}
