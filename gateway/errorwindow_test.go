package gateway

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSlidingErrorWindow_RateReflectsRecentFailures(t *testing.T) {
	w := newSlidingErrorWindow(time.Minute, 5*time.Second)
	now := time.Now()

	w.record(now, false)
	w.record(now, false)
	w.record(now, true)

	total, errs, rate := w.snapshot(now)
	assert.Equal(t, 3, total)
	assert.Equal(t, 1, errs)
	assert.InDelta(t, 1.0/3.0, rate, 0.0001)
}

func TestSlidingErrorWindow_EvictsStaleBuckets(t *testing.T) {
	w := newSlidingErrorWindow(10*time.Second, time.Second)
	old := time.Now().Add(-time.Minute)
	w.record(old, true)

	total, errs, rate := w.snapshot(time.Now())
	assert.Equal(t, 0, total)
	assert.Equal(t, 0, errs)
	assert.Zero(t, rate)
}

func TestSlidingErrorWindow_EmptyWindowHasZeroRate(t *testing.T) {
	w := newSlidingErrorWindow(time.Minute, 5*time.Second)
	total, errs, rate := w.snapshot(time.Now())
	assert.Zero(t, total)
	assert.Zero(t, errs)
	assert.Zero(t, rate)
}
