package health

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluate_AggregatesOverallStatus(t *testing.T) {
	e := NewEvaluator(time.Hour,
		ProbeFunc(func(ctx context.Context) ProbeResult { return Healthy("a") }),
		ProbeFunc(func(ctx context.Context) ProbeResult { return Degraded("b", "slow") }),
	)
	snap := e.Evaluate(context.Background())
	assert.Equal(t, StatusDegraded, snap.Overall)
	assert.Len(t, snap.Probes, 2)
}

func TestEvaluate_UnhealthyDominates(t *testing.T) {
	e := NewEvaluator(time.Hour,
		ProbeFunc(func(ctx context.Context) ProbeResult { return Degraded("a", "slow") }),
		ProbeFunc(func(ctx context.Context) ProbeResult { return Unhealthy("b", "down") }),
	)
	snap := e.Evaluate(context.Background())
	assert.Equal(t, StatusUnhealthy, snap.Overall)
}

func TestEvaluate_NoProbesIsUnknown(t *testing.T) {
	e := NewEvaluator(time.Hour)
	snap := e.Evaluate(context.Background())
	assert.Equal(t, StatusUnknown, snap.Overall)
}

func TestEvaluate_CachesWithinTTL(t *testing.T) {
	calls := 0
	e := NewEvaluator(time.Hour, ProbeFunc(func(ctx context.Context) ProbeResult {
		calls++
		return Healthy("a")
	}))
	e.Evaluate(context.Background())
	e.Evaluate(context.Background())
	require.Equal(t, 1, calls)
}

func TestForceInvalidate_TriggersRecompute(t *testing.T) {
	calls := 0
	e := NewEvaluator(time.Hour, ProbeFunc(func(ctx context.Context) ProbeResult {
		calls++
		return Healthy("a")
	}))
	e.Evaluate(context.Background())
	e.ForceInvalidate()
	e.Evaluate(context.Background())
	require.Equal(t, 2, calls)
}
