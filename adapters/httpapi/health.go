package httpapi

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/99souls/ocr-gateway/gateway/telemetry/health"
)

// readinessTracker remembers the previous overall status so /readyz can
// report when and from what the gateway's readiness last changed, the way
// the teacher's readiness handler does for its engine.
type readinessTracker struct {
	lastStatus atomic.Value // string
	changedAt  atomic.Value // time.Time
}

func (rt *readinessTracker) update(cur string, now time.Time) (prev string, changedAt *time.Time) {
	if raw := rt.lastStatus.Load(); raw != nil {
		prev = raw.(string)
	}
	if prev != cur {
		rt.lastStatus.Store(cur)
		rt.changedAt.Store(now)
		return prev, &now
	}
	if raw := rt.changedAt.Load(); raw != nil {
		t := raw.(time.Time)
		changedAt = &t
	}
	return prev, changedAt
}

type readyResponse struct {
	Ready     bool          `json:"ready"`
	Overall   health.Status `json:"overall"`
	Previous  string        `json:"previous,omitempty"`
	ChangedAt *time.Time    `json:"changed_at,omitempty"`
}

// NewHealthHandler serves /healthz (full subsystem snapshot) and /readyz (a
// load-balancer-facing readiness check that also tracks state transitions)
// from a shared evaluator.
func NewHealthHandler(evaluator *health.Evaluator) http.Handler {
	tracker := &readinessTracker{}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		snap := evaluator.Evaluate(r.Context())
		status := http.StatusOK
		if snap.Overall == health.StatusUnhealthy {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, snap)
	})
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		snap := evaluator.Evaluate(r.Context())
		ready := snap.Overall == health.StatusHealthy || snap.Overall == health.StatusDegraded
		prev, changedAt := tracker.update(string(snap.Overall), time.Now())

		resp := readyResponse{Ready: ready, Overall: snap.Overall, ChangedAt: changedAt}
		if prev != "" && prev != string(snap.Overall) {
			resp.Previous = prev
		}

		status := http.StatusOK
		if !ready {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, resp)
	})
	return mux
}
