package gateway

import "context"

// AdminAddEndpoint adds a backend by URL behind the admin auth gate upstream
// of this call. Returns (added, error). added is false, error nil, when the
// URL already exists in the registry.
func (w *EndpointWatcher) AdminAddEndpoint(ctx context.Context, rawURL string) (bool, error) {
	added, err := w.AddEndpoint(ctx, rawURL)
	if err == nil {
		outcome := "added"
		if !added {
			outcome = "duplicate"
		}
		w.publishAdminEvent(outcome, map[string]interface{}{"url": rawURL})
	}
	return added, err
}

// AdminRemoveEndpoint removes a backend by id.
func (w *EndpointWatcher) AdminRemoveEndpoint(id string) bool {
	removed := w.RemoveEndpoint(id)
	if removed {
		w.publishAdminEvent("remove", map[string]interface{}{"endpoint_id": id})
	}
	return removed
}

// AdminSetDisabled toggles the disabled flag on a backend by id. Returns
// false if no endpoint with that id exists.
func (w *EndpointWatcher) AdminSetDisabled(id string, disabled bool) bool {
	ep, ok := w.Endpoint(id)
	if !ok {
		return false
	}
	ep.SetDisabled(disabled)
	outcome := "enable"
	if disabled {
		outcome = "disable"
	}
	w.publishAdminEvent(outcome, map[string]interface{}{"endpoint_id": id})
	return true
}
