// Package httpapi wires the gateway's domain types to HTTP: route
// registration, the admin auth gate, panic recovery, and public/admin JSON
// response shaping.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/99souls/ocr-gateway/gateway"
)

// maxBodyBytes mirrors the original service's global body-size cap
// (axum's DefaultBodyLimit layer): 512 MiB.
const maxBodyBytes = 512 << 20

func limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		next.ServeHTTP(w, r)
	})
}

// NewHandler builds the gateway's public and admin HTTP surface: endpoint
// describe routes, the OCR dispatch route, and the authenticated admin
// mutation routes. Health and metrics routes are registered separately
// (optionally on their own listeners); see NewHealthHandler and
// gw.Metrics.Health.
func NewHandler(gw *gateway.Gateway, authKey string) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, "OCR API Gateway")
	})
	mux.HandleFunc("GET /endpoints", func(w http.ResponseWriter, r *http.Request) {
		handleListEndpoints(w, gw.Watcher)
	})
	mux.HandleFunc("GET /endpoints/supporting/{handler}", func(w http.ResponseWriter, r *http.Request) {
		handleListSupporting(w, gw.Watcher, r.PathValue("handler"))
	})
	mux.HandleFunc("GET /ocr/{handler}", func(w http.ResponseWriter, r *http.Request) {
		handlePickOne(w, gw.Watcher, r.PathValue("handler"))
	})
	mux.HandleFunc("POST /ocr/{handler}", func(w http.ResponseWriter, r *http.Request) {
		gw.Dispatcher.ServeHTTP(w, r, r.PathValue("handler"))
	})

	mux.HandleFunc("GET /admin/endpoints", requireAuth(authKey, func(w http.ResponseWriter, r *http.Request) {
		handleAdminList(w, gw.Watcher)
	}))
	mux.HandleFunc("POST /admin/endpoints", requireAuth(authKey, func(w http.ResponseWriter, r *http.Request) {
		handleAdminAdd(w, r, gw.Watcher)
	}))
	mux.HandleFunc("PUT /admin/endpoints", requireAuth(authKey, func(w http.ResponseWriter, r *http.Request) {
		handleAdminAdd(w, r, gw.Watcher)
	}))
	mux.HandleFunc("DELETE /admin/endpoints/{id}", requireAuth(authKey, func(w http.ResponseWriter, r *http.Request) {
		handleAdminRemove(w, gw.Watcher, r.PathValue("id"))
	}))
	mux.HandleFunc("POST /admin/endpoints/{id}/enable", requireAuth(authKey, func(w http.ResponseWriter, r *http.Request) {
		handleAdminSetDisabled(w, gw.Watcher, r.PathValue("id"), false)
	}))
	mux.HandleFunc("POST /admin/endpoints/{id}/disable", requireAuth(authKey, func(w http.ResponseWriter, r *http.Request) {
		handleAdminSetDisabled(w, gw.Watcher, r.PathValue("id"), true)
	}))

	return recoverMiddleware(gw.Logger, limitBody(mux))
}

func handleListEndpoints(w http.ResponseWriter, watcher *gateway.EndpointWatcher) {
	eps := watcher.Endpoints()
	out := make([]publicEndpoint, 0, len(eps))
	for _, ep := range eps {
		out = append(out, toPublicEndpoint(ep))
	}
	writeJSON(w, http.StatusOK, out)
}

func handleListSupporting(w http.ResponseWriter, watcher *gateway.EndpointWatcher, handler string) {
	eps := watcher.EndpointsSupporting(handler)
	out := make([]publicEndpoint, 0, len(eps))
	for _, ep := range eps {
		out = append(out, toPublicEndpoint(ep))
	}
	writeJSON(w, http.StatusOK, out)
}

func handlePickOne(w http.ResponseWriter, watcher *gateway.EndpointWatcher, handler string) {
	eps := watcher.EndpointsSupporting(handler)
	if len(eps) == 0 {
		http.Error(w, gateway.ErrNoEligibleEndpoint.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, toPublicEndpoint(eps[0]))
}

func handleAdminList(w http.ResponseWriter, watcher *gateway.EndpointWatcher) {
	eps := watcher.Endpoints()
	out := make([]adminEndpoint, 0, len(eps))
	for _, ep := range eps {
		out = append(out, toAdminEndpoint(ep))
	}
	writeJSON(w, http.StatusOK, out)
}

func handleAdminAdd(w http.ResponseWriter, r *http.Request, watcher *gateway.EndpointWatcher) {
	var body struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, mutationResult{Success: false, Message: "request body exceeds maximum size"})
			return
		}
		writeJSON(w, http.StatusBadRequest, mutationResult{Success: false, Message: "invalid request body"})
		return
	}
	added, err := watcher.AdminAddEndpoint(r.Context(), body.URL)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, mutationResult{Success: false, Message: err.Error()})
		return
	}
	if !added {
		writeJSON(w, http.StatusOK, mutationResult{Success: false, Message: "Endpoint already exists", URL: body.URL})
		return
	}
	writeJSON(w, http.StatusOK, mutationResult{Success: true, URL: body.URL})
}

func handleAdminRemove(w http.ResponseWriter, watcher *gateway.EndpointWatcher, id string) {
	if !watcher.AdminRemoveEndpoint(id) {
		writeJSON(w, http.StatusOK, mutationResult{Success: false, Message: "Endpoint not found", ID: id})
		return
	}
	writeJSON(w, http.StatusOK, mutationResult{Success: true, ID: id})
}

func handleAdminSetDisabled(w http.ResponseWriter, watcher *gateway.EndpointWatcher, id string, disabled bool) {
	if !watcher.AdminSetDisabled(id, disabled) {
		writeJSON(w, http.StatusOK, mutationResult{Success: false, Message: "Endpoint not found", ID: id})
		return
	}
	writeJSON(w, http.StatusOK, mutationResult{Success: true, ID: id})
}
