package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/99souls/ocr-gateway/gateway"
)

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// publicEndpoint is the stripped-down record returned from the public
// describe routes: no URL, no raw client internals.
type publicEndpoint struct {
	ID     string       `json:"id"`
	Status publicStatus `json:"status"`
}

type publicStatus struct {
	State             string   `json:"state"`
	CheckedAt         string   `json:"checked_at,omitempty"`
	AvailableHandlers []string `json:"available_handlers,omitempty"`
	Error             string   `json:"error,omitempty"`
}

func toPublicEndpoint(ep *gateway.Endpoint) publicEndpoint {
	st := ep.Status()
	ps := publicStatus{State: string(st.State)}
	if !st.CheckedAt.IsZero() {
		ps.CheckedAt = st.CheckedAt.UTC().Format("2006-01-02T15:04:05Z07:00")
	}
	switch st.State {
	case gateway.StateUp:
		ps.AvailableHandlers = st.Info.AvailableHandlers
	case gateway.StateDown:
		ps.Error = st.Error
	}
	return publicEndpoint{ID: ep.ID(), Status: ps}
}

// adminEndpoint is the full internal record, including the base URL and the
// disabled flag, returned only behind the admin auth gate.
type adminEndpoint struct {
	ID       string       `json:"id"`
	URL      string       `json:"url"`
	Disabled bool         `json:"disabled"`
	Status   publicStatus `json:"status"`
}

func toAdminEndpoint(ep *gateway.Endpoint) adminEndpoint {
	pub := toPublicEndpoint(ep)
	return adminEndpoint{ID: ep.ID(), URL: ep.URL().String(), Disabled: ep.Disabled(), Status: pub.Status}
}

type mutationResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	URL     string `json:"url,omitempty"`
	ID      string `json:"id,omitempty"`
}
