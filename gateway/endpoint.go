// Package gateway implements the OCR API gateway: a health-checking
// registry of backend OCR workers and a capability-filtered dispatcher that
// streams requests to whichever backend currently advertises support for
// the requested handler.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const (
	probeConnectTimeout = 3 * time.Second
	probeFetchTimeout   = 5 * time.Second
)

// EndpointInfo is the immutable capability manifest a backend returns from
// its base URL.
type EndpointInfo struct {
	AvailableHandlers []string `json:"available_handlers"`
	HandlerTemplate   string   `json:"handler_template"`
}

// UnmarshalJSON accepts the legacy "handlers" field name as an alias for
// "available_handlers".
func (i *EndpointInfo) UnmarshalJSON(data []byte) error {
	var raw struct {
		AvailableHandlers []string `json:"available_handlers"`
		LegacyHandlers    []string `json:"handlers"`
		HandlerTemplate   string   `json:"handler_template"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	handlers := raw.AvailableHandlers
	if len(handlers) == 0 {
		handlers = raw.LegacyHandlers
	}
	i.AvailableHandlers = handlers
	i.HandlerTemplate = raw.HandlerTemplate
	return nil
}

// Supports reports whether h is in the manifest's handler set.
func (i EndpointInfo) Supports(h string) bool {
	for _, candidate := range i.AvailableHandlers {
		if candidate == h {
			return true
		}
	}
	return false
}

// HandlerPath substitutes h into the handler template's {handler_name}
// placeholder, with any leading slash stripped so it can be joined cleanly
// against a base URL.
func (i EndpointInfo) HandlerPath(h string) string {
	path := strings.ReplaceAll(i.HandlerTemplate, "{handler_name}", h)
	return strings.TrimPrefix(path, "/")
}

// StatusState tags which variant an EndpointStatus holds.
type StatusState string

const (
	StateUnknown StatusState = "unknown"
	StateUp      StatusState = "up"
	StateDown    StatusState = "down"
)

// EndpointStatus is the tagged union Unknown | Up{checked_at,info} |
// Down{checked_at,error}. Only one of Info/Error is meaningful, selected by
// State.
type EndpointStatus struct {
	State     StatusState
	CheckedAt time.Time
	Info      EndpointInfo
	Error     string
}

func unknownStatus() EndpointStatus { return EndpointStatus{State: StateUnknown} }

func upStatus(info EndpointInfo) EndpointStatus {
	return EndpointStatus{State: StateUp, CheckedAt: time.Now(), Info: info}
}

func downStatus(err string) EndpointStatus {
	return EndpointStatus{State: StateDown, CheckedAt: time.Now(), Error: err}
}

// Endpoint is one backend OCR worker: a stable id, an immutable base URL, a
// mutable status cell written only by probe code, and an admin-controlled
// disabled flag.
type Endpoint struct {
	id  string
	url *url.URL

	status   atomic.Pointer[EndpointStatus]
	disabled atomic.Bool

	client *http.Client
}

// NewEndpoint constructs an Endpoint in the Unknown state for the given
// absolute base URL. The caller is responsible for normalizing/validating
// the URL before calling this (see ParseBackendURL).
func NewEndpoint(base *url.URL, client *http.Client) *Endpoint {
	if client == nil {
		client = &http.Client{Timeout: probeFetchTimeout}
	}
	e := &Endpoint{id: uuid.New().String(), url: base, client: client}
	initial := unknownStatus()
	e.status.Store(&initial)
	return e
}

// ID returns the endpoint's process-unique identifier.
func (e *Endpoint) ID() string { return e.id }

// URL returns the endpoint's base URL.
func (e *Endpoint) URL() *url.URL { return e.url }

// Status returns a snapshot of the current status.
func (e *Endpoint) Status() EndpointStatus { return *e.status.Load() }

// Disabled reports the current value of the disabled flag.
func (e *Endpoint) Disabled() bool { return e.disabled.Load() }

// SetDisabled atomically sets the disabled flag. Status is left untouched;
// it freezes at its last known value while disabled.
func (e *Endpoint) SetDisabled(b bool) { e.disabled.Store(b) }

// SupportsHandler reports whether the endpoint is currently Up and
// advertises h in its manifest.
func (e *Endpoint) SupportsHandler(h string) bool {
	st := e.Status()
	return st.State == StateUp && st.Info.Supports(h)
}

// HandlerURL returns the fully-qualified URL to dispatch a request for h
// to, or nil if the endpoint is not currently Up.
func (e *Endpoint) HandlerURL(h string) *url.URL {
	st := e.Status()
	if st.State != StateUp {
		return nil
	}
	target := *e.url
	target.Path = "/" + st.Info.HandlerPath(h)
	return &target
}

// CheckAndUpdate runs one probe-then-maybe-refresh cycle: a TCP
// connectivity check followed, on success, by a manifest fetch. It is a
// no-op while the endpoint is disabled.
func (e *Endpoint) CheckAndUpdate(ctx context.Context) {
	if e.Disabled() {
		return
	}

	hostport, err := hostPort(e.url)
	if err != nil {
		e.setStatus(downStatus(err.Error()))
		return
	}

	conn, err := net.DialTimeout("tcp", hostport, probeConnectTimeout)
	if err != nil {
		e.setStatus(downStatus(err.Error()))
		return
	}
	conn.Close()

	info, err := e.fetchManifest(ctx)
	if err != nil {
		e.setStatus(downStatus(err.Error()))
		return
	}
	e.setStatus(upStatus(info))
}

func (e *Endpoint) setStatus(st EndpointStatus) {
	e.status.Store(&st)
}

func (e *Endpoint) fetchManifest(ctx context.Context) (EndpointInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, probeFetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.url.String(), nil)
	if err != nil {
		return EndpointInfo{}, fmt.Errorf("Couldn't get endpoint base info: %w", err)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return EndpointInfo{}, fmt.Errorf("Couldn't get endpoint base info: %w", err)
	}
	defer resp.Body.Close()

	var info EndpointInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return EndpointInfo{}, fmt.Errorf("Couldn't parse endpoint base info: %w", err)
	}
	return info, nil
}

// hostPort derives a dial target from a base URL, defaulting the port from
// the scheme when not explicit.
func hostPort(u *url.URL) (string, error) {
	if u.Hostname() == "" {
		return "", fmt.Errorf("endpoint URL has no host: %s", u.String())
	}
	if port := u.Port(); port != "" {
		return net.JoinHostPort(u.Hostname(), port), nil
	}
	switch u.Scheme {
	case "https":
		return net.JoinHostPort(u.Hostname(), "443"), nil
	case "http", "":
		return net.JoinHostPort(u.Hostname(), "80"), nil
	default:
		return "", fmt.Errorf("unsupported endpoint scheme %q", u.Scheme)
	}
}

// ParseBackendURL parses and normalizes a backend base URL: scheme and host
// are required, and the path is reset to "/" for dedup purposes.
func ParseBackendURL(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("invalid URL %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("URL %q must use http or https", raw)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("URL %q must have a host", raw)
	}
	u.Path = "/"
	u.RawQuery = ""
	u.Fragment = ""
	return u, nil
}
