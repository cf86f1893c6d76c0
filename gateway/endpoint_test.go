package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBackendURL(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr bool
		want    string
	}{
		{name: "valid http", raw: "http://example.com/ignored?x=1", want: "http://example.com/"},
		{name: "valid https with port", raw: "https://example.com:8443/", want: "https://example.com:8443/"},
		{name: "missing scheme", raw: "example.com", wantErr: true},
		{name: "unsupported scheme", raw: "ftp://example.com", wantErr: true},
		{name: "no host", raw: "http://", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := ParseBackendURL(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, u.String())
		})
	}
}

func TestEndpointInfo_LegacyHandlersAlias(t *testing.T) {
	var info EndpointInfo
	err := json.Unmarshal([]byte(`{"handlers":["ocrs"],"handler_template":"/ocr/{handler_name}"}`), &info)
	require.NoError(t, err)
	assert.True(t, info.Supports("ocrs"))
	assert.Equal(t, "ocr/ocrs", info.HandlerPath("ocrs"))
}

func TestEndpointCheckAndUpdate_Up(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(EndpointInfo{AvailableHandlers: []string{"ocrs"}, HandlerTemplate: "/ocr/{handler_name}"})
	}))
	defer srv.Close()

	u, err := ParseBackendURL(srv.URL)
	require.NoError(t, err)
	ep := NewEndpoint(u, srv.Client())

	ep.CheckAndUpdate(context.Background())
	st := ep.Status()
	require.Equal(t, StateUp, st.State)
	assert.True(t, st.Info.Supports("ocrs"))
	assert.True(t, ep.SupportsHandler("ocrs"))
}

func TestEndpointCheckAndUpdate_Down_Unreachable(t *testing.T) {
	u, err := ParseBackendURL("http://127.0.0.1:1/")
	require.NoError(t, err)
	ep := NewEndpoint(u, nil)

	ep.CheckAndUpdate(context.Background())
	st := ep.Status()
	require.Equal(t, StateDown, st.State)
	assert.NotEmpty(t, st.Error)
}

func TestEndpointCheckAndUpdate_DisabledIsNoop(t *testing.T) {
	u, err := ParseBackendURL("http://127.0.0.1:1/")
	require.NoError(t, err)
	ep := NewEndpoint(u, nil)
	ep.SetDisabled(true)

	ep.CheckAndUpdate(context.Background())
	assert.Equal(t, StateUnknown, ep.Status().State)
}

func TestEndpointHandlerURL_NilWhenNotUp(t *testing.T) {
	u, _ := ParseBackendURL("http://127.0.0.1:1/")
	ep := NewEndpoint(u, nil)
	assert.Nil(t, ep.HandlerURL("ocrs"))
}
