package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bft-labs/plotline/internal/ports"
)

func TestDeviceClient_IsIdle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/devices/axi-1/status":
			_, _ = w.Write([]byte(`{"idle":true,"state":"parked"}`))
		case "/devices/axi-2/status":
			_, _ = w.Write([]byte(`{"idle":false,"state":"plotting"}`))
		case "/devices/broken/status":
			w.WriteHeader(http.StatusBadGateway)
		case "/devices/weird/status":
			_, _ = w.Write([]byte(`{"state":"?"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewDeviceClient(srv.URL+"/", srv.Client(), nil)
	ctx := context.Background()

	idle, err := c.IsIdle(ctx, "axi-1")
	require.NoError(t, err)
	assert.True(t, idle)

	idle, err = c.IsIdle(ctx, "axi-2")
	require.NoError(t, err)
	assert.False(t, idle)

	_, err = c.IsIdle(ctx, "broken")
	assert.ErrorIs(t, err, ports.ErrUnavailable)

	_, err = c.IsIdle(ctx, "ghost")
	assert.ErrorIs(t, err, ports.ErrNotFound)

	_, err = c.IsIdle(ctx, "weird")
	assert.Error(t, err)
}

func TestDeviceClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewDeviceClient(url, nil, nil).IsIdle(context.Background(), "axi-1")
	assert.ErrorIs(t, err, ports.ErrUnavailable)
}

func TestCameraProbe(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		want    bool
		wantErr error
	}{
		{"plain ok", http.StatusOK, "", true, nil},
		{"explicit healthy", http.StatusOK, `{"healthy":true}`, true, nil},
		{"explicit unhealthy", http.StatusOK, `{"healthy":false}`, false, nil},
		{"server error", http.StatusServiceUnavailable, "", false, ports.ErrUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/health", r.URL.Path)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			ok, err := NewCameraProbe(srv.URL, srv.Client(), nil).Healthy(context.Background())
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
		})
	}
}
