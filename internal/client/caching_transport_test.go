package client

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewCachingHTTPClient(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Cache-Control", "max-age=60")
		fmt.Fprint(w, `{"email":"ana@example.com"}`)
	}))
	defer srv.Close()

	tests := []struct {
		name   string
		client *http.Client
	}{
		{"memory", NewInMemoryCachingHTTPClient()},
		{"disk", NewCachingHTTPClient(t.TempDir())},
		{"empty dir falls back to memory", NewCachingHTTPClient("")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hits.Store(0)
			for range 3 {
				resp, err := tt.client.Get(srv.URL + "/user")
				require.NoError(t, err)
				require.Equal(t, http.StatusOK, resp.StatusCode)
				require.NoError(t, resp.Body.Close())
			}
			require.Equal(t, int32(1), hits.Load())
			require.Equal(t, DefaultTimeout, tt.client.Timeout)
		})
	}
}
