package logger

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestRequests(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf)

	handler := Requests(log)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		zerolog.Ctx(r.Context()).Debug().Msg("inside")
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("Error guardando el registro"))
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/registro", nil))

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)

	var inside map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &inside))
	require.Equal(t, "/registro", inside["path"])

	var access map[string]any
	require.NoError(t, json.Unmarshal(lines[1], &access))
	require.Equal(t, "error", access["level"])
	require.Equal(t, "POST", access["method"])
	require.EqualValues(t, http.StatusBadGateway, access["status"])
	require.EqualValues(t, len("Error guardando el registro"), access["bytes"])
}

func TestRequests_defaultStatus(t *testing.T) {
	var buf bytes.Buffer
	handler := Requests(zerolog.New(&buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	var access map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &access))
	require.Equal(t, "info", access["level"])
	require.EqualValues(t, http.StatusOK, access["status"])
}
