package httpserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"quiz-session-core/internal/config"
	"quiz-session-core/internal/registry"
)

func TestHandleHealthReportsConnectionCount(t *testing.T) {
	reg := registry.New(3, zap.NewNop())
	require.NoError(t, reg.Attach(registry.NewConnection("u1", zap.NewNop(), 4)))
	require.NoError(t, reg.Attach(registry.NewConnection("u2", zap.NewNop(), 4)))

	s := &Server{cfg: &config.Config{}, logger: zap.NewNop(), reg: reg}

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/health", nil)
	s.handleHealth(w, r)

	require.Equal(t, http.StatusOK, w.Code)

	var payload healthPayload
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payload))
	require.Equal(t, "ok", payload.Status)
	require.Equal(t, 2, payload.Connections)
	require.NotEmpty(t, payload.Timestamp)
}
