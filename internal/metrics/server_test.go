package metrics

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func getStatus(t *testing.T, url string) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	resp.Body.Close()
	return resp.StatusCode
}

func TestServer_ReadinessFollowsAgent(t *testing.T) {
	var halted atomic.Bool
	s := NewServer(0, func() bool { return !halted.Load() }, zerolog.Nop())

	srv := httptest.NewServer(s.routes())
	defer srv.Close()

	assert.Equal(t, http.StatusOK, getStatus(t, srv.URL+"/health"))
	assert.Equal(t, http.StatusOK, getStatus(t, srv.URL+"/ready"))

	halted.Store(true)
	assert.Equal(t, http.StatusServiceUnavailable, getStatus(t, srv.URL+"/ready"))
	assert.Equal(t, http.StatusOK, getStatus(t, srv.URL+"/health"), "liveness must not depend on agent state")
}

func TestServer_NilReadinessIsAlwaysReady(t *testing.T) {
	s := NewServer(0, nil, zerolog.Nop())
	srv := httptest.NewServer(s.routes())
	defer srv.Close()

	assert.Equal(t, http.StatusOK, getStatus(t, srv.URL+"/ready"))
}
