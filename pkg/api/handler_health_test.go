package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/prismsec/prism/test/util"
)

func TestHealthz(t *testing.T) {
	db := util.SetupTestDatabase(t)

	server := NewServer(db, &fakeSettingsStore{}, &fakeTaskStore{}, &fakeResultReader{},
		&fakeTaskRunner{}, &fakeToolLister{}, &fakeEngine{})
	router := server.Router()

	rec := doRequest(t, router, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeJSON(t, rec)
	require.Equal(t, "healthy", body["status"])
	require.NotEmpty(t, body["version"])

	dbHealth, ok := body["database"].(map[string]any)
	require.True(t, ok, "database block missing from health response")
	require.Equal(t, "healthy", dbHealth["status"])

	pool, ok := dbHealth["pool"].(map[string]any)
	require.True(t, ok, "pool block missing from database health")
	require.Contains(t, pool, "open_connections")

	// A closed pool fails the ping and flips the endpoint to 503.
	require.NoError(t, db.Close())

	rec = doRequest(t, router, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	body = decodeJSON(t, rec)
	require.Equal(t, "unhealthy", body["status"])
	require.NotEmpty(t, body["error"])
}
