package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prismsec/prism/pkg/models"
)

func TestListTools(t *testing.T) {
	router, deps := newTestRouter(t)
	deps.tools.tools = []models.ToolDefinition{
		{Name: "get_agents", Description: "List Wazuh agents", Provider: "wazuh"},
		{Name: "execute_host_command", Description: "Run a command over SSH", Provider: "ssh_exec"},
	}

	rec := doRequest(t, router, http.MethodGet, "/api/tools?mode=builder", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "builder", deps.tools.mode)

	body := decodeJSON(t, rec)
	assert.Equal(t, float64(2), body["total_count"])
	assert.Len(t, body["tools"], 2)
}

func TestListToolsEmptyCatalog(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doRequest(t, router, http.MethodGet, "/api/tools", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(0), decodeJSON(t, rec)["total_count"])
}
