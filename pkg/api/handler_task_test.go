package api

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prismsec/prism/pkg/models"
	"github.com/prismsec/prism/pkg/services"
)

func TestListTasks(t *testing.T) {
	router, deps := newTestRouter(t)
	deps.tasks.tasks = []*models.MonitoringTask{
		{ID: "t1", Title: "ping", Enabled: true},
		{ID: "t2", Title: "disk", Enabled: false},
	}

	rec := doRequest(t, router, http.MethodGet, "/api/tasks", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeJSON(t, rec)
	assert.Equal(t, float64(2), body["total_count"])
	assert.Len(t, body["tasks"], 2)
}

func TestCreateTask(t *testing.T) {
	router, deps := newTestRouter(t)

	rec := doRequest(t, router, http.MethodPost, "/api/tasks", models.CreateTaskRequest{
		Title:           "ping gateway",
		ToolName:        "execute_host_command",
		ToolArgs:        map[string]any{"command": "ping -c 4 {target}"},
		IntervalMinutes: 5,
		TargetAgent:     `["10.0.0.1"]`,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	require.Len(t, deps.tasks.created, 1)
	assert.Equal(t, "ping gateway", deps.tasks.created[0].Title)
	assert.Equal(t, "task-1", decodeJSON(t, rec)["id"])
}

func TestCreateTaskValidationError(t *testing.T) {
	router, deps := newTestRouter(t)
	deps.tasks.err = services.NewValidationError("interval_minutes", "must be at least 1")

	rec := doRequest(t, router, http.MethodPost, "/api/tasks", models.CreateTaskRequest{
		Title:    "bad",
		ToolName: "get_agents",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeJSON(t, rec)["error"], "interval_minutes")
}

func TestDeleteTask(t *testing.T) {
	router, deps := newTestRouter(t)

	rec := doRequest(t, router, http.MethodDelete, "/api/tasks/t9", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{"t9"}, deps.tasks.deleted)
}

func TestDeleteTaskNotFound(t *testing.T) {
	router, deps := newTestRouter(t)
	deps.tasks.err = services.ErrNotFound

	rec := doRequest(t, router, http.MethodDelete, "/api/tasks/ghost", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSetTaskEnabled(t *testing.T) {
	router, deps := newTestRouter(t)
	off := false

	rec := doRequest(t, router, http.MethodPatch, "/api/tasks/t1/enabled", SetEnabledRequest{Enabled: &off})
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeJSON(t, rec)
	assert.Equal(t, "t1", body["id"])
	assert.Equal(t, false, body["enabled"])
	assert.Equal(t, map[string]bool{"t1": false}, deps.tasks.enabled)
}

func TestSetTaskEnabledRequiresField(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doRequest(t, router, http.MethodPatch, "/api/tasks/t1/enabled", map[string]any{})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRunTask(t *testing.T) {
	router, deps := newTestRouter(t)
	deps.runner.result = &models.MonitoringResult{
		ID:     "r1",
		TaskID: "t1",
		Status: models.StatusAmber,
	}

	rec := doRequest(t, router, http.MethodPost, "/api/tasks/t1/run", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "t1", deps.runner.ranID)

	body := decodeJSON(t, rec)
	assert.Equal(t, "amber", body["status"])
}

func TestRunTaskNotFound(t *testing.T) {
	router, deps := newTestRouter(t)
	// The runner wraps store errors; the mapping still sees ErrNotFound.
	deps.runner.err = fmt.Errorf("failed to load task ghost: %w", services.ErrNotFound)

	rec := doRequest(t, router, http.MethodPost, "/api/tasks/ghost/run", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTaskResults(t *testing.T) {
	router, deps := newTestRouter(t)
	deps.results.results = []*models.MonitoringResult{
		{ID: "r2", TaskID: "t1", Status: models.StatusGreen},
		{ID: "r1", TaskID: "t1", Status: models.StatusRed},
	}

	rec := doRequest(t, router, http.MethodGet, "/api/tasks/t1/results", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "t1", deps.results.taskID)
	assert.Equal(t, defaultResultLimit, deps.results.limit)

	body := decodeJSON(t, rec)
	assert.Equal(t, float64(2), body["total_count"])
}

func TestTaskResultsCustomLimit(t *testing.T) {
	router, deps := newTestRouter(t)

	rec := doRequest(t, router, http.MethodGet, "/api/tasks/t1/results?limit=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, deps.results.limit)

	// Empty histories serialise as an empty list, not null.
	assert.Contains(t, rec.Body.String(), `"results":[]`)
}

func TestTaskResultsRejectsBadLimit(t *testing.T) {
	router, _ := newTestRouter(t)

	for _, limit := range []string{"abc", "0", "-3"} {
		rec := doRequest(t, router, http.MethodGet, "/api/tasks/t1/results?limit="+limit, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "limit %q", limit)
	}
}
