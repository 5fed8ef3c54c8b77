package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prismsec/prism/pkg/models"
	"github.com/prismsec/prism/test/util"
)

func TestValidateThresholdCondition(t *testing.T) {
	tests := []struct {
		name      string
		condition string
		wantErr   bool
	}{
		{
			name:      "empty is allowed",
			condition: "",
			wantErr:   false,
		},
		{
			name:      "whitespace only is allowed",
			condition: "   ",
			wantErr:   false,
		},
		{
			name:      "variable mode condition",
			condition: `{"mode":"variable","parserRules":{"cpu":"$.cpu"},"rules":[{"variable":"cpu","operator":">","value":90,"level":"red"}]}`,
			wantErr:   false,
		},
		{
			name:      "contains mode condition",
			condition: `{"mode":"contains","contains":["FAILED"],"match_level":"red"}`,
			wantErr:   false,
		},
		{
			name:      "legacy expression is rejected",
			condition: `result['cpu'] > 90`,
			wantErr:   true,
		},
		{
			name:      "bare comparison is rejected",
			condition: `cpu > 90`,
			wantErr:   true,
		},
		{
			name:      "JSON scalar is rejected",
			condition: `42`,
			wantErr:   true,
		},
		{
			name:      "JSON array is rejected",
			condition: `["red"]`,
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateThresholdCondition(tt.condition)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, IsValidationError(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestTaskService_Create_Validation(t *testing.T) {
	// Validation failures return before any DB access, so a nil pool is safe.
	svc := NewTaskService(nil, nil)
	ctx := context.Background()

	tests := []struct {
		name  string
		req   models.CreateTaskRequest
		field string
	}{
		{
			name:  "missing title",
			req:   models.CreateTaskRequest{ToolName: "execute_host_command", IntervalMinutes: 5},
			field: "title",
		},
		{
			name:  "missing tool name",
			req:   models.CreateTaskRequest{Title: "check disk", IntervalMinutes: 5},
			field: "tool_name",
		},
		{
			name:  "zero interval",
			req:   models.CreateTaskRequest{Title: "check disk", ToolName: "execute_host_command", IntervalMinutes: 0},
			field: "interval_minutes",
		},
		{
			name:  "negative interval",
			req:   models.CreateTaskRequest{Title: "check disk", ToolName: "execute_host_command", IntervalMinutes: -3},
			field: "interval_minutes",
		},
		{
			name: "eval-style threshold",
			req: models.CreateTaskRequest{
				Title:              "check disk",
				ToolName:           "execute_host_command",
				IntervalMinutes:    5,
				ThresholdCondition: "output.count > 3",
			},
			field: "threshold_condition",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(ctx, tt.req)
			require.Error(t, err)

			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestTaskService_CreateAndGet(t *testing.T) {
	db := util.SetupTestDatabase(t)
	svc := NewTaskService(db, nil)
	ctx := context.Background()

	created, err := svc.Create(ctx, models.CreateTaskRequest{
		Title:              "disk usage",
		ToolName:           "execute_host_command",
		ToolArgs:           map[string]any{"command": "df -h {target}"},
		ThresholdCondition: `{"mode":"contains","contains":["9"],"match_level":"red"}`,
		IntervalMinutes:    5,
		TargetAgent:        `["10.0.0.5"]`,
		ActionToolName:     "execute_host_command",
		ActionToolArgs:     `{"command":"kill -9 {{pid}}"}`,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.True(t, created.Enabled, "tasks default to enabled")
	assert.Nil(t, created.LastRun)

	got, err := svc.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.Title, got.Title)
	assert.Equal(t, created.ToolName, got.ToolName)
	assert.Equal(t, map[string]any{"command": "df -h {target}"}, got.ToolArgs)
	assert.Equal(t, created.ThresholdCondition, got.ThresholdCondition)
	assert.Equal(t, created.IntervalMinutes, got.IntervalMinutes)
	assert.Equal(t, `["10.0.0.5"]`, got.TargetAgent)
	assert.Equal(t, created.ActionToolName, got.ActionToolName)
	assert.Equal(t, created.ActionToolArgs, got.ActionToolArgs)
}

func TestTaskService_CreateDefaults(t *testing.T) {
	db := util.SetupTestDatabase(t)
	svc := NewTaskService(db, nil)
	ctx := context.Background()

	disabled := false
	created, err := svc.Create(ctx, models.CreateTaskRequest{
		Title:           "bare minimum",
		ToolName:        "get_wazuh_alerts",
		IntervalMinutes: 1,
		Enabled:         &disabled,
	})
	require.NoError(t, err)

	got, err := svc.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TargetAll, got.TargetAgent)
	assert.Equal(t, map[string]any{}, got.ToolArgs)
	assert.Empty(t, got.ActionToolName)
	assert.False(t, got.Enabled)
}

func TestTaskService_GetNotFound(t *testing.T) {
	db := util.SetupTestDatabase(t)
	svc := NewTaskService(db, nil)

	_, err := svc.Get(context.Background(), "1f2e3d4c-0000-0000-0000-000000000000")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTaskService_ListEnabledFiltersDisabled(t *testing.T) {
	db := util.SetupTestDatabase(t)
	svc := NewTaskService(db, nil)
	ctx := context.Background()

	running := createTestTask(t, svc, "running")
	paused := createTestTask(t, svc, "paused")
	require.NoError(t, svc.SetEnabled(ctx, paused.ID, false))

	enabled, err := svc.ListEnabled(ctx)
	require.NoError(t, err)
	require.Len(t, enabled, 1)
	assert.Equal(t, running.ID, enabled[0].ID)

	all, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	// Re-enabling restores scheduler eligibility.
	require.NoError(t, svc.SetEnabled(ctx, paused.ID, true))
	enabled, err = svc.ListEnabled(ctx)
	require.NoError(t, err)
	assert.Len(t, enabled, 2)
}

func TestTaskService_SetEnabledNotFound(t *testing.T) {
	db := util.SetupTestDatabase(t)
	svc := NewTaskService(db, nil)

	err := svc.SetEnabled(context.Background(), "1f2e3d4c-0000-0000-0000-000000000000", false)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTaskService_UpdateLastRun(t *testing.T) {
	db := util.SetupTestDatabase(t)
	svc := NewTaskService(db, nil)
	ctx := context.Background()

	task := createTestTask(t, svc, "runs")
	require.Nil(t, task.LastRun)

	first := time.Now().UTC().Add(-time.Hour).Truncate(time.Microsecond)
	require.NoError(t, svc.UpdateLastRun(ctx, task.ID, first))

	got, err := svc.Get(ctx, task.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastRun)
	assert.True(t, got.LastRun.Equal(first))

	// Each run strictly advances the marker.
	second := time.Now().UTC().Truncate(time.Microsecond)
	require.NoError(t, svc.UpdateLastRun(ctx, task.ID, second))

	got, err = svc.Get(ctx, task.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastRun)
	assert.True(t, got.LastRun.After(first))

	err = svc.UpdateLastRun(ctx, "1f2e3d4c-0000-0000-0000-000000000000", second)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTaskService_DeleteNotFound(t *testing.T) {
	db := util.SetupTestDatabase(t)
	svc := NewTaskService(db, nil)

	err := svc.Delete(context.Background(), "1f2e3d4c-0000-0000-0000-000000000000")
	assert.ErrorIs(t, err, ErrNotFound)
}
