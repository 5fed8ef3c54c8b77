// Package api exposes the control plane over HTTP: health, the chat stream,
// the tool catalog, monitoring tasks, and settings.
package api

import (
	"context"
	stdsql "database/sql"
	"log/slog"

	"github.com/gin-gonic/gin"

	"github.com/prismsec/prism/pkg/models"
	"github.com/prismsec/prism/pkg/reason"
	"github.com/prismsec/prism/pkg/settings"
)

// ChatEngine runs the reasoning loop and streams its protocol chunks.
// *reason.Engine satisfies it.
type ChatEngine interface {
	Reason(ctx context.Context, req reason.Request) (<-chan string, error)
}

// ToolLister serves the merged tool catalog. *dispatch.Dispatcher satisfies it.
type ToolLister interface {
	ListTools(ctx context.Context, mode string) []models.ToolDefinition
}

// TaskStore manages monitoring task lifecycle. *services.TaskService
// satisfies it.
type TaskStore interface {
	Create(ctx context.Context, req models.CreateTaskRequest) (*models.MonitoringTask, error)
	List(ctx context.Context) ([]*models.MonitoringTask, error)
	SetEnabled(ctx context.Context, id string, enabled bool) error
	Delete(ctx context.Context, id string) error
}

// ResultReader serves persisted execution records. *services.ResultService
// satisfies it.
type ResultReader interface {
	ListByTask(ctx context.Context, taskID string, limit int) ([]*models.MonitoringResult, error)
}

// TaskRunner triggers one monitoring run on demand. *monitor.Runner
// satisfies it.
type TaskRunner interface {
	Run(ctx context.Context, taskID string) (*models.MonitoringResult, error)
}

// SettingsStore reads and replaces the settings document. *settings.Store
// satisfies it.
type SettingsStore interface {
	Get(ctx context.Context) (*settings.Snapshot, error)
	Save(ctx context.Context, snap *settings.Snapshot) error
}

// Server is the HTTP API server.
type Server struct {
	db         *stdsql.DB
	settings   SettingsStore
	tasks      TaskStore
	results    ResultReader
	runner     TaskRunner
	dispatcher ToolLister
	engine     ChatEngine
	logger     *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// NewServer creates a new API server over the control plane's services.
func NewServer(
	db *stdsql.DB,
	settingsStore SettingsStore,
	tasks TaskStore,
	results ResultReader,
	runner TaskRunner,
	dispatcher ToolLister,
	engine ChatEngine,
	opts ...Option,
) *Server {
	s := &Server{
		db:         db,
		settings:   settingsStore,
		tasks:      tasks,
		results:    results,
		runner:     runner,
		dispatcher: dispatcher,
		engine:     engine,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the gin engine with all routes and middleware attached.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), securityHeaders())

	router.GET("/healthz", s.health)

	apiGroup := router.Group("/api")
	{
		apiGroup.POST("/chat", s.chat)
		apiGroup.GET("/tools", s.listTools)

		apiGroup.GET("/tasks", s.listTasks)
		apiGroup.POST("/tasks", s.createTask)
		apiGroup.DELETE("/tasks/:id", s.deleteTask)
		apiGroup.PATCH("/tasks/:id/enabled", s.setTaskEnabled)
		apiGroup.POST("/tasks/:id/run", s.runTask)
		apiGroup.GET("/tasks/:id/results", s.taskResults)

		apiGroup.GET("/settings", s.getSettings)
		apiGroup.PUT("/settings", s.putSettings)
	}
	return router
}
