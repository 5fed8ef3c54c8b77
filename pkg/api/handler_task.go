package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/prismsec/prism/pkg/models"
)

// defaultResultLimit bounds GET /api/tasks/:id/results when the client does
// not ask for a specific window.
const defaultResultLimit = 50

// listTasks handles GET /api/tasks.
func (s *Server) listTasks(c *gin.Context) {
	tasks, err := s.tasks.List(c.Request.Context())
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, &models.TaskListResponse{
		Tasks:      tasks,
		TotalCount: len(tasks),
	})
}

// createTask handles POST /api/tasks.
func (s *Server) createTask(c *gin.Context) {
	var req models.CreateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	task, err := s.tasks.Create(c.Request.Context(), req)
	if err != nil {
		writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, task)
}

// deleteTask handles DELETE /api/tasks/:id.
func (s *Server) deleteTask(c *gin.Context) {
	if err := s.tasks.Delete(c.Request.Context(), c.Param("id")); err != nil {
		writeServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// setTaskEnabled handles PATCH /api/tasks/:id/enabled. The scheduler picks
// the new state up on its next tick.
func (s *Server) setTaskEnabled(c *gin.Context) {
	var req SetEnabledRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id := c.Param("id")
	if err := s.tasks.SetEnabled(c.Request.Context(), id, *req.Enabled); err != nil {
		writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"id": id, "enabled": *req.Enabled})
}

// runTask handles POST /api/tasks/:id/run: a manual trigger outside the
// schedule. The run is synchronous and returns the persisted result.
func (s *Server) runTask(c *gin.Context) {
	result, err := s.runner.Run(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// taskResults handles GET /api/tasks/:id/results.
func (s *Server) taskResults(c *gin.Context) {
	limit := defaultResultLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = parsed
	}

	results, err := s.results.ListByTask(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	if results == nil {
		results = []*models.MonitoringResult{}
	}
	c.JSON(http.StatusOK, gin.H{
		"results":     results,
		"total_count": len(results),
	})
}
