package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// listTools handles GET /api/tools. The optional ?mode= query gates
// mode-specific entries the same way the dialogue does.
func (s *Server) listTools(c *gin.Context) {
	tools := s.dispatcher.ListTools(c.Request.Context(), c.Query("mode"))
	c.JSON(http.StatusOK, gin.H{
		"tools":       tools,
		"total_count": len(tools),
	})
}
