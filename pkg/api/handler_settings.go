package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/prismsec/prism/pkg/settings"
)

// getSettings handles GET /api/settings. Returns 404 until the system has
// been onboarded with a first save.
func (s *Server) getSettings(c *gin.Context) {
	snapshot, err := s.settings.Get(c.Request.Context())
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

// putSettings handles PUT /api/settings. The whole document is replaced in
// one write; there is no partial update.
func (s *Server) putSettings(c *gin.Context) {
	var snapshot settings.Snapshot
	if err := c.ShouldBindJSON(&snapshot); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.settings.Save(c.Request.Context(), &snapshot); err != nil {
		writeServiceError(c, err)
		return
	}

	s.logger.Info("Settings replaced via API",
		"llm_provider", snapshot.LLMProvider,
		"assets", len(snapshot.Assets))
	c.JSON(http.StatusOK, gin.H{"status": "saved"})
}
