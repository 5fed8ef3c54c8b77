package api

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/prismsec/prism/pkg/reason"
)

// chat handles POST /api/chat. The response is a chunked plain-text stream
// of everything the reasoning loop emits: narrative content, [SYSTEM] lines,
// and [MCP_TOOL_CALL] envelopes, flushed as they arrive.
func (s *Server) chat(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Input == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "input is required"})
		return
	}
	if len(req.Input) > maxInputLength {
		c.JSON(http.StatusBadRequest, gin.H{"error": "input exceeds maximum length of 100,000 characters"})
		return
	}

	chunks, err := s.engine.Reason(c.Request.Context(), reason.Request{
		Input:    req.Input,
		Provider: req.Provider,
		Model:    req.Model,
		Mode:     req.Mode,
		History:  req.history(),
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.Header("Content-Type", "text/plain; charset=utf-8")
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	c.Stream(func(w io.Writer) bool {
		chunk, ok := <-chunks
		if !ok {
			return false
		}
		if _, err := io.WriteString(w, chunk); err != nil {
			s.logger.Warn("Chat stream write failed", "error", err)
			return false
		}
		return true
	})
}
