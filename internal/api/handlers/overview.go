package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GetOverview handles GET /api/overview.
func (s *Server) GetOverview(c *gin.Context) {
	overview, err := s.queries.Overview(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, overview)
}
