package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// GetLiveness handles GET /health/live.
func (s *Server) GetLiveness(c *gin.Context) {
	c.JSON(http.StatusOK, healthResponse{Status: "ok"})
}

// GetReadiness handles GET /health/ready. It reports degraded when the
// database is unreachable or a processor loop has stopped.
func (s *Server) GetReadiness(c *gin.Context) {
	ctx := c.Request.Context()
	checks := make(map[string]string)
	allHealthy := true

	if s.db != nil {
		if err := s.db.Ping(ctx); err != nil {
			checks["database"] = "error"
			allHealthy = false
		} else {
			checks["database"] = "ok"
		}
	}

	statuses, err := s.registry.Statuses(ctx)
	if err != nil {
		checks["processors"] = "error"
		allHealthy = false
	}
	for _, st := range statuses {
		if st.Running {
			checks["processor:"+st.Group] = "ok"
			continue
		}
		checks["processor:"+st.Group] = "stopped"
		allHealthy = false
	}

	status := "ok"
	httpStatus := http.StatusOK
	if !allHealthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}
	c.JSON(httpStatus, healthResponse{Status: status, Checks: checks})
}
