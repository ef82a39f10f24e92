package app

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"coffeeshop.io/coffeeshop/internal/api/handlers"
	"coffeeshop.io/coffeeshop/internal/api/middleware"
	"coffeeshop.io/coffeeshop/internal/config"
	"coffeeshop.io/coffeeshop/internal/pkg/logger"
)

// defaultAllowedOrigins is used when server.allowed_origins is empty.
var defaultAllowedOrigins = []string{
	"http://localhost:3000",
	"http://localhost:5173",
}

func newRouter(cfg *config.Config, server *handlers.Server) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestID(), middleware.ErrorHandler())
	router.Use(cors.New(buildCORSConfig(cfg)))

	server.RegisterRoutes(router)
	return router
}

func buildCORSConfig(cfg *config.Config) cors.Config {
	out := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", middleware.RequestIDHeader},
		ExposeHeaders:    []string{middleware.RequestIDHeader},
		AllowCredentials: cfg.Server.AllowCredentials,
		MaxAge:           12 * time.Hour,
	}

	if cfg.Server.UnsafeAllowAllOrigins {
		logger.Warn("CORS allows every origin; credentials are disabled")
		out.AllowAllOrigins = true
		out.AllowCredentials = false
		return out
	}

	origins := make([]string, 0, len(cfg.Server.AllowedOrigins))
	for _, o := range cfg.Server.AllowedOrigins {
		if o == "" || o == "*" {
			continue
		}
		origins = append(origins, o)
	}
	if len(cfg.Server.AllowedOrigins) == 0 {
		origins = append(origins, defaultAllowedOrigins...)
	}
	out.AllowOrigins = origins
	return out
}
