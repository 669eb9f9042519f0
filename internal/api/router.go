package api

import (
	"github.com/gin-gonic/gin"
	"github.com/timmy/factcorpus/internal/api/handler"
	"github.com/timmy/factcorpus/internal/api/middleware"
	"github.com/timmy/factcorpus/internal/logger"
	"github.com/timmy/factcorpus/internal/repository"
)

// Dependencies are the services the HTTP API exposes.
type Dependencies struct {
	Runner handler.RunStarter
	Store  *repository.Store
	DB     handler.Pinger
	Logger *logger.Logger
}

// SetupRouter configures the Gin router with all routes
func SetupRouter(deps Dependencies, mode string) *gin.Engine {
	switch mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	log := deps.Logger
	if log == nil {
		log = logger.GetDefault()
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.LoggerMiddleware(log))

	healthHandler := handler.NewHealthHandler(deps.DB)
	runHandler := handler.NewRunHandler(deps.Runner, deps.Store)
	endpointHandler := handler.NewEndpointHandler(deps.Store)

	r.GET("/health", healthHandler.Health)

	v1 := r.Group("/api/v1")
	{
		// Runs
		v1.POST("/runs", runHandler.StartRun)
		v1.GET("/runs", runHandler.ListRuns)
		v1.GET("/runs/:id", runHandler.GetRun)

		// Endpoints
		v1.GET("/endpoints", endpointHandler.ListEndpoints)
		v1.GET("/endpoints/:id", endpointHandler.GetEndpoint)
		v1.POST("/endpoints/:id/unblock", endpointHandler.Unblock)

		// Stats
		v1.GET("/stats", endpointHandler.Stats)
	}

	return r
}
