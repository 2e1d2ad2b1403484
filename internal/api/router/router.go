package router

import (
	"github.com/cuongbtq/permit-search/internal/api/handler"
	"github.com/gin-gonic/gin"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	r.GET("/health", handler.Health(deps))

	searchHandler := handler.NewSearchHandler(deps)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		searches := v1.Group("/searches")
		{
			// POST /api/v1/searches - Start a permit search
			searches.POST("", searchHandler.CreateSearch)

			// GET /api/v1/searches/stats - Job counts per status
			searches.GET("/stats", searchHandler.GetStats)

			// GET /api/v1/searches/:job_id - Poll a search job
			searches.GET("/:job_id", searchHandler.GetSearch)
		}

		// POST /api/v1/validate - Validate a permit data bundle
		v1.POST("/validate", searchHandler.Validate)
	}

	return r
}
