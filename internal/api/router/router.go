package router

import (
	"github.com/wb-go/wbf/ginext"

	"github.com/renditionlab/renditions/internal/api/handlers/batch"
	"github.com/renditionlab/renditions/internal/api/respond"
	"github.com/renditionlab/renditions/internal/metrics"
	"github.com/renditionlab/renditions/internal/middleware"
)

func Setup(h *batch.Handler, m *metrics.Metrics) *ginext.Engine {
	r := ginext.New()

	r.Use(middleware.CORSMiddleware())
	r.Use(ginext.Logger())
	r.Use(ginext.Recovery())

	r.GET("/health", func(c *ginext.Context) {
		respond.OK(c, "ok")
	})

	metricsHandler := m.Handler()
	r.GET("/metrics", func(c *ginext.Context) {
		metricsHandler.ServeHTTP(c.Writer, c.Request)
	})

	api := r.Group("/api")

	api.POST("/batches", h.CreateBatch)                  // enqueueing a batch job
	api.GET("/batches/:id", h.GetBatch)                  // getting job status by id
	api.GET("/batches/:id/renditions", h.GetRenditions)  // listing job renditions
	api.POST("/render", h.Render)                        // rendering one image synchronously

	return r
}
