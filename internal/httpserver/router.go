package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"projecttracker/internal/handler"
)

// ReadinessCheck 返回 nil 表示依赖就绪
type ReadinessCheck func(ctx context.Context) error

type Options struct {
	AllowOrigins []string
	// key 为依赖名称，如 store、redis
	Readiness map[string]ReadinessCheck
}

func NewRouter(projectHandler *handler.ProjectHandler, logger *zap.Logger, opts Options) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(TraceMiddleware())
	r.Use(RequestLogger(logger))
	r.Use(MetricsMiddleware())
	r.Use(CORSMiddleware(opts.AllowOrigins))

	// Health endpoints (放在最前面)
	health := func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
	headOK := func(c *gin.Context) {
		c.Status(http.StatusOK)
	}
	r.GET("/healthz", health)
	r.HEAD("/healthz", headOK)
	r.GET("/health", health)
	r.HEAD("/health", headOK)

	r.GET("/readyz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 1*time.Second)
		defer cancel()

		for name, check := range opts.Readiness {
			if err := check(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": name + "_not_ready", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	{
		api.GET("/projects", projectHandler.ListProjects)
		api.POST("/projects", projectHandler.CreateProject)
		api.GET("/projects/:id", projectHandler.GetProject)
		api.PATCH("/projects/:id", projectHandler.UpdateProject)
		api.DELETE("/projects/:id", projectHandler.DeleteProject)
	}

	return r
}
