package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// @title Mobile Sync API
// @version 1.0
// @description Administration API for the offline-first sync engine
// @contact.name API Support
// @contact.url http://github.com/Kamar-Folarin
// @license.name MIT
// @license.url https://opensource.org/licenses/MIT
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https

// SetupRouter configures the API routes
func SetupRouter(h *Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(h.logger))

	// API documentation
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	v1 := r.Group("/api/v1")
	RegisterRoutes(v1, h)
	return r
}

// RegisterRoutes registers the sync routes on a router group
func RegisterRoutes(router *gin.RouterGroup, h *Handler) {
	syncs := router.Group("/syncs")
	{
		syncs.GET("", h.ListSyncs)
		syncs.POST("", h.CreateSync)
		syncs.GET("/:id", h.GetSync)
		syncs.POST("/:id/resync", h.ResyncSync)
		syncs.POST("/:id/stop", h.StopSync)
		syncs.POST("/:id/clean-ghosts", h.CleanGhosts)
	}

	router.POST("/sync-names/:name/resync", h.ResyncSyncByName)
}

// NewHTTPHandler wraps the router with CORS handling
func NewHTTPHandler(router *gin.Engine) http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	}).Handler(router)
}

func requestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := logger.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
		})
		if c.Writer.Status() >= http.StatusInternalServerError {
			entry.Warn("Request completed with server error")
			return
		}
		entry.Debug("Request completed")
	}
}
