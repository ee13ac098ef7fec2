package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/paramdnoid/weppixpress-sub004/internal/config"
	"github.com/paramdnoid/weppixpress-sub004/internal/db"
	"github.com/paramdnoid/weppixpress-sub004/internal/middleware"
)

func SetupRoutes(r *gin.Engine, cfg *config.Config, h *Handler, cm *ConnectionManager) {
	r.Use(corsMiddleware())
	r.GET("/health", healthCheck)

	v1 := r.Group("/api/v1")
	{
		v1.GET("/", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{
				"message": "File Workspace API",
				"version": "1.0.0",
				"service": "Resumable Upload Engine",
			})
		})

		SetupUserRoutes(v1)

		uploads := v1.Group("/uploads")
		uploads.Use(middleware.APIKeyAuth())
		{
			uploads.POST("/", middleware.RateLimiter(db.RDB, 10, time.Minute, middleware.UserRateLimit{}), h.initUpload)
			uploads.GET("/", h.listActive)
			uploads.POST("/cleanup", h.cleanup)
			uploads.PUT("/:id/chunk/:index", h.acceptChunk)
			uploads.PUT("/:id/stream", h.acceptSegment)
			uploads.GET("/:id", h.status)
			uploads.POST("/:id/pause", h.pause)
			uploads.POST("/:id/resume", h.resume)
			uploads.DELETE("/:id", h.cancel)
		}

		files := v1.Group("/files")
		files.Use(middleware.APIKeyAuth())
		{
			files.GET("/", listFilesHandler)
		}

		storage := v1.Group("/storage")
		storage.Use(middleware.APIKeyAuth(), middleware.RateLimiter(db.RDB, 60, time.Minute, middleware.UserRateLimit{}))
		{
			storage.GET("/*path", downloadHandler(cfg.Storage.UserRoot))
		}

		ws := v1.Group("/ws")
		{
			ws.GET("/", wsHandler(cm))
		}
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS, HEAD")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-KEY, Upload-Offset")
		c.Header("Access-Control-Expose-Headers", "Location, Upload-Offset")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

func healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "File Workspace API",
	})
}
