package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Inflectra/spira-gitlab-datasync/internal/queue"
	"github.com/Inflectra/spira-gitlab-datasync/internal/store"
)

type RouterConfig struct {
	// AdminAPIKey guards /api/v1 when set. Empty leaves the API open.
	AdminAPIKey string
}

func SetupRoutes(router *gin.Engine, runs store.RunStore, triggers queue.Producer, cfg RouterConfig) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	h := NewRunsHandler(runs, triggers)

	v1 := router.Group("/api/v1")
	if cfg.AdminAPIKey != "" {
		v1.Use(RequireAPIKey(cfg.AdminAPIKey))
	}
	{
		v1.GET("/runs", h.List)
		v1.GET("/runs/latest", h.Latest)
		v1.POST("/runs", h.Trigger)
	}
}

// RequireAPIKey checks each request for the admin key, either in the
// X-Admin-API-Key header or as a bearer token.
func RequireAPIKey(key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		apiKey := c.GetHeader("X-Admin-API-Key")
		if apiKey == "" {
			apiKey = c.GetHeader("Authorization")
			if len(apiKey) > 7 && apiKey[:7] == "Bearer " {
				apiKey = apiKey[7:]
			}
		}

		if apiKey != key {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or missing API key"})
			c.Abort()
			return
		}

		c.Next()
	}
}
