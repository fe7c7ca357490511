package api

import (
	"crypto/subtle"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// Register mounts webhook, tenant action and ops routes. Tenant actions are
// only mounted when adminToken is set. metricsHandler may be nil.
func Register(router *gin.Engine, h *Handler, adminToken string, metricsHandler http.Handler) {
	router.Use(h.MetricsMiddleware())

	router.POST("/github/callback/:slug", h.GithubWebhookHandler)
	router.POST("/trello/callback", h.TrelloWebhookHandler)
	router.HEAD("/trello/callback", h.TrelloWebhookHandler)

	router.GET("/health", h.HealthCheckHandler)
	if metricsHandler != nil {
		router.GET("/metrics", gin.WrapH(metricsHandler))
	}

	if adminToken == "" {
		h.logger().Warn("server.admin_token is empty; tenant action API disabled")
		return
	}
	users := router.Group("/api/users", AdminAuth(adminToken))
	{
		users.PUT("", h.UpsertUserHandler)
		users.DELETE("/:user_id", h.DeleteAccountHandler)
		users.POST("/:user_id/repositories", h.SyncRepositoriesHandler)
		users.POST("/:user_id/repositories/:repo_id/transfer", h.TransferRepositoryHandler)
		users.POST("/:user_id/lists", h.RegisterListHandler)
		users.DELETE("/:user_id/lists/:list_id", h.UnregisterListHandler)
		users.PUT("/:user_id/checklist-feature", h.ChecklistFeatureHandler)
		users.GET("/:user_id/integrations", h.IntegrationStatusHandler)
		users.DELETE("/:user_id/integrations/:provider", h.RevokeIntegrationHandler)
	}
}

// AdminAuth requires "Authorization: Bearer <token>".
func AdminAuth(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		got, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		c.Next()
	}
}

func (h *Handler) MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		h.metrics().ObserveHTTP(c.Request.Method, route, strconv.Itoa(c.Writer.Status()), time.Since(start).Seconds())
	}
}
