package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/tullo/moddash/internal/middleware"
)

// RegisterRoutes mounts the dashboard API on an authenticated group. Writes
// that reach the moderation service go through the rate limiter.
func RegisterRoutes(api *gin.RouterGroup, h *DashboardHandler, rl *middleware.RateLimiter) {
	limit := func(action string) gin.HandlerFunc {
		return middleware.RateLimitMiddleware(rl, action)
	}

	api.POST("/session/guild", limit("switch"), h.SelectGuild)
	api.GET("/session", h.GetSession)
	api.DELETE("/session", h.EndSession)

	api.GET("/feed", h.GetFeed)
	api.POST("/feed/page/:n", limit("feed"), h.LoadFeedPage)
	api.POST("/feed/refresh", limit("feed"), h.RefreshFeed)

	api.GET("/config", h.GetConfig)
	api.POST("/config/load", limit("feed"), h.LoadConfig)
	api.PATCH("/config", h.PatchConfig)
	api.POST("/config/save", limit("save"), h.SaveConfig)
	api.POST("/config/reset", h.ResetConfig)
	api.GET("/config/log-channel", h.GetLogChannel)

	api.GET("/members/:kind", h.GetMembers)
	api.POST("/members/:kind/load", limit("members"), h.LoadMembers)
	api.POST("/members/:kind/toggle", limit("members"), h.ToggleMember)
	api.POST("/members/:kind/bulk", limit("members"), h.BulkMembers)
	api.POST("/members/:kind/clear", limit("members"), h.ClearMembers)

	api.GET("/catalog/channels", h.ListChannels)
	api.GET("/catalog/roles", h.ListRoles)
	api.POST("/test-filter", limit("probe"), h.TestFilter)
	api.GET("/stats", h.GetStats)

	api.GET("/export.csv", limit("export"), h.ExportCSV)
}
