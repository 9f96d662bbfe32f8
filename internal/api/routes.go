package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// registerRoutes sets up all API routes on the router.
func (s *Server) registerRoutes() {
	r := s.router

	r.GET("/health", handleHealth)
	if s.webhook != nil {
		r.POST("/bot/webhook", gin.WrapH(s.webhook))
	}

	api := r.Group("/api")
	api.GET("/ping", handlePing)

	authed := api.Group("", s.requireOperator())

	authed.GET("/dialogs", s.handleListDialogs)
	authed.GET("/dialogs/:id", s.handleGetDialog)
	authed.POST("/dialogs/:id/assign", s.handleAssignDialog)
	authed.POST("/dialogs/:id/switch_auto", s.handleSwitchAuto)
	authed.POST("/messages/send", s.handleSendMessage)

	authed.GET("/knowledge/files", s.handleListFiles)
	authed.POST("/knowledge/files", s.handleUploadFile)
	authed.GET("/knowledge/files/:id/download", s.handleDownloadFile)
	authed.DELETE("/knowledge/files/:id", s.handleDeleteFile)

	authed.GET("/ai-instructions/current", s.handleCurrentInstructions)
	authed.PUT("/ai-instructions", requireSuperadmin(), s.handleUpdateInstructions)

	admins := authed.Group("/admin", requireSuperadmin())
	admins.GET("/admins", s.handleListAdmins)
	admins.POST("/admins", s.handleCreateAdmin)
	admins.PATCH("/admins/:id", s.handleUpdateAdmin)

	authed.GET("/stats/overview", s.handleStatsOverview)

	authed.GET("/events/:channel", s.handleEventsWS)
	authed.GET("/events/:channel/stream", s.handleEventsSSE)
}

func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "pong"})
}
