package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/agentdeck/agentdeck/internal/common/logger"
)

// Router assembles the gin engine. serveWS handles the WebSocket
// upgrade endpoint; it does its own token check because browser
// WebSocket clients cannot set an Authorization header.
func Router(h *Handler, verifier TokenVerifier, serveWS http.HandlerFunc, log *logger.Logger) *gin.Engine {
	r := gin.New()
	r.Use(RequestLogger(log), Recovery(log))

	r.GET("/health", h.Health)
	r.GET("/ws", gin.WrapF(serveWS))

	v1 := r.Group("/api/v1")
	{
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/register", h.Register)
			authGroup.POST("/login", h.Login)
		}

		protected := v1.Group("")
		protected.Use(AuthMiddleware(verifier))
		{
			protected.POST("/projects", h.CreateProject)
			protected.GET("/projects", h.ListProjects)
			protected.GET("/projects/:id", h.GetProject)
			protected.PUT("/projects/:id", h.UpdateProject)
			protected.DELETE("/projects/:id", h.DeleteProject)
			protected.GET("/projects/:id/agents", h.ListAgents)

			protected.POST("/agents", h.CreateAgent)
			protected.GET("/agents/:id", h.GetAgent)
			protected.PUT("/agents/:id", h.UpdateAgent)
			protected.DELETE("/agents/:id", h.DeleteAgent)
		}
	}

	return r
}
