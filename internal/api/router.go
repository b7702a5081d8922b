package api

import (
	"github.com/gin-gonic/gin"

	"github.com/qs3c/research_go_server/config"
	"github.com/qs3c/research_go_server/internal/api/handler"
	"github.com/qs3c/research_go_server/internal/api/middleware"
)

type Router struct {
	researchHandler  *handler.ResearchHandler
	websocketHandler *handler.WebSocketHandler
	cfg              *config.Config
}

func NewRouter(
	researchHandler *handler.ResearchHandler,
	websocketHandler *handler.WebSocketHandler,
	cfg *config.Config,
) *Router {
	return &Router{
		researchHandler:  researchHandler,
		websocketHandler: websocketHandler,
		cfg:              cfg,
	}
}

func (r *Router) Setup() *gin.Engine {
	if r.cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.CORS(r.cfg.CORS))

	engine.GET("/health", r.researchHandler.Health)

	api := engine.Group("/api/v1")
	{
		// WebSocket
		api.GET("/ws", r.websocketHandler.Handle)

		// 研究任务
		research := api.Group("/research")
		{
			research.POST("/submit", r.researchHandler.Submit)
			research.GET("/jobs", r.researchHandler.List)
			research.GET("/status/:id", r.researchHandler.Status)
			research.GET("/stream/:id", r.researchHandler.Stream)
			research.POST("/cancel/:id", r.researchHandler.Cancel)
		}

		// 评估统计
		api.GET("/stats", r.researchHandler.Stats)
	}

	return engine
}
