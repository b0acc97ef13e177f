package api

import (
	"github.com/gin-gonic/gin"

	"github.com/coolwithyou/review_go_server/config"
	"github.com/coolwithyou/review_go_server/internal/api/handler"
	"github.com/coolwithyou/review_go_server/internal/api/middleware"
)

type Router struct {
	runHandler       *handler.RunHandler
	websocketHandler *handler.WebSocketHandler
	cfg              *config.Config
}

func NewRouter(
	runHandler *handler.RunHandler,
	websocketHandler *handler.WebSocketHandler,
	cfg *config.Config,
) *Router {
	return &Router{
		runHandler:       runHandler,
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

	api := engine.Group("/api/v1")
	{
		// WebSocket 自带 token 校验（浏览器 WS 不方便带 Header）
		api.GET("/ws", r.websocketHandler.Handle)

		// 任务管理
		runs := api.Group("/runs")
		runs.Use(middleware.Auth(r.cfg.JWT.Secret))
		{
			runs.POST("", r.runHandler.Create)
			runs.GET("", r.runHandler.List)
			runs.GET("/:id", r.runHandler.Get)
			runs.GET("/:id/status", r.runHandler.GetStatus)
			runs.POST("/:id/cancel", r.runHandler.Cancel)
			runs.POST("/:id/retry", r.runHandler.Retry)
			runs.DELETE("/:id", r.runHandler.Delete)
			runs.GET("/:id/confirmation", r.runHandler.GetConfirmation)
			runs.POST("/:id/confirmation", r.runHandler.Confirm)
			runs.GET("/:id/report", r.runHandler.GetReport)
		}
	}

	return engine
}
