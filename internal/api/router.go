package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/qs3c/hpc_job_server/config"
	"github.com/qs3c/hpc_job_server/internal/api/handler"
	"github.com/qs3c/hpc_job_server/internal/api/middleware"
	"github.com/qs3c/hpc_job_server/internal/pkg/ws"
)

type Router struct {
	accountHandler   *handler.AccountHandler
	jobHandler       *handler.JobHandler
	websocketHandler *handler.WebSocketHandler
	hub              *ws.Hub
	cfg              *config.Config
}

func NewRouter(
	accountHandler *handler.AccountHandler,
	jobHandler *handler.JobHandler,
	websocketHandler *handler.WebSocketHandler,
	hub *ws.Hub,
	cfg *config.Config,
) *Router {
	return &Router{
		accountHandler:   accountHandler,
		jobHandler:       jobHandler,
		websocketHandler: websocketHandler,
		hub:              hub,
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

	engine.GET("/health", handler.Health(r.hub))
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := engine.Group("/api/v1")
	{
		// WebSocket，令牌放在 query 中
		api.GET("/ws", r.websocketHandler.Handle)

		authenticated := api.Group("")
		authenticated.Use(middleware.Auth(r.cfg.JWT.Secret))
		{
			// 集群账号
			accounts := authenticated.Group("/accounts")
			{
				accounts.POST("", r.accountHandler.Create)
				accounts.GET("", r.accountHandler.List)
				accounts.GET("/:id", r.accountHandler.Get)
				accounts.PUT("/:id", r.accountHandler.Update)
				accounts.DELETE("/:id", r.accountHandler.Delete)
			}

			// 作业
			jobs := authenticated.Group("/jobs")
			{
				jobs.POST("", r.jobHandler.Submit)
				jobs.GET("", r.jobHandler.Query)
				jobs.GET("/finished", r.jobHandler.Finished)
				jobs.GET("/:id", r.jobHandler.Detail)
				jobs.POST("/:id/kill", r.jobHandler.Kill)
				jobs.POST("/:id/result", r.jobHandler.Result)
				jobs.POST("/:id/requeue", r.jobHandler.Requeue)
				jobs.DELETE("/:id", r.jobHandler.Delete)
			}

			authenticated.GET("/uploads/progress", r.jobHandler.UploadProgress)
		}
	}

	return engine
}
