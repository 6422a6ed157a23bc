package api

import (
	"github.com/LENAX/task-handler/pkg/api/handler"
	"github.com/LENAX/task-handler/pkg/api/middleware"
	"github.com/LENAX/task-handler/pkg/core/engine"
	"github.com/LENAX/task-handler/pkg/core/events"
	"github.com/LENAX/task-handler/pkg/storage"
	"github.com/gin-gonic/gin"
)

// Dependencies API依赖的组件，未配置的组件对应接口返回500
type Dependencies struct {
	Engine  *engine.Engine
	History storage.HistoryRepository
	Bus     *events.Bus
}

// SetupRouter 设置路由
func SetupRouter(deps Dependencies, version string) *gin.Engine {
	// 设置gin模式
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	// 全局中间件
	router.Use(middleware.Recovery())
	router.Use(middleware.Logger())

	// 创建handlers
	healthHandler := handler.NewHealthHandler(version)
	historyHandler := handler.NewHistoryHandler(deps.History)
	taskHandler := handler.NewTaskHandler(deps.Engine)
	eventsHandler := handler.NewEventsHandler(deps.Bus)

	// 健康检查路由（不带前缀）
	router.GET("/health", healthHandler.Health)
	router.GET("/ready", healthHandler.Ready)

	// API v1 路由组
	v1 := router.Group("/api/v1")
	{
		history := v1.Group("/history")
		{
			history.GET("", historyHandler.List)
			history.GET("/:id", historyHandler.Get)
		}

		tasks := v1.Group("/tasks")
		{
			tasks.GET("/running", taskHandler.Running)
			tasks.POST("/:uuid/cancel", taskHandler.Cancel)
		}

		v1.GET("/events/ws", eventsHandler.Stream)
	}

	return router
}
