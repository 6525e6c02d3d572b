package httpapi

import (
	"github.com/gin-gonic/gin"

	"github.com/agentforge/runtime/internal/common/logger"
	"github.com/agentforge/runtime/internal/execservice"
	"github.com/agentforge/runtime/internal/httpapi/streaming"
)

// NewRouter builds the complete Gin engine for the agent runtime's
// HTTP surface: middleware chain plus the /v1 route group.
func NewRouter(svc *execservice.Service, log *logger.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(Recovery(log), RequestID(), RequestLogger(log), CORS(), ErrorHandler(log))

	handler := NewHandler(svc, log)
	wsHandler := streaming.NewHandler(svc, log)

	v1 := router.Group("/v1")
	{
		v1.POST("/chat/completions", handler.ChatCompletions)
		v1.GET("/instances", handler.ListInstances)
		v1.DELETE("/instances/:agent/:session", handler.DestroyInstance)
		v1.GET("/stats", handler.Stats)
		v1.GET("/ws/chat", gin.WrapH(wsHandler))
	}

	return router
}
