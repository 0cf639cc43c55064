package server

import (
	"github.com/gin-gonic/gin"

	"ag2api-go/internal/constants"
	claudeh "ag2api-go/internal/handlers/claude"
	common "ag2api-go/internal/handlers/common"
	geminih "ag2api-go/internal/handlers/gemini"
	openaih "ag2api-go/internal/handlers/openai"
	"ag2api-go/internal/middleware"
)

// quietPaths are skipped by the request logger and the monitor writer so
// scrapes and probes do not flood either.
var quietPaths = []string{"/health", "/metrics"}

func (s *Server) buildEngine(dispatcher common.Dispatcher) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	engine.Use(middleware.Recovery())
	engine.Use(middleware.RequestID())
	engine.Use(middleware.CORS())
	engine.Use(middleware.BodyLimit(constants.MaxRequestBodyBytes))
	engine.Use(middleware.Metrics())
	engine.Use(middleware.RequestLogger(quietPaths...))
	if s.store != nil {
		engine.Use(middleware.Monitor(s.store, quietPaths...))
	}
	if s.settings.RateLimitRPS > 0 {
		engine.Use(middleware.RateLimit(s.settings.RateLimitRPS, s.settings.RateLimitBurst))
	}

	engine.GET("/health", s.health)
	engine.GET("/metrics", middleware.MetricsHandler)

	auth := middleware.Auth(func() string { return s.config.Current().APIKey })

	oa := openaih.New(dispatcher, s.config)
	cl := claudeh.New(dispatcher, s.config)
	ge := geminih.New(dispatcher, s.config)

	v1 := engine.Group("/v1", auth)
	{
		v1.GET("/models", oa.ListModels)
		v1.POST("/chat/completions", oa.ChatCompletions)
		v1.GET("/models/claude", cl.ListModels)
		v1.POST("/messages", cl.Messages)
		v1.POST("/messages/count_tokens", cl.CountTokens)
	}

	v1beta := engine.Group("/v1beta", auth)
	{
		v1beta.GET("/models", ge.ListModels)
		v1beta.GET("/models/:action", ge.GetModel)
		v1beta.POST("/models/:action", ge.Action)
	}

	engine.POST("/mcp/messages", auth, cl.MCPMessages)

	return engine
}
