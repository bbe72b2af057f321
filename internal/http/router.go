package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/yungbote/lexicon-backend/internal/http/handlers"
	httpMW "github.com/yungbote/lexicon-backend/internal/http/middleware"
	"github.com/yungbote/lexicon-backend/internal/platform/logger"
)

type RouterConfig struct {
	Log               *logger.Logger
	ServiceName       string
	CORSAllowOrigins  string
	PollTriggerSecret string

	AuthMiddleware *httpMW.AuthMiddleware

	HealthHandler    *httpH.HealthHandler
	LLMJobHandler    *httpH.LLMJobHandler
	ScopeHandler     *httpH.ScopeHandler
	ChangesetHandler *httpH.ChangesetHandler
	PollHandler      *httpH.PollHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(cfg.ServiceName))
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.CORS(cfg.CORSAllowOrigins))

	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
	}

	api := r.Group("/api")

	// machine trigger for external schedulers; guarded by its own secret
	if cfg.PollHandler != nil {
		api.POST("/internal/poll", httpMW.RequireSharedSecret(cfg.PollTriggerSecret), cfg.PollHandler.Trigger)
	}

	protected := api.Group("/")
	if cfg.AuthMiddleware != nil {
		protected.Use(cfg.AuthMiddleware.RequireAuth())
	}

	if h := cfg.LLMJobHandler; h != nil {
		protected.POST("/llm-jobs", h.Create)
		protected.GET("/llm-jobs", h.List)
		protected.GET("/llm-jobs/unseen-count", h.UnseenCount)
		protected.GET("/llm-jobs/:id", h.Get)
		protected.GET("/llm-jobs/:id/items", h.ListItems)
		protected.POST("/llm-jobs/:id/batches", h.SubmitBatch)
		protected.POST("/llm-jobs/:id/cancel", h.Cancel)
		protected.POST("/llm-jobs/:id/seen", h.MarkSeen)
	}

	if cfg.ScopeHandler != nil {
		protected.POST("/scopes/count", cfg.ScopeHandler.Count)
	}

	if h := cfg.ChangesetHandler; h != nil {
		protected.POST("/changesets", h.Submit)
		protected.GET("/changesets/:id", h.Get)
		protected.POST("/changesets/:id/apply", h.Apply)
		protected.POST("/changesets/:id/discard", h.Discard)
		protected.DELETE("/field-changes/:id", h.DeleteFieldChange)
	}

	return r
}
