package app

import (
	"gorm.io/gorm"

	apphttp "github.com/yungbote/lexicon-backend/internal/http"
	httpH "github.com/yungbote/lexicon-backend/internal/http/handlers"
	httpMW "github.com/yungbote/lexicon-backend/internal/http/middleware"
	"github.com/yungbote/lexicon-backend/internal/platform/logger"
)

type Middleware struct {
	Auth *httpMW.AuthMiddleware
}

type Handlers struct {
	Health    *httpH.HealthHandler
	LLMJob    *httpH.LLMJobHandler
	Scope     *httpH.ScopeHandler
	Changeset *httpH.ChangesetHandler
	Poll      *httpH.PollHandler
}

func wireHandlers(log *logger.Logger, db *gorm.DB, services Services) Handlers {
	log.Info("Wiring handlers...")
	return Handlers{
		Health:    httpH.NewHealthHandler(db),
		LLMJob:    httpH.NewLLMJobHandler(services.Jobs, services.Submitter),
		Scope:     httpH.NewScopeHandler(services.Resolver),
		Changeset: httpH.NewChangesetHandler(services.Changesets),
		Poll:      httpH.NewPollHandler(services.Poller),
	}
}

func wireMiddleware(log *logger.Logger, cfg Config) Middleware {
	log.Info("Wiring middleware...")
	return Middleware{
		Auth: httpMW.NewAuthMiddleware(log, cfg.JWTSecretKey),
	}
}

func wireServer(log *logger.Logger, cfg Config, handlers Handlers, middleware Middleware) *apphttp.Server {
	return apphttp.NewServer(apphttp.RouterConfig{
		Log:               log,
		ServiceName:       cfg.ServiceName,
		CORSAllowOrigins:  cfg.CORSAllowOrigins,
		PollTriggerSecret: cfg.PollTriggerSecret,
		AuthMiddleware:    middleware.Auth,
		HealthHandler:     handlers.Health,
		LLMJobHandler:     handlers.LLMJob,
		ScopeHandler:      handlers.Scope,
		ChangesetHandler:  handlers.Changeset,
		PollHandler:       handlers.Poll,
	})
}
