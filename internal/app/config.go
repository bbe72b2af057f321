package app

import (
	"fmt"
	"strings"

	"github.com/yungbote/lexicon-backend/internal/platform/envutil"
	"github.com/yungbote/lexicon-backend/internal/platform/logger"
	"github.com/yungbote/lexicon-backend/internal/platform/openai"
	"github.com/yungbote/lexicon-backend/internal/services"
	"github.com/yungbote/lexicon-backend/internal/temporalx"
)

type Config struct {
	Port        string
	ServiceName string
	Environment string
	Version     string

	DBDriver    string
	SQLitePath  string
	AutoMigrate bool

	JWTSecretKey      string
	PollTriggerSecret string
	CORSAllowOrigins  string

	// PollSchedule drives the in-process poller. Empty disables it.
	PollSchedule string
	// PricingFile overrides the embedded price table when set.
	PricingFile string

	OpenAI    openai.Config
	Submitter services.SubmitterConfig
	Poller    services.PollerConfig
	Jobs      services.JobServiceConfig
	Temporal  temporalx.Config
}

func LoadConfig(log *logger.Logger) Config {
	cfg := Config{
		Port:        envutil.String("PORT", "8080"),
		ServiceName: envutil.String("SERVICE_NAME", "lexicon-backend"),
		Environment: envutil.String("APP_ENV", "development"),
		Version:     envutil.String("APP_VERSION", "dev"),

		DBDriver:    envutil.String("DB_DRIVER", "postgres"),
		SQLitePath:  envutil.String("SQLITE_PATH", "lexicon.db"),
		AutoMigrate: envutil.Bool("DB_AUTO_MIGRATE", true),

		JWTSecretKey:      envutil.String("JWT_SECRET_KEY", ""),
		PollTriggerSecret: envutil.String("POLL_TRIGGER_SECRET", ""),
		CORSAllowOrigins:  envutil.String("CORS_ALLOW_ORIGINS", ""),

		PollSchedule: envutil.String("POLL_SCHEDULE", ""),
		PricingFile:  envutil.String("PRICING_FILE", ""),

		OpenAI:    openai.ConfigFromEnv(),
		Submitter: services.SubmitterConfigFromEnv(),
		Poller:    services.PollerConfigFromEnv(),
		Jobs:      services.JobServiceConfigFromEnv(),
		Temporal:  temporalx.LoadConfig(),
	}
	log.Info("Loaded config",
		"port", cfg.Port,
		"db_driver", cfg.DBDriver,
		"poll_schedule", cfg.PollSchedule,
		"temporal", cfg.Temporal.Enabled(),
	)
	return cfg
}

// validateServe checks what the HTTP surface cannot run without.
func (c Config) validateServe() error {
	if strings.TrimSpace(c.JWTSecretKey) == "" {
		return fmt.Errorf("JWT_SECRET_KEY is required to serve the API")
	}
	if strings.TrimSpace(c.Port) == "" {
		return fmt.Errorf("PORT is empty")
	}
	return nil
}
