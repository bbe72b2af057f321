package temporalx

import (
	"time"

	"github.com/yungbote/lexicon-backend/internal/platform/envutil"
)

type Config struct {
	Address   string
	Namespace string
	TaskQueue string

	// PollCron is the cron expression the poll workflow is registered under.
	PollCron string

	ClientCertPath string
	ClientKeyPath  string
	ClientCAPath   string

	AutoRegisterNamespace bool
	RetentionDays         int

	DialTimeout time.Duration
	DialMaxWait time.Duration
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

func LoadConfig() Config {
	return Config{
		Address:   envutil.String("TEMPORAL_ADDRESS", ""),
		Namespace: envutil.String("TEMPORAL_NAMESPACE", "lexicon"),
		TaskQueue: envutil.String("TEMPORAL_TASK_QUEUE", "lexicon-poll"),
		PollCron:  envutil.String("TEMPORAL_POLL_CRON", "* * * * *"),

		ClientCertPath: envutil.String("TEMPORAL_CLIENT_CERT_PATH", ""),
		ClientKeyPath:  envutil.String("TEMPORAL_CLIENT_KEY_PATH", ""),
		ClientCAPath:   envutil.String("TEMPORAL_CLIENT_CA_PATH", ""),

		AutoRegisterNamespace: envutil.Bool("TEMPORAL_AUTO_REGISTER_NAMESPACE", false),
		RetentionDays:         envutil.Int("TEMPORAL_NAMESPACE_RETENTION_DAYS", 3),

		DialTimeout: envutil.Seconds("TEMPORAL_DIAL_TIMEOUT_SECONDS", 5),
		DialMaxWait: envutil.Seconds("TEMPORAL_DIAL_MAX_WAIT_SECONDS", 60),
		BackoffBase: envutil.Millis("TEMPORAL_DIAL_BACKOFF_MS", 250),
		BackoffMax:  envutil.Millis("TEMPORAL_DIAL_BACKOFF_MAX_MS", 5000),
	}
}

func (c Config) Enabled() bool {
	return c.Address != ""
}

func (c Config) hasTLS() bool {
	return c.ClientCertPath != "" || c.ClientKeyPath != "" || c.ClientCAPath != ""
}

// Backoff doubles base per attempt and caps at BackoffMax.
func (c Config) Backoff(attempt int) time.Duration {
	base := c.BackoffBase
	if base <= 0 {
		base = 250 * time.Millisecond
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if c.BackoffMax > 0 && d >= c.BackoffMax {
			return c.BackoffMax
		}
	}
	if c.BackoffMax > 0 && d > c.BackoffMax {
		return c.BackoffMax
	}
	return d
}
