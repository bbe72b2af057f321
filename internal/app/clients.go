package app

import (
	"fmt"

	temporalsdkclient "go.temporal.io/sdk/client"

	"github.com/yungbote/lexicon-backend/internal/clients/redis"
	"github.com/yungbote/lexicon-backend/internal/platform/llm"
	"github.com/yungbote/lexicon-backend/internal/platform/logger"
	"github.com/yungbote/lexicon-backend/internal/platform/openai"
	"github.com/yungbote/lexicon-backend/internal/temporalx"
)

type Clients struct {
	Provider llm.Provider
	// Lease and Temporal are nil when REDIS_ADDR / TEMPORAL_ADDRESS are unset.
	Lease    *redis.Lease
	Temporal temporalsdkclient.Client
}

func wireClients(log *logger.Logger, cfg Config, withTemporal bool) (Clients, error) {
	log.Info("Wiring clients...")

	provider, err := openai.NewClient(log, cfg.OpenAI)
	if err != nil {
		return Clients{}, fmt.Errorf("init openai client: %w", err)
	}

	lease, err := redis.NewLease(log)
	if err != nil {
		return Clients{}, fmt.Errorf("init redis lease: %w", err)
	}
	if lease == nil {
		log.Warn("REDIS_ADDR not set; poll ticks are not coordinated across replicas")
	}

	out := Clients{Provider: provider, Lease: lease}
	if withTemporal {
		tc, err := temporalx.NewClient(log, cfg.Temporal)
		if err != nil {
			out.Close()
			return Clients{}, fmt.Errorf("init temporal client: %w", err)
		}
		out.Temporal = tc
	}
	return out, nil
}

func (c *Clients) Close() {
	if c == nil {
		return
	}
	if c.Lease != nil {
		_ = c.Lease.Close()
	}
	if c.Temporal != nil {
		c.Temporal.Close()
	}
}
