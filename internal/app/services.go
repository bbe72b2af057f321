package app

import (
	"fmt"
	"os"

	"gorm.io/gorm"

	"github.com/yungbote/lexicon-backend/internal/lexicon/scope"
	"github.com/yungbote/lexicon-backend/internal/platform/logger"
	"github.com/yungbote/lexicon-backend/internal/pricing"
	"github.com/yungbote/lexicon-backend/internal/services"
)

type Services struct {
	Resolver   *scope.Resolver
	Aggregator *services.JobAggregator
	Changesets services.ChangesetService
	Writeback  *services.Writeback
	Submitter  services.BatchSubmitter
	Poller     services.JobPoller
	Jobs       services.LLMJobService
}

func wireServices(db *gorm.DB, log *logger.Logger, cfg Config, r Repos, clients Clients) (Services, error) {
	log.Info("Wiring services...")

	est, err := loadPricing(cfg.PricingFile)
	if err != nil {
		return Services{}, err
	}

	resolver := scope.NewResolver(r.Entities, log)
	agg := services.NewJobAggregator(db, log, r.Jobs, r.JobItems, est)
	changesets := services.NewChangesetService(db, log, r.Changesets, r.FieldChanges, r.Entities)
	writeback := services.NewWriteback(log, r.Entities, changesets, services.DefaultWritebackPolicy())
	submitter := services.NewBatchSubmitter(db, log, r.Jobs, r.JobItems, r.Entities, agg, clients.Provider, cfg.Submitter)

	// a nil *redis.Lease must not become a non-nil interface
	var lease services.Lease
	if clients.Lease != nil {
		lease = clients.Lease
	}
	poller := services.NewJobPoller(db, log, r.Jobs, r.JobItems, agg, writeback, clients.Provider, lease, cfg.Poller)
	jobs := services.NewLLMJobService(db, log, r.Jobs, r.JobItems, r.Entities, resolver, agg, submitter, poller, cfg.Jobs)

	return Services{
		Resolver:   resolver,
		Aggregator: agg,
		Changesets: changesets,
		Writeback:  writeback,
		Submitter:  submitter,
		Poller:     poller,
		Jobs:       jobs,
	}, nil
}

func loadPricing(path string) (*pricing.Estimator, error) {
	if path == "" {
		return pricing.Default(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pricing file: %w", err)
	}
	est, err := pricing.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse pricing file %s: %w", path, err)
	}
	return est, nil
}
