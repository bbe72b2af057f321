package repos

import (
	"github.com/yungbote/lexicon-backend/internal/data/repos/changesets"
	"github.com/yungbote/lexicon-backend/internal/data/repos/jobs"
	"github.com/yungbote/lexicon-backend/internal/data/repos/lexicon"
	"github.com/yungbote/lexicon-backend/internal/platform/logger"
	"gorm.io/gorm"
)

type LLMJobRepo = jobs.LLMJobRepo
type LLMJobItemRepo = jobs.LLMJobItemRepo
type ListJobsFilter = jobs.ListJobsFilter
type StatusCounts = jobs.StatusCounts

type ChangesetRepo = changesets.ChangesetRepo
type FieldChangeRepo = changesets.FieldChangeRepo

type EntityStore = lexicon.EntityStore
type EntityRegistry = lexicon.Registry
type Snapshot = lexicon.Snapshot

func NewLLMJobRepo(db *gorm.DB, baseLog *logger.Logger) LLMJobRepo {
	return jobs.NewLLMJobRepo(db, baseLog)
}

func NewLLMJobItemRepo(db *gorm.DB, baseLog *logger.Logger) LLMJobItemRepo {
	return jobs.NewLLMJobItemRepo(db, baseLog)
}

func NewChangesetRepo(db *gorm.DB, baseLog *logger.Logger) ChangesetRepo {
	return changesets.NewChangesetRepo(db, baseLog)
}

func NewFieldChangeRepo(db *gorm.DB, baseLog *logger.Logger) FieldChangeRepo {
	return changesets.NewFieldChangeRepo(db, baseLog)
}

func NewEntityRegistry(db *gorm.DB, baseLog *logger.Logger) *EntityRegistry {
	return lexicon.NewRegistry(db, baseLog)
}
