package app

import (
	"gorm.io/gorm"

	"github.com/yungbote/lexicon-backend/internal/data/repos"
	"github.com/yungbote/lexicon-backend/internal/platform/logger"
)

type Repos struct {
	Jobs         repos.LLMJobRepo
	JobItems     repos.LLMJobItemRepo
	Changesets   repos.ChangesetRepo
	FieldChanges repos.FieldChangeRepo
	Entities     *repos.EntityRegistry
}

func wireRepos(db *gorm.DB, log *logger.Logger) Repos {
	log.Info("Wiring repos...")
	return Repos{
		Jobs:         repos.NewLLMJobRepo(db, log),
		JobItems:     repos.NewLLMJobItemRepo(db, log),
		Changesets:   repos.NewChangesetRepo(db, log),
		FieldChanges: repos.NewFieldChangeRepo(db, log),
		Entities:     repos.NewEntityRegistry(db, log),
	}
}
