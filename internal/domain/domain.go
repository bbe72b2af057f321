package domain

import (
	"github.com/yungbote/lexicon-backend/internal/domain/changesets"
	"github.com/yungbote/lexicon-backend/internal/domain/jobs"
	"github.com/yungbote/lexicon-backend/internal/domain/lexicon"
)

type (
	EntityKind  = lexicon.EntityKind
	FieldSpec   = lexicon.FieldSpec
	LexicalUnit = lexicon.LexicalUnit
	Frame       = lexicon.Frame

	LLMJob     = jobs.LLMJob
	LLMJobItem = jobs.LLMJobItem

	RequestPayload = jobs.RequestPayload

	Changeset   = changesets.Changeset
	FieldChange = changesets.FieldChange
)

const (
	KindLexicalUnit = lexicon.KindLexicalUnit
	KindNoun        = lexicon.KindNoun
	KindVerb        = lexicon.KindVerb
	KindAdjective   = lexicon.KindAdjective
	KindAdverb      = lexicon.KindAdverb
	KindFrame       = lexicon.KindFrame

	JobStatusPending   = jobs.JobStatusPending
	JobStatusRunning   = jobs.JobStatusRunning
	JobStatusCompleted = jobs.JobStatusCompleted
	JobStatusFailed    = jobs.JobStatusFailed
	JobStatusCancelled = jobs.JobStatusCancelled

	JobTypeExtract    = jobs.JobTypeExtract
	JobTypeReallocate = jobs.JobTypeReallocate
	JobTypeModerate   = jobs.JobTypeModerate
	JobTypeEdit       = jobs.JobTypeEdit

	ItemStatusPending   = jobs.ItemStatusPending
	ItemStatusSubmitted = jobs.ItemStatusSubmitted
	ItemStatusCompleted = jobs.ItemStatusCompleted
	ItemStatusFailed    = jobs.ItemStatusFailed

	ChangesetStaged    = changesets.StatusStaged
	ChangesetApplied   = changesets.StatusApplied
	ChangesetDiscarded = changesets.StatusDiscarded
)

// AllModels lists every table the service migrates.
func AllModels() []any {
	return []any{
		&lexicon.Frame{},
		&lexicon.LexicalUnit{},
		&jobs.LLMJob{},
		&jobs.LLMJobItem{},
		&changesets.Changeset{},
		&changesets.FieldChange{},
	}
}

func IsTerminalJob(status string) bool { return jobs.IsTerminalJobStatus(status) }
