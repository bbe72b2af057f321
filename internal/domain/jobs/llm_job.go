package jobs

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
	JobStatusCancelled = "cancelled"
)

const (
	JobTypeExtract    = "extract"
	JobTypeReallocate = "reallocate"
	JobTypeModerate   = "moderate"
	JobTypeEdit       = "edit"
)

// IsTerminalJobStatus reports whether no further transitions are allowed from s.
func IsTerminalJobStatus(s string) bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

type LLMJob struct {
	ID              uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	Label           string         `gorm:"column:label" json:"label"`
	OwnerUserID     uuid.UUID      `gorm:"type:uuid;column:owner_user_id;not null;index" json:"owner_user_id"`
	Model           string         `gorm:"column:model;not null" json:"model"`
	PromptTemplate  string         `gorm:"column:prompt_template;type:text;not null" json:"prompt_template"`
	Scope           datatypes.JSON `gorm:"column:scope;type:jsonb" json:"scope"`
	ServiceTier     string         `gorm:"column:service_tier" json:"service_tier,omitempty"`
	ReasoningEffort string         `gorm:"column:reasoning_effort" json:"reasoning_effort,omitempty"`
	JobType         string         `gorm:"column:job_type;not null;index" json:"job_type"`
	EntityType      string         `gorm:"column:entity_type;not null;index" json:"entity_type"`
	TargetFields    datatypes.JSON `gorm:"column:target_fields;type:jsonb" json:"target_fields"`
	Metadata        datatypes.JSON `gorm:"column:metadata;type:jsonb" json:"metadata,omitempty"`
	Status          string         `gorm:"column:status;not null;index" json:"status"`
	Error           string         `gorm:"column:error" json:"error,omitempty"`

	TotalItems     int `gorm:"column:total_items;not null;default:0" json:"total_items"`
	PendingItems   int `gorm:"column:pending_items;not null;default:0" json:"pending_items"`
	SubmittedItems int `gorm:"column:submitted_items;not null;default:0" json:"submitted_items"`
	CompletedItems int `gorm:"column:completed_items;not null;default:0" json:"completed_items"`
	FailedItems    int `gorm:"column:failed_items;not null;default:0" json:"failed_items"`

	InputTokens      int64      `gorm:"column:input_tokens;not null;default:0" json:"input_tokens"`
	OutputTokens     int64      `gorm:"column:output_tokens;not null;default:0" json:"output_tokens"`
	EstimatedCostUSD *float64   `gorm:"column:estimated_cost_usd" json:"estimated_cost_usd,omitempty"`
	ChangesetID      *uuid.UUID `gorm:"type:uuid;column:changeset_id" json:"changeset_id,omitempty"`

	SeenAt       *time.Time `gorm:"column:seen_at;index" json:"seen_at,omitempty"`
	LastPolledAt *time.Time `gorm:"column:last_polled_at" json:"last_polled_at,omitempty"`
	CompletedAt  *time.Time `gorm:"column:completed_at" json:"completed_at,omitempty"`
	CreatedAt    time.Time  `gorm:"not null;autoCreateTime;index" json:"created_at"`
	UpdatedAt    time.Time  `gorm:"not null;autoUpdateTime" json:"updated_at"`
}

func (LLMJob) TableName() string { return "llm_job" }
