package jobs

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	ItemStatusPending   = "pending"
	ItemStatusSubmitted = "submitted"
	ItemStatusCompleted = "completed"
	ItemStatusFailed    = "failed"
)

type LLMJobItem struct {
	ID             uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	JobID          uuid.UUID      `gorm:"type:uuid;column:job_id;not null;index:idx_llm_job_item_job_seq,priority:1" json:"job_id"`
	Seq            int            `gorm:"column:seq;not null;index:idx_llm_job_item_job_seq,priority:2" json:"seq"`
	EntityType     string         `gorm:"column:entity_type;not null" json:"entity_type"`
	EntityID       int64          `gorm:"column:entity_id;not null;index" json:"entity_id"`
	Status         string         `gorm:"column:status;not null;index" json:"status"`
	RequestPayload datatypes.JSON `gorm:"column:request_payload;type:jsonb" json:"request_payload,omitempty"`
	ProviderHandle *string        `gorm:"column:provider_handle" json:"provider_handle,omitempty"`
	ResultPayload  datatypes.JSON `gorm:"column:result_payload;type:jsonb" json:"result_payload,omitempty"`
	Error          string         `gorm:"column:error" json:"error,omitempty"`
	Attempts       int            `gorm:"column:attempts;not null;default:0" json:"attempts"`
	InputTokens    int64          `gorm:"column:input_tokens;not null;default:0" json:"input_tokens"`
	OutputTokens   int64          `gorm:"column:output_tokens;not null;default:0" json:"output_tokens"`

	// ClaimToken is set while a submitter owns the item; a claim older than the stale window may be taken over.
	ClaimToken *string    `gorm:"column:claim_token;index" json:"-"`
	ClaimedAt  *time.Time `gorm:"column:claimed_at" json:"-"`

	SubmittedAt *time.Time `gorm:"column:submitted_at" json:"submitted_at,omitempty"`
	CompletedAt *time.Time `gorm:"column:completed_at" json:"completed_at,omitempty"`
	CreatedAt   time.Time  `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"not null;autoUpdateTime" json:"updated_at"`
}

func (LLMJobItem) TableName() string { return "llm_job_item" }

// RequestPayload is the rendered prompt stored on an item.
type RequestPayload struct {
	Prompt   string         `json:"prompt"`
	Snapshot map[string]any `json:"snapshot,omitempty"`
}
