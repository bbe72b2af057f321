package changesets

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	StatusStaged    = "staged"
	StatusApplied   = "applied"
	StatusDiscarded = "discarded"
)

type Changeset struct {
	ID          uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	Label       string     `gorm:"column:label" json:"label"`
	EntityType  string     `gorm:"column:entity_type;not null" json:"entity_type"`
	Author      string     `gorm:"column:author;not null" json:"author"`
	Status      string     `gorm:"column:status;not null;index" json:"status"`
	SourceJobID *uuid.UUID `gorm:"type:uuid;column:source_job_id;index" json:"source_job_id,omitempty"`
	AppliedAt   *time.Time `gorm:"column:applied_at" json:"applied_at,omitempty"`
	DiscardedAt *time.Time `gorm:"column:discarded_at" json:"discarded_at,omitempty"`
	CreatedAt   time.Time  `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"not null;autoUpdateTime" json:"updated_at"`
}

func (Changeset) TableName() string { return "changeset" }

// FieldChange is one proposed old→new value. ChangesetID is nullable so a change can outlive its group.
type FieldChange struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	ChangesetID *uuid.UUID     `gorm:"type:uuid;column:changeset_id;index" json:"changeset_id,omitempty"`
	EntityType  string         `gorm:"column:entity_type;not null;index:idx_field_change_entity,priority:1" json:"entity_type"`
	EntityID    int64          `gorm:"column:entity_id;not null;index:idx_field_change_entity,priority:2" json:"entity_id"`
	Field       string         `gorm:"column:field;not null" json:"field"`
	OldValue    datatypes.JSON `gorm:"column:old_value;type:jsonb" json:"old_value"`
	NewValue    datatypes.JSON `gorm:"column:new_value;type:jsonb" json:"new_value"`
	Author      string         `gorm:"column:author;not null" json:"author"`
	CreatedAt   time.Time      `gorm:"not null;autoCreateTime" json:"created_at"`
}

func (FieldChange) TableName() string { return "field_change" }
