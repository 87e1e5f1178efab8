package generation

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// GenerationRun records one attempt of one logical generation. Rows sharing a RunID form the
// gapless attempt sequence 1..k for that run.
type GenerationRun struct {
	ID    uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	RunID uuid.UUID `gorm:"type:uuid;column:run_id;not null;index" json:"run_id"`

	ArtifactKey   string `gorm:"column:artifact_key;type:text;not null;index" json:"artifact_key"`
	Task          string `gorm:"column:task;type:text;not null;index" json:"task"`
	PromptVersion string `gorm:"column:prompt_version;type:text;not null" json:"prompt_version"`

	Status      string `gorm:"column:status;type:text;not null;index" json:"status"`
	Attempt     int    `gorm:"column:attempt;not null" json:"attempt"`
	MaxAttempts int    `gorm:"column:max_attempts;not null" json:"max_attempts"`
	Detail      string `gorm:"column:detail;type:text" json:"detail,omitempty"`

	Provider  string `gorm:"column:provider;type:text" json:"provider,omitempty"`
	Model     string `gorm:"column:model;type:text" json:"model,omitempty"`
	LatencyMS int64  `gorm:"column:latency_ms;not null" json:"latency_ms"`
	TokensIn  int    `gorm:"column:tokens_in;not null" json:"tokens_in"`
	TokensOut int    `gorm:"column:tokens_out;not null" json:"tokens_out"`

	ValidationErrors datatypes.JSON `gorm:"column:validation_errors" json:"validation_errors,omitempty"`
	InvalidRef       string         `gorm:"column:invalid_ref;type:text" json:"invalid_ref,omitempty"`

	CreatedAt time.Time `gorm:"not null;index" json:"created_at"`
}

func (GenerationRun) TableName() string { return "generation_run" }
