package generation

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Artifact is the database form of a persisted pipeline artifact. Status is always set;
// placeholders are never stored as validated.
type Artifact struct {
	ID  uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Key string    `gorm:"column:key;type:text;not null;uniqueIndex" json:"key"`

	Status   string         `gorm:"column:status;type:text;not null;index" json:"status"`
	Kind     string         `gorm:"column:kind;type:text;not null" json:"kind"`
	Text     string         `gorm:"column:text;type:text" json:"text,omitempty"`
	Data     datatypes.JSON `gorm:"column:data" json:"data,omitempty"`
	Attempts int            `gorm:"column:attempts;not null" json:"attempts"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;index" json:"updated_at"`
}

func (Artifact) TableName() string { return "artifact" }

// Models lists every table owned by the pipeline, in migration order.
func Models() []any {
	return []any{&GenerationRun{}, &Artifact{}}
}
