package documents

import (
	"time"

	"gorm.io/datatypes"
)

// BatchMarker records a batch that reached the vector index but has not yet
// been confirmed in the relational store. A marker that outlives its run is a
// consistency gap for reconciliation tooling.
type BatchMarker struct {
	ID         string         `gorm:"column:id;primaryKey;size:64" json:"id"`
	Source     string         `gorm:"column:source;size:512;not null;index" json:"source"`
	BatchIndex int            `gorm:"column:batch_index;not null" json:"batch_index"`
	ChunkIDs   datatypes.JSON `gorm:"column:chunk_ids" json:"chunk_ids"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime;index" json:"created_at"`
}

func (BatchMarker) TableName() string { return "batch_markers" }
