package documents

import "time"

type ChunkType string

const (
	ChunkTypeParagraph ChunkType = "paragraph"
	ChunkTypeTable     ChunkType = "table"
)

// Chunk is the unit of retrieval. The same ID keys the row in the relational
// store and the point in the vector index.
type Chunk struct {
	ID     string    `gorm:"column:id;primaryKey;size:64" json:"id"`
	Source string    `gorm:"column:source;size:512;not null;index" json:"source"`
	Type   ChunkType `gorm:"column:type;size:32;not null" json:"type"`
	Text   string    `gorm:"column:text;type:text;not null" json:"text"`
	Page   *int      `gorm:"column:page" json:"page,omitempty"`
	// Rows is set for tables only: header rows + body rows.
	Rows *int `gorm:"column:rows" json:"rows,omitempty"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func (Chunk) TableName() string { return "chunks" }

// PageNumber returns the page or 0 when unknown.
func (c Chunk) PageNumber() int {
	if c.Page == nil {
		return 0
	}
	return *c.Page
}
