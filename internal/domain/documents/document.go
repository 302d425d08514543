package documents

import (
	"time"

	"gorm.io/datatypes"
)

type DocumentState string

const (
	StateDiscovered DocumentState = "discovered"
	StateOCRPending DocumentState = "ocr_pending"
	StateOCRDone    DocumentState = "ocr_done"
	StateProcessed  DocumentState = "processed"
)

// Folder returns the storage prefix a document in this state lives under.
// Discovered and OCRPending documents stay where they landed.
func (s DocumentState) Folder() string {
	switch s {
	case StateOCRDone:
		return "ocr_done"
	case StateProcessed:
		return "processed"
	default:
		return ""
	}
}

func (s DocumentState) Valid() bool {
	switch s {
	case StateDiscovered, StateOCRPending, StateOCRDone, StateProcessed:
		return true
	default:
		return false
	}
}

// CanAdvanceTo reports whether next is the single legal successor of s.
// Re-entering the current state is allowed so retried steps stay idempotent.
func (s DocumentState) CanAdvanceTo(next DocumentState) bool {
	if s == next {
		return true
	}
	switch s {
	case StateDiscovered:
		return next == StateOCRPending
	case StateOCRPending:
		return next == StateOCRDone
	case StateOCRDone:
		return next == StateProcessed
	default:
		return false
	}
}

// PipelineDocument is the committed state record of one source document.
// SourceURI is the URI the document was discovered at and never changes;
// CurrentURI is the canonical blob location for the committed state.
type PipelineDocument struct {
	SourceURI    string         `gorm:"column:source_uri;primaryKey;size:1024" json:"source_uri"`
	State        DocumentState  `gorm:"column:state;size:32;not null;index" json:"state"`
	CurrentURI   string         `gorm:"column:current_uri;size:1024;not null" json:"current_uri"`
	OutputPrefix string         `gorm:"column:output_prefix;size:1024" json:"output_prefix,omitempty"`
	MovePending  bool           `gorm:"column:move_pending;not null;default:false" json:"move_pending"`
	Details      datatypes.JSON `gorm:"column:details" json:"details,omitempty"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (PipelineDocument) TableName() string { return "documents" }
