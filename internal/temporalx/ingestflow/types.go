package ingestflow

import (
	"time"

	types "github.com/yungbote/docrag-backend/internal/domain"
)

const (
	ScanWorkflowName       = "docrag_scan"
	OCRWorkflowName        = "docrag_ocr"
	ChunkEmbedWorkflowName = "docrag_chunk_embed"

	ActivityScan           = "docrag_scan_bucket"
	ActivityMarkOCRPending = "docrag_mark_ocr_pending"
	ActivitySubmitOCR      = "docrag_submit_ocr"
	ActivityMarkOCRDone    = "docrag_mark_ocr_done"
	ActivityChunkEmbed     = "docrag_chunk_embed"

	ScanScheduleWorkflowID = "docrag-scan"

	// ErrTypeInvalidTransition marks activity failures retries cannot fix.
	ErrTypeInvalidTransition = "InvalidTransition"
)

// OCRWorkflowID keys the OCR unit by document, so a second dispatch of the
// same document is rejected instead of running twice.
func OCRWorkflowID(uri string) string { return "ocr:" + uri }

func ChunkEmbedWorkflowID(uri string) string { return "chunk-embed:" + uri }

type OCRInput struct {
	SourceURI string `json:"source_uri"`
}

// OCRProgress is a document's committed position before or after an OCR step.
type OCRProgress struct {
	State        types.DocumentState `json:"state"`
	CurrentURI   string              `json:"current_uri"`
	OutputPrefix string              `json:"output_prefix,omitempty"`
}

type OCRResult struct {
	SourceURI    string `json:"source_uri"`
	CurrentURI   string `json:"current_uri"`
	OutputPrefix string `json:"output_prefix"`
	// ChunkEmbedStarted is false when the document was already processed.
	ChunkEmbedStarted bool `json:"chunk_embed_started"`
}

type ChunkEmbedInput struct {
	OutputPrefix string `json:"output_prefix"`
	SourceURI    string `json:"source_uri"`
}

type ChunkEmbedResult struct {
	ChunkCount int `json:"chunk_count"`
}

type ScanResult struct {
	Listed     int `json:"listed"`
	Dispatched int `json:"dispatched"`
	Skipped    int `json:"skipped"`
	Failed     int `json:"failed"`
}

// Timeouts bound each activity. OCRSubmit covers the provider's own wait.
type Timeouts struct {
	Scan       time.Duration
	OCRSubmit  time.Duration
	StateStep  time.Duration
	ChunkEmbed time.Duration
}

func (t Timeouts) withDefaults() Timeouts {
	if t.Scan <= 0 {
		t.Scan = 10 * time.Minute
	}
	if t.OCRSubmit <= 0 {
		t.OCRSubmit = 6 * time.Minute
	}
	if t.StateStep <= 0 {
		t.StateStep = 2 * time.Minute
	}
	if t.ChunkEmbed <= 0 {
		t.ChunkEmbed = time.Hour
	}
	return t
}
