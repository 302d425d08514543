package domain

import "github.com/yungbote/docrag-backend/internal/domain/documents"

type (
	Chunk            = documents.Chunk
	ChunkType        = documents.ChunkType
	DocumentState    = documents.DocumentState
	PipelineDocument = documents.PipelineDocument
	BatchMarker      = documents.BatchMarker
)

const (
	ChunkTypeParagraph = documents.ChunkTypeParagraph
	ChunkTypeTable     = documents.ChunkTypeTable

	StateDiscovered = documents.StateDiscovered
	StateOCRPending = documents.StateOCRPending
	StateOCRDone    = documents.StateOCRDone
	StateProcessed  = documents.StateProcessed
)
