package app

import (
	"errors"
	"fmt"

	"github.com/yungbote/docrag-backend/internal/platform/logger"
	"github.com/yungbote/docrag-backend/internal/platform/qdrant"
)

var newQdrantVectorIndex = qdrant.NewVectorIndex

type VectorIndexBootstrapErrorCode string

const (
	VectorIndexBootstrapErrorMissingURL        VectorIndexBootstrapErrorCode = "missing_qdrant_url"
	VectorIndexBootstrapErrorInvalidURL        VectorIndexBootstrapErrorCode = "invalid_qdrant_url"
	VectorIndexBootstrapErrorMissingCollection VectorIndexBootstrapErrorCode = "missing_qdrant_collection"
	VectorIndexBootstrapErrorInvalidVectorDim  VectorIndexBootstrapErrorCode = "invalid_qdrant_vector_dim"
	VectorIndexBootstrapErrorInvalidDistance   VectorIndexBootstrapErrorCode = "invalid_qdrant_distance"
	VectorIndexBootstrapErrorConnectFailed     VectorIndexBootstrapErrorCode = "connect_failed"
)

type VectorIndexBootstrapError struct {
	Code       VectorIndexBootstrapErrorCode
	URL        string
	Collection string
	Cause      error
}

func (e *VectorIndexBootstrapError) Error() string {
	if e == nil {
		return "vector index bootstrap failed"
	}
	return fmt.Sprintf(
		"vector index bootstrap failed (code=%s url=%q collection=%q): %v",
		e.Code,
		e.URL,
		e.Collection,
		e.Cause,
	)
}

func (e *VectorIndexBootstrapError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func resolveVectorIndex(log *logger.Logger) (qdrant.VectorIndex, error) {
	cfg, err := qdrant.ResolveConfigFromEnv()
	if err != nil {
		classified := classifyVectorIndexBootstrapError(cfg, err)
		log.Error("Vector index config invalid", "error_code", vectorIndexBootstrapErrorCode(classified), "error", classified)
		return nil, classified
	}

	log.Info(
		"Selecting vector index",
		"qdrant_url", cfg.URL,
		"qdrant_collection", cfg.Collection,
		"qdrant_distance", cfg.Distance,
		"qdrant_vector_dim", cfg.VectorDim,
	)
	index, err := newQdrantVectorIndex(log, cfg)
	if err != nil {
		classified := classifyVectorIndexBootstrapError(cfg, err)
		log.Error(
			"Vector index bootstrap failed",
			"qdrant_url", cfg.URL,
			"error_code", vectorIndexBootstrapErrorCode(classified),
			"error", classified,
		)
		return nil, classified
	}
	return index, nil
}

func classifyVectorIndexBootstrapError(cfg qdrant.Config, err error) error {
	out := &VectorIndexBootstrapError{
		Code:       VectorIndexBootstrapErrorConnectFailed,
		URL:        cfg.URL,
		Collection: cfg.Collection,
		Cause:      err,
	}
	var qerr *qdrant.ConfigError
	if errors.As(err, &qerr) {
		switch qerr.Code {
		case qdrant.ConfigErrorMissingURL:
			out.Code = VectorIndexBootstrapErrorMissingURL
		case qdrant.ConfigErrorInvalidURL:
			out.Code = VectorIndexBootstrapErrorInvalidURL
		case qdrant.ConfigErrorMissingCollection:
			out.Code = VectorIndexBootstrapErrorMissingCollection
		case qdrant.ConfigErrorInvalidVectorDim:
			out.Code = VectorIndexBootstrapErrorInvalidVectorDim
		case qdrant.ConfigErrorInvalidDistance:
			out.Code = VectorIndexBootstrapErrorInvalidDistance
		}
	}
	return out
}

func vectorIndexBootstrapErrorCode(err error) VectorIndexBootstrapErrorCode {
	var bootstrapErr *VectorIndexBootstrapError
	if errors.As(err, &bootstrapErr) && bootstrapErr.Code != "" {
		return bootstrapErr.Code
	}
	return VectorIndexBootstrapErrorConnectFailed
}
