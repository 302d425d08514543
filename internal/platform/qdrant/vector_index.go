package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/docrag-backend/internal/platform/ctxutil"
	"github.com/yungbote/docrag-backend/internal/platform/logger"
)

const (
	PayloadChunkIDKey = "chunk_id"
	maxErrorBodyBytes = 1024
	defaultTimeout    = 10 * time.Second
)

var pointIDNamespaceUUID = uuid.MustParse("0f1705d1-2c3f-4e40-b2f4-f855f7d3c8e8")

// Point is one chunk vector. ID is the chunk identifier and doubles as the
// Qdrant point id; non-UUID ids are mapped to a derived UUID.
type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]any
}

type Match struct {
	ID      string
	Score   float64
	Payload map[string]any
}

type VectorIndex interface {
	Upsert(ctx context.Context, points []Point) error
	Search(ctx context.Context, vector []float32, k int) ([]Match, error)
	Retrieve(ctx context.Context, ids []string) ([]Point, error)
}

type vectorIndex struct {
	log     *logger.Logger
	cfg     Config
	baseURL string
	http    *http.Client

	mu  sync.Mutex
	dim int
}

type qdrantEnvelope struct {
	Result json.RawMessage `json:"result"`
	Status json.RawMessage `json:"status"`
	Time   float64         `json:"time"`
}

type qdrantPoint struct {
	ID      json.RawMessage `json:"id"`
	Score   float64         `json:"score"`
	Payload map[string]any  `json:"payload"`
	Vector  []float32       `json:"vector"`
}

func NewVectorIndex(log *logger.Logger, cfg Config) (VectorIndex, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	cfg.Distance = canonicalDistance(cfg.Distance)
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	s := &vectorIndex{
		log:     log.With("service", "QdrantVectorIndex"),
		cfg:     cfg,
		baseURL: strings.TrimRight(cfg.URL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
	if err := s.verifyReady(context.Background()); err != nil {
		return nil, err
	}

	s.log.Info(
		"Qdrant vector index selected",
		"url", s.baseURL,
		"collection", cfg.Collection,
		"vector_dim", cfg.VectorDim,
		"distance", cfg.Distance,
	)
	return s, nil
}

func (s *vectorIndex) Upsert(ctx context.Context, points []Point) error {
	const op = "upsert"
	if len(points) == 0 {
		return nil
	}

	dim := len(points[0].Vector)
	body := make([]map[string]any, 0, len(points))
	for _, p := range points {
		id := strings.TrimSpace(p.ID)
		if id == "" {
			return opErr(op, OperationErrorValidation, "point id is required", nil)
		}
		if len(p.Vector) == 0 {
			return opErr(op, OperationErrorValidation, fmt.Sprintf("point %q has empty vector", id), nil)
		}
		if len(p.Vector) != dim {
			return opErr(op, OperationErrorDimensionMismatch,
				fmt.Sprintf("point %q dimension mismatch: expected=%d got=%d", id, dim, len(p.Vector)), nil)
		}
		payload := clonePayload(p.Payload)
		payload[PayloadChunkIDKey] = id
		body = append(body, map[string]any{
			"id":      s.pointID(id),
			"vector":  p.Vector,
			"payload": payload,
		})
	}

	if err := s.ensureCollection(ctx, dim); err != nil {
		return err
	}
	return s.doJSON(ctx, op, http.MethodPut, s.collectionPath("/points?wait=true"), map[string]any{"points": body}, nil)
}

// Search returns matches in the order Qdrant ranks them. A collection that has
// not been created yet has no matches.
func (s *vectorIndex) Search(ctx context.Context, vector []float32, k int) ([]Match, error) {
	const op = "search"
	if len(vector) == 0 {
		return nil, opErr(op, OperationErrorValidation, "query vector required", nil)
	}
	if k <= 0 {
		k = 10
	}
	if dim := s.knownDim(); dim > 0 && len(vector) != dim {
		return nil, opErr(op, OperationErrorDimensionMismatch,
			fmt.Sprintf("query vector dimension mismatch: expected=%d got=%d", dim, len(vector)), nil)
	}

	req := map[string]any{
		"vector":       vector,
		"limit":        k,
		"with_payload": true,
		"with_vector":  false,
	}
	var raw []qdrantPoint
	if err := s.doJSON(ctx, op, http.MethodPost, s.collectionPath("/points/search"), req, &raw); err != nil {
		if isCollectionNotFound(err) {
			return []Match{}, nil
		}
		return nil, err
	}

	out := make([]Match, 0, len(raw))
	for _, item := range raw {
		id := extractChunkID(item)
		if id == "" {
			continue
		}
		out = append(out, Match{ID: id, Score: item.Score, Payload: item.Payload})
	}
	return out, nil
}

func (s *vectorIndex) Retrieve(ctx context.Context, ids []string) ([]Point, error) {
	const op = "retrieve"
	pointIDs := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		pid := s.pointID(id)
		if _, ok := seen[pid]; ok {
			continue
		}
		seen[pid] = struct{}{}
		pointIDs = append(pointIDs, pid)
	}
	if len(pointIDs) == 0 {
		return []Point{}, nil
	}

	req := map[string]any{
		"ids":          pointIDs,
		"with_payload": true,
		"with_vector":  true,
	}
	var raw []qdrantPoint
	if err := s.doJSON(ctx, op, http.MethodPost, s.collectionPath("/points"), req, &raw); err != nil {
		if isCollectionNotFound(err) {
			return []Point{}, nil
		}
		return nil, err
	}
	out := make([]Point, 0, len(raw))
	for _, item := range raw {
		out = append(out, Point{ID: extractChunkID(item), Vector: item.Vector, Payload: item.Payload})
	}
	return out, nil
}

// ensureCollection creates the collection on first use, sized from dim.
func (s *vectorIndex) ensureCollection(ctx context.Context, dim int) error {
	const op = "ensure_collection"
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cfg.VectorDim > 0 && dim != s.cfg.VectorDim {
		return opErr(op, OperationErrorDimensionMismatch,
			fmt.Sprintf("vector dimension mismatch: configured=%d got=%d", s.cfg.VectorDim, dim), nil)
	}
	if s.dim > 0 {
		if dim != s.dim {
			return opErr(op, OperationErrorDimensionMismatch,
				fmt.Sprintf("collection %q vector size=%d got=%d", s.cfg.Collection, s.dim, dim), nil)
		}
		return nil
	}

	var info struct {
		Config struct {
			Params struct {
				Vectors struct {
					Size     int    `json:"size"`
					Distance string `json:"distance"`
				} `json:"vectors"`
			} `json:"params"`
		} `json:"config"`
	}
	err := s.doJSON(ctx, op, http.MethodGet, s.collectionPath(""), nil, &info)
	switch {
	case err == nil:
		size := info.Config.Params.Vectors.Size
		if size != 0 && size != dim {
			return opErr(op, OperationErrorDimensionMismatch,
				fmt.Sprintf("collection %q vector size=%d got=%d", s.cfg.Collection, size, dim), nil)
		}
		s.dim = dim
		return nil
	case isCollectionNotFound(err):
	default:
		return err
	}

	create := map[string]any{
		"vectors": map[string]any{
			"size":     dim,
			"distance": s.cfg.Distance,
		},
	}
	if err := s.doJSON(ctx, op, http.MethodPut, s.collectionPath(""), create, nil); err != nil {
		var oe *OperationError
		// Another worker created it first.
		if !(errors.As(err, &oe) && oe.StatusCode == http.StatusConflict) {
			return err
		}
	}
	s.log.Info("Qdrant collection created", "collection", s.cfg.Collection, "vector_dim", dim, "distance", s.cfg.Distance)
	s.dim = dim
	return nil
}

func (s *vectorIndex) knownDim() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dim > 0 {
		return s.dim
	}
	return s.cfg.VectorDim
}

func (s *vectorIndex) verifyReady(ctx context.Context) error {
	const op = "bootstrap_verify"
	req, err := http.NewRequestWithContext(ctxutil.Default(ctx), http.MethodGet, s.baseURL+"/readyz", nil)
	if err != nil {
		return opErr(op, OperationErrorTransportFailed, "build ready request failed", err)
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return classifyHTTPCallError(op, "qdrant ready check failed", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &OperationError{
			Code:       OperationErrorQueryFailed,
			Operation:  op,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("qdrant ready check returned status=%d", resp.StatusCode),
		}
	}
	return nil
}

func (s *vectorIndex) doJSON(ctx context.Context, op, method, path string, in any, out any) error {
	var body io.Reader
	if in != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(in); err != nil {
			return opErr(op, OperationErrorEncodeFailed, "encode request failed", err)
		}
		body = &buf
	}

	req, err := http.NewRequestWithContext(ctxutil.Default(ctx), method, s.baseURL+path, body)
	if err != nil {
		return opErr(op, OperationErrorTransportFailed, "build request failed", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return classifyHTTPCallError(op, "qdrant request failed", err)
	}
	defer resp.Body.Close()

	raw, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return opErr(op, OperationErrorDecodeFailed, "read response failed", readErr)
	}
	if resp.StatusCode == http.StatusNotFound {
		return &OperationError{
			Code:       OperationErrorCollectionNotFound,
			Operation:  op,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("qdrant collection %q not found", s.cfg.Collection),
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &OperationError{
			Code:       OperationErrorQueryFailed,
			Operation:  op,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("qdrant http status=%d body=%q", resp.StatusCode, truncateBody(raw)),
		}
	}

	var envelope qdrantEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return opErr(op, OperationErrorDecodeFailed, "decode qdrant envelope failed", err)
	}
	if statusErr := parseEnvelopeStatus(envelope.Status); statusErr != "" {
		return &OperationError{
			Code:       OperationErrorQueryFailed,
			Operation:  op,
			StatusCode: resp.StatusCode,
			Message:    statusErr,
		}
	}

	if out == nil || len(envelope.Result) == 0 || string(envelope.Result) == "null" {
		return nil
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return opErr(op, OperationErrorDecodeFailed, "decode qdrant result failed", err)
	}
	return nil
}

func isCollectionNotFound(err error) bool {
	var oe *OperationError
	return errors.As(err, &oe) && oe.Code == OperationErrorCollectionNotFound
}

func classifyHTTPCallError(op, message string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return opErr(op, OperationErrorTimeout, message, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return opErr(op, OperationErrorTimeout, message, err)
	}
	return opErr(op, OperationErrorTransportFailed, message, err)
}

func parseEnvelopeStatus(raw json.RawMessage) string {
	status := strings.TrimSpace(string(raw))
	if status == "" || status == "null" {
		return ""
	}

	var statusString string
	if err := json.Unmarshal(raw, &statusString); err == nil {
		if strings.EqualFold(statusString, "ok") {
			return ""
		}
		return fmt.Sprintf("qdrant status=%q", statusString)
	}

	var statusObject struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &statusObject); err == nil && strings.TrimSpace(statusObject.Error) != "" {
		return strings.TrimSpace(statusObject.Error)
	}
	return fmt.Sprintf("qdrant status=%s", status)
}

func truncateBody(raw []byte) string {
	if len(raw) <= maxErrorBodyBytes {
		return string(raw)
	}
	return string(raw[:maxErrorBodyBytes]) + "..."
}

func clonePayload(in map[string]any) map[string]any {
	out := make(map[string]any, len(in)+1)
	for k, v := range in {
		out[k] = v
	}
	return out
}

// pointID is the chunk id itself when it is a UUID. Other ids are mapped to a
// name-based UUID, since Qdrant only accepts UUIDs and integers.
func (s *vectorIndex) pointID(chunkID string) string {
	if id, err := uuid.Parse(chunkID); err == nil {
		return id.String()
	}
	return uuid.NewSHA1(pointIDNamespaceUUID, []byte(s.cfg.Collection+"|"+chunkID)).String()
}

func (s *vectorIndex) collectionPath(suffix string) string {
	return "/collections/" + s.cfg.Collection + suffix
}

func extractChunkID(item qdrantPoint) string {
	if id, ok := item.Payload[PayloadChunkIDKey].(string); ok && strings.TrimSpace(id) != "" {
		return strings.TrimSpace(id)
	}
	return decodePointID(item.ID)
}

func decodePointID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var idString string
	if err := json.Unmarshal(raw, &idString); err == nil {
		return strings.TrimSpace(idString)
	}
	var idNumber int64
	if err := json.Unmarshal(raw, &idNumber); err == nil {
		return fmt.Sprintf("%d", idNumber)
	}
	return strings.TrimSpace(string(raw))
}
