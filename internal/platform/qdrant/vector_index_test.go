package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/yungbote/docrag-backend/internal/platform/logger"
)

func TestVectorIndexUpsertCreatesCollectionFromFirstVector(t *testing.T) {
	var calls []string
	var created map[string]any
	var upserted map[string]any
	s := newTestVectorIndex(t, func(r *http.Request) (*http.Response, error) {
		calls = append(calls, r.Method+" "+r.URL.Path)
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/collections/chunks":
			return statusResponse(http.StatusNotFound, `{"status":{"error":"Not found"}}`), nil
		case r.Method == http.MethodPut && r.URL.Path == "/collections/chunks":
			if err := json.NewDecoder(r.Body).Decode(&created); err != nil {
				t.Fatalf("decode create body: %v", err)
			}
			return okResponse(t, true), nil
		case r.Method == http.MethodPut && r.URL.Path == "/collections/chunks/points":
			if r.URL.RawQuery != "wait=true" {
				t.Fatalf("query: want=%q got=%q", "wait=true", r.URL.RawQuery)
			}
			if err := json.NewDecoder(r.Body).Decode(&upserted); err != nil {
				t.Fatalf("decode upsert body: %v", err)
			}
			return okResponse(t, map[string]any{"status": "acknowledged"}), nil
		}
		t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		return nil, nil
	})

	payload := map[string]any{"type": "paragraph", "text": "hello", "page": 1}
	err := s.Upsert(context.Background(), []Point{
		{ID: "chunk-1", Vector: []float32{1, 2, 3}, Payload: payload},
		{ID: "chunk-2", Vector: []float32{4, 5, 6}, Payload: map[string]any{"type": "table"}},
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if len(calls) != 3 {
		t.Fatalf("calls: want=3 got=%v", calls)
	}

	vectors := created["vectors"].(map[string]any)
	if vectors["size"] != float64(3) || vectors["distance"] != "Cosine" {
		t.Fatalf("create body: %v", created)
	}

	points := upserted["points"].([]any)
	first := points[0].(map[string]any)
	if first["id"] != s.pointID("chunk-1") {
		t.Fatalf("point id: got=%v", first["id"])
	}
	if p := first["payload"].(map[string]any); p[PayloadChunkIDKey] != "chunk-1" || p["text"] != "hello" {
		t.Fatalf("payload: %v", p)
	}
	if _, mutated := payload[PayloadChunkIDKey]; mutated {
		t.Fatalf("input payload mutated")
	}

	calls = nil
	if err := s.Upsert(context.Background(), []Point{{ID: "chunk-3", Vector: []float32{7, 8, 9}}}); err != nil {
		t.Fatalf("second Upsert: %v", err)
	}
	if len(calls) != 1 {
		t.Fatalf("collection should be checked once, calls=%v", calls)
	}
}

func TestVectorIndexUpsertRejectsDimensionChange(t *testing.T) {
	s := newTestVectorIndex(t, func(r *http.Request) (*http.Response, error) {
		return okResponse(t, map[string]any{
			"config": map[string]any{"params": map[string]any{"vectors": map[string]any{"size": 4, "distance": "Cosine"}}},
		}), nil
	})
	err := s.Upsert(context.Background(), []Point{{ID: "c", Vector: []float32{1, 2, 3}}})
	var opErr *OperationError
	if !errors.As(err, &opErr) || opErr.Code != OperationErrorDimensionMismatch {
		t.Fatalf("expected dimension mismatch, got %v", err)
	}

	err = s.Upsert(context.Background(), []Point{
		{ID: "a", Vector: []float32{1, 2, 3, 4}},
		{ID: "b", Vector: []float32{1, 2}},
	})
	if !errors.As(err, &opErr) || opErr.Code != OperationErrorDimensionMismatch {
		t.Fatalf("expected mixed dimension rejection, got %v", err)
	}
}

func TestVectorIndexSearchKeepsRankOrder(t *testing.T) {
	var captured map[string]any
	s := newTestVectorIndex(t, func(r *http.Request) (*http.Response, error) {
		if r.URL.Path != "/collections/chunks/points/search" {
			t.Fatalf("path: got=%q", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		return okResponse(t, []map[string]any{
			{"id": "p-b", "score": 0.9, "payload": map[string]any{PayloadChunkIDKey: "chunk-b", "text": "b"}},
			{"id": "p-a", "score": 0.4, "payload": map[string]any{PayloadChunkIDKey: "chunk-a", "text": "a"}},
			{"id": 7, "score": 0.1, "payload": map[string]any{}},
		}), nil
	})

	matches, err := s.Search(context.Background(), []float32{1, 2, 3}, 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if captured["limit"] != float64(5) || captured["with_payload"] != true {
		t.Fatalf("search body: %v", captured)
	}
	if len(matches) != 3 {
		t.Fatalf("matches: want=3 got=%d", len(matches))
	}
	if matches[0].ID != "chunk-b" || matches[1].ID != "chunk-a" || matches[2].ID != "7" {
		t.Fatalf("order: %v %v %v", matches[0].ID, matches[1].ID, matches[2].ID)
	}
	if matches[0].Payload["text"] != "b" {
		t.Fatalf("payload not returned: %v", matches[0].Payload)
	}
}

func TestVectorIndexSearchMissingCollectionIsEmpty(t *testing.T) {
	s := newTestVectorIndex(t, func(r *http.Request) (*http.Response, error) {
		return statusResponse(http.StatusNotFound, `{"status":{"error":"Not found"}}`), nil
	})
	matches, err := s.Search(context.Background(), []float32{1}, 3)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(matches) != 0 {
		t.Fatalf("expected no matches, got %d", len(matches))
	}
}

func TestVectorIndexSearchUnreachable(t *testing.T) {
	s := newTestVectorIndex(t, func(r *http.Request) (*http.Response, error) {
		return nil, fmt.Errorf("dial tcp: connection refused")
	})
	_, err := s.Search(context.Background(), []float32{1}, 3)
	var opErr *OperationError
	if !errors.As(err, &opErr) || !opErr.Unavailable() {
		t.Fatalf("expected unavailable OperationError, got %v", err)
	}
}

func TestVectorIndexRetrieveDedupesIDs(t *testing.T) {
	var captured map[string]any
	s := newTestVectorIndex(t, func(r *http.Request) (*http.Response, error) {
		if r.Method != http.MethodPost || r.URL.Path != "/collections/chunks/points" {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		return okResponse(t, []map[string]any{
			{"id": "p-1", "vector": []float32{1, 2}, "payload": map[string]any{PayloadChunkIDKey: "chunk-1"}},
		}), nil
	})

	points, err := s.Retrieve(context.Background(), []string{"chunk-1", "chunk-1", " "})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	ids := captured["ids"].([]any)
	if len(ids) != 1 || ids[0] != s.pointID("chunk-1") {
		t.Fatalf("ids: %v", ids)
	}
	if len(points) != 1 || points[0].ID != "chunk-1" || len(points[0].Vector) != 2 {
		t.Fatalf("points: %+v", points)
	}
}

func TestClassifyHTTPCallError(t *testing.T) {
	var opErr *OperationError
	if err := classifyHTTPCallError("search", "timeout", context.DeadlineExceeded); !errors.As(err, &opErr) || opErr.Code != OperationErrorTimeout {
		t.Fatalf("expected timeout, got %v", err)
	}
	if err := classifyHTTPCallError("search", "transport", fmt.Errorf("boom")); !errors.As(err, &opErr) || opErr.Code != OperationErrorTransportFailed {
		t.Fatalf("expected transport failure, got %v", err)
	}
}

func newTestVectorIndex(t *testing.T, roundTrip func(*http.Request) (*http.Response, error)) *vectorIndex {
	t.Helper()
	return &vectorIndex{
		log:     newTestLogger(t),
		cfg:     Config{Collection: "chunks", Distance: "Cosine"},
		baseURL: "http://qdrant.local",
		http:    &http.Client{Transport: roundTripFunc(roundTrip)},
	}
}

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	t.Cleanup(func() {
		log.Sync()
	})
	return log
}

func okResponse(t *testing.T, result any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"result": result,
		"status": "ok",
		"time":   0.001,
	})
	if err != nil {
		t.Fatalf("marshal response: %v", err)
	}
	return statusResponse(http.StatusOK, string(raw))
}

func statusResponse(code int, body string) *http.Response {
	return &http.Response{
		StatusCode: code,
		Header:     make(http.Header),
		Body:       io.NopCloser(bytes.NewReader([]byte(body))),
	}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}


func TestPointIDKeepsUUIDChunkIDs(t *testing.T) {
	s := &vectorIndex{cfg: Config{Collection: "chunks"}}
	id := "df7a63e6-5b1c-5f0e-9a51-3f2d8c0b7e11"
	if got := s.pointID(id); got != id {
		t.Fatalf("uuid chunk id should be the point id: got=%s", got)
	}
	if got := s.pointID(strings.ToUpper(id)); got != id {
		t.Fatalf("uuid chunk id should be canonicalized: got=%s", got)
	}
	derived := s.pointID("chunk-1")
	if derived == "chunk-1" || derived != s.pointID("chunk-1") {
		t.Fatalf("non-uuid ids should map to a stable uuid: got=%s", derived)
	}
}
