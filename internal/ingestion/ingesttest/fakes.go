// Package ingesttest holds in-memory collaborators for pipeline tests.
package ingesttest

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/yungbote/docrag-backend/internal/platform/gcp"
	"github.com/yungbote/docrag-backend/internal/platform/qdrant"
)

// BlobStore is an in-memory gcp.BlobStore. Fail* hooks inject errors per
// object name.
type BlobStore struct {
	mu      sync.Mutex
	bucket  string
	objects map[string][]byte

	FailDelete    func(name string) error
	FailCopy      func(src string) error
	FailSignedURL func(name string) error
}

func NewBlobStore(bucket string) *BlobStore {
	return &BlobStore{bucket: bucket, objects: map[string][]byte{}}
}

func (s *BlobStore) Bucket() string { return s.bucket }

func (s *BlobStore) Put(name string, body []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[name] = append([]byte(nil), body...)
}

func (s *BlobStore) Has(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[name]
	return ok
}

func (s *BlobStore) List(ctx context.Context, prefix, suffix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []string{}
	for name := range s.objects {
		if strings.HasPrefix(name, prefix) && strings.HasSuffix(name, suffix) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *BlobStore) Read(ctx context.Context, name string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.objects[name]
	if !ok {
		return nil, fmt.Errorf("read %s: %w", name, gcp.ErrObjectNotFound)
	}
	return append([]byte(nil), b...), nil
}

func (s *BlobStore) Copy(ctx context.Context, src, dst string) error {
	if s.FailCopy != nil {
		if err := s.FailCopy(src); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.objects[src]
	if !ok {
		return fmt.Errorf("copy %s->%s: %w", src, dst, gcp.ErrObjectNotFound)
	}
	s.objects[dst] = append([]byte(nil), b...)
	return nil
}

func (s *BlobStore) Delete(ctx context.Context, name string) error {
	if s.FailDelete != nil {
		if err := s.FailDelete(name); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[name]; !ok {
		return fmt.Errorf("delete %s: %w", name, gcp.ErrObjectNotFound)
	}
	delete(s.objects, name)
	return nil
}

func (s *BlobStore) SignedURL(ctx context.Context, name string, ttl time.Duration) (string, error) {
	if s.FailSignedURL != nil {
		if err := s.FailSignedURL(name); err != nil {
			return "", err
		}
	}
	return fmt.Sprintf("https://signed.test/%s/%s?ttl=%d", s.bucket, name, int(ttl.Seconds())), nil
}

func (s *BlobStore) Close() error { return nil }

// VectorIndex is an in-memory qdrant.VectorIndex ranking by cosine similarity.
type VectorIndex struct {
	mu     sync.Mutex
	points map[string]qdrant.Point
	order  []string

	FailUpsert error
	FailSearch error
}

func NewVectorIndex() *VectorIndex {
	return &VectorIndex{points: map[string]qdrant.Point{}}
}

func (v *VectorIndex) Len() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.points)
}

func (v *VectorIndex) Upsert(ctx context.Context, points []qdrant.Point) error {
	if v.FailUpsert != nil {
		return v.FailUpsert
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, p := range points {
		if _, ok := v.points[p.ID]; !ok {
			v.order = append(v.order, p.ID)
		}
		payload := map[string]any{qdrant.PayloadChunkIDKey: p.ID}
		for k, val := range p.Payload {
			payload[k] = val
		}
		v.points[p.ID] = qdrant.Point{ID: p.ID, Vector: append([]float32(nil), p.Vector...), Payload: payload}
	}
	return nil
}

func (v *VectorIndex) Search(ctx context.Context, vector []float32, k int) ([]qdrant.Match, error) {
	if v.FailSearch != nil {
		return nil, v.FailSearch
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]qdrant.Match, 0, len(v.points))
	for _, id := range v.order {
		p := v.points[id]
		out = append(out, qdrant.Match{ID: id, Score: cosine(vector, p.Vector), Payload: p.Payload})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if k > 0 && len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func (v *VectorIndex) Retrieve(ctx context.Context, ids []string) ([]qdrant.Point, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := []qdrant.Point{}
	for _, id := range ids {
		if p, ok := v.points[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

// Embedder hashes each text into a fixed-size vector. Identical texts embed
// identically.
type Embedder struct {
	Dim int
	// Drop removes this many vectors from every response.
	Drop int
	Err  error

	mu    sync.Mutex
	calls int
}

var ErrEmbedFailed = errors.New("embedding unavailable")

func (e *Embedder) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	if e.Err != nil {
		return nil, e.Err
	}
	dim := e.Dim
	if dim <= 0 {
		dim = 8
	}
	out := make([][]float32, 0, len(texts))
	for _, t := range texts {
		out = append(out, hashVector(t, dim))
	}
	if e.Drop > 0 {
		if e.Drop >= len(out) {
			return [][]float32{}, nil
		}
		out = out[:len(out)-e.Drop]
	}
	return out, nil
}

func hashVector(text string, dim int) []float32 {
	vec := make([]float32, dim)
	for i := range vec {
		h := fnv.New32a()
		_, _ = fmt.Fprintf(h, "%d:%s", i, text)
		vec[i] = float32(h.Sum32()%1000) / 1000
	}
	return vec
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
