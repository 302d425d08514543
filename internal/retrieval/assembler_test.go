package retrieval

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/yungbote/docrag-backend/internal/data/repos/testutil"
	"github.com/yungbote/docrag-backend/internal/ingestion/ingesttest"
	"github.com/yungbote/docrag-backend/internal/pkg/dbctx"
	"github.com/yungbote/docrag-backend/internal/platform/qdrant"
)

type mapSources struct {
	m     map[string]string
	err   error
	calls int
}

func (s *mapSources) LookupSources(dbc dbctx.Context, ids []string) (map[string]string, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	out := map[string]string{}
	for _, id := range ids {
		if v, ok := s.m[id]; ok {
			out[id] = v
		}
	}
	return out, nil
}

// seed indexes three chunks from three documents.
func seed(t *testing.T) (*ingesttest.VectorIndex, *ingesttest.Embedder, *mapSources) {
	t.Helper()
	emb := &ingesttest.Embedder{Dim: 8}
	idx := ingesttest.NewVectorIndex()
	texts := map[string]string{
		"c1": "Pump pressure must stay below 40 bar.",
		"c2": "Replace the filter every 500 hours.",
		"c3": "The warranty covers two years of service.",
	}
	sources := &mapSources{m: map[string]string{}}
	for i, id := range []string{"c1", "c2", "c3"} {
		vecs, _ := emb.Embed(context.Background(), []string{texts[id]})
		err := idx.Upsert(context.Background(), []qdrant.Point{{
			ID:      id,
			Vector:  vecs[0],
			Payload: map[string]any{"type": "paragraph", "text": texts[id], "page": i + 1},
		}})
		if err != nil {
			t.Fatalf("Upsert: %v", err)
		}
		sources.m[id] = "gs://bucket/processed/" + string(rune('a'+i)) + ".pdf"
	}
	return idx, emb, sources
}

func TestBuildPromptReturnsOneReferencePerIndexedChunk(t *testing.T) {
	idx, emb, sources := seed(t)
	a := NewAssembler(emb, idx, sources, ingesttest.NewBlobStore("bucket"), nil, testutil.Logger(t), Config{})

	prompt, refs, err := a.BuildPrompt(context.Background(), "How often is the filter replaced?", 5)
	if err != nil {
		t.Fatalf("BuildPrompt: %v", err)
	}
	if len(refs) != 3 {
		t.Fatalf("references: want=3 got=%d", len(refs))
	}
	for i, r := range refs {
		if r.Label != label(i) {
			t.Fatalf("reference %d label: %q", i, r.Label)
		}
		if r.URL == "" || !strings.Contains(r.String(), `target="_blank"`) {
			t.Fatalf("reference %d should carry a link: %s", i, r)
		}
		if !strings.Contains(prompt, "["+r.Label+"]\n") {
			t.Fatalf("prompt missing block for %s", r.Label)
		}
	}
	if sources.calls != 1 {
		t.Fatalf("sources should be resolved in one lookup, got %d", sources.calls)
	}
	if !strings.HasPrefix(prompt, "You are a technical assistant.") ||
		!strings.HasSuffix(prompt, "Question: How often is the filter replaced?\nAnswer (with sources cited as [Source N]):") {
		t.Fatalf("unexpected prompt framing:\n%s", prompt)
	}
}

func TestBuildPromptDegradesFailedLinkToFileName(t *testing.T) {
	idx, emb, sources := seed(t)
	store := ingesttest.NewBlobStore("bucket")
	store.FailSignedURL = func(name string) error {
		if name == "processed/b.pdf" {
			return errors.New("signing key unavailable")
		}
		return nil
	}
	a := NewAssembler(emb, idx, sources, store, nil, testutil.Logger(t), Config{})

	prompt, refs, err := a.BuildPrompt(context.Background(), "filter", 5)
	if err != nil {
		t.Fatalf("BuildPrompt: %v", err)
	}
	if len(refs) != 3 {
		t.Fatalf("references: want=3 got=%d", len(refs))
	}
	linked := 0
	for _, r := range refs {
		if r.FileName == "b.pdf" {
			if r.URL != "" || strings.Contains(r.String(), "<a ") {
				t.Fatalf("b.pdf should be filename-only: %s", r)
			}
			if !strings.HasPrefix(r.String(), "["+r.Label+"]: b.pdf, page ") {
				t.Fatalf("unexpected plain reference: %s", r)
			}
			continue
		}
		if r.URL == "" {
			t.Fatalf("%s lost its link", r.FileName)
		}
		linked++
	}
	if linked != 2 {
		t.Fatalf("linked references: want=2 got=%d", linked)
	}
	for i := range refs {
		if !strings.Contains(prompt, "["+label(i)+"]\n") {
			t.Fatalf("prompt missing block %d", i+1)
		}
	}
}

func TestBuildPromptLabelsSourcesUnknownWhenLookupFails(t *testing.T) {
	idx, emb, sources := seed(t)
	sources.err = errors.New("db down")
	a := NewAssembler(emb, idx, sources, ingesttest.NewBlobStore("bucket"), nil, testutil.Logger(t), Config{})

	_, refs, err := a.BuildPrompt(context.Background(), "warranty", 2)
	if err != nil {
		t.Fatalf("BuildPrompt: %v", err)
	}
	if len(refs) != 2 {
		t.Fatalf("references: want=2 got=%d", len(refs))
	}
	for _, r := range refs {
		if r.Source != "unknown" || r.URL != "" {
			t.Fatalf("expected unknown source without link: %+v", r)
		}
	}
}

func TestBuildPromptFailsWhenIndexUnreachable(t *testing.T) {
	idx, emb, sources := seed(t)
	idx.FailSearch = errors.New("connection refused")
	a := NewAssembler(emb, idx, sources, nil, nil, testutil.Logger(t), Config{})

	_, _, err := a.BuildPrompt(context.Background(), "filter", 5)
	if err == nil {
		t.Fatalf("expected search failure to fail the call")
	}
	if errors.Is(err, ErrIndexUnavailable) {
		t.Fatalf("an untyped search error is not an outage: %v", err)
	}

	idx.FailSearch = &qdrant.OperationError{Code: qdrant.OperationErrorTransportFailed, Operation: "search", Cause: errors.New("connection refused")}
	_, _, err = a.BuildPrompt(context.Background(), "filter", 5)
	if !errors.Is(err, ErrIndexUnavailable) {
		t.Fatalf("expected ErrIndexUnavailable, got %v", err)
	}

	idx.FailSearch = &qdrant.OperationError{Code: qdrant.OperationErrorValidation, Operation: "search", StatusCode: 400}
	if _, _, err := a.BuildPrompt(context.Background(), "filter", 5); errors.Is(err, ErrIndexUnavailable) {
		t.Fatalf("a rejected search is not an outage: %v", err)
	}
}

func TestBuildPromptRejectsEmptyQuery(t *testing.T) {
	idx, emb, sources := seed(t)
	a := NewAssembler(emb, idx, sources, nil, nil, testutil.Logger(t), Config{})
	if _, _, err := a.BuildPrompt(context.Background(), "<<$$>>", 5); !errors.Is(err, ErrEmptyQuery) {
		t.Fatalf("expected ErrEmptyQuery, got %v", err)
	}
	if emb.Calls() != 3 {
		t.Fatalf("empty query should not reach the embedder")
	}
}

func TestSanitize(t *testing.T) {
	cases := map[string]string{
		"What is <b>pressure</b>?": "What is bpressureb?",
		"tab\there\nnewline":       "tabhere\nnewline",
		"café, déjà vu!":           "caf, dj vu!",
		"rm -rf /; echo $HOME":     "rm rf ; echo HOME",
		"Plain question: ok?":      "Plain question: ok?",
	}
	for in, want := range cases {
		if got := Sanitize(in); got != want {
			t.Fatalf("Sanitize(%q): want=%q got=%q", in, want, got)
		}
	}
}

func TestReferenceString(t *testing.T) {
	page := 4
	r := Reference{Label: "Source 2", FileName: "manual.pdf", Page: &page, URL: "https://x/y"}
	if got := r.String(); got != `[Source 2]: <a href="https://x/y" target="_blank">manual.pdf</a>, page 4` {
		t.Fatalf("linked: %s", got)
	}
	r = Reference{Label: "Source 1", FileName: "manual.pdf"}
	if got := r.String(); got != "[Source 1]: manual.pdf, page ?" {
		t.Fatalf("plain: %s", got)
	}
}

func TestPayloadPage(t *testing.T) {
	if p := payloadPage(map[string]any{"page": float64(3)}); p == nil || *p != 3 {
		t.Fatalf("float page: %v", p)
	}
	if p := payloadPage(map[string]any{}); p != nil {
		t.Fatalf("missing page should be nil")
	}
}
