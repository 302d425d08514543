package scanner

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/yungbote/docrag-backend/internal/data/repos"
	"github.com/yungbote/docrag-backend/internal/data/repos/testutil"
	types "github.com/yungbote/docrag-backend/internal/domain"
	"github.com/yungbote/docrag-backend/internal/ingestion/blobstate"
	"github.com/yungbote/docrag-backend/internal/ingestion/ingesttest"
)

type recordingDispatcher struct {
	mu      sync.Mutex
	uris    []string
	indexed []string
	fail    map[string]bool
}

func (d *recordingDispatcher) DispatchOCR(ctx context.Context, uri string) error {
	if d.fail[uri] {
		return errors.New("scheduler unavailable")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.uris = append(d.uris, uri)
	return nil
}

func (d *recordingDispatcher) DispatchChunkEmbed(ctx context.Context, doc *types.PipelineDocument) error {
	if d.fail[doc.SourceURI] {
		return errors.New("scheduler unavailable")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.indexed = append(d.indexed, doc.SourceURI+" "+doc.OutputPrefix)
	return nil
}

func (d *recordingDispatcher) sorted() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := append([]string(nil), d.uris...)
	sort.Strings(out)
	return out
}

type memClaims struct {
	mu       sync.Mutex
	held     map[string]bool
	released []string
}

func (c *memClaims) Claim(ctx context.Context, uri string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.held[uri] {
		return false, nil
	}
	c.held[uri] = true
	return true, nil
}

func (c *memClaims) Release(ctx context.Context, uri string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.held, uri)
	c.released = append(c.released, uri)
	return nil
}

func newStates(t *testing.T, store *ingesttest.BlobStore) *blobstate.StateMachine {
	t.Helper()
	log := testutil.Logger(t)
	return blobstate.NewStateMachine(blobstate.NewTracker(store, log), repos.NewDocumentRepo(testutil.DB(t), log), log)
}

func TestScanDispatchesUnfinishedDocuments(t *testing.T) {
	ctx := context.Background()
	store := ingesttest.NewBlobStore("bucket")
	for _, n := range []string{"a.pdf", "b.pdf", "c.pdf", "d.pdf", "notes.txt", "ocr_done/stray.pdf", "output/a.pdf/0.json"} {
		store.Put(n, nil)
	}
	states := newStates(t, store)

	// b.pdf stalled after OCR was requested.
	if _, err := states.Advance(ctx, "gs://bucket/b.pdf", types.StateOCRPending, nil); err != nil {
		t.Fatalf("Advance b: %v", err)
	}
	// c.pdf finished OCR but was never indexed.
	if _, err := states.Advance(ctx, "gs://bucket/c.pdf", types.StateOCRPending, nil); err != nil {
		t.Fatalf("Advance c: %v", err)
	}
	if err := states.RecordOutputPrefix(ctx, "gs://bucket/c.pdf", "output/c/"); err != nil {
		t.Fatalf("RecordOutputPrefix: %v", err)
	}
	if _, err := states.Advance(ctx, "gs://bucket/c.pdf", types.StateOCRDone, nil); err != nil {
		t.Fatalf("Advance c: %v", err)
	}
	// d.pdf is done.
	for _, to := range []types.DocumentState{types.StateOCRPending, types.StateOCRDone, types.StateProcessed} {
		if _, err := states.Advance(ctx, "gs://bucket/d.pdf", to, nil); err != nil {
			t.Fatalf("Advance d to %s: %v", to, err)
		}
	}

	d := &recordingDispatcher{}
	s := New(store, states, d, nil, nil, testutil.Logger(t), Config{})
	res, err := s.Scan(ctx)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	got := d.sorted()
	if len(got) != 2 || got[0] != "gs://bucket/a.pdf" || got[1] != "gs://bucket/b.pdf" {
		t.Fatalf("ocr dispatched: %v", got)
	}
	if len(d.indexed) != 1 || d.indexed[0] != "gs://bucket/c.pdf output/c/" {
		t.Fatalf("chunk/embed dispatched: %v", d.indexed)
	}
	if res.Listed != 4 || res.Dispatched != 3 || res.Skipped != 1 || res.Failed != 0 {
		t.Fatalf("result: %+v", res)
	}
}

func TestScanRedispatchesStalledDocumentEveryPass(t *testing.T) {
	ctx := context.Background()
	store := ingesttest.NewBlobStore("bucket")
	store.Put("a.pdf", nil)
	states := newStates(t, store)
	if _, err := states.Advance(ctx, "gs://bucket/a.pdf", types.StateOCRPending, nil); err != nil {
		t.Fatalf("Advance: %v", err)
	}

	d := &recordingDispatcher{}
	s := New(store, states, d, nil, nil, testutil.Logger(t), Config{})
	for i := 0; i < 3; i++ {
		res, err := s.Scan(ctx)
		if err != nil {
			t.Fatalf("Scan %d: %v", i, err)
		}
		if res.Dispatched != 1 {
			t.Fatalf("scan %d result: %+v", i, res)
		}
	}
	if len(d.uris) != 3 {
		t.Fatalf("dispatched: %v", d.uris)
	}
}

func TestScanContinuesPastFailedDispatch(t *testing.T) {
	store := ingesttest.NewBlobStore("bucket")
	for _, n := range []string{"a.pdf", "b.pdf", "c.pdf"} {
		store.Put(n, nil)
	}
	d := &recordingDispatcher{fail: map[string]bool{"gs://bucket/b.pdf": true}}
	claims := &memClaims{held: map[string]bool{}}
	s := New(store, newStates(t, store), d, claims, nil, testutil.Logger(t), Config{Concurrency: 2})

	res, err := s.Scan(context.Background())
	if err == nil {
		t.Fatalf("expected joined dispatch error")
	}
	if res.Dispatched != 2 || res.Failed != 1 {
		t.Fatalf("result: %+v", res)
	}
	if len(claims.released) != 1 || claims.released[0] != "gs://bucket/b.pdf" {
		t.Fatalf("failed dispatch should release its claim: %v", claims.released)
	}

	// A second scan with claims still held dispatches only the released one.
	d.fail = nil
	res, err = s.Scan(context.Background())
	if err != nil {
		t.Fatalf("second Scan: %v", err)
	}
	if res.Dispatched != 1 {
		t.Fatalf("second scan result: %+v", res)
	}
}

func TestRedisClaimerRejectsBadURL(t *testing.T) {
	if _, err := NewRedisClaimer("not a url", time.Minute); err == nil {
		t.Fatalf("expected parse error")
	}
	c, err := NewRedisClaimer("redis://localhost:6379/2", 0)
	if err != nil {
		t.Fatalf("NewRedisClaimer: %v", err)
	}
	defer c.Close()
	if c.ttl != DefaultClaimTTL || c.key("gs://b/a.pdf") != "docrag:dispatch:gs://b/a.pdf" {
		t.Fatalf("unexpected claimer: ttl=%v key=%q", c.ttl, c.key("gs://b/a.pdf"))
	}
}
