// Package scanner finds documents that still need pipeline work and dispatches them.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	types "github.com/yungbote/docrag-backend/internal/domain"
	"github.com/yungbote/docrag-backend/internal/ingestion"
	"github.com/yungbote/docrag-backend/internal/observability"
	"github.com/yungbote/docrag-backend/internal/platform/gcp"
	"github.com/yungbote/docrag-backend/internal/platform/logger"
)

const DefaultConcurrency = 4

// DefaultSkipPrefixes are the folders that never hold newly landed documents.
var DefaultSkipPrefixes = []string{"ocr_done/", "processed/", "output/"}

type Lister interface {
	Bucket() string
	List(ctx context.Context, prefix, suffix string) ([]string, error)
}

// Registry records discovered documents. created is false when a record
// already existed. Lookup accepts either a discovery or a current blob URI.
type Registry interface {
	Register(ctx context.Context, uri string) (doc *types.PipelineDocument, created bool, err error)
	Lookup(ctx context.Context, uri string) (*types.PipelineDocument, error)
}

// Dispatcher starts pipeline units without waiting for them. Dispatching a
// unit that is already running is a no-op.
type Dispatcher interface {
	DispatchOCR(ctx context.Context, uri string) error
	DispatchChunkEmbed(ctx context.Context, doc *types.PipelineDocument) error
}

// Claimer guards against dispatching the same document from overlapping scans.
type Claimer interface {
	Claim(ctx context.Context, uri string) (bool, error)
	Release(ctx context.Context, uri string) error
}

type Config struct {
	Suffix       string
	SkipPrefixes []string
	// ResumePrefix holds documents whose OCR finished but which were never
	// indexed. It is listed in addition to the bucket root.
	ResumePrefix string
	Concurrency  int
}

type Result struct {
	Listed     int
	Dispatched int
	Skipped    int
	Failed     int
}

type Scanner struct {
	blobs      Lister
	registry   Registry
	dispatcher Dispatcher
	claims     Claimer
	metrics    *observability.Metrics
	log        *logger.Logger
	cfg        Config
}

// New builds a scanner. claims may be nil.
func New(blobs Lister, registry Registry, dispatcher Dispatcher, claims Claimer, metrics *observability.Metrics, log *logger.Logger, cfg Config) *Scanner {
	if cfg.Suffix == "" {
		cfg.Suffix = ".pdf"
	}
	if cfg.SkipPrefixes == nil {
		cfg.SkipPrefixes = DefaultSkipPrefixes
	}
	if cfg.ResumePrefix == "" {
		cfg.ResumePrefix = types.StateOCRDone.Folder() + "/"
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	return &Scanner{
		blobs:      blobs,
		registry:   registry,
		dispatcher: dispatcher,
		claims:     claims,
		metrics:    metrics,
		log:        log.With("service", "DocumentScanner"),
		cfg:        cfg,
	}
}

// Scan lists the bucket root and the resume folder and dispatches every
// document that has not reached processed. Discovered and OCR pending
// documents go to OCR, which resumes from the committed state; OCR done
// documents go straight to chunk/embed. Dispatching a document whose unit is
// still running is a no-op and counts as dispatched. One failed dispatch does
// not stop the others; all failures are joined into the returned error.
func (s *Scanner) Scan(ctx context.Context) (Result, error) {
	var res Result
	names, err := s.blobs.List(ctx, "", s.cfg.Suffix)
	if err != nil {
		return res, ingestion.Collaborator(ingestion.CollaboratorBlobStore, "list", err)
	}
	resumable, err := s.blobs.List(ctx, s.cfg.ResumePrefix, s.cfg.Suffix)
	if err != nil {
		return res, ingestion.Collaborator(ingestion.CollaboratorBlobStore, "list", err)
	}

	type candidate struct {
		uri    string
		resume bool
	}
	var candidates []candidate
	for _, name := range names {
		if !s.skip(name) {
			candidates = append(candidates, candidate{uri: gcp.ObjectURI(s.blobs.Bucket(), name)})
		}
	}
	for _, name := range resumable {
		candidates = append(candidates, candidate{uri: gcp.ObjectURI(s.blobs.Bucket(), name), resume: true})
	}
	res.Listed = len(candidates)

	var (
		dispatched, skipped, failed atomic.Int32
		mu                          sync.Mutex
		errs                        []error
		seen                        = map[string]bool{}
	)
	// first reports whether this scan has not dispatched source yet. A
	// document can be listed twice while a move left two copies.
	first := func(source string) bool {
		mu.Lock()
		defer mu.Unlock()
		if seen[source] {
			return false
		}
		seen[source] = true
		return true
	}

	var g errgroup.Group
	g.SetLimit(s.cfg.Concurrency)
	for _, c := range candidates {
		g.Go(func() error {
			ok, err := s.handle(ctx, c.uri, c.resume, first)
			switch {
			case err != nil:
				failed.Add(1)
				s.metrics.IncScanned("failed")
				s.log.Error("Failed to dispatch document", "uri", c.uri, "error", err)
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", c.uri, err))
				mu.Unlock()
			case ok:
				dispatched.Add(1)
				s.metrics.IncScanned("dispatched")
			default:
				skipped.Add(1)
				s.metrics.IncScanned("skipped")
			}
			return nil
		})
	}
	_ = g.Wait()

	res.Dispatched = int(dispatched.Load())
	res.Skipped = int(skipped.Load())
	res.Failed = int(failed.Load())
	s.log.Info("Scan finished", "listed", res.Listed, "dispatched", res.Dispatched, "skipped", res.Skipped, "failed", res.Failed)
	return res, errors.Join(errs...)
}

func (s *Scanner) skip(name string) bool {
	for _, p := range s.cfg.SkipPrefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// handle reports whether the document at uri was dispatched. Root blobs are
// registered on first sight; resume blobs must already have a record.
func (s *Scanner) handle(ctx context.Context, uri string, resume bool, first func(string) bool) (bool, error) {
	var (
		doc *types.PipelineDocument
		err error
	)
	if resume {
		doc, err = s.registry.Lookup(ctx, uri)
	} else {
		doc, _, err = s.registry.Register(ctx, uri)
	}
	if err != nil {
		return false, err
	}
	if doc == nil {
		s.log.Warn("Blob has no document record", "uri", uri)
		return false, nil
	}

	var start func(context.Context) error
	switch doc.State {
	case types.StateDiscovered, types.StateOCRPending:
		start = func(ctx context.Context) error { return s.dispatcher.DispatchOCR(ctx, doc.SourceURI) }
	case types.StateOCRDone:
		if doc.OutputPrefix == "" {
			s.log.Warn("OCR done document has no output prefix", "source_uri", doc.SourceURI)
			return false, nil
		}
		start = func(ctx context.Context) error { return s.dispatcher.DispatchChunkEmbed(ctx, doc) }
	default:
		return false, nil
	}
	if !first(doc.SourceURI) {
		return false, nil
	}

	if s.claims != nil {
		ok, err := s.claims.Claim(ctx, doc.SourceURI)
		if err != nil {
			// Dedup is best effort; workflow ids still reject duplicates.
			s.log.Warn("Dispatch claim failed, dispatching anyway", "uri", doc.SourceURI, "error", err)
		} else if !ok {
			return false, nil
		}
	}
	if err := start(ctx); err != nil {
		if s.claims != nil {
			if relErr := s.claims.Release(ctx, doc.SourceURI); relErr != nil {
				s.log.Warn("Failed to release dispatch claim", "uri", doc.SourceURI, "error", relErr)
			}
		}
		return false, err
	}
	s.log.Info("Dispatched document", "source_uri", doc.SourceURI, "state", doc.State)
	return true, nil
}
