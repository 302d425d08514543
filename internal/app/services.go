package app

import (
	"fmt"

	"github.com/yungbote/docrag-backend/internal/data/repos"
	"github.com/yungbote/docrag-backend/internal/ingestion/blobstate"
	"github.com/yungbote/docrag-backend/internal/ingestion/coordinator"
	"github.com/yungbote/docrag-backend/internal/ingestion/ocrparse"
	"github.com/yungbote/docrag-backend/internal/ingestion/scanner"
	"github.com/yungbote/docrag-backend/internal/observability"
	"github.com/yungbote/docrag-backend/internal/platform/logger"
	"github.com/yungbote/docrag-backend/internal/retrieval"
	"github.com/yungbote/docrag-backend/internal/temporalx"
	"github.com/yungbote/docrag-backend/internal/temporalx/ingestflow"
	"github.com/yungbote/docrag-backend/internal/temporalx/temporalworker"
)

type Services struct {
	States    *blobstate.StateMachine
	Assembler *retrieval.Assembler

	// Worker only.
	Coordinator *coordinator.Coordinator
	Scanner     *scanner.Scanner
	Dispatcher  *ingestflow.Dispatcher
	Runner      *temporalworker.Runner
	Temporal    temporalx.Config
}

func wireServices(log *logger.Logger, cfg Config, rs repos.Repos, c *Clients, metrics *observability.Metrics) (*Services, error) {
	log.Info("Wiring services...")
	p := cfg.Pipeline

	states := blobstate.NewStateMachine(blobstate.NewTracker(c.Blobs, log), rs.Documents, log)
	s := &Services{
		States: states,
		Assembler: retrieval.NewAssembler(c.Embedder, c.Index, rs.Chunks, c.Blobs, metrics, log, retrieval.Config{
			TopK:         p.TopK,
			SignedURLTTL: p.SignedURLTTL,
		}),
	}
	if c.Temporal == nil {
		return s, nil
	}

	newID, err := ocrparse.IDFuncForMode(p.ChunkIDMode)
	if err != nil {
		return nil, err
	}
	s.Coordinator, err = coordinator.New(coordinator.Deps{
		Outputs:  c.Blobs,
		Parser:   ocrparse.New(p.MinParagraphLen, newID),
		Embedder: c.Embedder,
		Index:    c.Index,
		Chunks:   rs.Chunks,
		Markers:  rs.BatchMarkers,
		States:   states,
		Metrics:  metrics,
		Log:      log,
	}, p.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("init coordinator: %w", err)
	}

	s.Temporal = temporalx.LoadConfig()
	s.Dispatcher = &ingestflow.Dispatcher{
		Client:    c.Temporal,
		TaskQueue: s.Temporal.TaskQueue,
		Log:       log.With("service", "OCRDispatcher"),
	}
	var claims scanner.Claimer
	if c.Claims != nil {
		claims = c.Claims
	}
	s.Scanner = scanner.New(c.Blobs, states, s.Dispatcher, claims, metrics, log, scanner.Config{
		Suffix:      p.ScanSuffix,
		Concurrency: p.ScanConcurrency,
	})

	workflows := &ingestflow.Workflows{Timeouts: p.timeouts()}
	activities := &ingestflow.Activities{
		Log:     log.With("service", "IngestActivities"),
		States:  states,
		Scanner: s.Scanner,
		OCR:     c.OCR,
		Chunks:  s.Coordinator,
		Metrics: metrics,
	}
	s.Runner, err = temporalworker.NewRunner(log, c.Temporal, s.Temporal, workflows, activities)
	if err != nil {
		return nil, err
	}
	return s, nil
}
