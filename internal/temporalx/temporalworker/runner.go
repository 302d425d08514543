package temporalworker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/activity"
	temporalsdkclient "go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/yungbote/docrag-backend/internal/platform/logger"
	"github.com/yungbote/docrag-backend/internal/temporalx"
	"github.com/yungbote/docrag-backend/internal/temporalx/ingestflow"
)

// Registrar is the part of a Temporal worker the runner registers against.
type Registrar interface {
	RegisterWorkflowWithOptions(w interface{}, options workflow.RegisterOptions)
	RegisterActivityWithOptions(a interface{}, options activity.RegisterOptions)
}

type Runner struct {
	log *logger.Logger
	tc  temporalsdkclient.Client
	cfg temporalx.Config

	workflows  *ingestflow.Workflows
	activities *ingestflow.Activities
}

func NewRunner(
	log *logger.Logger,
	tc temporalsdkclient.Client,
	cfg temporalx.Config,
	workflows *ingestflow.Workflows,
	activities *ingestflow.Activities,
) (*Runner, error) {
	if tc == nil {
		return nil, fmt.Errorf("temporal client is not configured")
	}
	if workflows == nil || activities == nil {
		return nil, fmt.Errorf("temporal worker missing deps")
	}
	return &Runner{
		log:        log.With("service", "TemporalWorker"),
		tc:         tc,
		cfg:        cfg,
		workflows:  workflows,
		activities: activities,
	}, nil
}

// Start polls the task queue until ctx is done. Start failures are retried
// with backoff up to WorkerStartMaxWait.
func (r *Runner) Start(ctx context.Context) error {
	cfg := r.cfg
	r.log.Info("Starting Temporal worker", "address", cfg.Address, "namespace", cfg.Namespace, "task_queue", cfg.TaskQueue)

	if cfg.AutoRegisterNamespace {
		if err := temporalx.EnsureNamespace(ctx, cfg, r.log); err != nil {
			r.log.Warn("Temporal namespace ensure failed; worker will retry on start", "namespace", cfg.Namespace, "error", err)
		}
	}

	deadline := time.Now().Add(cfg.WorkerStartMaxWait)
	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		w := worker.New(r.tc, cfg.TaskQueue, worker.Options{
			MaxConcurrentActivityExecutionSize:     cfg.WorkerConcurrency,
			MaxConcurrentWorkflowTaskExecutionSize: cfg.WorkerConcurrency,
		})
		Register(w, r.workflows, r.activities)

		startErr := w.Start()
		if startErr == nil {
			go func() {
				<-ctx.Done()
				w.Stop()
			}()
			r.log.Info("Temporal worker started", "namespace", cfg.Namespace, "task_queue", cfg.TaskQueue, "attempts", attempt)
			return nil
		}
		w.Stop()

		var nfe *serviceerror.NamespaceNotFound
		missingNamespace := errors.As(startErr, &nfe)
		if missingNamespace && cfg.AutoRegisterNamespace {
			_ = temporalx.EnsureNamespace(ctx, cfg, r.log)
		}

		if cfg.WorkerStartMaxWait <= 0 || time.Now().After(deadline) {
			if missingNamespace {
				return fmt.Errorf("temporal namespace not found (namespace=%s): %w", cfg.Namespace, startErr)
			}
			return startErr
		}

		r.log.Warn("Temporal worker failed to start; retrying", "task_queue", cfg.TaskQueue, "attempt", attempt, "error", startErr)
		sleep := temporalx.ClampBackoff(cfg.DialBackoff, cfg.DialBackoffMax, attempt)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
	}
}

// Register binds the pipeline workflows and activities under their stable names.
func Register(w Registrar, wfs *ingestflow.Workflows, acts *ingestflow.Activities) {
	w.RegisterWorkflowWithOptions(wfs.Scan, workflow.RegisterOptions{Name: ingestflow.ScanWorkflowName})
	w.RegisterWorkflowWithOptions(wfs.OCR, workflow.RegisterOptions{Name: ingestflow.OCRWorkflowName})
	w.RegisterWorkflowWithOptions(wfs.ChunkEmbed, workflow.RegisterOptions{Name: ingestflow.ChunkEmbedWorkflowName})

	w.RegisterActivityWithOptions(acts.Scan, activity.RegisterOptions{Name: ingestflow.ActivityScan})
	w.RegisterActivityWithOptions(acts.MarkOCRPending, activity.RegisterOptions{Name: ingestflow.ActivityMarkOCRPending})
	w.RegisterActivityWithOptions(acts.SubmitOCR, activity.RegisterOptions{Name: ingestflow.ActivitySubmitOCR})
	w.RegisterActivityWithOptions(acts.MarkOCRDone, activity.RegisterOptions{Name: ingestflow.ActivityMarkOCRDone})
	w.RegisterActivityWithOptions(acts.ChunkEmbed, activity.RegisterOptions{Name: ingestflow.ActivityChunkEmbed})
}
