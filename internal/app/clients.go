package app

import (
	"context"
	"fmt"

	temporalsdkclient "go.temporal.io/sdk/client"

	"github.com/yungbote/docrag-backend/internal/ingestion/scanner"
	"github.com/yungbote/docrag-backend/internal/platform/embedding"
	"github.com/yungbote/docrag-backend/internal/platform/gcp"
	"github.com/yungbote/docrag-backend/internal/platform/logger"
	"github.com/yungbote/docrag-backend/internal/platform/qdrant"
	"github.com/yungbote/docrag-backend/internal/temporalx"
)

type Clients struct {
	Blobs    gcp.BlobStore
	Embedder embedding.Embedder
	Index    qdrant.VectorIndex

	// Worker only.
	OCR      gcp.OCR
	Claims   *scanner.RedisClaimer
	Temporal temporalsdkclient.Client
}

func wireClients(ctx context.Context, log *logger.Logger, cfg Config, worker bool) (*Clients, error) {
	log.Info("Wiring clients...")
	c := &Clients{}

	blobs, err := resolveBlobStore(log)
	if err != nil {
		return nil, err
	}
	c.Blobs = blobs

	embCfg, err := embedding.ResolveConfigFromEnv()
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("embedding config: %w", err)
	}
	if c.Embedder, err = embedding.NewClient(log, embCfg); err != nil {
		c.Close()
		return nil, fmt.Errorf("init embedding client: %w", err)
	}

	if c.Index, err = resolveVectorIndex(log); err != nil {
		c.Close()
		return nil, err
	}

	if !worker {
		return c, nil
	}

	ocrCfg, err := gcp.ResolveOCRConfigFromEnv()
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("ocr config: %w", err)
	}
	if c.OCR, err = gcp.NewOCR(log, ocrCfg); err != nil {
		c.Close()
		return nil, fmt.Errorf("init ocr client: %w", err)
	}

	if cfg.RedisURL != "" {
		claims, err := scanner.NewRedisClaimer(cfg.RedisURL, cfg.Pipeline.ClaimTTL)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("init dispatch claims: %w", err)
		}
		if err := claims.Ping(ctx); err != nil {
			// Claims are an extra guard on top of workflow ids; run without them.
			log.Warn("Redis unreachable, dispatch claims disabled", "error", err)
			_ = claims.Close()
		} else {
			c.Claims = claims
		}
	}

	tcfg := temporalx.LoadConfig()
	if !tcfg.Enabled() {
		c.Close()
		return nil, fmt.Errorf("TEMPORAL_ADDRESS is required for the worker")
	}
	if c.Temporal, err = temporalx.NewClient(log, tcfg); err != nil {
		c.Close()
		return nil, fmt.Errorf("init temporal client: %w", err)
	}
	return c, nil
}

func (c *Clients) Close() {
	if c == nil {
		return
	}
	if c.Temporal != nil {
		c.Temporal.Close()
	}
	if c.Claims != nil {
		_ = c.Claims.Close()
	}
	if c.OCR != nil {
		_ = c.OCR.Close()
	}
	if c.Blobs != nil {
		_ = c.Blobs.Close()
	}
}
