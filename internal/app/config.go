package app

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yungbote/docrag-backend/internal/ingestion/coordinator"
	"github.com/yungbote/docrag-backend/internal/ingestion/ocrparse"
	"github.com/yungbote/docrag-backend/internal/ingestion/scanner"
	"github.com/yungbote/docrag-backend/internal/platform/envutil"
	"github.com/yungbote/docrag-backend/internal/retrieval"
	"github.com/yungbote/docrag-backend/internal/temporalx/ingestflow"
)

const DefaultScanCron = "*/30 * * * *"

// PipelineConfig holds the tunables that may also come from the YAML file
// named by DOCRAG_CONFIG_FILE. Environment variables win over the file.
type PipelineConfig struct {
	BatchSize         int           `yaml:"batch_size"`
	MinParagraphLen   int           `yaml:"min_paragraph_len"`
	ChunkIDMode       string        `yaml:"chunk_id_mode"`
	ScanCron          string        `yaml:"scan_cron"`
	ScanConcurrency   int           `yaml:"scan_concurrency"`
	ScanSuffix        string        `yaml:"scan_suffix"`
	ClaimTTL          time.Duration `yaml:"claim_ttl"`
	SignedURLTTL      time.Duration `yaml:"signed_url_ttl"`
	TopK              int           `yaml:"top_k"`
	OCRTimeout        time.Duration `yaml:"ocr_activity_timeout"`
	ChunkEmbedTimeout time.Duration `yaml:"chunk_embed_activity_timeout"`
}

type Config struct {
	LogMode     string
	MetricsAddr string
	RedisURL    string
	ConfigFile  string
	Pipeline    PipelineConfig
}

func defaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		BatchSize:         coordinator.DefaultBatchSize,
		MinParagraphLen:   ocrparse.DefaultMinParagraphLen,
		ChunkIDMode:       ocrparse.IDModeDeterministic,
		ScanCron:          DefaultScanCron,
		ScanConcurrency:   scanner.DefaultConcurrency,
		ScanSuffix:        ".pdf",
		ClaimTTL:          scanner.DefaultClaimTTL,
		SignedURLTTL:      retrieval.DefaultSignedURLTTL,
		TopK:              retrieval.DefaultTopK,
		OCRTimeout:        6 * time.Minute,
		ChunkEmbedTimeout: time.Hour,
	}
}

// LoadConfig resolves defaults, then the optional YAML overlay, then env.
func LoadConfig() (Config, error) {
	cfg := Config{
		LogMode:     envutil.String("LOG_MODE", "development"),
		MetricsAddr: envutil.String("METRICS_ADDR", ":9090"),
		RedisURL:    envutil.String("REDIS_URL", ""),
		ConfigFile:  envutil.String("DOCRAG_CONFIG_FILE", ""),
		Pipeline:    defaultPipelineConfig(),
	}
	if cfg.ConfigFile != "" {
		if err := overlayFile(&cfg.Pipeline, cfg.ConfigFile); err != nil {
			return cfg, err
		}
	}

	p := &cfg.Pipeline
	p.BatchSize = envutil.Int("INGEST_BATCH_SIZE", p.BatchSize)
	p.MinParagraphLen = envutil.Int("INGEST_MIN_PARAGRAPH_LEN", p.MinParagraphLen)
	p.ChunkIDMode = strings.ToLower(envutil.String("CHUNK_ID_MODE", p.ChunkIDMode))
	p.ScanCron = envutil.String("SCAN_CRON", p.ScanCron)
	p.ScanConcurrency = envutil.Int("SCAN_CONCURRENCY", p.ScanConcurrency)
	p.ClaimTTL = envutil.Seconds("DISPATCH_CLAIM_TTL_SECONDS", int(p.ClaimTTL/time.Second))
	p.SignedURLTTL = envutil.Seconds("SIGNED_URL_TTL_SECONDS", int(p.SignedURLTTL/time.Second))
	p.TopK = envutil.Int("RETRIEVAL_TOP_K", p.TopK)

	return cfg, cfg.Validate()
}

func overlayFile(p *PipelineConfig, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, p); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c Config) Validate() error {
	p := c.Pipeline
	if p.BatchSize <= 0 {
		return fmt.Errorf("INGEST_BATCH_SIZE must be positive, got %d", p.BatchSize)
	}
	if p.MinParagraphLen < 0 {
		return fmt.Errorf("INGEST_MIN_PARAGRAPH_LEN must not be negative, got %d", p.MinParagraphLen)
	}
	if _, err := ocrparse.IDFuncForMode(p.ChunkIDMode); err != nil {
		return err
	}
	if _, err := ingestflow.ValidateCron(p.ScanCron, time.Now()); err != nil {
		return err
	}
	if p.TopK <= 0 {
		return fmt.Errorf("RETRIEVAL_TOP_K must be positive, got %d", p.TopK)
	}
	if p.SignedURLTTL <= 0 {
		return fmt.Errorf("SIGNED_URL_TTL_SECONDS must be positive")
	}
	return nil
}

func (p PipelineConfig) timeouts() ingestflow.Timeouts {
	return ingestflow.Timeouts{OCRSubmit: p.OCRTimeout, ChunkEmbed: p.ChunkEmbedTimeout}
}
