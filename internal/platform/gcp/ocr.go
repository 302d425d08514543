package gcp

import (
	"context"
	"fmt"
	"strings"
	"time"

	documentai "cloud.google.com/go/documentai/apiv1"
	"cloud.google.com/go/documentai/apiv1/documentaipb"
	"google.golang.org/api/option"

	"github.com/yungbote/docrag-backend/internal/platform/ctxutil"
	"github.com/yungbote/docrag-backend/internal/platform/envutil"
	"github.com/yungbote/docrag-backend/internal/platform/logger"
)

// OCR submits a stored PDF to the OCR provider and waits, bounded by the
// configured timeout, for the structured output to be written.
type OCR interface {
	Submit(ctx context.Context, sourceURI string) (*OCRResult, error)
	Close() error
}

type OCRResult struct {
	OperationName string
	// OutputPrefix is an object key prefix in the source bucket, e.g. output/report.pdf/.
	OutputPrefix string
}

type OCRConfig struct {
	ProjectID        string
	Location         string
	ProcessorID      string
	ProcessorVersion string
	Timeout          time.Duration
}

func ResolveOCRConfigFromEnv() (OCRConfig, error) {
	cfg := OCRConfig{
		ProjectID:        envutil.String("GCP_PROJECT_ID", ""),
		Location:         envutil.String("DOCUMENTAI_LOCATION", "us"),
		ProcessorID:      envutil.String("DOCUMENTAI_PROCESSOR_ID", ""),
		ProcessorVersion: envutil.String("DOCUMENTAI_PROCESSOR_VERSION", ""),
		Timeout:          envutil.Seconds("OCR_TIMEOUT_SECONDS", 300),
	}
	if cfg.ProjectID == "" {
		return cfg, fmt.Errorf("missing env var GCP_PROJECT_ID")
	}
	if cfg.ProcessorID == "" {
		return cfg, fmt.Errorf("missing env var DOCUMENTAI_PROCESSOR_ID")
	}
	if cfg.Timeout <= 0 {
		return cfg, fmt.Errorf("OCR_TIMEOUT_SECONDS must be positive")
	}
	return cfg, nil
}

type ocrService struct {
	log       *logger.Logger
	docClient *documentai.DocumentProcessorClient
	processor string
	timeout   time.Duration
}

func NewOCR(log *logger.Logger, cfg OCRConfig) (OCR, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	slog := log.With("service", "gcp.OCR")

	endpoint := fmt.Sprintf("%s-documentai.googleapis.com:443", cfg.Location)
	creds := CredentialsFromEnv()
	opts := append([]option.ClientOption{option.WithEndpoint(endpoint)}, creds.ClientOptions()...)
	c, err := documentai.NewDocumentProcessorClient(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("documentai client: %w", err)
	}

	name := processorName(cfg.ProjectID, cfg.Location, cfg.ProcessorID, cfg.ProcessorVersion)
	slog.Info("Document AI initialized", "endpoint", endpoint, "processor", name, "timeout", cfg.Timeout.String(), "credentials", creds.Source())

	return &ocrService{
		log:       slog,
		docClient: c,
		processor: name,
		timeout:   cfg.Timeout,
	}, nil
}

func (s *ocrService) Submit(ctx context.Context, sourceURI string) (*OCRResult, error) {
	ctx, cancel := context.WithTimeout(ctxutil.Default(ctx), s.timeout)
	defer cancel()

	req, prefix, err := buildBatchRequest(s.processor, sourceURI)
	if err != nil {
		return nil, err
	}

	op, err := s.docClient.BatchProcessDocuments(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("documentai BatchProcessDocuments: %w", err)
	}
	if _, err := op.Wait(ctx); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("documentai batch wait exceeded %s: %w", s.timeout, err)
		}
		return nil, fmt.Errorf("documentai batch wait: %w", err)
	}

	s.log.Info("OCR batch finished", "source_uri", sourceURI, "operation", op.Name(), "output_prefix", prefix)
	return &OCRResult{OperationName: op.Name(), OutputPrefix: prefix}, nil
}

func (s *ocrService) Close() error {
	if s == nil || s.docClient == nil {
		return nil
	}
	return s.docClient.Close()
}

// buildBatchRequest targets a single PDF and writes results under output/<basename>/
// in the same bucket.
func buildBatchRequest(processor, sourceURI string) (*documentaipb.BatchProcessRequest, string, error) {
	if processor == "" {
		return nil, "", fmt.Errorf("documentai processor not configured")
	}
	bucket, name, err := ParseGCSURI(sourceURI)
	if err != nil {
		return nil, "", err
	}
	if name == "" || strings.HasSuffix(name, "/") {
		return nil, "", fmt.Errorf("invalid ocr source %q: object name required", sourceURI)
	}
	prefix := OutputPrefix(name)

	return &documentaipb.BatchProcessRequest{
		Name: processor,
		InputDocuments: &documentaipb.BatchDocumentsInputConfig{
			Source: &documentaipb.BatchDocumentsInputConfig_GcsDocuments{
				GcsDocuments: &documentaipb.GcsDocuments{
					Documents: []*documentaipb.GcsDocument{{
						GcsUri:   ObjectURI(bucket, name),
						MimeType: "application/pdf",
					}},
				},
			},
		},
		DocumentOutputConfig: &documentaipb.DocumentOutputConfig{
			Destination: &documentaipb.DocumentOutputConfig_GcsOutputConfig_{
				GcsOutputConfig: &documentaipb.DocumentOutputConfig_GcsOutputConfig{
					GcsUri: ObjectURI(bucket, prefix),
				},
			},
		},
	}, prefix, nil
}

func processorName(project, location, processorID, version string) string {
	project = strings.TrimSpace(project)
	location = strings.TrimSpace(location)
	processorID = strings.TrimSpace(processorID)
	version = strings.TrimSpace(version)

	if project == "" || location == "" || processorID == "" {
		return ""
	}
	base := fmt.Sprintf("projects/%s/locations/%s/processors/%s", project, location, processorID)
	if version != "" {
		return base + "/processorVersions/" + version
	}
	return base
}
