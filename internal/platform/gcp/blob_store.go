package gcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/yungbote/docrag-backend/internal/platform/ctxutil"
	"github.com/yungbote/docrag-backend/internal/platform/logger"
)

// BlobStore is the object storage surface the pipeline depends on. Names are
// object keys inside the configured bucket, never gs:// URIs.
type BlobStore interface {
	Bucket() string
	List(ctx context.Context, prefix, suffix string) ([]string, error)
	Read(ctx context.Context, name string) ([]byte, error)
	Copy(ctx context.Context, src, dst string) error
	Delete(ctx context.Context, name string) error
	SignedURL(ctx context.Context, name string, ttl time.Duration) (string, error)
	Close() error
}

var ErrObjectNotFound = errors.New("object not found")

type blobStore struct {
	log          *logger.Logger
	client       *storage.Client
	bucket       string
	mode         ObjectStorageMode
	emulatorHost string
	httpClient   *http.Client
}

func NewBlobStore(log *logger.Logger) (BlobStore, error) {
	cfg, err := ResolveObjectStorageConfigFromEnv()
	if err != nil {
		return nil, fmt.Errorf("resolve object storage config: %w", err)
	}
	return NewBlobStoreWithConfig(log, cfg)
}

func NewBlobStoreWithConfig(log *logger.Logger, cfg ObjectStorageConfig) (BlobStore, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if err := ValidateObjectStorageConfig(cfg); err != nil {
		return nil, fmt.Errorf("validate object storage config: %w", err)
	}
	slog := log.With("service", "BlobStore")

	client, err := newStorageClientForMode(context.Background(), cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	slog.Info(
		"Object storage initialized",
		"mode", cfg.Mode,
		"mode_source", cfg.ModeSource(),
		"emulator_host", cfg.EmulatorHost,
		"bucket", cfg.Bucket,
	)

	return &blobStore{
		log:          slog,
		client:       client,
		bucket:       cfg.Bucket,
		mode:         cfg.Mode,
		emulatorHost: strings.TrimRight(strings.TrimSpace(cfg.EmulatorHost), "/"),
		httpClient:   &http.Client{Timeout: 2 * time.Minute},
	}, nil
}

func newStorageClientForMode(ctx context.Context, cfg ObjectStorageConfig) (*storage.Client, error) {
	switch cfg.Mode {
	case ObjectStorageModeGCS:
		opts := append(CredentialsFromEnv().ClientOptions(), option.WithScopes(storage.ScopeReadWrite))
		return storage.NewClient(ctx, opts...)
	case ObjectStorageModeGCSEmulator:
		// The storage client only honors the emulator through the process env.
		_ = os.Setenv("STORAGE_EMULATOR_HOST", strings.TrimRight(strings.TrimSpace(cfg.EmulatorHost), "/"))
		return storage.NewClient(ctx, option.WithoutAuthentication())
	default:
		return nil, &ObjectStorageConfigError{
			Code: ObjectStorageConfigErrorInvalidMode,
			Mode: string(cfg.Mode),
		}
	}
}

func (s *blobStore) Bucket() string { return s.bucket }

func (s *blobStore) List(ctx context.Context, prefix, suffix string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctxutil.Default(ctx), 30*time.Second)
	defer cancel()

	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	out := []string{}
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list gs://%s/%s: %w", s.bucket, prefix, err)
		}
		if suffix != "" && !strings.HasSuffix(strings.ToLower(attrs.Name), strings.ToLower(suffix)) {
			continue
		}
		out = append(out, attrs.Name)
	}
	return out, nil
}

func (s *blobStore) Read(ctx context.Context, name string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctxutil.Default(ctx), 2*time.Minute)
	defer cancel()

	if s.isEmulatorMode() {
		return s.readFromEmulator(ctx, name)
	}
	r, err := s.client.Bucket(s.bucket).Object(name).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("read %s: %w", name, ErrObjectNotFound)
		}
		return nil, fmt.Errorf("open reader %s: %w", name, err)
	}
	defer r.Close()
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return b, nil
}

// readFromEmulator reads through the emulator's JSON media endpoint.
func (s *blobStore) readFromEmulator(ctx context.Context, name string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.emulatorMediaURL(name), nil)
	if err != nil {
		return nil, fmt.Errorf("failed creating emulator download request: %w", err)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed emulator download request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("read %s: %w", name, ErrObjectNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("emulator download failed: status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return io.ReadAll(resp.Body)
}

func (s *blobStore) Copy(ctx context.Context, src, dst string) error {
	ctx, cancel := context.WithTimeout(ctxutil.Default(ctx), 2*time.Minute)
	defer cancel()

	b := s.client.Bucket(s.bucket)
	if _, err := b.Object(dst).CopierFrom(b.Object(src)).Run(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return fmt.Errorf("copy %s->%s: %w", src, dst, ErrObjectNotFound)
		}
		return fmt.Errorf("copy %s->%s: %w", src, dst, err)
	}
	return nil
}

func (s *blobStore) Delete(ctx context.Context, name string) error {
	ctx, cancel := context.WithTimeout(ctxutil.Default(ctx), 30*time.Second)
	defer cancel()

	if err := s.client.Bucket(s.bucket).Object(name).Delete(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return fmt.Errorf("delete %s: %w", name, ErrObjectNotFound)
		}
		return fmt.Errorf("failed to delete GCS object %q in bucket %q: %w", name, s.bucket, err)
	}
	return nil
}

// SignedURL returns a V4 GET URL. The emulator cannot verify signatures, so in
// emulator mode the plain media URL is returned instead.
func (s *blobStore) SignedURL(ctx context.Context, name string, ttl time.Duration) (string, error) {
	name = strings.TrimLeft(strings.TrimSpace(name), "/")
	if name == "" {
		return "", fmt.Errorf("signed url: object name required")
	}
	if ttl <= 0 {
		return "", fmt.Errorf("signed url: ttl must be positive")
	}
	if s.isEmulatorMode() {
		return s.emulatorMediaURL(name), nil
	}
	u, err := s.client.Bucket(s.bucket).SignedURL(name, &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  http.MethodGet,
		Expires: time.Now().Add(ttl),
	})
	if err != nil {
		return "", fmt.Errorf("sign %s: %w", name, err)
	}
	return u, nil
}

func (s *blobStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *blobStore) isEmulatorMode() bool {
	return s.mode.Emulator() && s.emulatorHost != ""
}

func (s *blobStore) emulatorMediaURL(name string) string {
	return emulatorMediaURL(s.emulatorHost, s.bucket, name)
}

func emulatorMediaURL(host, bucket, name string) string {
	return fmt.Sprintf(
		"%s/storage/v1/b/%s/o/%s?alt=media",
		strings.TrimRight(strings.TrimSpace(host), "/"),
		url.PathEscape(bucket),
		url.PathEscape(name),
	)
}
