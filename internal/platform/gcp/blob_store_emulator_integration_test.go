package gcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/yungbote/docrag-backend/internal/platform/logger"
)

func TestBlobStoreEmulatorMoveLifecycle(t *testing.T) {
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("DOCRAG_RUN_GCS_EMULATOR_INTEGRATION")), "true") {
		t.Skip("set DOCRAG_RUN_GCS_EMULATOR_INTEGRATION=true to run emulator integration tests")
	}

	emulatorHost := strings.TrimRight(strings.TrimSpace(os.Getenv("STORAGE_EMULATOR_HOST")), "/")
	if emulatorHost == "" {
		emulatorHost = "http://127.0.0.1:4443"
	}
	if !isEmulatorReachable(t, emulatorHost) {
		t.Skipf("storage emulator not reachable at %s", emulatorHost)
	}

	bucketName := fmt.Sprintf("docrag-it-%d", time.Now().UnixNano())
	createBucketIfMissing(t, emulatorHost, bucketName)
	t.Setenv("STORAGE_EMULATOR_HOST", emulatorHost)

	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	store, err := NewBlobStoreWithConfig(log, ObjectStorageConfig{
		Mode:         ObjectStorageModeGCSEmulator,
		Bucket:       bucketName,
		EmulatorHost: emulatorHost,
	})
	if err != nil {
		t.Fatalf("NewBlobStoreWithConfig: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	seedObject(t, store, "report.pdf", "%PDF-1.4")
	seedObject(t, store, "notes.txt", "skip me")

	pdfs := waitForNames(t, store, ctx, "", ".pdf", "report.pdf")
	if slices.Contains(pdfs, "notes.txt") {
		t.Fatalf("suffix filter leaked notes.txt: %v", pdfs)
	}

	if err := store.Copy(ctx, "report.pdf", "processed/report.pdf"); err != nil {
		t.Fatalf("Copy: %v", err)
	}
	if err := store.Delete(ctx, "report.pdf"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	body, err := store.Read(ctx, "processed/report.pdf")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(body) != "%PDF-1.4" {
		t.Fatalf("read body: %q", string(body))
	}
	if _, err := store.Read(ctx, "report.pdf"); !errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("expected ErrObjectNotFound after delete, got %v", err)
	}

	u, err := store.SignedURL(ctx, "processed/report.pdf", time.Minute)
	if err != nil {
		t.Fatalf("SignedURL: %v", err)
	}
	if !strings.HasPrefix(u, emulatorHost+"/storage/v1/b/"+bucketName+"/o/") {
		t.Fatalf("unexpected emulator url: %s", u)
	}
}

func isEmulatorReachable(t *testing.T, emulatorHost string) bool {
	t.Helper()
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(emulatorHost + "/storage/v1/b?project=local-dev")
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 500
}

func createBucketIfMissing(t *testing.T, emulatorHost string, bucket string) {
	t.Helper()
	payload, err := json.Marshal(map[string]string{"name": bucket})
	if err != nil {
		t.Fatalf("json.Marshal(bucket): %v", err)
	}
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Post(emulatorHost+"/storage/v1/b?project=local-dev", "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("create bucket %q: %v", bucket, err)
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusConflict:
		return
	}
	b, _ := io.ReadAll(resp.Body)
	t.Fatalf("create bucket %q failed: status=%d body=%s", bucket, resp.StatusCode, strings.TrimSpace(string(b)))
}

func waitForNames(t *testing.T, store BlobStore, ctx context.Context, prefix, suffix string, names ...string) []string {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	var last []string
	for {
		got, err := store.List(ctx, prefix, suffix)
		if err == nil {
			last = got
			ok := true
			for _, n := range names {
				if !slices.Contains(got, n) {
					ok = false
					break
				}
			}
			if ok {
				return got
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %v under %q; last=%v", names, prefix, last)
		}
		time.Sleep(100 * time.Millisecond)
	}
}

// seedObject writes straight through the storage client; the pipeline itself
// never uploads documents.
func seedObject(t *testing.T, store BlobStore, name, body string) {
	t.Helper()
	bs, ok := store.(*blobStore)
	if !ok {
		t.Fatalf("unexpected blob store type %T", store)
	}
	w := bs.client.Bucket(bs.bucket).Object(name).NewWriter(context.Background())
	if _, err := io.Copy(w, strings.NewReader(body)); err != nil {
		_ = w.Close()
		t.Fatalf("seed %s: %v", name, err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("seed %s: %v", name, err)
	}
}
