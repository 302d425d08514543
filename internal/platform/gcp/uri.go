package gcp

import (
	"fmt"
	"path"
	"strings"
)

// ParseGCSURI splits gs://bucket/name into its parts.
func ParseGCSURI(uri string) (bucket string, name string, err error) {
	uri = strings.TrimSpace(uri)
	if !strings.HasPrefix(uri, "gs://") {
		return "", "", fmt.Errorf("invalid gcs uri %q: missing gs:// scheme", uri)
	}
	rest := strings.TrimPrefix(uri, "gs://")
	bucket, name, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("invalid gcs uri %q: missing bucket", uri)
	}
	return bucket, name, nil
}

func ObjectURI(bucket, name string) string {
	return fmt.Sprintf("gs://%s/%s", bucket, strings.TrimLeft(name, "/"))
}

// OutputPrefix is the object prefix under which OCR results for name are written.
func OutputPrefix(name string) string {
	return "output/" + path.Base(name) + "/"
}
