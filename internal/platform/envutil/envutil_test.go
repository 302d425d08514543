package envutil

import (
	"testing"
	"time"
)

func TestIntFallsBackOnGarbage(t *testing.T) {
	t.Setenv("INGEST_BATCH_SIZE", "sixty-four")
	if got := Int("INGEST_BATCH_SIZE", 64); got != 64 {
		t.Fatalf("Int: want=64 got=%d", got)
	}
	t.Setenv("INGEST_BATCH_SIZE", " 32 ")
	if got := Int("INGEST_BATCH_SIZE", 64); got != 32 {
		t.Fatalf("Int: want=32 got=%d", got)
	}
}

func TestBool(t *testing.T) {
	t.Setenv("OTEL_ENABLED", "yes")
	if !Bool("OTEL_ENABLED", false) {
		t.Fatalf("Bool: want=true")
	}
	t.Setenv("OTEL_ENABLED", "maybe")
	if Bool("OTEL_ENABLED", false) {
		t.Fatalf("Bool: unknown value should fall back to default")
	}
}

func TestSecondsClampsNegative(t *testing.T) {
	t.Setenv("OCR_TIMEOUT_SECONDS", "-5")
	if got := Seconds("OCR_TIMEOUT_SECONDS", 300); got != 0 {
		t.Fatalf("Seconds: want=0 got=%s", got)
	}
	t.Setenv("OCR_TIMEOUT_SECONDS", "")
	if got := Seconds("OCR_TIMEOUT_SECONDS", 300); got != 300*time.Second {
		t.Fatalf("Seconds: want=5m got=%s", got)
	}
}

func TestFloat(t *testing.T) {
	t.Setenv("DOCRAG_TEST_FLOAT", "0.25")
	if got := Float("DOCRAG_TEST_FLOAT", 1); got != 0.25 {
		t.Fatalf("Float: want=0.25 got=%v", got)
	}
	t.Setenv("DOCRAG_TEST_FLOAT", "nope")
	if got := Float("DOCRAG_TEST_FLOAT", 1); got != 1 {
		t.Fatalf("Float fallback: want=1 got=%v", got)
	}
}
