package ocrparse

import (
	"fmt"

	"github.com/google/uuid"
)

// IDFunc names a chunk from its position. blob is the OCR output file the
// chunk came from, pageIndex the page's position within that file and ordinal
// the chunk's position among the page's emitted chunks. The page number the
// provider reports is optional and is not part of the key.
type IDFunc func(source, blob string, pageIndex, ordinal int) string

var chunkIDNamespace = uuid.MustParse("6f0c2f5e-4a53-4c1e-9c1e-2d8f3b7a9e41")

// DeterministicIDs derives a name-based UUID, so re-parsing the same output
// yields the same ids.
func DeterministicIDs(source, blob string, pageIndex, ordinal int) string {
	key := fmt.Sprintf("%s|%s|%d|%d", source, blob, pageIndex, ordinal)
	return uuid.NewSHA1(chunkIDNamespace, []byte(key)).String()
}

// RandomIDs ignores position entirely. Re-runs produce new ids.
func RandomIDs(string, string, int, int) string {
	return uuid.NewString()
}

const (
	IDModeDeterministic = "deterministic"
	IDModeRandom        = "random"
)

func IDFuncForMode(mode string) (IDFunc, error) {
	switch mode {
	case "", IDModeDeterministic:
		return DeterministicIDs, nil
	case IDModeRandom:
		return RandomIDs, nil
	default:
		return nil, fmt.Errorf("unknown chunk id mode %q (allowed: %s, %s)", mode, IDModeDeterministic, IDModeRandom)
	}
}
