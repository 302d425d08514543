package ocrparse

import "fmt"

// ParseError marks one OCR output file as unusable. Callers skip the file and
// continue with the rest of the run.
type ParseError struct {
	Blob   string
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e == nil {
		return "ocr parse failed"
	}
	if e.Err != nil {
		return fmt.Sprintf("parse %s: %s: %v", e.Blob, e.Reason, e.Err)
	}
	return fmt.Sprintf("parse %s: %s", e.Blob, e.Reason)
}

func (e *ParseError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
