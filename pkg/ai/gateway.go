package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Extraction is the structured result of one model call over a document.
type Extraction struct {
	Text           string
	Title          string
	Summary        string
	StructuredData map[string]string
}

// ExtractInput carries what the model gets to see. Text is preferred when
// the document has an embedded text layer; PageImagePNG is the vision
// fallback for scanned pages.
type ExtractInput struct {
	Text           string
	PageImagePNG   []byte
	Language       string
	PromptOverride string
}

// Extractor turns raw document input into structured knowledge.
type Extractor interface {
	Extract(ctx context.Context, in ExtractInput) (Extraction, error)
}

// Embedder provides embeddings for text.
type Embedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
}

// ModelError classifies a failed model call. Transient failures (rate limit,
// timeout, upstream outage) are safe to retry; permanent ones (malformed or
// unsupported input) are not.
type ModelError struct {
	Transient bool
	Err       error
}

func (e *ModelError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("model error (%s): %v", kind, e.Err)
}

func (e *ModelError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is a retryable model failure. Unclassified
// errors (network failures, timeouts) count as transient.
func IsTransient(err error) bool {
	var me *ModelError
	if errors.As(err, &me) {
		return me.Transient
	}
	return true
}

// IsPermanent reports whether err is a non-retryable model failure.
func IsPermanent(err error) bool {
	var me *ModelError
	return errors.As(err, &me) && !me.Transient
}

func transientErr(err error) error {
	return &ModelError{Transient: true, Err: err}
}

func permanentErr(err error) error {
	return &ModelError{Transient: false, Err: err}
}

// classifyStatus maps an HTTP status to the failure taxonomy. Rate limits
// and server-side errors retry; the rest of the 4xx range does not.
func classifyStatus(status int, err error) error {
	switch {
	case status == http.StatusTooManyRequests || status == http.StatusRequestTimeout || status >= 500:
		return transientErr(err)
	case status >= 400:
		return permanentErr(err)
	default:
		return transientErr(err)
	}
}
