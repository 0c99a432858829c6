package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/ledongthuc/pdf"

	"github.com/Mapl92/paperless-alternative-sub001/internal/settings"
	"github.com/Mapl92/paperless-alternative-sub001/internal/util"
	"github.com/Mapl92/paperless-alternative-sub001/pkg/ai"
	"github.com/Mapl92/paperless-alternative-sub001/pkg/domain"
	"github.com/Mapl92/paperless-alternative-sub001/pkg/queue"
	"github.com/Mapl92/paperless-alternative-sub001/pkg/storage"
	"github.com/Mapl92/paperless-alternative-sub001/pkg/store"
)

// ErrAlreadyProcessing is returned when a document is reprocessed while a
// run for the same id is still in flight.
var ErrAlreadyProcessing = fmt.Errorf("document is already being processed: %w", domain.ErrConflict)

// minTextChars is the threshold below which the embedded text layer is
// considered useless and the vision fallback kicks in.
const minTextChars = 32

const thumbnailDPI = 72

// PageRenderer renders one PDF page to PNG.
type PageRenderer interface {
	RenderPage(ctx context.Context, pdfPath string, page, dpi int) ([]byte, error)
}

// RuleEvaluator applies matching rules to a single document.
type RuleEvaluator interface {
	Evaluate(documentID string) (changed bool, matched int, err error)
}

// JobEnqueuer is the slice of the queue the pipeline needs for ingestion.
type JobEnqueuer interface {
	Enqueue(ctx context.Context, kind, documentID string) (queue.Job, error)
}

// Pipeline runs a stored document through extraction, embedding and rule
// evaluation. Runs are at-least-once: every effect is written as one
// idempotent update, so a retried run converges to the same state.
type Pipeline struct {
	store     store.Store
	objects   storage.ObjectStore
	extractor ai.Extractor
	embedder  ai.Embedder
	raster    PageRenderer
	settings  *settings.Cache
	rules     RuleEvaluator
	jobs      JobEnqueuer
	dpi       int

	mu       sync.Mutex
	inflight map[string]struct{}
}

// Options carries the pipeline collaborators. Rules and jobs may be nil.
type Options struct {
	Store     store.Store
	Objects   storage.ObjectStore
	Extractor ai.Extractor
	Embedder  ai.Embedder
	Raster    PageRenderer
	Settings  *settings.Cache
	Rules     RuleEvaluator
	Jobs      JobEnqueuer
	DPI       int
}

// New builds a pipeline.
func New(opts Options) *Pipeline {
	dpi := opts.DPI
	if dpi <= 0 {
		dpi = 150
	}
	return &Pipeline{
		store:     opts.Store,
		objects:   opts.Objects,
		extractor: opts.Extractor,
		embedder:  opts.Embedder,
		raster:    opts.Raster,
		settings:  opts.Settings,
		rules:     opts.Rules,
		jobs:      opts.Jobs,
		dpi:       dpi,
		inflight:  make(map[string]struct{}),
	}
}

// Ingest stores a new original, creates the document record and enqueues a
// processing job. Shared by the upload endpoint and both watchers.
func (p *Pipeline) Ingest(ctx context.Context, title string, data []byte, source string) (domain.Document, error) {
	if len(data) == 0 {
		return domain.Document{}, domain.Validationf("document data is empty")
	}
	if title == "" {
		title = "untitled"
	}
	id := util.NewID()
	key := "originals/" + id + ".pdf"
	if err := p.objects.Put(ctx, key, data, "application/pdf"); err != nil {
		return domain.Document{}, fmt.Errorf("store original: %w", err)
	}
	doc := domain.Document{
		ID:          id,
		Title:       title,
		OriginalKey: key,
		Source:      source,
	}
	if err := p.store.CreateDocument(doc); err != nil {
		return domain.Document{}, fmt.Errorf("create document: %w", err)
	}
	if p.jobs != nil {
		if _, err := p.jobs.Enqueue(ctx, queue.KindProcessDocument, id); err != nil {
			slog.Error("enqueue processing job failed", "documentId", id, "err", err)
		}
	}
	return doc, nil
}

// Reprocess enqueues a fresh processing run for an existing document.
func (p *Pipeline) Reprocess(ctx context.Context, documentID string) (queue.Job, error) {
	_, ok, err := p.store.GetDocument(documentID)
	if err != nil {
		return queue.Job{}, err
	}
	if !ok {
		return queue.Job{}, domain.ErrNotFound
	}
	if p.jobs == nil {
		return queue.Job{}, errors.New("no job queue configured")
	}
	return p.jobs.Enqueue(ctx, queue.KindProcessDocument, documentID)
}

// Process runs the full pipeline for one document. A permanent model
// rejection is recorded on the document and reported as success so the queue
// does not retry it; transient failures propagate for retry.
func (p *Pipeline) Process(ctx context.Context, documentID string) error {
	if !p.acquire(documentID) {
		return ErrAlreadyProcessing
	}
	defer p.release(documentID)

	doc, ok, err := p.store.GetDocument(documentID)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrNotFound
	}

	// a reprocess starts from a clean derived state
	if doc.Processed || doc.ProcessingError != "" {
		reset := domain.DocumentPatch{
			Content:         domain.Set(""),
			Summary:         domain.Set(""),
			StructuredData:  domain.Set(map[string]string(nil)),
			Embedding:       domain.Set([]float32(nil)),
			Tags:            domain.Set([]string(nil)),
			Processed:       domain.Set(false),
			ProcessingError: domain.Set(""),
		}
		if err := p.store.UpdateDocument(documentID, reset); err != nil {
			return fmt.Errorf("reset document: %w", err)
		}
	}

	data, err := p.objects.Get(ctx, doc.OriginalKey)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return p.recordFailure(documentID, "original file is missing")
		}
		return fmt.Errorf("load original: %w", err)
	}

	text := extractTextLayer(data)
	var pageImage []byte
	if len(strings.TrimSpace(text)) < minTextChars && p.raster != nil {
		pageImage, err = p.renderFirstPage(ctx, data)
		if err != nil {
			slog.Warn("vision fallback render failed", "documentId", documentID, "err", err)
		}
	}
	if strings.TrimSpace(text) == "" && len(pageImage) == 0 {
		return p.recordFailure(documentID, "document has no extractable text and no renderable page")
	}

	var cfg domain.Settings
	if p.settings != nil {
		cfg, err = p.settings.Get()
		if err != nil {
			return fmt.Errorf("load settings: %w", err)
		}
	}

	extraction, err := p.extractor.Extract(ctx, ai.ExtractInput{
		Text:           text,
		PageImagePNG:   pageImage,
		Language:       cfg.Language,
		PromptOverride: cfg.ExtractionPrompt,
	})
	if err != nil {
		if ai.IsPermanent(err) {
			return p.recordFailure(documentID, "extraction rejected: "+err.Error())
		}
		return fmt.Errorf("extract: %w", err)
	}

	embedding, err := p.embedder.EmbedText(ctx, embeddingInput(extraction))
	if err != nil {
		if ai.IsPermanent(err) {
			return p.recordFailure(documentID, "embedding rejected: "+err.Error())
		}
		return fmt.Errorf("embed: %w", err)
	}

	patch := domain.DocumentPatch{
		Content:         domain.Set(extraction.Text),
		Summary:         domain.Set(extraction.Summary),
		StructuredData:  domain.Set(extraction.StructuredData),
		Embedding:       domain.Set(embedding),
		Processed:       domain.Set(true),
		ProcessingError: domain.Set(""),
	}
	if extraction.Title != "" {
		patch.Title = domain.Set(extraction.Title)
	}
	if err := p.store.UpdateDocument(documentID, patch); err != nil {
		return fmt.Errorf("persist extraction: %w", err)
	}
	slog.Info("document processed", "documentId", documentID, "source", doc.Source)

	if p.rules != nil {
		if _, _, err := p.rules.Evaluate(documentID); err != nil {
			slog.Warn("rule evaluation after processing failed", "documentId", documentID, "err", err)
		}
	}
	p.storeThumbnail(ctx, documentID, doc.ThumbnailKey, data, pageImage)
	return nil
}

func (p *Pipeline) recordFailure(documentID, message string) error {
	patch := domain.DocumentPatch{
		Processed:       domain.Set(false),
		ProcessingError: domain.Set(message),
	}
	if err := p.store.UpdateDocument(documentID, patch); err != nil {
		return fmt.Errorf("record processing error: %w", err)
	}
	slog.Warn("document processing failed permanently", "documentId", documentID, "reason", message)
	return nil
}

// storeThumbnail renders and stores a first-page thumbnail. Failures only
// log; the document is already processed at this point.
func (p *Pipeline) storeThumbnail(ctx context.Context, documentID, existingKey string, data, pageImage []byte) {
	if existingKey != "" || p.raster == nil {
		return
	}
	png := pageImage
	if png == nil {
		rendered, err := p.renderPage(ctx, data, 1, thumbnailDPI)
		if err != nil {
			slog.Warn("thumbnail render failed", "documentId", documentID, "err", err)
			return
		}
		png = rendered
	}
	key := "thumbnails/" + documentID + ".png"
	if err := p.objects.Put(ctx, key, png, "image/png"); err != nil {
		slog.Warn("thumbnail upload failed", "documentId", documentID, "err", err)
		return
	}
	if err := p.store.UpdateDocument(documentID, domain.DocumentPatch{ThumbnailKey: domain.Set(key)}); err != nil {
		slog.Warn("thumbnail key update failed", "documentId", documentID, "err", err)
	}
}

func (p *Pipeline) renderFirstPage(ctx context.Context, data []byte) ([]byte, error) {
	return p.renderPage(ctx, data, 1, p.dpi)
}

func (p *Pipeline) renderPage(ctx context.Context, data []byte, page, dpi int) ([]byte, error) {
	tmp, err := os.CreateTemp("", "doc-*.pdf")
	if err != nil {
		return nil, fmt.Errorf("create temp pdf: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("write temp pdf: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("close temp pdf: %w", err)
	}
	return p.raster.RenderPage(ctx, tmp.Name(), page, dpi)
}

func (p *Pipeline) acquire(documentID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, busy := p.inflight[documentID]; busy {
		return false
	}
	p.inflight[documentID] = struct{}{}
	return true
}

func (p *Pipeline) release(documentID string) {
	p.mu.Lock()
	delete(p.inflight, documentID)
	p.mu.Unlock()
}

// extractTextLayer pulls the embedded text layer out of a PDF. The parser
// panics on some malformed files, so the call is fenced; a broken text layer
// just means the vision fallback runs.
func extractTextLayer(data []byte) (text string) {
	defer func() {
		if r := recover(); r != nil {
			text = ""
		}
	}()
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return ""
	}
	plain, err := reader.GetPlainText()
	if err != nil {
		return ""
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, plain); err != nil {
		return ""
	}
	return buf.String()
}

// embeddingInput builds the text the embedding is computed over. Title and
// summary are prepended so short scans still embed meaningfully.
func embeddingInput(e ai.Extraction) string {
	parts := make([]string, 0, 3)
	for _, s := range []string{e.Title, e.Summary, e.Text} {
		if strings.TrimSpace(s) != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n\n")
}
