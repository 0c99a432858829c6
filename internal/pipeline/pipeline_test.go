package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/Mapl92/paperless-alternative-sub001/pkg/ai"
	"github.com/Mapl92/paperless-alternative-sub001/pkg/domain"
	"github.com/Mapl92/paperless-alternative-sub001/pkg/storage"
	"github.com/Mapl92/paperless-alternative-sub001/pkg/store"
)

type fakeExtractor struct {
	mu      sync.Mutex
	calls   int
	result  ai.Extraction
	err     error
	started chan struct{}
	block   chan struct{}
}

func (f *fakeExtractor) Extract(_ context.Context, _ ai.ExtractInput) (ai.Extraction, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.started != nil {
		close(f.started)
		f.started = nil
	}
	if f.block != nil {
		<-f.block
	}
	if f.err != nil {
		return ai.Extraction{}, f.err
	}
	return f.result, nil
}

func (f *fakeExtractor) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeEmbedder struct {
	err error
}

func (f *fakeEmbedder) EmbedText(_ context.Context, _ string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

type fakeRenderer struct{}

func (fakeRenderer) RenderPage(_ context.Context, _ string, _, _ int) ([]byte, error) {
	return []byte("png-bytes"), nil
}

func seedStored(t *testing.T, st store.Store, objects *storage.MemoryStore, id string) {
	t.Helper()
	key := "originals/" + id + ".pdf"
	if err := objects.Put(context.Background(), key, []byte("%PDF-fake"), "application/pdf"); err != nil {
		t.Fatalf("seed object: %v", err)
	}
	err := st.CreateDocument(domain.Document{
		ID:          id,
		Title:       "scan " + id,
		OriginalKey: key,
		Source:      domain.SourceUpload,
	})
	if err != nil {
		t.Fatalf("seed document: %v", err)
	}
}

func newTestPipeline(st store.Store, objects *storage.MemoryStore, extractor ai.Extractor, embedder ai.Embedder) *Pipeline {
	return New(Options{
		Store:     st,
		Objects:   objects,
		Extractor: extractor,
		Embedder:  embedder,
		Raster:    fakeRenderer{},
	})
}

func TestProcessSuccess(t *testing.T) {
	st := store.NewMemoryStore()
	objects := storage.NewMemoryStore()
	seedStored(t, st, objects, "doc-1")

	extractor := &fakeExtractor{result: ai.Extraction{
		Text:           "full text",
		Title:          "Invoice 42",
		Summary:        "an invoice",
		StructuredData: map[string]string{"amount": "99.90"},
	}}
	p := newTestPipeline(st, objects, extractor, &fakeEmbedder{})

	if err := p.Process(context.Background(), "doc-1"); err != nil {
		t.Fatalf("process: %v", err)
	}
	doc, _, err := st.GetDocument("doc-1")
	if err != nil {
		t.Fatalf("get document: %v", err)
	}
	if !doc.Processed || doc.ProcessingError != "" {
		t.Fatalf("got processed=%v error=%q", doc.Processed, doc.ProcessingError)
	}
	if doc.Title != "Invoice 42" || doc.Content != "full text" || doc.Summary != "an invoice" {
		t.Fatalf("derived fields not persisted: %+v", doc)
	}
	if len(doc.Embedding) != 3 {
		t.Fatalf("embedding not persisted: %v", doc.Embedding)
	}
	if doc.ThumbnailKey == "" {
		t.Fatal("thumbnail key not set")
	}
	if _, err := objects.Get(context.Background(), doc.ThumbnailKey); err != nil {
		t.Fatalf("thumbnail object missing: %v", err)
	}
}

func TestProcessPermanentFailureIsRecorded(t *testing.T) {
	st := store.NewMemoryStore()
	objects := storage.NewMemoryStore()
	seedStored(t, st, objects, "doc-1")

	extractor := &fakeExtractor{err: &ai.ModelError{Transient: false, Err: errors.New("unreadable content")}}
	p := newTestPipeline(st, objects, extractor, &fakeEmbedder{})

	if err := p.Process(context.Background(), "doc-1"); err != nil {
		t.Fatalf("permanent failure must not propagate: %v", err)
	}
	doc, _, _ := st.GetDocument("doc-1")
	if doc.Processed {
		t.Fatal("document must not be marked processed")
	}
	if !strings.Contains(doc.ProcessingError, "unreadable content") {
		t.Fatalf("processing error not recorded: %q", doc.ProcessingError)
	}
}

func TestProcessTransientFailurePropagates(t *testing.T) {
	st := store.NewMemoryStore()
	objects := storage.NewMemoryStore()
	seedStored(t, st, objects, "doc-1")

	extractor := &fakeExtractor{err: &ai.ModelError{Transient: true, Err: errors.New("rate limited")}}
	p := newTestPipeline(st, objects, extractor, &fakeEmbedder{})

	err := p.Process(context.Background(), "doc-1")
	if err == nil {
		t.Fatal("transient failure must propagate for retry")
	}
	doc, _, _ := st.GetDocument("doc-1")
	if doc.ProcessingError != "" {
		t.Fatalf("transient failure must not be recorded on the document: %q", doc.ProcessingError)
	}
}

func TestProcessSingleFlight(t *testing.T) {
	st := store.NewMemoryStore()
	objects := storage.NewMemoryStore()
	seedStored(t, st, objects, "doc-1")

	started := make(chan struct{})
	block := make(chan struct{})
	extractor := &fakeExtractor{
		result:  ai.Extraction{Text: "text"},
		started: started,
		block:   block,
	}
	p := newTestPipeline(st, objects, extractor, &fakeEmbedder{})

	done := make(chan error, 1)
	go func() { done <- p.Process(context.Background(), "doc-1") }()
	<-started

	if err := p.Process(context.Background(), "doc-1"); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("concurrent run: got %v, want conflict", err)
	}
	close(block)
	if err := <-done; err != nil {
		t.Fatalf("first run: %v", err)
	}

	// the slot is released after the run completes
	if err := p.Process(context.Background(), "doc-1"); err != nil {
		t.Fatalf("rerun after completion: %v", err)
	}
}

func TestReprocessResetsDerivedState(t *testing.T) {
	st := store.NewMemoryStore()
	objects := storage.NewMemoryStore()
	seedStored(t, st, objects, "doc-1")

	extractor := &fakeExtractor{result: ai.Extraction{Text: "text", Summary: "first"}}
	p := newTestPipeline(st, objects, extractor, &fakeEmbedder{})
	if err := p.Process(context.Background(), "doc-1"); err != nil {
		t.Fatalf("first run: %v", err)
	}

	// tags applied after the first run (e.g. by rules) start from a clean
	// slate on reprocess
	if err := st.UpdateDocument("doc-1", domain.DocumentPatch{Tags: domain.Set([]string{"stale-tag"})}); err != nil {
		t.Fatalf("tag document: %v", err)
	}

	extractor.mu.Lock()
	extractor.result = ai.Extraction{Text: "text", Summary: "second"}
	extractor.mu.Unlock()
	if err := p.Process(context.Background(), "doc-1"); err != nil {
		t.Fatalf("second run: %v", err)
	}

	doc, _, _ := st.GetDocument("doc-1")
	if doc.Summary != "second" {
		t.Fatalf("summary: got %q, want reprocessed value", doc.Summary)
	}
	if len(doc.Tags) != 0 {
		t.Fatalf("reprocess kept stale tags: %v, want clean slate", doc.Tags)
	}
	if !doc.Processed {
		t.Fatal("document must stay processed after reprocess")
	}
	if extractor.callCount() != 2 {
		t.Fatalf("extractor calls: got %d, want 2", extractor.callCount())
	}
}

func TestProcessMissingOriginal(t *testing.T) {
	st := store.NewMemoryStore()
	objects := storage.NewMemoryStore()
	if err := st.CreateDocument(domain.Document{ID: "doc-1", Title: "t", OriginalKey: "originals/gone.pdf"}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	p := newTestPipeline(st, objects, &fakeExtractor{}, &fakeEmbedder{})
	if err := p.Process(context.Background(), "doc-1"); err != nil {
		t.Fatalf("missing original must be recorded, not propagated: %v", err)
	}
	doc, _, _ := st.GetDocument("doc-1")
	if doc.ProcessingError == "" {
		t.Fatal("missing original not recorded on the document")
	}
}

func TestIngestCreatesDocumentAndOriginal(t *testing.T) {
	st := store.NewMemoryStore()
	objects := storage.NewMemoryStore()
	p := newTestPipeline(st, objects, &fakeExtractor{}, &fakeEmbedder{})

	doc, err := p.Ingest(context.Background(), "bank statement", []byte("%PDF-fake"), domain.SourceFolder)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if doc.ID == "" || doc.OriginalKey == "" || doc.Source != domain.SourceFolder {
		t.Fatalf("incomplete document: %+v", doc)
	}
	if _, err := objects.Get(context.Background(), doc.OriginalKey); err != nil {
		t.Fatalf("original not stored: %v", err)
	}
	stored, ok, _ := st.GetDocument(doc.ID)
	if !ok || stored.Processed {
		t.Fatalf("document record wrong: ok=%v %+v", ok, stored)
	}

	if _, err := p.Ingest(context.Background(), "x", nil, domain.SourceUpload); !domain.IsValidation(err) {
		t.Fatalf("empty data: got %v, want validation error", err)
	}
}
