package watch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/Mapl92/paperless-alternative-sub001/internal/util"
	"github.com/Mapl92/paperless-alternative-sub001/pkg/domain"
	"github.com/Mapl92/paperless-alternative-sub001/pkg/store"
)

type recordingIngestor struct {
	mu     sync.Mutex
	docs   []domain.Document
	failOn string
}

func (r *recordingIngestor) Ingest(_ context.Context, title string, data []byte, source string) (domain.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if title == r.failOn {
		return domain.Document{}, errors.New("ingest failed")
	}
	doc := domain.Document{ID: util.NewID(), Title: title, Source: source}
	r.docs = append(r.docs, doc)
	return doc, nil
}

func (r *recordingIngestor) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.docs)
}

func writePDF(t *testing.T, dir, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write test file: %v", err)
	}
	return path
}

func TestScanIngestsAndMovesFiles(t *testing.T) {
	dir := t.TempDir()
	writePDF(t, dir, "invoice.pdf", []byte("%PDF-one"))
	writePDF(t, dir, "notes.txt", []byte("not a pdf"))

	ingestor := &recordingIngestor{}
	w := NewFolderWatcher(dir, 0, ingestor, store.NewMemoryStore())
	if err := os.MkdirAll(filepath.Join(dir, processedSubdir), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	w.Scan(context.Background())

	if ingestor.count() != 1 {
		t.Fatalf("ingested %d files, want 1", ingestor.count())
	}
	if ingestor.docs[0].Title != "invoice" || ingestor.docs[0].Source != domain.SourceFolder {
		t.Fatalf("ingested wrong document: %+v", ingestor.docs[0])
	}
	if _, err := os.Stat(filepath.Join(dir, processedSubdir, "invoice.pdf")); err != nil {
		t.Fatalf("ingested file not moved: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "notes.txt")); err != nil {
		t.Fatalf("non-pdf file must stay put: %v", err)
	}
}

func TestScanDeduplicatesByContent(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, processedSubdir), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	ingestor := &recordingIngestor{}
	w := NewFolderWatcher(dir, 0, ingestor, store.NewMemoryStore())

	writePDF(t, dir, "scan.pdf", []byte("%PDF-same"))
	w.Scan(context.Background())

	// same bytes dropped again under a different name
	writePDF(t, dir, "scan-copy.pdf", []byte("%PDF-same"))
	w.Scan(context.Background())

	if ingestor.count() != 1 {
		t.Fatalf("ingested %d documents for identical content, want 1", ingestor.count())
	}
	if _, err := os.Stat(filepath.Join(dir, processedSubdir, "scan-copy.pdf")); err != nil {
		t.Fatalf("duplicate file not moved aside: %v", err)
	}
}

func TestScanLeavesFailedFilesInPlace(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, processedSubdir), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	ingestor := &recordingIngestor{failOn: "broken"}
	w := NewFolderWatcher(dir, 0, ingestor, store.NewMemoryStore())

	writePDF(t, dir, "broken.pdf", []byte("%PDF-broken"))
	w.Scan(context.Background())

	if ingestor.count() != 0 {
		t.Fatalf("ingested %d documents, want 0", ingestor.count())
	}
	if _, err := os.Stat(filepath.Join(dir, "broken.pdf")); err != nil {
		t.Fatalf("failed file must stay in the consume dir: %v", err)
	}
}

func TestScanRetriesFailedIngestOnNextScan(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, processedSubdir), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	ingestor := &recordingIngestor{failOn: "flaky"}
	w := NewFolderWatcher(dir, 0, ingestor, store.NewMemoryStore())

	writePDF(t, dir, "flaky.pdf", []byte("%PDF-flaky"))
	w.Scan(context.Background())
	if ingestor.count() != 0 {
		t.Fatalf("ingested %d documents during the failure, want 0", ingestor.count())
	}

	// the ingest failure clears up and the next scan retries the same file
	ingestor.failOn = ""
	w.Scan(context.Background())

	if ingestor.count() != 1 {
		t.Fatalf("document never ingested after transient failure: got %d ingests, want 1", ingestor.count())
	}
	if ingestor.docs[0].Title != "flaky" {
		t.Fatalf("ingested wrong document: %+v", ingestor.docs[0])
	}
	if _, err := os.Stat(filepath.Join(dir, processedSubdir, "flaky.pdf")); err != nil {
		t.Fatalf("retried file not moved after success: %v", err)
	}
}
