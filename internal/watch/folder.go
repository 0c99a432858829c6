package watch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Mapl92/paperless-alternative-sub001/pkg/domain"
)

// DefaultInterval is the rescan period used when the caller passes 0.
const DefaultInterval = 10 * time.Second

const processedSubdir = "processed"

// Ingestor is the pipeline entry point the watchers feed.
type Ingestor interface {
	Ingest(ctx context.Context, title string, data []byte, source string) (domain.Document, error)
}

// SeenMarker is the dedup set. MarkArtifactSeen returns false when the key
// was recorded before; UnmarkArtifactSeen releases a claim after a failed
// ingest so the artifact is retried instead of dropped.
type SeenMarker interface {
	MarkArtifactSeen(source, key string) (bool, error)
	UnmarkArtifactSeen(source, key string) error
}

// FolderWatcher ingests PDFs dropped into a consume directory. Files are
// deduplicated by content hash, so the same file re-appearing (or surviving
// a crash mid-scan) yields exactly one document. Ingested files move to a
// processed subdirectory; failed files stay put for the next scan.
type FolderWatcher struct {
	dir      string
	interval time.Duration
	ingestor Ingestor
	seen     SeenMarker
}

// NewFolderWatcher builds a folder watcher over dir.
func NewFolderWatcher(dir string, interval time.Duration, ingestor Ingestor, seen SeenMarker) *FolderWatcher {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &FolderWatcher{dir: dir, interval: interval, ingestor: ingestor, seen: seen}
}

// Run scans on a fixed interval and additionally wakes up on filesystem
// events, so drops are usually picked up immediately. Blocks until ctx is
// cancelled.
func (w *FolderWatcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Join(w.dir, processedSubdir), 0o755); err != nil {
		return err
	}

	var events chan fsnotify.Event
	notifier, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Warn("fsnotify unavailable, falling back to interval scans", "err", err)
	} else {
		defer notifier.Close()
		if err := notifier.Add(w.dir); err != nil {
			slog.Warn("cannot watch consume dir, falling back to interval scans", "dir", w.dir, "err", err)
		} else {
			events = notifier.Events
		}
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.Scan(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.Scan(ctx)
		case _, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			// small delay so a file being written settles before reading
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(500 * time.Millisecond):
			}
			w.Scan(ctx)
		}
	}
}

// Scan processes every PDF currently in the consume directory once.
func (w *FolderWatcher) Scan(ctx context.Context) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		slog.Error("consume dir scan failed", "dir", w.dir, "err", err)
		return
	}
	for _, entry := range entries {
		if ctx.Err() != nil {
			return
		}
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".pdf") {
			continue
		}
		w.consume(ctx, filepath.Join(w.dir, entry.Name()))
	}
}

func (w *FolderWatcher) consume(ctx context.Context, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		slog.Warn("cannot read dropped file", "path", path, "err", err)
		return
	}
	if len(data) == 0 {
		return
	}

	sum := sha256.Sum256(data)
	key := hex.EncodeToString(sum[:])
	fresh, err := w.seen.MarkArtifactSeen(domain.SourceFolder, key)
	if err != nil {
		slog.Error("dedup check failed", "path", path, "err", err)
		return
	}
	if !fresh {
		slog.Info("skipping already ingested file", "path", path)
		w.moveToProcessed(path)
		return
	}

	title := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	doc, err := w.ingestor.Ingest(ctx, title, data, domain.SourceFolder)
	if err != nil {
		// the file stays in place; release the dedup claim so the next
		// scan retries it instead of moving it aside unseen
		if uerr := w.seen.UnmarkArtifactSeen(domain.SourceFolder, key); uerr != nil {
			slog.Error("cannot release dedup key", "path", path, "err", uerr)
		}
		slog.Error("folder ingest failed", "path", path, "err", err)
		return
	}
	slog.Info("ingested dropped file", "path", path, "documentId", doc.ID)
	w.moveToProcessed(path)
}

func (w *FolderWatcher) moveToProcessed(path string) {
	target := filepath.Join(w.dir, processedSubdir, filepath.Base(path))
	if err := os.Rename(path, target); err != nil {
		slog.Warn("cannot move file to processed dir", "path", path, "err", err)
	}
}
