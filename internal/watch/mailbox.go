package watch

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/Mapl92/paperless-alternative-sub001/pkg/domain"
)

// MailAttachment is one attachment pulled off a message.
type MailAttachment struct {
	Filename string
	Data     []byte
}

// MailMessage is a fetched message with its PDF-relevant parts.
type MailMessage struct {
	ID          string
	Subject     string
	Attachments []MailAttachment
}

// MailSource fetches unconsumed messages from a mailbox. MarkConsumed makes
// a message invisible to later Fetch calls.
type MailSource interface {
	Fetch(ctx context.Context) ([]MailMessage, error)
	MarkConsumed(ctx context.Context, messageID string) error
	Close() error
}

// MailboxWatcher polls a mailbox and ingests PDF attachments. Attachments
// deduplicate on (message id, filename), so a message surviving a crash
// between ingest and MarkConsumed does not produce duplicates.
type MailboxWatcher struct {
	source   MailSource
	interval time.Duration
	ingestor Ingestor
	seen     SeenMarker
}

// NewMailboxWatcher builds a mailbox watcher.
func NewMailboxWatcher(source MailSource, interval time.Duration, ingestor Ingestor, seen SeenMarker) *MailboxWatcher {
	if interval <= 0 {
		interval = time.Minute
	}
	return &MailboxWatcher{source: source, interval: interval, ingestor: ingestor, seen: seen}
}

// Run polls until ctx is cancelled.
func (w *MailboxWatcher) Run(ctx context.Context) error {
	defer w.source.Close()
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.Poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.Poll(ctx)
		}
	}
}

// Poll fetches pending messages once and ingests their PDF attachments.
func (w *MailboxWatcher) Poll(ctx context.Context) {
	messages, err := w.source.Fetch(ctx)
	if err != nil {
		slog.Error("mailbox fetch failed", "err", err)
		return
	}
	for _, msg := range messages {
		if ctx.Err() != nil {
			return
		}
		if w.consumeMessage(ctx, msg) {
			if err := w.source.MarkConsumed(ctx, msg.ID); err != nil {
				slog.Warn("cannot mark message consumed", "messageId", msg.ID, "err", err)
			}
		}
	}
}

// consumeMessage ingests the message's PDF attachments and reports whether
// the message is done. A message with ingest failures stays unconsumed so
// the next poll retries it.
func (w *MailboxWatcher) consumeMessage(ctx context.Context, msg MailMessage) bool {
	done := true
	for _, att := range msg.Attachments {
		if !strings.EqualFold(filepath.Ext(att.Filename), ".pdf") || len(att.Data) == 0 {
			continue
		}
		key := msg.ID + "\x00" + att.Filename
		fresh, err := w.seen.MarkArtifactSeen(domain.SourceMailbox, key)
		if err != nil {
			slog.Error("dedup check failed", "messageId", msg.ID, "attachment", att.Filename, "err", err)
			done = false
			continue
		}
		if !fresh {
			continue
		}
		title := strings.TrimSuffix(att.Filename, filepath.Ext(att.Filename))
		if title == "" {
			title = msg.Subject
		}
		doc, err := w.ingestor.Ingest(ctx, title, att.Data, domain.SourceMailbox)
		if err != nil {
			// release the claim so the next poll retries the attachment
			if uerr := w.seen.UnmarkArtifactSeen(domain.SourceMailbox, key); uerr != nil {
				slog.Error("cannot release dedup key", "messageId", msg.ID, "attachment", att.Filename, "err", uerr)
			}
			slog.Error("mailbox ingest failed", "messageId", msg.ID, "attachment", att.Filename, "err", err)
			done = false
			continue
		}
		slog.Info("ingested mail attachment", "messageId", msg.ID, "attachment", att.Filename, "documentId", doc.ID)
	}
	return done
}
