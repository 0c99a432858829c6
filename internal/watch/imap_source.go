package watch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/mail"
)

// IMAPSource reads unseen messages from an IMAP mailbox. Messages are
// marked consumed by setting the \Seen flag.
type IMAPSource struct {
	addr     string
	username string
	password string
	folder   string

	mu     sync.Mutex
	client *client.Client
	uids   map[string]uint32
}

// NewIMAPSource builds a source for addr (host:port, implicit TLS).
func NewIMAPSource(addr, username, password, folder string) *IMAPSource {
	if folder == "" {
		folder = "INBOX"
	}
	return &IMAPSource{
		addr:     addr,
		username: username,
		password: password,
		folder:   folder,
		uids:     make(map[string]uint32),
	}
}

func (s *IMAPSource) connect() (*client.Client, error) {
	if s.client != nil {
		return s.client, nil
	}
	c, err := client.DialTLS(s.addr, nil)
	if err != nil {
		return nil, fmt.Errorf("dial imap: %w", err)
	}
	if err := c.Login(s.username, s.password); err != nil {
		c.Logout()
		return nil, fmt.Errorf("imap login: %w", err)
	}
	s.client = c
	return c, nil
}

// drop discards the connection so the next call reconnects.
func (s *IMAPSource) drop() {
	if s.client != nil {
		s.client.Logout()
		s.client = nil
	}
}

// Fetch returns all unseen messages with their attachments decoded.
func (s *IMAPSource) Fetch(ctx context.Context) ([]MailMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.connect()
	if err != nil {
		return nil, err
	}
	if _, err := c.Select(s.folder, false); err != nil {
		s.drop()
		return nil, fmt.Errorf("select %s: %w", s.folder, err)
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	uids, err := c.UidSearch(criteria)
	if err != nil {
		s.drop()
		return nil, fmt.Errorf("search unseen: %w", err)
	}
	if len(uids) == 0 {
		return nil, nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)
	section := &imap.BodySectionName{}
	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchUid, section.FetchItem()}

	ch := make(chan *imap.Message, len(uids))
	if err := c.UidFetch(seqset, items, ch); err != nil {
		s.drop()
		return nil, fmt.Errorf("fetch messages: %w", err)
	}

	var messages []MailMessage
	for raw := range ch {
		if ctx.Err() != nil {
			return messages, ctx.Err()
		}
		msg, ok := s.decode(raw, section)
		if !ok {
			continue
		}
		s.uids[msg.ID] = raw.Uid
		messages = append(messages, msg)
	}
	return messages, nil
}

func (s *IMAPSource) decode(raw *imap.Message, section *imap.BodySectionName) (MailMessage, bool) {
	body := raw.GetBody(section)
	if body == nil {
		return MailMessage{}, false
	}
	msg := MailMessage{ID: strconv.FormatUint(uint64(raw.Uid), 10)}
	if raw.Envelope != nil {
		msg.Subject = raw.Envelope.Subject
		if raw.Envelope.MessageId != "" {
			msg.ID = raw.Envelope.MessageId
		}
	}

	mr, err := mail.CreateReader(body)
	if err != nil {
		slog.Warn("cannot parse mail body", "messageId", msg.ID, "err", err)
		return msg, true
	}
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			slog.Warn("cannot read mail part", "messageId", msg.ID, "err", err)
			break
		}
		header, ok := part.Header.(*mail.AttachmentHeader)
		if !ok {
			continue
		}
		filename, err := header.Filename()
		if err != nil || filename == "" {
			continue
		}
		data, err := io.ReadAll(part.Body)
		if err != nil {
			slog.Warn("cannot read attachment", "messageId", msg.ID, "attachment", filename, "err", err)
			continue
		}
		msg.Attachments = append(msg.Attachments, MailAttachment{Filename: filename, Data: data})
	}
	return msg, true
}

// MarkConsumed flags the message as seen.
func (s *IMAPSource) MarkConsumed(_ context.Context, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	uid, ok := s.uids[messageID]
	if !ok {
		return fmt.Errorf("unknown message id %q", messageID)
	}
	c, err := s.connect()
	if err != nil {
		return err
	}
	seqset := new(imap.SeqSet)
	seqset.AddNum(uid)
	op := imap.FormatFlagsOp(imap.AddFlags, true)
	if err := c.UidStore(seqset, op, []interface{}{imap.SeenFlag}, nil); err != nil {
		s.drop()
		return fmt.Errorf("mark seen: %w", err)
	}
	delete(s.uids, messageID)
	return nil
}

// Close logs out of the server.
func (s *IMAPSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drop()
	return nil
}
