package store

import (
	"time"

	"github.com/Mapl92/paperless-alternative-sub001/pkg/domain"
)

// SimilarDocument is a nearest-neighbor row returned by SearchSimilar.
// Distance is cosine distance; smaller means more similar.
type SimilarDocument struct {
	ID       string
	Title    string
	Summary  string
	Distance float64
}

// Store defines persistence operations for documents, rules, relations,
// signatures, signing tokens, reminders, todos and the watcher dedup set.
// It is the only component touching persistent state directly. Soft-deleted
// documents are excluded from reads and rejected on writes.
type Store interface {
	// documents
	CreateDocument(doc domain.Document) error
	GetDocument(id string) (domain.Document, bool, error)
	UpdateDocument(id string, patch domain.DocumentPatch) error
	SoftDeleteDocument(id string) error
	RestoreDocument(id string) error
	ListDocuments() ([]domain.Document, error)
	ListProcessedDocumentIDs() ([]string, error)
	SearchSimilar(embedding []float32, excludeIDs []string, limit int) ([]SimilarDocument, error)

	// matching rules
	SaveRule(rule domain.MatchingRule) error
	GetRule(id string) (domain.MatchingRule, bool, error)
	DeleteRule(id string) error
	ListRules() ([]domain.MatchingRule, error)
	ListActiveRules() ([]domain.MatchingRule, error)

	// relations
	CreateRelation(sourceID, targetID string) (domain.DocumentRelation, error)
	ListRelations(documentID string) ([]domain.DocumentRelation, error)
	DeleteRelation(id string) error

	// signatures and signing tokens
	SaveSignature(sig domain.Signature) error
	GetSignature(id string) (domain.Signature, bool, error)
	DeleteSignature(id string) error
	CreateSigningToken(token domain.SigningToken) error
	GetSigningToken(token string) (domain.SigningToken, bool, error)
	ConsumeSigningToken(token, signatureID string, now time.Time) (domain.SigningToken, error)

	// reminders and todos
	SaveReminder(reminder domain.Reminder) error
	ListDueReminders(now time.Time) ([]domain.Reminder, error)
	DeleteReminder(id string) error
	SaveTodo(todo domain.Todo) error
	CompleteTodo(id string, now time.Time) (domain.Todo, error)
	ListOpenTodos() ([]domain.Todo, error)

	// watcher dedup set; MarkArtifactSeen returns false when the key was
	// seen before, UnmarkArtifactSeen releases a claim whose ingest failed
	MarkArtifactSeen(source, key string) (bool, error)
	UnmarkArtifactSeen(source, key string) error

	// settings
	GetSettings() (domain.Settings, error)
	SaveSettings(settings domain.Settings) error
}
