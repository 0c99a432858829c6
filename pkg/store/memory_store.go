package store

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/Mapl92/paperless-alternative-sub001/pkg/domain"
)

// MemoryStore keeps everything in-process. Used in tests and as a fallback
// when no database is configured.
type MemoryStore struct {
	mu        sync.RWMutex
	docs      map[string]domain.Document
	docOrder  []string
	rules     map[string]domain.MatchingRule
	relations map[string]domain.DocumentRelation
	sigs      map[string]domain.Signature
	tokens    map[string]domain.SigningToken
	reminders map[string]domain.Reminder
	todos     map[string]domain.Todo
	seen      map[string]struct{}
	settings  *domain.Settings
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:      make(map[string]domain.Document),
		rules:     make(map[string]domain.MatchingRule),
		relations: make(map[string]domain.DocumentRelation),
		sigs:      make(map[string]domain.Signature),
		tokens:    make(map[string]domain.SigningToken),
		reminders: make(map[string]domain.Reminder),
		todos:     make(map[string]domain.Todo),
		seen:      make(map[string]struct{}),
	}
}

// CreateDocument stores a new document and tracks insertion order.
func (m *MemoryStore) CreateDocument(doc domain.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.docs[doc.ID]; !exists {
		m.docOrder = append(m.docOrder, doc.ID)
	}
	m.docs[doc.ID] = doc
	return nil
}

// GetDocument returns an active document.
func (m *MemoryStore) GetDocument(id string) (domain.Document, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.docs[id]
	if !ok || doc.DeletedAt != nil {
		return domain.Document{}, false, nil
	}
	return doc, true, nil
}

// UpdateDocument applies a patch; soft-deleted documents are rejected.
func (m *MemoryStore) UpdateDocument(id string, patch domain.DocumentPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok || doc.DeletedAt != nil {
		return domain.ErrNotFound
	}
	if patch.Title.Valid {
		doc.Title = patch.Title.Value
	}
	if patch.Content.Valid {
		doc.Content = patch.Content.Value
	}
	if patch.Summary.Valid {
		doc.Summary = patch.Summary.Value
	}
	if patch.StructuredData.Valid {
		doc.StructuredData = patch.StructuredData.Value
	}
	if patch.Embedding.Valid {
		doc.Embedding = patch.Embedding.Value
	}
	if patch.Correspondent.Valid {
		doc.Correspondent = patch.Correspondent.Value
	}
	if patch.DocType.Valid {
		doc.DocType = patch.DocType.Value
	}
	if patch.Tags.Valid {
		doc.Tags = patch.Tags.Value
	}
	if patch.Processed.Valid {
		doc.Processed = patch.Processed.Value
	}
	if patch.ProcessingError.Valid {
		doc.ProcessingError = patch.ProcessingError.Value
	}
	if patch.ArchiveKey.Valid {
		doc.ArchiveKey = patch.ArchiveKey.Value
	}
	if patch.ThumbnailKey.Valid {
		doc.ThumbnailKey = patch.ThumbnailKey.Value
	}
	doc.UpdatedAt = time.Now().UTC()
	m.docs[id] = doc
	return nil
}

// SoftDeleteDocument marks a document deleted.
func (m *MemoryStore) SoftDeleteDocument(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok || doc.DeletedAt != nil {
		return domain.ErrNotFound
	}
	now := time.Now().UTC()
	doc.DeletedAt = &now
	m.docs[id] = doc
	return nil
}

// RestoreDocument clears the soft-delete timestamp.
func (m *MemoryStore) RestoreDocument(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok || doc.DeletedAt == nil {
		return domain.ErrNotFound
	}
	doc.DeletedAt = nil
	m.docs[id] = doc
	return nil
}

// ListDocuments returns active documents in insertion order.
func (m *MemoryStore) ListDocuments() ([]domain.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Document, 0, len(m.docOrder))
	for _, id := range m.docOrder {
		if doc, ok := m.docs[id]; ok && doc.DeletedAt == nil {
			res = append(res, doc)
		}
	}
	return res, nil
}

// ListProcessedDocumentIDs returns IDs of processed, active documents.
func (m *MemoryStore) ListProcessedDocumentIDs() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var ids []string
	for _, id := range m.docOrder {
		if doc, ok := m.docs[id]; ok && doc.DeletedAt == nil && doc.Processed {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// SearchSimilar ranks documents by cosine distance computed in-process.
func (m *MemoryStore) SearchSimilar(embedding []float32, excludeIDs []string, limit int) ([]SimilarDocument, error) {
	if limit <= 0 || len(embedding) == 0 {
		return []SimilarDocument{}, nil
	}
	excluded := make(map[string]struct{}, len(excludeIDs))
	for _, id := range excludeIDs {
		excluded[id] = struct{}{}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var rows []SimilarDocument
	for _, id := range m.docOrder {
		doc, ok := m.docs[id]
		if !ok || doc.DeletedAt != nil || len(doc.Embedding) == 0 {
			continue
		}
		if _, skip := excluded[id]; skip {
			continue
		}
		rows = append(rows, SimilarDocument{
			ID:       doc.ID,
			Title:    doc.Title,
			Summary:  doc.Summary,
			Distance: cosineDistance(embedding, doc.Embedding),
		})
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Distance < rows[j].Distance })
	if len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

func cosineDistance(a, b []float32) float64 {
	if len(a) != len(b) {
		return 1
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}

// SaveRule stores or replaces a rule.
func (m *MemoryStore) SaveRule(rule domain.MatchingRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules[rule.ID] = rule
	return nil
}

// GetRule returns a rule by ID.
func (m *MemoryStore) GetRule(id string) (domain.MatchingRule, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rule, ok := m.rules[id]
	return rule, ok, nil
}

// DeleteRule removes a rule.
func (m *MemoryStore) DeleteRule(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rules[id]; !ok {
		return domain.ErrNotFound
	}
	delete(m.rules, id)
	return nil
}

// ListRules returns all rules in evaluation order.
func (m *MemoryStore) ListRules() ([]domain.MatchingRule, error) {
	return m.listRules(false)
}

// ListActiveRules returns active rules in evaluation order.
func (m *MemoryStore) ListActiveRules() ([]domain.MatchingRule, error) {
	return m.listRules(true)
}

func (m *MemoryStore) listRules(activeOnly bool) ([]domain.MatchingRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.MatchingRule, 0, len(m.rules))
	for _, rule := range m.rules {
		if activeOnly && !rule.Active {
			continue
		}
		res = append(res, rule)
	}
	sort.SliceStable(res, func(i, j int) bool {
		if res[i].Order != res[j].Order {
			return res[i].Order < res[j].Order
		}
		if !res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return res[i].CreatedAt.Before(res[j].CreatedAt)
		}
		return res[i].ID < res[j].ID
	})
	return res, nil
}

// CreateRelation inserts a normalized undirected relation.
func (m *MemoryStore) CreateRelation(sourceID, targetID string) (domain.DocumentRelation, error) {
	if sourceID == targetID {
		return domain.DocumentRelation{}, domain.Validationf("relation cannot link a document to itself")
	}
	a, b := sourceID, targetID
	if b < a {
		a, b = b, a
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rel := range m.relations {
		if rel.SourceID == a && rel.TargetID == b {
			return domain.DocumentRelation{}, domain.ErrConflict
		}
	}
	rel := domain.DocumentRelation{
		ID:        newStoreID(),
		SourceID:  a,
		TargetID:  b,
		CreatedAt: time.Now().UTC(),
	}
	m.relations[rel.ID] = rel
	return rel, nil
}

// ListRelations returns relations touching a document in either direction.
func (m *MemoryStore) ListRelations(documentID string) ([]domain.DocumentRelation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var res []domain.DocumentRelation
	for _, rel := range m.relations {
		if rel.SourceID == documentID || rel.TargetID == documentID {
			res = append(res, rel)
		}
	}
	sort.SliceStable(res, func(i, j int) bool { return res[i].CreatedAt.Before(res[j].CreatedAt) })
	return res, nil
}

// DeleteRelation removes a relation.
func (m *MemoryStore) DeleteRelation(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.relations[id]; !ok {
		return domain.ErrNotFound
	}
	delete(m.relations, id)
	return nil
}

// SaveSignature stores a signature.
func (m *MemoryStore) SaveSignature(sig domain.Signature) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sigs[sig.ID] = sig
	return nil
}

// GetSignature returns a signature.
func (m *MemoryStore) GetSignature(id string) (domain.Signature, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sig, ok := m.sigs[id]
	return sig, ok, nil
}

// DeleteSignature removes a signature and nulls token bindings.
func (m *MemoryStore) DeleteSignature(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sigs[id]; !ok {
		return domain.ErrNotFound
	}
	delete(m.sigs, id)
	for key, token := range m.tokens {
		if token.SignatureID != nil && *token.SignatureID == id {
			token.SignatureID = nil
			m.tokens[key] = token
		}
	}
	return nil
}

// CreateSigningToken stores a token.
func (m *MemoryStore) CreateSigningToken(token domain.SigningToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[token.Token] = token
	return nil
}

// GetSigningToken looks up a token.
func (m *MemoryStore) GetSigningToken(token string) (domain.SigningToken, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tokens[token]
	return t, ok, nil
}

// ConsumeSigningToken marks a token used; reuse or expiry is ErrConflict.
func (m *MemoryStore) ConsumeSigningToken(token, signatureID string, now time.Time) (domain.SigningToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[token]
	if !ok {
		return domain.SigningToken{}, domain.ErrNotFound
	}
	if t.UsedAt != nil || now.After(t.Expiry) {
		return domain.SigningToken{}, domain.ErrConflict
	}
	used := now
	t.UsedAt = &used
	t.SignatureID = &signatureID
	m.tokens[token] = t
	return t, nil
}

// SaveReminder stores or replaces a reminder.
func (m *MemoryStore) SaveReminder(reminder domain.Reminder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reminders[reminder.ID] = reminder
	return nil
}

// ListDueReminders returns reminders due at or before now.
func (m *MemoryStore) ListDueReminders(now time.Time) ([]domain.Reminder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var res []domain.Reminder
	for _, r := range m.reminders {
		if !r.DueAt.After(now) {
			res = append(res, r)
		}
	}
	sort.SliceStable(res, func(i, j int) bool { return res[i].DueAt.Before(res[j].DueAt) })
	return res, nil
}

// DeleteReminder removes a reminder.
func (m *MemoryStore) DeleteReminder(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.reminders[id]; !ok {
		return domain.ErrNotFound
	}
	delete(m.reminders, id)
	return nil
}

// SaveTodo stores or replaces a todo.
func (m *MemoryStore) SaveTodo(todo domain.Todo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.todos[todo.ID] = todo
	return nil
}

// CompleteTodo sets the completion timestamp only on the first completion.
func (m *MemoryStore) CompleteTodo(id string, now time.Time) (domain.Todo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	todo, ok := m.todos[id]
	if !ok {
		return domain.Todo{}, domain.ErrNotFound
	}
	if !todo.Completed {
		todo.Completed = true
		done := now
		todo.CompletedAt = &done
		m.todos[id] = todo
	}
	return todo, nil
}

// ListOpenTodos returns incomplete todos, most urgent first.
func (m *MemoryStore) ListOpenTodos() ([]domain.Todo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var res []domain.Todo
	for _, t := range m.todos {
		if !t.Completed {
			res = append(res, t)
		}
	}
	sort.SliceStable(res, func(i, j int) bool {
		if res[i].Priority != res[j].Priority {
			return res[i].Priority < res[j].Priority
		}
		return res[i].CreatedAt.Before(res[j].CreatedAt)
	})
	return res, nil
}

// MarkArtifactSeen records a dedup key; returns false when already present.
func (m *MemoryStore) MarkArtifactSeen(source, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	composite := source + "\x00" + key
	if _, ok := m.seen[composite]; ok {
		return false, nil
	}
	m.seen[composite] = struct{}{}
	return true, nil
}

// UnmarkArtifactSeen releases a dedup key whose ingest did not complete.
func (m *MemoryStore) UnmarkArtifactSeen(source, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.seen, source+"\x00"+key)
	return nil
}

// GetSettings returns stored settings or defaults.
func (m *MemoryStore) GetSettings() (domain.Settings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.settings == nil {
		return defaultSettings(), nil
	}
	return *m.settings, nil
}

// SaveSettings replaces the settings.
func (m *MemoryStore) SaveSettings(settings domain.Settings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	settings.UpdatedAt = time.Now().UTC()
	m.settings = &settings
	return nil
}
