package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/Mapl92/paperless-alternative-sub001/pkg/domain"
)

const migrateLockID int64 = 81308130

const defaultEmbeddingDim = 768

const settingsRowID = 1

// GormStoreOptions tunes storage construction.
type GormStoreOptions struct {
	EmbeddingDim int
}

// GormStoreOption mutates GormStoreOptions.
type GormStoreOption func(*GormStoreOptions)

// WithEmbeddingDim sets the canonical embedding dimension used by storage.
func WithEmbeddingDim(dim int) GormStoreOption {
	return func(opts *GormStoreOptions) {
		opts.EmbeddingDim = dim
	}
}

// GormStore implements Store using GORM + Postgres with pgvector.
type GormStore struct {
	db           *gorm.DB
	embeddingDim int
}

// NewGormStore opens the DB and runs auto-migrations under an advisory lock.
func NewGormStore(dsn string, options ...GormStoreOption) (*GormStore, error) {
	opts := GormStoreOptions{}
	for _, option := range options {
		if option != nil {
			option(&opts)
		}
	}
	embeddingDim := opts.EmbeddingDim
	if embeddingDim <= 0 {
		embeddingDim = defaultEmbeddingDim
	}

	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
			return fmt.Errorf("create pgvector extension: %w", err)
		}
		if err := tx.AutoMigrate(
			&DocumentModel{}, &MatchingRuleModel{}, &RelationModel{},
			&SignatureModel{}, &SigningTokenModel{}, &ReminderModel{},
			&TodoModel{}, &SeenArtifactModel{}, &SettingsModel{},
		); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		if err := tx.Exec(fmt.Sprintf(`
			DO $$
			BEGIN
			IF EXISTS (
				SELECT 1 FROM information_schema.columns
				WHERE table_name = 'document_models' AND column_name = 'embedding'
			) THEN
				ALTER TABLE document_models ALTER COLUMN embedding TYPE vector(%d);
			END IF;
			END $$;
		`, embeddingDim)).Error; err != nil {
			return fmt.Errorf("alter document embedding type: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db, embeddingDim: embeddingDim}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// CreateDocument inserts a new document row.
func (s *GormStore) CreateDocument(doc domain.Document) error {
	model, err := documentToModel(doc)
	if err != nil {
		return err
	}
	return s.db.Create(&model).Error
}

// GetDocument returns an active document by ID.
func (s *GormStore) GetDocument(id string) (domain.Document, bool, error) {
	var model DocumentModel
	if err := s.db.First(&model, "id = ? AND deleted_at IS NULL", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Document{}, false, nil
		}
		return domain.Document{}, false, err
	}
	doc, err := documentFromModel(model)
	if err != nil {
		return domain.Document{}, false, err
	}
	return doc, true, nil
}

// UpdateDocument applies a partial update; soft-deleted rows are rejected.
func (s *GormStore) UpdateDocument(id string, patch domain.DocumentPatch) error {
	updates, err := patchToUpdates(patch)
	if err != nil {
		return err
	}
	if len(updates) == 0 {
		return nil
	}
	updates["updated_at"] = time.Now().UTC()
	res := s.db.Model(&DocumentModel{}).
		Where("id = ? AND deleted_at IS NULL", id).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// SoftDeleteDocument marks a document deleted; it disappears from active
// queries but remains restorable.
func (s *GormStore) SoftDeleteDocument(id string) error {
	now := time.Now().UTC()
	res := s.db.Model(&DocumentModel{}).
		Where("id = ? AND deleted_at IS NULL", id).
		Updates(map[string]any{"deleted_at": &now, "updated_at": now})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// RestoreDocument clears the soft-delete timestamp.
func (s *GormStore) RestoreDocument(id string) error {
	res := s.db.Model(&DocumentModel{}).
		Where("id = ? AND deleted_at IS NOT NULL", id).
		Updates(map[string]any{"deleted_at": nil, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListDocuments returns active documents ordered by created_at.
func (s *GormStore) ListDocuments() ([]domain.Document, error) {
	var models []DocumentModel
	if err := s.db.Where("deleted_at IS NULL").Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Document, 0, len(models))
	for _, m := range models {
		doc, err := documentFromModel(m)
		if err != nil {
			return nil, err
		}
		res = append(res, doc)
	}
	return res, nil
}

// ListProcessedDocumentIDs returns the IDs of processed, active documents.
func (s *GormStore) ListProcessedDocumentIDs() ([]string, error) {
	var ids []string
	if err := s.db.Model(&DocumentModel{}).
		Where("processed = ? AND deleted_at IS NULL", true).
		Order("created_at ASC").
		Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

// SearchSimilar ranks active documents with a non-null embedding by cosine
// distance to the query vector, skipping excluded IDs.
func (s *GormStore) SearchSimilar(embedding []float32, excludeIDs []string, limit int) ([]SimilarDocument, error) {
	if limit <= 0 {
		return []SimilarDocument{}, nil
	}
	if len(embedding) == 0 {
		return nil, fmt.Errorf("embedding vector is empty")
	}
	if s.embeddingDim > 0 && len(embedding) != s.embeddingDim {
		return nil, fmt.Errorf("embedding dimension mismatch: got %d, want %d", len(embedding), s.embeddingDim)
	}
	if len(excludeIDs) == 0 {
		excludeIDs = []string{""}
	}
	vec := pgvector.NewVector(embedding)
	var rows []SimilarDocument
	if err := s.db.Raw(`
		SELECT id, title, summary, embedding <=> ? AS distance
		FROM document_models
		WHERE deleted_at IS NULL AND embedding IS NOT NULL AND id NOT IN ?
		ORDER BY distance ASC
		LIMIT ?
	`, vec, excludeIDs, limit).Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// SaveRule stores or updates a matching rule.
func (s *GormStore) SaveRule(rule domain.MatchingRule) error {
	model, err := ruleToModel(rule)
	if err != nil {
		return err
	}
	return s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"name", "rule_order", "active", "field", "operator", "value",
			"set_correspondent", "set_doc_type", "add_tags", "updated_at",
		}),
	}).Create(&model).Error
}

// GetRule returns a rule by ID.
func (s *GormStore) GetRule(id string) (domain.MatchingRule, bool, error) {
	var model MatchingRuleModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.MatchingRule{}, false, nil
		}
		return domain.MatchingRule{}, false, err
	}
	rule, err := ruleFromModel(model)
	if err != nil {
		return domain.MatchingRule{}, false, err
	}
	return rule, true, nil
}

// DeleteRule removes a rule.
func (s *GormStore) DeleteRule(id string) error {
	res := s.db.Delete(&MatchingRuleModel{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListRules returns all rules in evaluation order.
func (s *GormStore) ListRules() ([]domain.MatchingRule, error) {
	return s.listRules(false)
}

// ListActiveRules returns active rules in evaluation order
// (order ASC, creation ASC, id ASC).
func (s *GormStore) ListActiveRules() ([]domain.MatchingRule, error) {
	return s.listRules(true)
}

func (s *GormStore) listRules(activeOnly bool) ([]domain.MatchingRule, error) {
	var models []MatchingRuleModel
	tx := s.db.Order("rule_order ASC, created_at ASC, id ASC")
	if activeOnly {
		tx = tx.Where("active = ?", true)
	}
	if err := tx.Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.MatchingRule, 0, len(models))
	for _, m := range models {
		rule, err := ruleFromModel(m)
		if err != nil {
			return nil, err
		}
		res = append(res, rule)
	}
	return res, nil
}

// CreateRelation inserts an undirected relation; the pair is normalized so
// duplicates are caught regardless of direction.
func (s *GormStore) CreateRelation(sourceID, targetID string) (domain.DocumentRelation, error) {
	if sourceID == targetID {
		return domain.DocumentRelation{}, domain.Validationf("relation cannot link a document to itself")
	}
	a, b := sourceID, targetID
	if b < a {
		a, b = b, a
	}
	model := RelationModel{
		ID:        newStoreID(),
		SourceID:  a,
		TargetID:  b,
		CreatedAt: time.Now().UTC(),
	}
	res := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "source_id"}, {Name: "target_id"}},
		DoNothing: true,
	}).Create(&model)
	if res.Error != nil {
		return domain.DocumentRelation{}, res.Error
	}
	if res.RowsAffected == 0 {
		return domain.DocumentRelation{}, domain.ErrConflict
	}
	return relationFromModel(model), nil
}

// ListRelations returns relations touching a document in either direction.
func (s *GormStore) ListRelations(documentID string) ([]domain.DocumentRelation, error) {
	var models []RelationModel
	if err := s.db.Where("source_id = ? OR target_id = ?", documentID, documentID).
		Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.DocumentRelation, 0, len(models))
	for _, m := range models {
		res = append(res, relationFromModel(m))
	}
	return res, nil
}

// DeleteRelation removes a relation by ID.
func (s *GormStore) DeleteRelation(id string) error {
	res := s.db.Delete(&RelationModel{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// SaveSignature stores a signature record.
func (s *GormStore) SaveSignature(sig domain.Signature) error {
	model := SignatureModel{
		ID:          sig.ID,
		Name:        sig.Name,
		ImageKey:    sig.ImageKey,
		PixelWidth:  sig.PixelWidth,
		PixelHeight: sig.PixelHeight,
		CreatedAt:   sig.CreatedAt,
	}
	return s.db.Create(&model).Error
}

// GetSignature returns a signature by ID.
func (s *GormStore) GetSignature(id string) (domain.Signature, bool, error) {
	var model SignatureModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Signature{}, false, nil
		}
		return domain.Signature{}, false, err
	}
	return domain.Signature{
		ID:          model.ID,
		Name:        model.Name,
		ImageKey:    model.ImageKey,
		PixelWidth:  model.PixelWidth,
		PixelHeight: model.PixelHeight,
		CreatedAt:   model.CreatedAt,
	}, true, nil
}

// DeleteSignature removes a signature and nulls any token binding.
// Documents signed with it are untouched.
func (s *GormStore) DeleteSignature(id string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Delete(&SignatureModel{}, "id = ?", id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return domain.ErrNotFound
		}
		return tx.Model(&SigningTokenModel{}).
			Where("signature_id = ?", id).
			Update("signature_id", nil).Error
	})
}

// CreateSigningToken stores a fresh one-time token.
func (s *GormStore) CreateSigningToken(token domain.SigningToken) error {
	model := SigningTokenModel{
		Token:       token.Token,
		Expiry:      token.Expiry,
		UsedAt:      token.UsedAt,
		SignatureID: token.SignatureID,
		CreatedAt:   token.CreatedAt,
	}
	return s.db.Create(&model).Error
}

// GetSigningToken looks up a token.
func (s *GormStore) GetSigningToken(token string) (domain.SigningToken, bool, error) {
	var model SigningTokenModel
	if err := s.db.First(&model, "token = ?", token).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.SigningToken{}, false, nil
		}
		return domain.SigningToken{}, false, err
	}
	return tokenFromModel(model), true, nil
}

// ConsumeSigningToken marks a token used and binds the signature, atomically.
// A reused or expired token yields ErrConflict.
func (s *GormStore) ConsumeSigningToken(token, signatureID string, now time.Time) (domain.SigningToken, error) {
	var result domain.SigningToken
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var model SigningTokenModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&model, "token = ?", token).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrNotFound
			}
			return err
		}
		if model.UsedAt != nil || now.After(model.Expiry) {
			return domain.ErrConflict
		}
		model.UsedAt = &now
		model.SignatureID = &signatureID
		if err := tx.Model(&SigningTokenModel{}).
			Where("token = ?", token).
			Updates(map[string]any{"used_at": &now, "signature_id": signatureID}).Error; err != nil {
			return err
		}
		result = tokenFromModel(model)
		return nil
	})
	if err != nil {
		return domain.SigningToken{}, err
	}
	return result, nil
}

// SaveReminder stores or updates a reminder.
func (s *GormStore) SaveReminder(reminder domain.Reminder) error {
	model := ReminderModel{
		ID:         reminder.ID,
		Title:      reminder.Title,
		Note:       reminder.Note,
		DueAt:      reminder.DueAt,
		DocumentID: reminder.DocumentID,
		CreatedAt:  reminder.CreatedAt,
	}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"title", "note", "due_at", "document_id"}),
	}).Create(&model).Error
}

// ListDueReminders returns reminders due at or before now, soonest first.
func (s *GormStore) ListDueReminders(now time.Time) ([]domain.Reminder, error) {
	var models []ReminderModel
	if err := s.db.Where("due_at <= ?", now).Order("due_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Reminder, 0, len(models))
	for _, m := range models {
		res = append(res, domain.Reminder{
			ID:         m.ID,
			Title:      m.Title,
			Note:       m.Note,
			DueAt:      m.DueAt,
			DocumentID: m.DocumentID,
			CreatedAt:  m.CreatedAt,
		})
	}
	return res, nil
}

// DeleteReminder removes a reminder.
func (s *GormStore) DeleteReminder(id string) error {
	res := s.db.Delete(&ReminderModel{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// SaveTodo stores or updates a todo.
func (s *GormStore) SaveTodo(todo domain.Todo) error {
	model := TodoModel{
		ID:          todo.ID,
		Title:       todo.Title,
		Priority:    todo.Priority,
		DocumentID:  todo.DocumentID,
		Completed:   todo.Completed,
		CompletedAt: todo.CompletedAt,
		CreatedAt:   todo.CreatedAt,
	}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"title", "priority", "document_id"}),
	}).Create(&model).Error
}

// CompleteTodo sets the completion timestamp on the false-to-true transition
// only; completing an already-completed todo keeps the original timestamp.
func (s *GormStore) CompleteTodo(id string, now time.Time) (domain.Todo, error) {
	var result domain.Todo
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var model TodoModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&model, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrNotFound
			}
			return err
		}
		if !model.Completed {
			model.Completed = true
			model.CompletedAt = &now
			if err := tx.Model(&TodoModel{}).Where("id = ?", id).
				Updates(map[string]any{"completed": true, "completed_at": &now}).Error; err != nil {
				return err
			}
		}
		result = domain.Todo{
			ID:          model.ID,
			Title:       model.Title,
			Priority:    model.Priority,
			DocumentID:  model.DocumentID,
			Completed:   model.Completed,
			CompletedAt: model.CompletedAt,
			CreatedAt:   model.CreatedAt,
		}
		return nil
	})
	if err != nil {
		return domain.Todo{}, err
	}
	return result, nil
}

// ListOpenTodos returns incomplete todos, most urgent first.
func (s *GormStore) ListOpenTodos() ([]domain.Todo, error) {
	var models []TodoModel
	if err := s.db.Where("completed = ?", false).
		Order("priority ASC, created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Todo, 0, len(models))
	for _, m := range models {
		res = append(res, domain.Todo{
			ID:          m.ID,
			Title:       m.Title,
			Priority:    m.Priority,
			DocumentID:  m.DocumentID,
			Completed:   m.Completed,
			CompletedAt: m.CompletedAt,
			CreatedAt:   m.CreatedAt,
		})
	}
	return res, nil
}

// MarkArtifactSeen inserts a dedup key; returns false when it already existed.
func (s *GormStore) MarkArtifactSeen(source, key string) (bool, error) {
	model := SeenArtifactModel{Source: source, Key: key, CreatedAt: time.Now().UTC()}
	res := s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&model)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// UnmarkArtifactSeen releases a dedup key whose ingest did not complete, so
// the watcher retries the artifact.
func (s *GormStore) UnmarkArtifactSeen(source, key string) error {
	return s.db.Where("source = ? AND key = ?", source, key).Delete(&SeenArtifactModel{}).Error
}

// GetSettings returns the singleton settings row, with defaults if unset.
func (s *GormStore) GetSettings() (domain.Settings, error) {
	var model SettingsModel
	if err := s.db.First(&model, "id = ?", settingsRowID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return defaultSettings(), nil
		}
		return domain.Settings{}, err
	}
	return domain.Settings{
		Language:         model.Language,
		ExtractionPrompt: model.ExtractionPrompt,
		SuggestionLimit:  model.SuggestionLimit,
		UpdatedAt:        model.UpdatedAt,
	}, nil
}

// SaveSettings upserts the singleton settings row.
func (s *GormStore) SaveSettings(settings domain.Settings) error {
	model := SettingsModel{
		ID:               settingsRowID,
		Language:         settings.Language,
		ExtractionPrompt: settings.ExtractionPrompt,
		SuggestionLimit:  settings.SuggestionLimit,
		UpdatedAt:        time.Now().UTC(),
	}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"language", "extraction_prompt", "suggestion_limit", "updated_at"}),
	}).Create(&model).Error
}

func defaultSettings() domain.Settings {
	return domain.Settings{Language: "en", SuggestionLimit: 5}
}

func documentToModel(doc domain.Document) (DocumentModel, error) {
	data, err := marshalJSONMap(doc.StructuredData)
	if err != nil {
		return DocumentModel{}, err
	}
	tags, err := marshalJSONSlice(doc.Tags)
	if err != nil {
		return DocumentModel{}, err
	}
	var embedding *pgvector.Vector
	if len(doc.Embedding) > 0 {
		vec := pgvector.NewVector(doc.Embedding)
		embedding = &vec
	}
	return DocumentModel{
		ID:              doc.ID,
		Title:           doc.Title,
		Content:         doc.Content,
		Summary:         doc.Summary,
		StructuredData:  data,
		Embedding:       embedding,
		Correspondent:   doc.Correspondent,
		DocType:         doc.DocType,
		Tags:            tags,
		Processed:       doc.Processed,
		ProcessingError: doc.ProcessingError,
		OriginalKey:     doc.OriginalKey,
		ArchiveKey:      doc.ArchiveKey,
		ThumbnailKey:    doc.ThumbnailKey,
		Source:          doc.Source,
		DeletedAt:       doc.DeletedAt,
		CreatedAt:       doc.CreatedAt,
		UpdatedAt:       doc.UpdatedAt,
	}, nil
}

func documentFromModel(model DocumentModel) (domain.Document, error) {
	data, err := unmarshalJSONMap(model.StructuredData)
	if err != nil {
		return domain.Document{}, err
	}
	tags, err := unmarshalJSONSlice(model.Tags)
	if err != nil {
		return domain.Document{}, err
	}
	var embedding []float32
	if model.Embedding != nil {
		embedding = model.Embedding.Slice()
	}
	return domain.Document{
		ID:              model.ID,
		Title:           model.Title,
		Content:         model.Content,
		Summary:         model.Summary,
		StructuredData:  data,
		Embedding:       embedding,
		Correspondent:   model.Correspondent,
		DocType:         model.DocType,
		Tags:            tags,
		Processed:       model.Processed,
		ProcessingError: model.ProcessingError,
		OriginalKey:     model.OriginalKey,
		ArchiveKey:      model.ArchiveKey,
		ThumbnailKey:    model.ThumbnailKey,
		Source:          model.Source,
		DeletedAt:       model.DeletedAt,
		CreatedAt:       model.CreatedAt,
		UpdatedAt:       model.UpdatedAt,
	}, nil
}

func ruleToModel(rule domain.MatchingRule) (MatchingRuleModel, error) {
	tags, err := marshalJSONSlice(rule.AddTags)
	if err != nil {
		return MatchingRuleModel{}, err
	}
	return MatchingRuleModel{
		ID:               rule.ID,
		Name:             rule.Name,
		RuleOrder:        rule.Order,
		Active:           rule.Active,
		Field:            string(rule.Field),
		Operator:         string(rule.Operator),
		Value:            rule.Value,
		SetCorrespondent: rule.SetCorrespondent,
		SetDocType:       rule.SetDocType,
		AddTags:          tags,
		CreatedAt:        rule.CreatedAt,
		UpdatedAt:        rule.UpdatedAt,
	}, nil
}

func ruleFromModel(model MatchingRuleModel) (domain.MatchingRule, error) {
	tags, err := unmarshalJSONSlice(model.AddTags)
	if err != nil {
		return domain.MatchingRule{}, err
	}
	return domain.MatchingRule{
		ID:               model.ID,
		Name:             model.Name,
		Order:            model.RuleOrder,
		Active:           model.Active,
		Field:            domain.MatchField(model.Field),
		Operator:         domain.MatchOperator(model.Operator),
		Value:            model.Value,
		SetCorrespondent: model.SetCorrespondent,
		SetDocType:       model.SetDocType,
		AddTags:          tags,
		CreatedAt:        model.CreatedAt,
		UpdatedAt:        model.UpdatedAt,
	}, nil
}

func relationFromModel(model RelationModel) domain.DocumentRelation {
	return domain.DocumentRelation{
		ID:        model.ID,
		SourceID:  model.SourceID,
		TargetID:  model.TargetID,
		CreatedAt: model.CreatedAt,
	}
}

func tokenFromModel(model SigningTokenModel) domain.SigningToken {
	return domain.SigningToken{
		Token:       model.Token,
		Expiry:      model.Expiry,
		UsedAt:      model.UsedAt,
		SignatureID: model.SignatureID,
		CreatedAt:   model.CreatedAt,
	}
}

func patchToUpdates(patch domain.DocumentPatch) (map[string]any, error) {
	updates := map[string]any{}
	if patch.Title.Valid {
		updates["title"] = patch.Title.Value
	}
	if patch.Content.Valid {
		updates["content"] = patch.Content.Value
	}
	if patch.Summary.Valid {
		updates["summary"] = patch.Summary.Value
	}
	if patch.StructuredData.Valid {
		data, err := marshalJSONMap(patch.StructuredData.Value)
		if err != nil {
			return nil, err
		}
		updates["structured_data"] = data
	}
	if patch.Embedding.Valid {
		if len(patch.Embedding.Value) == 0 {
			updates["embedding"] = nil
		} else {
			updates["embedding"] = pgvector.NewVector(patch.Embedding.Value)
		}
	}
	if patch.Correspondent.Valid {
		updates["correspondent"] = patch.Correspondent.Value
	}
	if patch.DocType.Valid {
		updates["doc_type"] = patch.DocType.Value
	}
	if patch.Tags.Valid {
		tags, err := marshalJSONSlice(patch.Tags.Value)
		if err != nil {
			return nil, err
		}
		updates["tags"] = tags
	}
	if patch.Processed.Valid {
		updates["processed"] = patch.Processed.Value
	}
	if patch.ProcessingError.Valid {
		updates["processing_error"] = patch.ProcessingError.Value
	}
	if patch.ArchiveKey.Valid {
		updates["archive_key"] = patch.ArchiveKey.Value
	}
	if patch.ThumbnailKey.Valid {
		updates["thumbnail_key"] = patch.ThumbnailKey.Value
	}
	return updates, nil
}

func marshalJSONMap(m map[string]string) (datatypes.JSON, error) {
	if m == nil {
		m = map[string]string{}
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(b), nil
}

func unmarshalJSONMap(data datatypes.JSON) (map[string]string, error) {
	if len(data) == 0 {
		return map[string]string{}, nil
	}
	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func marshalJSONSlice(s []string) (datatypes.JSON, error) {
	if s == nil {
		s = []string{}
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(b), nil
}

func unmarshalJSONSlice(data datatypes.JSON) ([]string, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var s []string
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	if len(s) == 0 {
		return nil, nil
	}
	return s, nil
}
