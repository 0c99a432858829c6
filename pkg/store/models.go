package store

import (
	"time"

	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"
)

// GORM models used for persistence.
type DocumentModel struct {
	ID              string `gorm:"primaryKey"`
	Title           string `gorm:"not null"`
	Content         string `gorm:"type:text"`
	Summary         string `gorm:"type:text"`
	StructuredData  datatypes.JSON   `gorm:"type:jsonb"`
	Embedding       *pgvector.Vector `gorm:"type:vector(768)"`
	Correspondent   string `gorm:"index"`
	DocType         string `gorm:"index"`
	Tags            datatypes.JSON   `gorm:"type:jsonb"`
	Processed       bool   `gorm:"not null;index"`
	ProcessingError string
	OriginalKey     string `gorm:"not null"`
	ArchiveKey      string
	ThumbnailKey    string
	Source          string     `gorm:"not null"`
	DeletedAt       *time.Time `gorm:"index"`
	CreatedAt       time.Time  `gorm:"not null"`
	UpdatedAt       time.Time  `gorm:"not null"`
}

type MatchingRuleModel struct {
	ID               string `gorm:"primaryKey"`
	Name             string `gorm:"not null"`
	RuleOrder        int    `gorm:"not null;index"`
	Active           bool   `gorm:"not null;index"`
	Field            string `gorm:"not null"`
	Operator         string `gorm:"not null"`
	Value            string `gorm:"not null"`
	SetCorrespondent *string
	SetDocType       *string
	AddTags          datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt        time.Time      `gorm:"not null;index"`
	UpdatedAt        time.Time      `gorm:"not null"`
}

// RelationModel stores the undirected pair normalized so that
// source_id < target_id, enforced unique.
type RelationModel struct {
	ID        string    `gorm:"primaryKey"`
	SourceID  string    `gorm:"not null;index;uniqueIndex:idx_relation_pair"`
	TargetID  string    `gorm:"not null;index;uniqueIndex:idx_relation_pair"`
	CreatedAt time.Time `gorm:"not null"`
}

type SignatureModel struct {
	ID          string `gorm:"primaryKey"`
	Name        string `gorm:"not null"`
	ImageKey    string `gorm:"not null"`
	PixelWidth  int    `gorm:"not null"`
	PixelHeight int    `gorm:"not null"`
	CreatedAt   time.Time `gorm:"not null"`
}

type SigningTokenModel struct {
	Token       string    `gorm:"primaryKey"`
	Expiry      time.Time `gorm:"not null"`
	UsedAt      *time.Time
	SignatureID *string `gorm:"index"`
	CreatedAt   time.Time `gorm:"not null"`
}

type ReminderModel struct {
	ID         string    `gorm:"primaryKey"`
	Title      string    `gorm:"not null"`
	Note       string
	DueAt      time.Time `gorm:"not null;index"`
	DocumentID string    `gorm:"index"`
	CreatedAt  time.Time `gorm:"not null"`
}

type TodoModel struct {
	ID          string `gorm:"primaryKey"`
	Title       string `gorm:"not null"`
	Priority    int    `gorm:"not null;index"`
	DocumentID  string `gorm:"index"`
	Completed   bool   `gorm:"not null;index"`
	CompletedAt *time.Time
	CreatedAt   time.Time `gorm:"not null"`
}

// SeenArtifactModel is the persisted watcher dedup set.
type SeenArtifactModel struct {
	Source    string    `gorm:"primaryKey"`
	Key       string    `gorm:"primaryKey"`
	CreatedAt time.Time `gorm:"not null"`
}

// SettingsModel is a single-row table keyed by a fixed id.
type SettingsModel struct {
	ID               int    `gorm:"primaryKey"`
	Language         string `gorm:"not null"`
	ExtractionPrompt string
	SuggestionLimit  int       `gorm:"not null"`
	UpdatedAt        time.Time `gorm:"not null"`
}
