package domain

import "time"

// Document is the central entity of the intake pipeline. Derived fields
// (Content, Summary, StructuredData, Embedding) stay empty until a pipeline
// run succeeds; ProcessingError is set when the model rejects the content.
type Document struct {
	ID              string            `json:"id"`
	Title           string            `json:"title"`
	Content         string            `json:"content,omitempty"`
	Summary         string            `json:"summary,omitempty"`
	StructuredData  map[string]string `json:"structuredData,omitempty"`
	Embedding       []float32         `json:"-"`
	Correspondent   string            `json:"correspondent,omitempty"`
	DocType         string            `json:"docType,omitempty"`
	Tags            []string          `json:"tags,omitempty"`
	Processed       bool              `json:"processed"`
	ProcessingError string            `json:"processingError,omitempty"`
	OriginalKey     string            `json:"-"`
	ArchiveKey      string            `json:"-"`
	ThumbnailKey    string            `json:"-"`
	Source          string            `json:"source"`
	DeletedAt       *time.Time        `json:"deletedAt,omitempty"`
	CreatedAt       time.Time         `json:"createdAt"`
	UpdatedAt       time.Time         `json:"updatedAt"`
}

// Document sources.
const (
	SourceUpload  = "upload"
	SourceFolder  = "folder"
	SourceMailbox = "mailbox"
)

// MatchField names a document field a rule condition reads.
type MatchField string

const (
	FieldTitle         MatchField = "title"
	FieldContent       MatchField = "content"
	FieldCorrespondent MatchField = "correspondent"
	FieldDocType       MatchField = "type"
)

// MatchOperator selects how a condition value is compared.
type MatchOperator string

const (
	OpContains   MatchOperator = "contains"
	OpEquals     MatchOperator = "equals"
	OpStartsWith MatchOperator = "startsWith"
	OpRegex      MatchOperator = "regex"
)

// MatchingRule is a user-defined classifier. Rules evaluate in
// (Order ASC, CreatedAt ASC, ID ASC); when several rules match, the last
// matching rule wins for SetCorrespondent/SetDocType while AddTags union.
type MatchingRule struct {
	ID               string        `json:"id"`
	Name             string        `json:"name"`
	Order            int           `json:"order"`
	Active           bool          `json:"active"`
	Field            MatchField    `json:"field"`
	Operator         MatchOperator `json:"operator"`
	Value            string        `json:"value"`
	SetCorrespondent *string       `json:"setCorrespondent,omitempty"`
	SetDocType       *string       `json:"setDocType,omitempty"`
	AddTags          []string      `json:"addTags,omitempty"`
	CreatedAt        time.Time     `json:"createdAt"`
	UpdatedAt        time.Time     `json:"updatedAt"`
}

// DocumentRelation links two documents. The pair is undirected; storage
// normalizes ordering so (a,b) and (b,a) are the same relation.
type DocumentRelation struct {
	ID        string    `json:"id"`
	SourceID  string    `json:"sourceId"`
	TargetID  string    `json:"targetId"`
	CreatedAt time.Time `json:"createdAt"`
}

// RelationSuggestion is a nearest-neighbor candidate for a document.
type RelationSuggestion struct {
	DocumentID string  `json:"documentId"`
	Title      string  `json:"title"`
	Summary    string  `json:"summary,omitempty"`
	Similarity float64 `json:"similarity"`
}

// Signature is an immutable raster image used for PDF signing.
type Signature struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	ImageKey    string    `json:"-"`
	PixelWidth  int       `json:"pixelWidth"`
	PixelHeight int       `json:"pixelHeight"`
	CreatedAt   time.Time `json:"createdAt"`
}

// SigningToken is a one-time capability for submitting a signature without
// authenticating into the main system. It is consumable at most once and
// only before Expiry; SignatureID is bound on consumption.
type SigningToken struct {
	Token       string     `json:"token"`
	Expiry      time.Time  `json:"expiry"`
	UsedAt      *time.Time `json:"usedAt,omitempty"`
	SignatureID *string    `json:"signatureId,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// Reminder is a scheduled note, optionally linked to a document.
type Reminder struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Note       string    `json:"note,omitempty"`
	DueAt      time.Time `json:"dueAt"`
	DocumentID string    `json:"documentId,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Todo priorities; 1 is most urgent.
const (
	PriorityUrgent = 1
	PriorityHigh   = 2
	PriorityNormal = 3
	PriorityLow    = 4
)

// Todo is a lightweight task. CompletedAt is set exactly when Completed
// transitions false to true.
type Todo struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Priority    int        `json:"priority"`
	DocumentID  string     `json:"documentId,omitempty"`
	Completed   bool       `json:"completed"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// Settings holds user-tunable processing knobs, read through the scoped
// settings cache.
type Settings struct {
	Language         string    `json:"language"`
	ExtractionPrompt string    `json:"extractionPrompt,omitempty"`
	SuggestionLimit  int       `json:"suggestionLimit"`
	UpdatedAt        time.Time `json:"updatedAt"`
}
