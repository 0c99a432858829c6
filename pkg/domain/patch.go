package domain

// Field wraps an optional patch value so that "absent" and "set to zero"
// stay distinguishable in partial updates.
type Field[T any] struct {
	Valid bool
	Value T
}

// Set marks a patch field as present.
func Set[T any](v T) Field[T] {
	return Field[T]{Valid: true, Value: v}
}

// DocumentPatch is a partial document update. Only fields with Valid=true
// are written; the store rejects patches against soft-deleted documents.
type DocumentPatch struct {
	Title           Field[string]
	Content         Field[string]
	Summary         Field[string]
	StructuredData  Field[map[string]string]
	Embedding       Field[[]float32]
	Correspondent   Field[string]
	DocType         Field[string]
	Tags            Field[[]string]
	Processed       Field[bool]
	ProcessingError Field[string]
	ArchiveKey      Field[string]
	ThumbnailKey    Field[string]
}

// IsZero reports whether the patch carries no fields.
func (p DocumentPatch) IsZero() bool {
	return !p.Title.Valid && !p.Content.Valid && !p.Summary.Valid &&
		!p.StructuredData.Valid && !p.Embedding.Valid && !p.Correspondent.Valid &&
		!p.DocType.Valid && !p.Tags.Valid && !p.Processed.Valid &&
		!p.ProcessingError.Valid && !p.ArchiveKey.Valid && !p.ThumbnailKey.Valid
}
