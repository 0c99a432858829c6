package relations

import (
	"fmt"
	"math"

	"github.com/Mapl92/paperless-alternative-sub001/internal/settings"
	"github.com/Mapl92/paperless-alternative-sub001/pkg/domain"
	"github.com/Mapl92/paperless-alternative-sub001/pkg/store"
)

const defaultSuggestionLimit = 5

// Suggester proposes related documents via embedding similarity and manages
// explicit relations.
type Suggester struct {
	store    store.Store
	settings *settings.Cache
}

// NewSuggester builds a suggester. settings may be nil; the default limit
// then applies.
func NewSuggester(st store.Store, cache *settings.Cache) *Suggester {
	return &Suggester{store: st, settings: cache}
}

// Suggest returns nearest-neighbor candidates for a document. The document
// itself and documents already related to it (in either direction) are
// excluded. Documents without an embedding yield an empty list.
func (s *Suggester) Suggest(documentID string) ([]domain.RelationSuggestion, error) {
	doc, ok, err := s.store.GetDocument(documentID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.ErrNotFound
	}
	if len(doc.Embedding) == 0 {
		return []domain.RelationSuggestion{}, nil
	}

	exclude := []string{documentID}
	rels, err := s.store.ListRelations(documentID)
	if err != nil {
		return nil, err
	}
	for _, rel := range rels {
		other := rel.SourceID
		if other == documentID {
			other = rel.TargetID
		}
		exclude = append(exclude, other)
	}

	limit := defaultSuggestionLimit
	if s.settings != nil {
		cfg, err := s.settings.Get()
		if err != nil {
			return nil, fmt.Errorf("load settings: %w", err)
		}
		if cfg.SuggestionLimit > 0 {
			limit = cfg.SuggestionLimit
		}
	}

	rows, err := s.store.SearchSimilar(doc.Embedding, exclude, limit)
	if err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}
	suggestions := make([]domain.RelationSuggestion, 0, len(rows))
	for _, row := range rows {
		suggestions = append(suggestions, domain.RelationSuggestion{
			DocumentID: row.ID,
			Title:      row.Title,
			Summary:    row.Summary,
			Similarity: similarityPercent(row.Distance),
		})
	}
	return suggestions, nil
}

// similarityPercent maps cosine distance to a percentage with one decimal.
func similarityPercent(distance float64) float64 {
	return math.Round((1-distance)*1000) / 10
}

// Create links two documents after checking both exist and are active.
func (s *Suggester) Create(sourceID, targetID string) (domain.DocumentRelation, error) {
	if sourceID == "" || targetID == "" {
		return domain.DocumentRelation{}, domain.Validationf("both document ids are required")
	}
	if sourceID == targetID {
		return domain.DocumentRelation{}, domain.Validationf("relation cannot link a document to itself")
	}
	for _, id := range []string{sourceID, targetID} {
		_, ok, err := s.store.GetDocument(id)
		if err != nil {
			return domain.DocumentRelation{}, err
		}
		if !ok {
			return domain.DocumentRelation{}, domain.ErrNotFound
		}
	}
	return s.store.CreateRelation(sourceID, targetID)
}

// List returns the relations of a document.
func (s *Suggester) List(documentID string) ([]domain.DocumentRelation, error) {
	return s.store.ListRelations(documentID)
}

// Delete removes a relation.
func (s *Suggester) Delete(relationID string) error {
	return s.store.DeleteRelation(relationID)
}
