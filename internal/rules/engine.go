package rules

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/Mapl92/paperless-alternative-sub001/pkg/domain"
	"github.com/Mapl92/paperless-alternative-sub001/pkg/queue"
	"github.com/Mapl92/paperless-alternative-sub001/pkg/store"
)

// JobQueue is the slice of the queue the engine uses for detached batches.
type JobQueue interface {
	Enqueue(ctx context.Context, kind, documentID string) (queue.Job, error)
	UpdateProgress(ctx context.Context, jobID string, affected, total int) error
}

// TestResult is the outcome of a dry-run over the corpus.
type TestResult struct {
	Matched int      `json:"matched"`
	Total   int      `json:"total"`
	Sample  []string `json:"sample"`
}

// ApplyAllResult is the detached batch outcome.
type ApplyAllResult struct {
	Affected int `json:"affected"`
	Failed   int `json:"failed"`
	Total    int `json:"total"`
}

const testSampleSize = 10

// Engine evaluates ordered matching rules against documents and applies
// their effects. Evaluation order is deterministic (order ASC, creation
// ASC, id ASC); repeated evaluation of an unchanged document is a no-op.
type Engine struct {
	store       store.Store
	jobs        JobQueue
	concurrency int
}

// NewEngine builds the rule engine. jobs may be nil in tests; ApplyAll then
// refuses to run detached.
func NewEngine(st store.Store, jobs JobQueue, concurrency int) *Engine {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Engine{store: st, jobs: jobs, concurrency: concurrency}
}

// Evaluate runs all active rules against one document and persists the
// accumulated effects in a single update. It reports whether document state
// changed and how many rules matched.
func (e *Engine) Evaluate(documentID string) (changed bool, matched int, err error) {
	doc, ok, err := e.store.GetDocument(documentID)
	if err != nil {
		return false, 0, err
	}
	if !ok {
		return false, 0, domain.ErrNotFound
	}
	rules, err := e.store.ListActiveRules()
	if err != nil {
		return false, 0, err
	}

	// effect accumulator; later matches override set-* while tags union
	var correspondent, docType *string
	tagSet := make(map[string]struct{}, len(doc.Tags))
	for _, tag := range doc.Tags {
		tagSet[tag] = struct{}{}
	}

	for _, rule := range rules {
		if !Matches(fieldValue(doc, rule.Field), rule.Operator, rule.Value) {
			continue
		}
		matched++
		if rule.SetCorrespondent != nil {
			correspondent = rule.SetCorrespondent
		}
		if rule.SetDocType != nil {
			docType = rule.SetDocType
		}
		for _, tag := range rule.AddTags {
			tagSet[tag] = struct{}{}
		}
	}

	var patch domain.DocumentPatch
	if correspondent != nil && *correspondent != doc.Correspondent {
		patch.Correspondent = domain.Set(*correspondent)
	}
	if docType != nil && *docType != doc.DocType {
		patch.DocType = domain.Set(*docType)
	}
	if len(tagSet) != len(doc.Tags) {
		tags := make([]string, 0, len(tagSet))
		for tag := range tagSet {
			tags = append(tags, tag)
		}
		sort.Strings(tags)
		patch.Tags = domain.Set(tags)
	}
	if patch.IsZero() {
		return false, matched, nil
	}
	if err := e.store.UpdateDocument(documentID, patch); err != nil {
		return false, matched, err
	}
	return true, matched, nil
}

// ApplyAll enqueues a detached batch run over every processed document and
// returns immediately with the job record and an estimated total. Progress
// and the final counts are polled via the job status.
func (e *Engine) ApplyAll(ctx context.Context) (queue.Job, int, error) {
	if e.jobs == nil {
		return queue.Job{}, 0, errors.New("no job queue configured")
	}
	ids, err := e.store.ListProcessedDocumentIDs()
	if err != nil {
		return queue.Job{}, 0, err
	}
	job, err := e.jobs.Enqueue(ctx, queue.KindApplyRules, "")
	if err != nil {
		return queue.Job{}, 0, err
	}
	return job, len(ids), nil
}

// RunApplyAll executes the batch: evaluate every processed document,
// tolerating and counting per-document failures without aborting. Invoked
// by the queue worker for apply_rules jobs.
func (e *Engine) RunApplyAll(ctx context.Context, jobID string) (ApplyAllResult, error) {
	ids, err := e.store.ListProcessedDocumentIDs()
	if err != nil {
		return ApplyAllResult{}, err
	}
	var (
		mu       sync.Mutex
		affected int
		failed   int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			changed, _, err := e.Evaluate(id)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed++
				slog.Warn("apply-all: rule evaluation failed", "documentId", id, "err", err)
				return nil
			}
			if changed {
				affected++
			}
			if e.jobs != nil && (affected+failed)%25 == 0 {
				_ = e.jobs.UpdateProgress(gctx, jobID, affected, len(ids))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return ApplyAllResult{Affected: affected, Failed: failed, Total: len(ids)}, err
	}
	if e.jobs != nil {
		_ = e.jobs.UpdateProgress(ctx, jobID, affected, len(ids))
	}
	return ApplyAllResult{Affected: affected, Failed: failed, Total: len(ids)}, nil
}

// Test dry-runs a single condition against the active corpus. Nothing is
// persisted; used to preview a rule before saving it.
func (e *Engine) Test(field domain.MatchField, op domain.MatchOperator, value string) (TestResult, error) {
	probe := domain.MatchingRule{Name: "probe", Field: field, Operator: op, Value: value}
	if err := ValidateRule(probe); err != nil {
		return TestResult{}, err
	}
	docs, err := e.store.ListDocuments()
	if err != nil {
		return TestResult{}, err
	}
	res := TestResult{Total: len(docs)}
	for _, doc := range docs {
		if !Matches(fieldValue(doc, field), op, value) {
			continue
		}
		res.Matched++
		if len(res.Sample) < testSampleSize {
			res.Sample = append(res.Sample, doc.Title)
		}
	}
	return res, nil
}
