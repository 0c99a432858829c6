package server

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/Mapl92/paperless-alternative-sub001/internal/pdfops"
	"github.com/Mapl92/paperless-alternative-sub001/internal/pipeline"
	"github.com/Mapl92/paperless-alternative-sub001/internal/relations"
	"github.com/Mapl92/paperless-alternative-sub001/internal/rules"
	"github.com/Mapl92/paperless-alternative-sub001/internal/settings"
	"github.com/Mapl92/paperless-alternative-sub001/internal/sign"
	"github.com/Mapl92/paperless-alternative-sub001/pkg/domain"
	"github.com/Mapl92/paperless-alternative-sub001/pkg/queue"
	"github.com/Mapl92/paperless-alternative-sub001/pkg/storage"
	"github.com/Mapl92/paperless-alternative-sub001/pkg/store"
)

type fakeJobs struct {
	jobs map[string]queue.Job
}

func (f *fakeJobs) Enqueue(_ context.Context, kind, documentID string) (queue.Job, error) {
	job := queue.Job{ID: "job-" + kind, Kind: kind, DocumentID: documentID, Status: queue.StatusQueued}
	if f.jobs == nil {
		f.jobs = make(map[string]queue.Job)
	}
	f.jobs[job.ID] = job
	return job, nil
}

func (f *fakeJobs) UpdateProgress(context.Context, string, int, int) error { return nil }

func (f *fakeJobs) GetJob(_ context.Context, jobID string) (queue.Job, bool, error) {
	job, ok := f.jobs[jobID]
	return job, ok, nil
}

type nopStamper struct{}

func (nopStamper) StampImage(_, outPath, _ string, _ int, _ pdfops.Rect, _ int) error {
	return os.WriteFile(outPath, []byte("signed"), 0o600)
}

type testEnv struct {
	store   *store.MemoryStore
	objects *storage.MemoryStore
	jobs    *fakeJobs
	cache   *settings.Cache
	handler http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st := store.NewMemoryStore()
	objects := storage.NewMemoryStore()
	jobs := &fakeJobs{}
	cache := settings.NewCache(st)
	engine := rules.NewEngine(st, jobs, 2)
	p := pipeline.New(pipeline.Options{Store: st, Objects: objects, Jobs: jobs})
	srv := New(Config{
		Store:     st,
		Pipeline:  p,
		Rules:     engine,
		Relations: relations.NewSuggester(st, cache),
		Sign:      sign.NewService(st, objects, nopStamper{}, nil),
		Jobs:      jobs,
		Settings:  cache,
	})
	return &testEnv{store: st, objects: objects, jobs: jobs, cache: cache, handler: srv.Router()}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body == nil {
		reader = bytes.NewReader(nil)
	} else {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode response: %v: %s", err, rec.Body.String())
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d", rec.Code)
	}
}

func TestUploadDocument(t *testing.T) {
	env := newTestEnv(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "statement.pdf")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write([]byte("%PDF-fake")); err != nil {
		t.Fatalf("write part: %v", err)
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/documents", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status: got %d: %s", rec.Code, rec.Body.String())
	}
	var doc domain.Document
	decodeBody(t, rec, &doc)
	if doc.Title != "statement" || doc.Source != domain.SourceUpload {
		t.Fatalf("document: %+v", doc)
	}
	// the original key is not part of the JSON payload; read it off the store
	stored, ok, err := env.store.GetDocument(doc.ID)
	if err != nil || !ok {
		t.Fatalf("uploaded document not in store: ok=%v err=%v", ok, err)
	}
	if stored.OriginalKey == "" || !env.objects.Has(stored.OriginalKey) {
		t.Fatalf("original not stored under %q", stored.OriginalKey)
	}
	if _, ok := env.jobs.jobs["job-"+queue.KindProcessDocument]; !ok {
		t.Fatal("processing job not enqueued")
	}
}

func TestDocumentLifecycle(t *testing.T) {
	env := newTestEnv(t)
	if err := env.store.CreateDocument(domain.Document{ID: "doc-1", Title: "t"}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if rec := env.do(t, http.MethodGet, "/documents/doc-1", nil); rec.Code != http.StatusOK {
		t.Fatalf("get: %d", rec.Code)
	}
	if rec := env.do(t, http.MethodDelete, "/documents/doc-1", nil); rec.Code != http.StatusOK {
		t.Fatalf("delete: %d", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, "/documents/doc-1", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("get after delete: %d", rec.Code)
	}
	if rec := env.do(t, http.MethodPost, "/documents/doc-1/restore", nil); rec.Code != http.StatusOK {
		t.Fatalf("restore: %d", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, "/documents/doc-1", nil); rec.Code != http.StatusOK {
		t.Fatalf("get after restore: %d", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, "/documents/missing", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("get missing: %d", rec.Code)
	}
}

func TestRuleEndpoints(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/rules", map[string]any{
		"name":     "invoices",
		"field":    "title",
		"operator": "contains",
		"value":    "invoice",
		"addTags":  []string{"billing"},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create rule: %d: %s", rec.Code, rec.Body.String())
	}
	var rule domain.MatchingRule
	decodeBody(t, rec, &rule)
	if rule.ID == "" || !rule.Active {
		t.Fatalf("rule: %+v", rule)
	}

	if rec := env.do(t, http.MethodPost, "/rules", map[string]any{
		"name": "broken", "field": "body", "operator": "contains", "value": "x",
	}); rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid rule: %d", rec.Code)
	}

	rec = env.do(t, http.MethodPut, "/rules/"+rule.ID, map[string]any{
		"name": "invoices", "field": "title", "operator": "equals", "value": "invoice",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("update rule: %d: %s", rec.Code, rec.Body.String())
	}
	var updated domain.MatchingRule
	decodeBody(t, rec, &updated)
	if updated.Operator != domain.OpEquals {
		t.Fatalf("operator not updated: %+v", updated)
	}

	if rec := env.do(t, http.MethodDelete, "/rules/"+rule.ID, nil); rec.Code != http.StatusOK {
		t.Fatalf("delete rule: %d", rec.Code)
	}
	if rec := env.do(t, http.MethodDelete, "/rules/"+rule.ID, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("delete missing rule: %d", rec.Code)
	}
}

func TestRuleTestAndApplyAll(t *testing.T) {
	env := newTestEnv(t)
	if err := env.store.CreateDocument(domain.Document{ID: "doc-1", Title: "ACME invoice", Processed: true}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	rec := env.do(t, http.MethodPost, "/rules/test", map[string]any{
		"field": "title", "operator": "contains", "value": "invoice",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("test: %d: %s", rec.Code, rec.Body.String())
	}
	var result rules.TestResult
	decodeBody(t, rec, &result)
	if result.Matched != 1 || result.Total != 1 {
		t.Fatalf("test result: %+v", result)
	}

	rec = env.do(t, http.MethodPost, "/rules/apply-all", nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("apply-all: %d: %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodGet, "/jobs/job-"+queue.KindApplyRules, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("job status: %d", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, "/jobs/unknown", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown job: %d", rec.Code)
	}
}

func TestRelationEndpoints(t *testing.T) {
	env := newTestEnv(t)
	for _, id := range []string{"a", "b"} {
		if err := env.store.CreateDocument(domain.Document{ID: id, Title: id, Embedding: []float32{1, 0}}); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	rec := env.do(t, http.MethodPost, "/documents/a/relations", map[string]string{"targetId": "b"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create relation: %d: %s", rec.Code, rec.Body.String())
	}
	var rel domain.DocumentRelation
	decodeBody(t, rec, &rel)

	if rec := env.do(t, http.MethodPost, "/documents/a/relations", map[string]string{"targetId": "b"}); rec.Code != http.StatusConflict {
		t.Fatalf("duplicate relation: %d", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, "/documents/a/relations/suggest", nil); rec.Code != http.StatusOK {
		t.Fatalf("suggest: %d", rec.Code)
	}
	if rec := env.do(t, http.MethodDelete, "/relations/"+rel.ID, nil); rec.Code != http.StatusOK {
		t.Fatalf("delete relation: %d", rec.Code)
	}
}

func TestSettingsUpdateInvalidatesCache(t *testing.T) {
	env := newTestEnv(t)

	before, err := env.cache.Get()
	if err != nil {
		t.Fatalf("cache get: %v", err)
	}
	if before.SuggestionLimit != 5 {
		t.Fatalf("default suggestion limit: %d", before.SuggestionLimit)
	}

	rec := env.do(t, http.MethodPut, "/settings", map[string]any{
		"language": "de", "suggestionLimit": 3,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("put settings: %d: %s", rec.Code, rec.Body.String())
	}

	after, err := env.cache.Get()
	if err != nil {
		t.Fatalf("cache get: %v", err)
	}
	if after.Language != "de" || after.SuggestionLimit != 3 {
		t.Fatalf("cache not invalidated: %+v", after)
	}
}

func TestTodoEndpoints(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/todos", map[string]any{"title": "file taxes", "priority": 1})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create todo: %d", rec.Code)
	}
	var todo domain.Todo
	decodeBody(t, rec, &todo)

	rec = env.do(t, http.MethodPost, "/todos/"+todo.ID+"/complete", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("complete todo: %d", rec.Code)
	}
	var completed domain.Todo
	decodeBody(t, rec, &completed)
	if !completed.Completed || completed.CompletedAt == nil {
		t.Fatalf("todo not completed: %+v", completed)
	}

	rec = env.do(t, http.MethodGet, "/todos", nil)
	var list struct {
		Count int `json:"count"`
	}
	decodeBody(t, rec, &list)
	if list.Count != 0 {
		t.Fatalf("open todos after completion: %d", list.Count)
	}
}

func TestReminderEndpoints(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/reminders", map[string]any{
		"title": "renew insurance",
		"dueAt": time.Now().Add(-time.Hour).Format(time.RFC3339),
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create reminder: %d: %s", rec.Code, rec.Body.String())
	}
	var reminder domain.Reminder
	decodeBody(t, rec, &reminder)

	rec = env.do(t, http.MethodGet, "/reminders", nil)
	var list struct {
		Count int `json:"count"`
	}
	decodeBody(t, rec, &list)
	if list.Count != 1 {
		t.Fatalf("due reminders: %d", list.Count)
	}

	if rec := env.do(t, http.MethodPost, "/reminders", map[string]any{"title": ""}); rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid reminder: %d", rec.Code)
	}
	if rec := env.do(t, http.MethodDelete, "/reminders/"+reminder.ID, nil); rec.Code != http.StatusOK {
		t.Fatalf("delete reminder: %d", rec.Code)
	}
}

func TestSignDocumentEndpoint(t *testing.T) {
	env := newTestEnv(t)
	if err := env.objects.Put(context.Background(), "originals/doc-1.pdf", []byte("%PDF"), "application/pdf"); err != nil {
		t.Fatalf("seed object: %v", err)
	}
	if err := env.store.CreateDocument(domain.Document{ID: "doc-1", Title: "contract", OriginalKey: "originals/doc-1.pdf"}); err != nil {
		t.Fatalf("seed document: %v", err)
	}
	if err := env.store.SaveSignature(domain.Signature{ID: "sig-1", Name: "john", ImageKey: "signatures/sig-1.png", PixelWidth: 40, PixelHeight: 20}); err != nil {
		t.Fatalf("seed signature: %v", err)
	}
	if err := env.objects.Put(context.Background(), "signatures/sig-1.png", []byte("png"), "image/png"); err != nil {
		t.Fatalf("seed image: %v", err)
	}

	rec := env.do(t, http.MethodPost, "/documents/doc-1/sign", map[string]any{
		"signatureId": "sig-1",
		"page":        1,
		"rect":        map[string]float64{"x": 0.1, "y": 0.8, "width": 0.3, "height": 0.1},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("sign: %d: %s", rec.Code, rec.Body.String())
	}
	var doc domain.Document
	decodeBody(t, rec, &doc)
	if doc.ArchiveKey == "" {
		t.Fatal("archive key not set")
	}

	rec = env.do(t, http.MethodPost, "/documents/doc-1/sign", map[string]any{
		"signatureId": "sig-1",
		"page":        0,
		"rect":        map[string]float64{"x": 0.1, "y": 0.8, "width": 0.3, "height": 0.1},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid page: %d", rec.Code)
	}
}
