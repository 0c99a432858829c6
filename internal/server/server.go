package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/Mapl92/paperless-alternative-sub001/internal/pdfops"
	"github.com/Mapl92/paperless-alternative-sub001/internal/pipeline"
	"github.com/Mapl92/paperless-alternative-sub001/internal/relations"
	"github.com/Mapl92/paperless-alternative-sub001/internal/rules"
	"github.com/Mapl92/paperless-alternative-sub001/internal/settings"
	"github.com/Mapl92/paperless-alternative-sub001/internal/sign"
	"github.com/Mapl92/paperless-alternative-sub001/internal/util"
	"github.com/Mapl92/paperless-alternative-sub001/pkg/domain"
	"github.com/Mapl92/paperless-alternative-sub001/pkg/queue"
	"github.com/Mapl92/paperless-alternative-sub001/pkg/store"
)

// JobReader looks up the status of an async job.
type JobReader interface {
	GetJob(ctx context.Context, jobID string) (queue.Job, bool, error)
}

// Config wires required dependencies for the HTTP server.
type Config struct {
	Store          store.Store
	Pipeline       *pipeline.Pipeline
	Rules          *rules.Engine
	Relations      *relations.Suggester
	Sign           *sign.Service
	Jobs           JobReader
	Settings       *settings.Cache
	MaxUploadBytes int64
}

// Server exposes the HTTP API.
type Server struct {
	store          store.Store
	pipeline       *pipeline.Pipeline
	rules          *rules.Engine
	relations      *relations.Suggester
	sign           *sign.Service
	jobs           JobReader
	settings       *settings.Cache
	mux            *http.ServeMux
	maxUploadBytes int64
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	maxUploadBytes := cfg.MaxUploadBytes
	if maxUploadBytes <= 0 {
		maxUploadBytes = 50 * 1024 * 1024
	}
	s := &Server{
		store:          cfg.Store,
		pipeline:       cfg.Pipeline,
		rules:          cfg.Rules,
		relations:      cfg.Relations,
		sign:           cfg.Sign,
		jobs:           cfg.Jobs,
		settings:       cfg.Settings,
		mux:            http.NewServeMux(),
		maxUploadBytes: maxUploadBytes,
	}
	s.routes()
	return s
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("intake", s.mux))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	s.mux.HandleFunc("/documents", s.handleDocuments)
	s.mux.HandleFunc("/documents/", s.handleDocumentByID)

	s.mux.HandleFunc("/rules", s.handleRules)
	s.mux.HandleFunc("/rules/", s.handleRuleByID)

	s.mux.HandleFunc("/relations/", s.handleRelationByID)
	s.mux.HandleFunc("/jobs/", s.handleJobByID)

	s.mux.HandleFunc("/signatures", s.handleSignatures)
	s.mux.HandleFunc("/signatures/", s.handleSignatureByID)
	s.mux.HandleFunc("/signing-tokens", s.handleSigningTokens)
	s.mux.HandleFunc("/signing-tokens/", s.handleSigningTokenByID)

	s.mux.HandleFunc("/reminders", s.handleReminders)
	s.mux.HandleFunc("/reminders/", s.handleReminderByID)
	s.mux.HandleFunc("/todos", s.handleTodos)
	s.mux.HandleFunc("/todos/", s.handleTodoByID)

	s.mux.HandleFunc("/settings", s.handleSettings)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// documents

func (s *Server) handleDocuments(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleUploadDocument(w, r)
	case http.MethodGet:
		docs, err := s.store.ListDocuments()
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": docs, "count": len(docs)})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleUploadDocument(w http.ResponseWriter, r *http.Request) {
	if s.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form data")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required (field: file)")
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "cannot read file")
		return
	}
	title := strings.TrimSpace(r.FormValue("title"))
	if title == "" {
		title = strings.TrimSuffix(header.Filename, filepath.Ext(header.Filename))
	}
	doc, err := s.pipeline.Ingest(r.Context(), title, data, domain.SourceUpload)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

// /documents/{id} and its sub-resources
func (s *Server) handleDocumentByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/documents/")
	parts := strings.SplitN(path, "/", 3)
	id := parts[0]
	if id == "" {
		notFound(w)
		return
	}

	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			doc, ok, err := s.store.GetDocument(id)
			if err != nil {
				writeDomainError(w, err)
				return
			}
			if !ok {
				notFound(w)
				return
			}
			writeJSON(w, http.StatusOK, doc)
		case http.MethodDelete:
			if err := s.store.SoftDeleteDocument(id); err != nil {
				writeDomainError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
		default:
			methodNotAllowed(w)
		}
		return
	}

	switch parts[1] {
	case "restore":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		if err := s.store.RestoreDocument(id); err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "restored"})
	case "reprocess":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		job, err := s.pipeline.Reprocess(r.Context(), id)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, job)
	case "sign":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		s.handleSignDocument(w, r, id)
	case "relations":
		s.handleDocumentRelations(w, r, id, parts)
	default:
		notFound(w)
	}
}

type signRequest struct {
	SignatureID string      `json:"signatureId"`
	Page        int         `json:"page"`
	Rect        pdfops.Rect `json:"rect"`
}

func (s *Server) handleSignDocument(w http.ResponseWriter, r *http.Request, id string) {
	var req signRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	doc, err := s.sign.Sign(r.Context(), id, req.SignatureID, req.Page, req.Rect)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

type relationRequest struct {
	TargetID string `json:"targetId"`
}

func (s *Server) handleDocumentRelations(w http.ResponseWriter, r *http.Request, id string, parts []string) {
	if len(parts) == 3 && parts[2] == "suggest" {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		suggestions, err := s.relations.Suggest(id)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": suggestions, "count": len(suggestions)})
		return
	}
	if len(parts) != 2 {
		notFound(w)
		return
	}
	switch r.Method {
	case http.MethodGet:
		rels, err := s.relations.List(id)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": rels, "count": len(rels)})
	case http.MethodPost:
		var req relationRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		rel, err := s.relations.Create(id, req.TargetID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, rel)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleRelationByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/relations/")
	if id == "" || strings.Contains(id, "/") {
		notFound(w)
		return
	}
	if r.Method != http.MethodDelete {
		methodNotAllowed(w)
		return
	}
	if err := s.relations.Delete(id); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// matching rules

type ruleRequest struct {
	Name             string   `json:"name"`
	Order            int      `json:"order"`
	Active           *bool    `json:"active"`
	Field            string   `json:"field"`
	Operator         string   `json:"operator"`
	Value            string   `json:"value"`
	SetCorrespondent *string  `json:"setCorrespondent"`
	SetDocType       *string  `json:"setDocType"`
	AddTags          []string `json:"addTags"`
}

func (req ruleRequest) toRule(id string, createdAt time.Time) domain.MatchingRule {
	active := true
	if req.Active != nil {
		active = *req.Active
	}
	return domain.MatchingRule{
		ID:               id,
		Name:             req.Name,
		Order:            req.Order,
		Active:           active,
		Field:            domain.MatchField(req.Field),
		Operator:         domain.MatchOperator(req.Operator),
		Value:            req.Value,
		SetCorrespondent: req.SetCorrespondent,
		SetDocType:       req.SetDocType,
		AddTags:          req.AddTags,
		CreatedAt:        createdAt,
		UpdatedAt:        time.Now().UTC(),
	}
}

func (s *Server) handleRules(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		list, err := s.store.ListRules()
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": list, "count": len(list)})
	case http.MethodPost:
		var req ruleRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		rule := req.toRule(util.NewID(), time.Now().UTC())
		if err := rules.ValidateRule(rule); err != nil {
			writeDomainError(w, err)
			return
		}
		if err := s.store.SaveRule(rule); err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, rule)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleRuleByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/rules/")
	switch path {
	case "apply-all":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		job, estimate, err := s.rules.ApplyAll(r.Context())
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"job": job, "estimatedTotal": estimate})
		return
	case "test":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		var req ruleRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		result, err := s.rules.Test(domain.MatchField(req.Field), domain.MatchOperator(req.Operator), req.Value)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
		return
	}

	id := path
	if id == "" || strings.Contains(id, "/") {
		notFound(w)
		return
	}
	switch r.Method {
	case http.MethodGet:
		rule, ok, err := s.store.GetRule(id)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		if !ok {
			notFound(w)
			return
		}
		writeJSON(w, http.StatusOK, rule)
	case http.MethodPut:
		existing, ok, err := s.store.GetRule(id)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		if !ok {
			notFound(w)
			return
		}
		var req ruleRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		rule := req.toRule(id, existing.CreatedAt)
		if err := rules.ValidateRule(rule); err != nil {
			writeDomainError(w, err)
			return
		}
		if err := s.store.SaveRule(rule); err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rule)
	case http.MethodDelete:
		if err := s.store.DeleteRule(id); err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		methodNotAllowed(w)
	}
}

// jobs

func (s *Server) handleJobByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/jobs/")
	if id == "" || strings.Contains(id, "/") {
		notFound(w)
		return
	}
	job, ok, err := s.jobs.GetJob(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if !ok {
		notFound(w)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// signatures and signing tokens

func (s *Server) handleSignatures(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	name, data, ok := s.signatureUpload(w, r)
	if !ok {
		return
	}
	sig, err := s.sign.CreateSignature(r.Context(), name, data)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sig)
}

func (s *Server) handleSignatureByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/signatures/")
	if id == "" || strings.Contains(id, "/") {
		notFound(w)
		return
	}
	switch r.Method {
	case http.MethodGet:
		sig, ok, err := s.store.GetSignature(id)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		if !ok {
			notFound(w)
			return
		}
		writeJSON(w, http.StatusOK, sig)
	case http.MethodDelete:
		if err := s.sign.DeleteSignature(r.Context(), id); err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		methodNotAllowed(w)
	}
}

type tokenRequest struct {
	TTLSeconds int `json:"ttlSeconds"`
}

func (s *Server) handleSigningTokens(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req tokenRequest
	if r.ContentLength > 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}
	token, err := s.sign.CreateToken(time.Duration(req.TTLSeconds) * time.Second)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, token)
}

// /signing-tokens/{token}/redeem
func (s *Server) handleSigningTokenByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/signing-tokens/")
	parts := strings.SplitN(path, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] != "redeem" {
		notFound(w)
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	name, data, ok := s.signatureUpload(w, r)
	if !ok {
		return
	}
	sig, err := s.sign.RedeemToken(r.Context(), parts[0], name, data)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sig)
}

func (s *Server) signatureUpload(w http.ResponseWriter, r *http.Request) (string, []byte, bool) {
	if s.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	}
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form data")
		return "", nil, false
	}
	file, header, err := r.FormFile("image")
	if err != nil {
		writeError(w, http.StatusBadRequest, "image is required (field: image)")
		return "", nil, false
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "cannot read image")
		return "", nil, false
	}
	name := strings.TrimSpace(r.FormValue("name"))
	if name == "" {
		name = strings.TrimSuffix(header.Filename, filepath.Ext(header.Filename))
	}
	return name, data, true
}

// reminders and todos

type reminderRequest struct {
	Title      string    `json:"title"`
	Note       string    `json:"note"`
	DueAt      time.Time `json:"dueAt"`
	DocumentID string    `json:"documentId"`
}

func (s *Server) handleReminders(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req reminderRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if strings.TrimSpace(req.Title) == "" || req.DueAt.IsZero() {
			writeError(w, http.StatusBadRequest, "title and dueAt are required")
			return
		}
		reminder := domain.Reminder{
			ID:         util.NewID(),
			Title:      req.Title,
			Note:       req.Note,
			DueAt:      req.DueAt.UTC(),
			DocumentID: req.DocumentID,
			CreatedAt:  time.Now().UTC(),
		}
		if err := s.store.SaveReminder(reminder); err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, reminder)
	case http.MethodGet:
		due, err := s.store.ListDueReminders(time.Now().UTC())
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": due, "count": len(due)})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleReminderByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/reminders/")
	if id == "" || strings.Contains(id, "/") {
		notFound(w)
		return
	}
	if r.Method != http.MethodDelete {
		methodNotAllowed(w)
		return
	}
	if err := s.store.DeleteReminder(id); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

type todoRequest struct {
	Title      string `json:"title"`
	Priority   int    `json:"priority"`
	DocumentID string `json:"documentId"`
}

func (s *Server) handleTodos(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req todoRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if strings.TrimSpace(req.Title) == "" {
			writeError(w, http.StatusBadRequest, "title is required")
			return
		}
		priority := req.Priority
		if priority < domain.PriorityUrgent || priority > domain.PriorityLow {
			priority = domain.PriorityNormal
		}
		todo := domain.Todo{
			ID:         util.NewID(),
			Title:      req.Title,
			Priority:   priority,
			DocumentID: req.DocumentID,
			CreatedAt:  time.Now().UTC(),
		}
		if err := s.store.SaveTodo(todo); err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, todo)
	case http.MethodGet:
		open, err := s.store.ListOpenTodos()
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": open, "count": len(open)})
	default:
		methodNotAllowed(w)
	}
}

// /todos/{id}/complete
func (s *Server) handleTodoByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/todos/")
	parts := strings.SplitN(path, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] != "complete" {
		notFound(w)
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	todo, err := s.store.CompleteTodo(parts[0], time.Now().UTC())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, todo)
}

// settings

type settingsRequest struct {
	Language         string `json:"language"`
	ExtractionPrompt string `json:"extractionPrompt"`
	SuggestionLimit  int    `json:"suggestionLimit"`
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		current, err := s.store.GetSettings()
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, current)
	case http.MethodPut:
		var req settingsRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if req.SuggestionLimit < 0 {
			writeError(w, http.StatusBadRequest, "suggestionLimit must be >= 0")
			return
		}
		updated := domain.Settings{
			Language:         req.Language,
			ExtractionPrompt: req.ExtractionPrompt,
			SuggestionLimit:  req.SuggestionLimit,
		}
		if err := s.store.SaveSettings(updated); err != nil {
			writeDomainError(w, err)
			return
		}
		if s.settings != nil {
			s.settings.Invalidate()
		}
		writeJSON(w, http.StatusOK, updated)
	default:
		methodNotAllowed(w)
	}
}

// helpers

func decodeJSON(r *http.Request, v any) error {
	return json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(v)
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "not found")
}

// writeDomainError maps the error taxonomy onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case domain.IsValidation(err):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, domain.ErrConflict):
		writeError(w, http.StatusConflict, "conflict")
	default:
		slog.Error("request failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"requestId,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{
		Error:     msg,
		RequestID: strings.TrimSpace(w.Header().Get("X-Request-Id")),
	})
}
