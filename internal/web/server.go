package web

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/conorfennell/fushigi/internal/domain"
	"github.com/conorfennell/fushigi/internal/ingest"
	"github.com/conorfennell/fushigi/internal/review"
	"github.com/conorfennell/fushigi/internal/storage"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Server holds the dependencies for the HTTP server.
type Server struct {
	db       *storage.DB
	reviews  *review.Service
	syncer   *ingest.Syncer
	log      *slog.Logger
	validate *validator.Validate
	router   *http.ServeMux
	handler  http.Handler
}

// NewServer creates and configures a new server.
func NewServer(db *storage.DB, reviews *review.Service, syncer *ingest.Syncer, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		db:       db,
		reviews:  reviews,
		syncer:   syncer,
		log:      logger,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		router:   http.NewServeMux(),
	}
	s.routes()
	s.handler = s.logRequests(s.router)
	return s
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// routes sets up the routing for the server.
func (s *Server) routes() {
	s.router.HandleFunc("GET /healthz", s.handleHealth())

	// Study session
	s.router.HandleFunc("POST /api/srs/review", s.handleSubmitReview())
	s.router.HandleFunc("GET /api/srs/daily", s.handleDailyBatch())
	s.router.HandleFunc("POST /api/srs/enroll", s.handleEnroll())

	// Content
	s.router.HandleFunc("GET /api/grammar", s.handleListGrammar())
	s.router.HandleFunc("GET /api/grammar/{id}", s.handleGetGrammar())

	// Journal
	s.router.HandleFunc("POST /api/journal", s.handleCreateJournal())
	s.router.HandleFunc("GET /api/journal", s.handleListJournal())
	s.router.HandleFunc("GET /api/journal/{id}", s.handleGetJournal())

	// Source management
	s.router.HandleFunc("GET /api/sources", s.handleGetSources())
	s.router.HandleFunc("POST /api/sources", s.handlePostSource())
	s.router.HandleFunc("DELETE /api/sources/{id}", s.handleDeleteSource())
	s.router.HandleFunc("POST /api/sync", s.handlePostSync())
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.db.Ping(r.Context()); err != nil {
			s.log.Error("Health check failed", "error", err)
			writeError(w, http.StatusServiceUnavailable, "storage unavailable")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// reviewResponse is the scheduling state returned after a review.
type reviewResponse struct {
	GrammarID    string  `json:"grammar_id"`
	DueDate      string  `json:"due_date"`
	IntervalDays int     `json:"interval_days"`
	EaseFactor   float64 `json:"ease_factor"`
	Repetition   int     `json:"repetition"`
}

// handleSubmitReview applies an answered card.
func (s *Server) handleSubmitReview() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in review.SubmitInput
		if !s.decode(w, r, &in) {
			return
		}
		rec, err := s.reviews.Submit(r.Context(), in)
		if err != nil {
			s.writeReviewError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, reviewResponse{
			GrammarID:    rec.GrammarID,
			DueDate:      rec.DueDate.Format(time.DateOnly),
			IntervalDays: rec.IntervalDays,
			EaseFactor:   rec.EaseFactor,
			Repetition:   rec.Repetition,
		})
	}
}

// handleDailyBatch returns today's grammar points for a user.
func (s *Server) handleDailyBatch() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		capacity, err := queryInt(r, "capacity", 0)
		if err != nil {
			writeError(w, http.StatusBadRequest, "capacity must be an integer")
			return
		}
		points, err := s.reviews.DailyBatch(r.Context(), r.URL.Query().Get("user_id"), capacity)
		if err != nil {
			s.writeReviewError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, points)
	}
}

type enrollRequest struct {
	UserID    string `json:"user_id"`
	GrammarID string `json:"grammar_id"`
}

// handleEnroll creates the initial review record for a grammar point.
func (s *Server) handleEnroll() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in enrollRequest
		if !s.decode(w, r, &in) {
			return
		}
		created, err := s.reviews.Enroll(r.Context(), in.UserID, in.GrammarID)
		if err != nil {
			s.writeReviewError(w, err)
			return
		}
		status := http.StatusOK
		if created {
			status = http.StatusCreated
		}
		writeJSON(w, status, map[string]any{"created": created})
	}
}

func (s *Server) writeReviewError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, review.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, review.ErrRecordNotFound), errors.Is(err, review.ErrGrammarNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, review.ErrStorageUnavailable):
		s.log.Error("Review storage failure", "error", err)
		writeError(w, http.StatusServiceUnavailable, "storage unavailable")
	default:
		s.log.Error("Unexpected review failure", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
	}
}

func (s *Server) handleGetGrammar() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		g, err := s.db.GetGrammar(r.Context(), r.PathValue("id"))
		if err != nil {
			s.writeStorageError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, g)
	}
}

// handleListGrammar lists grammar points filtered by level, tag and search text.
func (s *Server) handleListGrammar() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, offset, ok := page(w, r)
		if !ok {
			return
		}
		q := r.URL.Query()
		points, err := s.db.ListGrammar(r.Context(), storage.GrammarFilter{
			Level:  q.Get("level"),
			Tag:    q.Get("tag"),
			Search: q.Get("search"),
			Limit:  limit,
			Offset: offset,
		})
		if err != nil {
			s.writeStorageError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, points)
	}
}

type sentenceRequest struct {
	Content    string   `json:"content" validate:"required"`
	GrammarIDs []string `json:"grammar_ids" validate:"dive,required"`
}

type journalRequest struct {
	UserID    string            `json:"user_id" validate:"required"`
	Title     string            `json:"title" validate:"required"`
	Content   string            `json:"content"`
	Private   bool              `json:"private"`
	Sentences []sentenceRequest `json:"sentences" validate:"dive"`
}

// handleCreateJournal stores an entry and enrolls its tagged grammar points.
func (s *Server) handleCreateJournal() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in journalRequest
		if !s.decode(w, r, &in) {
			return
		}
		if err := s.validate.Struct(in); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		entry := domain.JournalEntry{
			UserID:    in.UserID,
			Title:     in.Title,
			Content:   in.Content,
			Private:   in.Private,
			Sentences: []domain.Sentence{},
		}
		for _, sr := range in.Sentences {
			ids := sr.GrammarIDs
			if ids == nil {
				ids = []string{}
			}
			entry.Sentences = append(entry.Sentences, domain.Sentence{
				Content:    sr.Content,
				GrammarIDs: ids,
			})
		}
		if err := s.db.CreateJournalEntry(r.Context(), &entry); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				writeError(w, http.StatusBadRequest, "unknown grammar id")
				return
			}
			s.writeStorageError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, entry)
	}
}

func (s *Server) handleGetJournal() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := r.URL.Query().Get("user_id")
		if userID == "" {
			writeError(w, http.StatusBadRequest, "user_id is required")
			return
		}
		entry, err := s.db.GetJournalEntry(r.Context(), userID, r.PathValue("id"))
		if err != nil {
			s.writeStorageError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, entry)
	}
}

func (s *Server) handleListJournal() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := r.URL.Query().Get("user_id")
		if userID == "" {
			writeError(w, http.StatusBadRequest, "user_id is required")
			return
		}
		limit, offset, ok := page(w, r)
		if !ok {
			return
		}
		entries, err := s.db.ListJournalEntries(r.Context(), userID, limit, offset)
		if err != nil {
			s.writeStorageError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, entries)
	}
}

// handleGetSources lists the configured content sources.
func (s *Server) handleGetSources() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sources, err := s.db.GetAllSources(r.Context())
		if err != nil {
			s.writeStorageError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sources)
	}
}

// handlePostSource adds a new source.
func (s *Server) handlePostSource() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in struct {
			Path string `json:"path" validate:"required"`
		}
		if !s.decode(w, r, &in) {
			return
		}
		in.Path = strings.TrimSpace(in.Path)
		if err := s.validate.Struct(in); err != nil {
			writeError(w, http.StatusBadRequest, "path cannot be empty")
			return
		}

		if _, err := s.db.FindSourceByPath(r.Context(), in.Path); err == nil {
			writeError(w, http.StatusConflict, "source already exists")
			return
		} else if !errors.Is(err, storage.ErrNotFound) {
			s.writeStorageError(w, err)
			return
		}

		id, err := s.syncer.AddSource(r.Context(), in.Path)
		if err != nil {
			s.writeStorageError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, storage.Source{ID: id, Path: in.Path, Type: ingest.SourceType(in.Path)})
	}
}

// handleDeleteSource deletes a source. Its grammar points are kept.
func (s *Server) handleDeleteSource() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid source ID")
			return
		}
		if err := s.db.DeleteSource(r.Context(), id); err != nil {
			s.writeStorageError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// handlePostSync runs a sync in the foreground and returns its report.
func (s *Server) handlePostSync() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report, err := s.syncer.RunSync(r.Context())
		if err != nil {
			s.log.Error("Sync failed", "error", err)
			writeError(w, http.StatusInternalServerError, "sync failed")
			return
		}
		writeJSON(w, http.StatusOK, report)
	}
}

func (s *Server) writeStorageError(w http.ResponseWriter, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	s.log.Error("Storage failure", "error", err)
	writeError(w, http.StatusInternalServerError, "Internal Server Error")
}

// decode reads a JSON body into v, writing a 400 on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

// page reads limit and offset, writing a 400 when they are out of range.
func page(w http.ResponseWriter, r *http.Request) (limit, offset int, ok bool) {
	limit, err := queryInt(r, "limit", defaultPageSize)
	if err != nil || limit < 1 || limit > maxPageSize {
		writeError(w, http.StatusBadRequest, "limit must be between 1 and 100")
		return 0, 0, false
	}
	offset, err = queryInt(r, "offset", 0)
	if err != nil || offset < 0 {
		writeError(w, http.StatusBadRequest, "offset must be zero or more")
		return 0, 0, false
	}
	return limit, offset, true
}
