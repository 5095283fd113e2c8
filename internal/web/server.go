// Package web exposes study sessions over a small JSON API. Identity is
// supplied by the fronting proxy in the X-Learner-ID header and trusted as is.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/conorfennell/recall/internal/catalog"
	"github.com/conorfennell/recall/internal/domain"
	"github.com/conorfennell/recall/internal/queue"
	"github.com/conorfennell/recall/internal/session"
	"github.com/conorfennell/recall/internal/storage"
)

// LearnerHeader carries the authenticated learner id.
const LearnerHeader = "X-Learner-ID"

// DefaultSessionTTL applies when Options.SessionTTL is not positive.
const DefaultSessionTTL = 2 * time.Hour

// Sessions is what the server needs from the session controller.
type Sessions interface {
	StartSession(ctx context.Context, learnerID string) (*session.Session, error)
	Summary(ctx context.Context, learnerID string) (queue.Summary, error)
	Cards(ctx context.Context) ([]domain.Card, error)
}

// Sources manages the catalog's card sources.
type Sources interface {
	AddSource(ctx context.Context, path string) (storage.Source, error)
	RunSync(ctx context.Context) (catalog.Report, error)
	GetAllSources(ctx context.Context) ([]storage.Source, error)
	DeleteSource(ctx context.Context, sourceID int64) error
}

// Server holds the dependencies for the HTTP server.
type Server struct {
	sessions Sessions
	sources  Sources
	live     *registry
	router   *http.ServeMux
	admins   map[string]bool
	logger   *slog.Logger
	validate *validator.Validate
	now      func() time.Time
}

// Options configures a Server.
type Options struct {
	// SessionTTL is how long an unfinished session may sit idle.
	SessionTTL time.Duration
	// Admins lists the learner ids allowed to manage sources. With no
	// admins the source routes answer 403 to everyone.
	Admins []string
	Logger *slog.Logger
}

// NewServer creates and configures a new server. sources may be nil, which
// disables the source management routes.
func NewServer(sessions Sessions, sources Sources, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ttl := opts.SessionTTL
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	admins := make(map[string]bool, len(opts.Admins))
	for _, id := range opts.Admins {
		if id = strings.TrimSpace(id); id != "" {
			admins[id] = true
		}
	}
	s := &Server{
		sessions: sessions,
		sources:  sources,
		live:     newRegistry(ttl),
		router:   http.NewServeMux(),
		admins:   admins,
		logger:   logger,
		validate: validator.New(),
		now:      time.Now,
	}
	s.routes()
	return s
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// routes sets up the routing for the server.
func (s *Server) routes() {
	s.router.HandleFunc("GET /deck", s.withLearner(s.handleGetDeck))
	s.router.HandleFunc("GET /cards", s.withLearner(s.handleGetCards))
	s.router.HandleFunc("POST /sessions", s.withLearner(s.handleStartSession))
	s.router.HandleFunc("GET /sessions/{id}/next", s.withLearner(s.handleNextCard))
	s.router.HandleFunc("POST /sessions/{id}/rate", s.withLearner(s.handleRate))

	if s.sources != nil {
		s.router.HandleFunc("GET /sources", s.withAdmin(s.handleGetSources))
		s.router.HandleFunc("POST /sources", s.withAdmin(s.handlePostSource))
		s.router.HandleFunc("DELETE /sources/{id}", s.withAdmin(s.handleDeleteSource))
		s.router.HandleFunc("POST /sync", s.withAdmin(s.handlePostSync))
	}
}

type learnerHandler func(w http.ResponseWriter, r *http.Request, learnerID string)

func (s *Server) withLearner(next learnerHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		learnerID := r.Header.Get(LearnerHeader)
		if learnerID == "" {
			writeError(w, http.StatusUnauthorized, "missing "+LearnerHeader)
			return
		}
		next(w, r, learnerID)
	}
}

// withAdmin guards the source routes: an identity is required and it must
// be one of the configured admins.
func (s *Server) withAdmin(next http.HandlerFunc) http.HandlerFunc {
	return s.withLearner(func(w http.ResponseWriter, r *http.Request, learnerID string) {
		if !s.admins[learnerID] {
			s.logger.Warn("source management refused", "learner", learnerID, "path", r.URL.Path)
			writeError(w, http.StatusForbidden, "not allowed to manage sources")
			return
		}
		next(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// fail maps engine errors to HTTP statuses.
func (s *Server) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidQuality):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrOutOfOrderRating), errors.Is(err, storage.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, storage.ErrUnavailable):
		s.logger.Error("store unavailable", "error", err)
		writeError(w, http.StatusServiceUnavailable, "store unavailable, try again")
	default:
		s.logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

type cardJSON struct {
	ID           string `json:"id"`
	Question     string `json:"question"`
	Answer       string `json:"answer,omitempty"`
	Context      string `json:"context,omitempty"`
	QuestionHTML string `json:"question_html"`
	AnswerHTML   string `json:"answer_html,omitempty"`
	ContextHTML  string `json:"context_html,omitempty"`
}

func newCardJSON(c domain.Card) cardJSON {
	return cardJSON{
		ID:           c.ID,
		Question:     c.Question,
		Answer:       c.Answer,
		Context:      c.Context,
		QuestionHTML: renderMarkdown(c.Question),
		AnswerHTML:   renderMarkdown(c.Answer),
		ContextHTML:  renderMarkdown(c.Context),
	}
}

type progressJSON struct {
	Done  int `json:"done"`
	Total int `json:"total"`
}

// handleGetDeck reports how many cards are due and new.
func (s *Server) handleGetDeck(w http.ResponseWriter, r *http.Request, learnerID string) {
	sum, err := s.sessions.Summary(r.Context(), learnerID)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"due":              sum.Due,
		"new":              sum.New,
		"introduced_today": sum.IntroducedToday,
		"new_today":        sum.NewToday,
		"has_cards":        sum.Due+sum.NewToday > 0,
	})
}

// handleGetCards lists every published card, rendered for browsing.
func (s *Server) handleGetCards(w http.ResponseWriter, r *http.Request, _ string) {
	cards, err := s.sessions.Cards(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	out := make([]cardJSON, len(cards))
	for i, c := range cards {
		out[i] = newCardJSON(c)
	}
	writeJSON(w, http.StatusOK, map[string]any{"cards": out})
}

// handleStartSession builds the queue. An empty queue is not an error: the
// client should show a come-back-tomorrow screen.
func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request, learnerID string) {
	sess, err := s.sessions.StartSession(r.Context(), learnerID)
	if err != nil {
		s.fail(w, err)
		return
	}
	if sess.Empty() {
		tomorrow := domain.Day(s.now()).AddDate(0, 0, 1)
		writeJSON(w, http.StatusOK, map[string]any{
			"empty":        true,
			"next_session": tomorrow.Format(time.DateOnly),
		})
		return
	}
	id := s.live.add(sess)
	_, total := sess.Progress()
	writeJSON(w, http.StatusCreated, map[string]any{
		"session_id": id,
		"total":      total,
	})
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request, learnerID string) (string, *session.Session, bool) {
	id := r.PathValue("id")
	sess, ok := s.live.get(id, learnerID)
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return "", nil, false
	}
	return id, sess, true
}

// handleNextCard presents the next card, or signals the end of the session.
func (s *Server) handleNextCard(w http.ResponseWriter, r *http.Request, learnerID string) {
	id, sess, ok := s.lookup(w, r, learnerID)
	if !ok {
		return
	}
	card, ok := sess.Next()
	done, total := sess.Progress()
	if !ok {
		s.live.remove(id)
		writeJSON(w, http.StatusOK, map[string]any{
			"end":      true,
			"progress": progressJSON{Done: done, Total: total},
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"card":     newCardJSON(card),
		"progress": progressJSON{Done: done, Total: total},
	})
}

type rateRequest struct {
	CardID  string          `json:"card_id" validate:"required"`
	Quality json.RawMessage `json:"quality" validate:"required"`
}

// handleRate applies a rating to the presented card.
func (s *Server) handleRate(w http.ResponseWriter, r *http.Request, learnerID string) {
	id, sess, ok := s.lookup(w, r, learnerID)
	if !ok {
		return
	}

	var req rateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "card_id and quality are required")
		return
	}
	// Accept both 5 and "5".
	quality, err := domain.ParseQuality(strings.Trim(string(req.Quality), `"`))
	if err != nil {
		s.fail(w, err)
		return
	}

	ack, err := sess.Rate(r.Context(), req.CardID, quality)
	if err != nil {
		s.fail(w, err)
		return
	}

	completed := sess.Status() == session.Completed
	if completed {
		s.live.remove(id)
	}
	done, total := sess.Progress()
	writeJSON(w, http.StatusOK, map[string]any{
		"card_id":        ack.CardID,
		"repetitions":    ack.State.Repetitions,
		"interval_days":  ack.State.IntervalDays,
		"ease_factor":    ack.State.EaseFactor,
		"next_review_at": ack.State.NextReviewAt.Format(time.DateOnly),
		"superseded":     ack.Superseded,
		"completed":      completed,
		"progress":       progressJSON{Done: done, Total: total},
	})
}

// handleGetSources lists the configured sources.
func (s *Server) handleGetSources(w http.ResponseWriter, r *http.Request) {
	sources, err := s.sources.GetAllSources(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sources": sourcesJSON(sources)})
}

type sourceRequest struct {
	Path string `json:"path" validate:"required"`
}

// handlePostSource registers a new source.
func (s *Server) handlePostSource(w http.ResponseWriter, r *http.Request) {
	var req sourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || s.validate.Struct(req) != nil {
		writeError(w, http.StatusBadRequest, "path cannot be empty")
		return
	}
	src, err := s.sources.AddSource(r.Context(), req.Path)
	if err != nil {
		if errors.Is(err, storage.ErrUnavailable) {
			s.fail(w, err)
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, sourcesJSON([]storage.Source{src})[0])
}

// handleDeleteSource removes a source and retracts its cards.
func (s *Server) handleDeleteSource(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid source id")
		return
	}
	if err := s.sources.DeleteSource(r.Context(), id); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handlePostSync runs a sync in the foreground and reports the outcome.
func (s *Server) handlePostSync(w http.ResponseWriter, r *http.Request) {
	report, err := s.sources.RunSync(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	errs := make([]string, len(report.Errors))
	for i, e := range report.Errors {
		errs[i] = e.Error()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sources":     report.Sources,
		"parsed":      report.Parsed,
		"added":       report.Added,
		"unpublished": report.Unpublished,
		"errors":      errs,
	})
}

type sourceJSON struct {
	ID          int64   `json:"id"`
	Path        string  `json:"path"`
	Type        string  `json:"type"`
	LastScanned *string `json:"last_scanned,omitempty"`
}

func sourcesJSON(sources []storage.Source) []sourceJSON {
	out := make([]sourceJSON, len(sources))
	for i, src := range sources {
		out[i] = sourceJSON{ID: src.ID, Path: src.Path, Type: src.Type}
		if src.LastScanned != nil {
			ts := src.LastScanned.Format(time.RFC3339)
			out[i].LastScanned = &ts
		}
	}
	return out
}
