// Package session drives a study session: it takes the queue computed at
// start, hands out one card at a time, and applies each rating through SM-2
// to the store.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/conorfennell/recall/internal/domain"
	"github.com/conorfennell/recall/internal/queue"
	"github.com/conorfennell/recall/internal/sm2"
	"github.com/conorfennell/recall/internal/storage"
)

var ErrNoLearner = errors.New("session: learner id is required")

// Status is the lifecycle stage of a Session.
type Status int

const (
	Created Status = iota
	InProgress
	Completed
)

func (s Status) String() string {
	switch s {
	case Created:
		return "created"
	case InProgress:
		return "in_progress"
	case Completed:
		return "completed"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Controller starts sessions and applies ratings.
type Controller struct {
	store   storage.Store
	catalog storage.Catalog
	cfg     queue.Config
	now     func() time.Time
	logger  *slog.Logger
}

// Option customises a Controller.
type Option func(*Controller)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithLogger sets the logger; the default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewController wires a controller to its collaborators.
func NewController(store storage.Store, catalog storage.Catalog, cfg queue.Config, opts ...Option) (*Controller, error) {
	if store == nil || catalog == nil {
		return nil, fmt.Errorf("session: store and catalog are required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Controller{
		store:   store,
		catalog: catalog,
		cfg:     cfg,
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Controller) load(ctx context.Context, learnerID string) ([]domain.ReviewState, []domain.Card, error) {
	if learnerID == "" {
		return nil, nil, ErrNoLearner
	}
	states, err := c.store.ListForLearner(ctx, learnerID)
	if err != nil {
		return nil, nil, err
	}
	cards, err := c.catalog.ListEligible(ctx)
	if err != nil {
		return nil, nil, err
	}
	return states, cards, nil
}

// StartSession computes the learner's queue once. The returned session may
// be empty; check Empty before presenting it.
func (c *Controller) StartSession(ctx context.Context, learnerID string) (*Session, error) {
	states, cards, err := c.load(ctx, learnerID)
	if err != nil {
		return nil, err
	}
	q, err := queue.Build(learnerID, c.now(), states, cards, c.cfg)
	if err != nil {
		return nil, err
	}

	c.logger.Info("session started",
		"learner", learnerID,
		"due", q.Count(queue.Due),
		"new", q.Count(queue.New),
	)
	return &Session{ctrl: c, learnerID: learnerID, queue: q}, nil
}

// Cards returns every published card in catalog order.
func (c *Controller) Cards(ctx context.Context) ([]domain.Card, error) {
	return c.catalog.ListEligible(ctx)
}

// Summary reports due and new counts for the learner's deck.
func (c *Controller) Summary(ctx context.Context, learnerID string) (queue.Summary, error) {
	states, cards, err := c.load(ctx, learnerID)
	if err != nil {
		return queue.Summary{}, err
	}
	return queue.Summarize(learnerID, c.now(), states, cards, c.cfg)
}

// Ack confirms a rating.
type Ack struct {
	CardID string
	State  domain.ReviewState
	// Superseded is set when a later rating of the same card from another
	// session was already stored; State is then that rating's result and
	// nothing was written.
	Superseded bool
}

// apply is the only place the engine mutates review state. A conflicting
// write is retried once against the freshest record.
func (c *Controller) apply(ctx context.Context, learnerID, cardID string, q domain.Quality) (Ack, error) {
	now := c.now()
	prior, err := c.store.Get(ctx, learnerID, cardID)
	if err != nil {
		return Ack{}, err
	}

	var next domain.ReviewState
	for attempt := 0; ; attempt++ {
		if prior != nil && prior.LastReviewedAt != nil && prior.LastReviewedAt.After(now) {
			c.logger.Info("rating superseded by a later review",
				"learner", learnerID,
				"card", cardID,
				"stored_at", *prior.LastReviewedAt,
			)
			return Ack{CardID: cardID, State: *prior, Superseded: true}, nil
		}

		next, err = transition(learnerID, cardID, prior, q, now)
		if err != nil {
			return Ack{}, err
		}
		err = c.store.Upsert(ctx, prior, next)
		if err == nil {
			break
		}
		if !errors.Is(err, storage.ErrConflict) || attempt > 0 {
			return Ack{}, err
		}

		c.logger.Warn("review state changed concurrently, retrying", "learner", learnerID, "card", cardID)
		if prior, err = c.store.Get(ctx, learnerID, cardID); err != nil {
			return Ack{}, err
		}
	}

	c.logger.Info("card rated",
		"learner", learnerID,
		"card", cardID,
		"quality", int(q),
		"repetitions", next.Repetitions,
		"interval_days", next.IntervalDays,
		"ease", next.EaseFactor,
	)

	if rl, ok := c.store.(storage.ReviewLogger); ok {
		entry := domain.ReviewLog{LearnerID: learnerID, CardID: cardID, Quality: q, ReviewedAt: now}
		if err := rl.AppendReview(ctx, entry); err != nil {
			c.logger.Warn("failed to append review log", "learner", learnerID, "card", cardID, "error", err)
		}
	}
	return Ack{CardID: cardID, State: next}, nil
}

func transition(learnerID, cardID string, prior *domain.ReviewState, q domain.Quality, now time.Time) (domain.ReviewState, error) {
	res, err := sm2.Next(sm2.FromReviewState(prior), q, now)
	if err != nil {
		return domain.ReviewState{}, err
	}
	first := now
	if prior != nil && !prior.FirstReviewedAt.IsZero() {
		first = prior.FirstReviewedAt
	}
	next := domain.ReviewState{
		LearnerID:       learnerID,
		CardID:          cardID,
		Repetitions:     res.Repetitions,
		IntervalDays:    res.IntervalDays,
		EaseFactor:      res.EaseFactor,
		NextReviewAt:    res.NextReviewAt,
		LastReviewedAt:  &now,
		FirstReviewedAt: first,
	}
	if !next.Valid() {
		return domain.ReviewState{}, fmt.Errorf("%w: %+v", storage.ErrInvalidState, next)
	}
	return next, nil
}

// Session is an in-memory walk over a queue. Discarding it has no side
// effects on unrated cards.
type Session struct {
	mu        sync.Mutex
	ctrl      *Controller
	learnerID string
	queue     queue.Queue
	cursor    int
	current   *queue.Entry
	status    Status
	rated     int
	skipped   int
}

// LearnerID returns the learner the session belongs to.
func (s *Session) LearnerID() string {
	return s.learnerID
}

// Empty reports whether the queue had nothing to study at start.
func (s *Session) Empty() bool {
	return s.queue.Empty()
}

// Status returns the current lifecycle stage.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Progress returns how many cards were rated or skipped out of the total.
func (s *Session) Progress() (done, total int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rated + s.skipped, s.queue.Len()
}

// Next presents the following card. Calling it while the previous card is
// still unrated skips that card. ok is false once the session is over.
func (s *Session) Next() (card domain.Card, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status == Completed {
		return domain.Card{}, false
	}
	if s.current != nil {
		s.skipped++
		s.current = nil
	}
	if s.cursor >= s.queue.Len() {
		s.status = Completed
		return domain.Card{}, false
	}

	e := s.queue.Entries[s.cursor]
	s.cursor++
	s.current = &e
	s.status = InProgress
	return e.Card, true
}

// Rate applies quality to the card most recently returned by Next. On error
// the card stays presented and may be rated again.
func (s *Session) Rate(ctx context.Context, cardID string, q domain.Quality) (Ack, error) {
	if !q.Valid() {
		return Ack{}, fmt.Errorf("%w: %d", domain.ErrInvalidQuality, q)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil || s.current.Card.ID != cardID {
		return Ack{}, fmt.Errorf("%w: %s", domain.ErrOutOfOrderRating, cardID)
	}

	ack, err := s.ctrl.apply(ctx, s.learnerID, cardID, q)
	if err != nil {
		return Ack{}, err
	}

	s.current = nil
	s.rated++
	if s.cursor >= s.queue.Len() {
		s.status = Completed
	}
	return ack, nil
}
