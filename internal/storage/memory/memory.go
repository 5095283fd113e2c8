// Package memory provides in-process implementations of the storage
// interfaces.
package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/conorfennell/recall/internal/domain"
	"github.com/conorfennell/recall/internal/storage"
)

type key struct {
	learnerID string
	cardID    string
}

// Store keeps review states in a map guarded by a mutex.
type Store struct {
	mu     sync.Mutex
	states map[key]domain.ReviewState
	log    []domain.ReviewLog
}

var (
	_ storage.Store        = (*Store)(nil)
	_ storage.ReviewLogger = (*Store)(nil)
)

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{states: make(map[key]domain.ReviewState)}
}

func clone(rs domain.ReviewState) domain.ReviewState {
	if rs.LastReviewedAt != nil {
		t := *rs.LastReviewedAt
		rs.LastReviewedAt = &t
	}
	return rs
}

func (s *Store) Get(ctx context.Context, learnerID, cardID string) (*domain.ReviewState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rs, ok := s.states[key{learnerID, cardID}]
	if !ok {
		return nil, nil
	}
	rs = clone(rs)
	return &rs, nil
}

func (s *Store) ListForLearner(ctx context.Context, learnerID string) ([]domain.ReviewState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.ReviewState
	for k, rs := range s.states {
		if k.learnerID == learnerID {
			out = append(out, clone(rs))
		}
	}
	slices.SortFunc(out, func(a, b domain.ReviewState) int { return cmp.Compare(a.CardID, b.CardID) })
	return out, nil
}

func (s *Store) Upsert(ctx context.Context, prior *domain.ReviewState, next domain.ReviewState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := storage.CheckUpsert(prior, next); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key{next.LearnerID, next.CardID}
	var current *domain.ReviewState
	if rs, ok := s.states[k]; ok {
		current = &rs
	}
	if !storage.SameRevision(current, prior) {
		return fmt.Errorf("upsert review state %s/%s: %w", next.LearnerID, next.CardID, storage.ErrConflict)
	}
	if current != nil {
		next.FirstReviewedAt = current.FirstReviewedAt
	}
	s.states[k] = clone(next)
	return nil
}

func (s *Store) AppendReview(ctx context.Context, entry domain.ReviewLog) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log = append(s.log, entry)
	return nil
}

// Reviews returns a copy of the rating history in append order.
func (s *Store) Reviews() []domain.ReviewLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.log)
}

// Catalog is a fixed list of cards.
type Catalog struct {
	mu    sync.RWMutex
	cards []domain.Card
}

var _ storage.Catalog = (*Catalog)(nil)

// NewCatalog returns a catalog holding cards.
func NewCatalog(cards ...domain.Card) *Catalog {
	c := &Catalog{}
	c.Add(cards...)
	return c
}

// Add publishes more cards.
func (c *Catalog) Add(cards ...domain.Card) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cards = append(c.cards, cards...)
	slices.SortStableFunc(c.cards, func(a, b domain.Card) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.ID, b.ID))
	})
}

func (c *Catalog) ListEligible(ctx context.Context) ([]domain.Card, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.cards), nil
}
