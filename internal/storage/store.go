// Package storage defines the persistence boundary of the scheduler and a
// SQLite implementation of it.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/conorfennell/recall/internal/domain"
)

var (
	// ErrConflict is returned by Upsert when the stored record no longer
	// matches the prior the caller computed from.
	ErrConflict = errors.New("storage: concurrent review state write")
	// ErrUnavailable wraps I/O failures of the backing store.
	ErrUnavailable = errors.New("storage: store unavailable")
	// ErrInvalidState is returned when asked to persist a state that breaks
	// the scheduling invariants.
	ErrInvalidState = errors.New("storage: invalid review state")
)

// Store holds one ReviewState per (learner, card).
type Store interface {
	// Get returns the state, or nil if the learner never rated the card.
	Get(ctx context.Context, learnerID, cardID string) (*domain.ReviewState, error)
	// ListForLearner returns every state of the learner.
	ListForLearner(ctx context.Context, learnerID string) ([]domain.ReviewState, error)
	// Upsert atomically replaces prior with next. prior is what the caller
	// read: nil means "no record yet". If the stored record differs from
	// prior (compared by LastReviewedAt) nothing is written and ErrConflict
	// is returned.
	Upsert(ctx context.Context, prior *domain.ReviewState, next domain.ReviewState) error
}

// Catalog lists the published flashcards a learner may be introduced to.
type Catalog interface {
	// ListEligible returns published cards ordered by creation time.
	ListEligible(ctx context.Context) ([]domain.Card, error)
}

// ReviewLogger is implemented by stores that keep a rating history.
type ReviewLogger interface {
	AppendReview(ctx context.Context, entry domain.ReviewLog) error
}

// CheckUpsert validates an Upsert call before anything is written.
func CheckUpsert(prior *domain.ReviewState, next domain.ReviewState) error {
	if next.LearnerID == "" || next.CardID == "" {
		return fmt.Errorf("%w: learner and card id are required", ErrInvalidState)
	}
	if prior != nil && (prior.LearnerID != next.LearnerID || prior.CardID != next.CardID) {
		return fmt.Errorf("%w: prior belongs to %s/%s", ErrInvalidState, prior.LearnerID, prior.CardID)
	}
	if next.LastReviewedAt == nil {
		return fmt.Errorf("%w: last reviewed time is required", ErrInvalidState)
	}
	if !next.Valid() {
		return fmt.Errorf("%w: %+v", ErrInvalidState, next)
	}
	return nil
}

// SameRevision reports whether a and b were produced by the same rating.
func SameRevision(a, b *domain.ReviewState) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a.LastReviewedAt == nil || b.LastReviewedAt == nil {
		return a.LastReviewedAt == nil && b.LastReviewedAt == nil
	}
	return a.LastReviewedAt.Equal(*b.LastReviewedAt)
}
