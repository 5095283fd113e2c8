package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/conorfennell/recall/internal/domain"
	"github.com/conorfennell/recall/internal/storage"
)

func rated(cardID string, at time.Time, reps int) domain.ReviewState {
	return domain.ReviewState{
		LearnerID:       "learner-1",
		CardID:          cardID,
		Repetitions:     reps,
		IntervalDays:    1,
		EaseFactor:      2.5,
		NextReviewAt:    domain.Day(at).AddDate(0, 0, 1),
		LastReviewedAt:  &at,
		FirstReviewedAt: at,
	}
}

func TestStoreConditionalUpsert(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	t0 := time.Date(2026, time.January, 5, 8, 0, 0, 0, time.UTC)
	t1 := t0.Add(24 * time.Hour)

	first := rated("c", t0, 1)
	if err := s.Upsert(ctx, nil, first); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := s.Upsert(ctx, nil, rated("c", t1, 1)); !errors.Is(err, storage.ErrConflict) {
		t.Errorf("second insert error = %v, want ErrConflict", err)
	}

	second := rated("c", t1, 2)
	if err := s.Upsert(ctx, &first, second); err != nil {
		t.Fatalf("Upsert with matching prior: %v", err)
	}
	if err := s.Upsert(ctx, &first, rated("c", t1, 3)); !errors.Is(err, storage.ErrConflict) {
		t.Errorf("stale prior error = %v, want ErrConflict", err)
	}

	got, _ := s.Get(ctx, "learner-1", "c")
	if got.Repetitions != 2 || !got.FirstReviewedAt.Equal(t0) {
		t.Errorf("stored %+v", got)
	}

	// Returned records are copies.
	*got.LastReviewedAt = t0.AddDate(1, 0, 0)
	again, _ := s.Get(ctx, "learner-1", "c")
	if !again.LastReviewedAt.Equal(t1) {
		t.Error("caller mutated stored state through a returned pointer")
	}
}

func TestStoreHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewStore().Get(ctx, "l", "c"); !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestCatalogOrdersByCreation(t *testing.T) {
	base := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
	c := NewCatalog(
		domain.Card{ID: "b", CreatedAt: base.AddDate(0, 0, 2)},
		domain.Card{ID: "a", CreatedAt: base.AddDate(0, 0, 2)},
	)
	c.Add(domain.Card{ID: "z", CreatedAt: base})

	cards, err := c.ListEligible(context.Background())
	if err != nil {
		t.Fatalf("ListEligible: %v", err)
	}
	var ids []string
	for _, card := range cards {
		ids = append(ids, card.ID)
	}
	if len(ids) != 3 || ids[0] != "z" || ids[1] != "a" || ids[2] != "b" {
		t.Errorf("order = %v, want [z a b]", ids)
	}
}
