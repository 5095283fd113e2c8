package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/conorfennell/recall/internal/domain"
)

var reviewedAt = time.Date(2026, time.February, 22, 16, 40, 0, 0, time.UTC)

func openTempDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "recall.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func firstState(cardID string, at time.Time) domain.ReviewState {
	return domain.ReviewState{
		LearnerID:       "learner-1",
		CardID:          cardID,
		Repetitions:     1,
		IntervalDays:    1,
		EaseFactor:      2.6,
		NextReviewAt:    domain.Day(at).AddDate(0, 0, 1),
		LastReviewedAt:  &at,
		FirstReviewedAt: at,
	}
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open(""); err == nil {
		t.Fatal("expected empty path error")
	}
}

func TestReviewStateRoundTrip(t *testing.T) {
	db := openTempDB(t)
	ctx := context.Background()

	got, err := db.Get(ctx, "learner-1", "card-1")
	if err != nil || got != nil {
		t.Fatalf("Get on empty store = %v, %v; want nil, nil", got, err)
	}

	rs := firstState("card-1", reviewedAt)
	if err := db.Upsert(ctx, nil, rs); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	got, err = db.Get(ctx, "learner-1", "card-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Repetitions != 1 || got.IntervalDays != 1 || got.EaseFactor != 2.6 {
		t.Errorf("scheduling fields = %+v", got)
	}
	if !got.NextReviewAt.Equal(rs.NextReviewAt) {
		t.Errorf("next review = %v, want %v", got.NextReviewAt, rs.NextReviewAt)
	}
	if got.LastReviewedAt == nil || !got.LastReviewedAt.Equal(reviewedAt) {
		t.Errorf("last reviewed = %v, want %v", got.LastReviewedAt, reviewedAt)
	}
	if !got.FirstReviewedAt.Equal(reviewedAt) {
		t.Errorf("first reviewed = %v, want %v", got.FirstReviewedAt, reviewedAt)
	}
}

func TestUpsertConflicts(t *testing.T) {
	db := openTempDB(t)
	ctx := context.Background()

	first := firstState("card-1", reviewedAt)
	if err := db.Upsert(ctx, nil, first); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	t.Run("second insert", func(t *testing.T) {
		if err := db.Upsert(ctx, nil, firstState("card-1", reviewedAt.Add(time.Hour))); !errors.Is(err, ErrConflict) {
			t.Errorf("error = %v, want ErrConflict", err)
		}
	})

	later := reviewedAt.AddDate(0, 0, 1)
	second := first
	second.Repetitions = 2
	second.IntervalDays = 6
	second.EaseFactor = 2.7
	second.NextReviewAt = domain.Day(later).AddDate(0, 0, 6)
	second.LastReviewedAt = &later
	second.FirstReviewedAt = later

	t.Run("matching prior", func(t *testing.T) {
		if err := db.Upsert(ctx, &first, second); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
		got, _ := db.Get(ctx, "learner-1", "card-1")
		if got.Repetitions != 2 || !got.LastReviewedAt.Equal(later) {
			t.Errorf("stored %+v", got)
		}
		if !got.FirstReviewedAt.Equal(reviewedAt) {
			t.Errorf("first reviewed changed to %v", got.FirstReviewedAt)
		}
	})

	t.Run("stale prior", func(t *testing.T) {
		if err := db.Upsert(ctx, &first, second); !errors.Is(err, ErrConflict) {
			t.Errorf("error = %v, want ErrConflict", err)
		}
	})
}

func TestUpsertRejectsInvalidState(t *testing.T) {
	db := openTempDB(t)
	ctx := context.Background()

	testCases := []struct {
		name  string
		tweak func(rs *domain.ReviewState)
	}{
		{"ease below floor", func(rs *domain.ReviewState) { rs.EaseFactor = 1.2 }},
		{"zero interval", func(rs *domain.ReviewState) { rs.IntervalDays = 0 }},
		{"negative repetitions", func(rs *domain.ReviewState) { rs.Repetitions = -1 }},
		{"due before review", func(rs *domain.ReviewState) { rs.NextReviewAt = reviewedAt.AddDate(0, 0, -1) }},
		{"missing review time", func(rs *domain.ReviewState) { rs.LastReviewedAt = nil }},
		{"missing learner", func(rs *domain.ReviewState) { rs.LearnerID = "" }},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rs := firstState("card-x", reviewedAt)
			tc.tweak(&rs)
			if err := db.Upsert(ctx, nil, rs); !errors.Is(err, ErrInvalidState) {
				t.Errorf("error = %v, want ErrInvalidState", err)
			}
		})
	}

	if got, _ := db.Get(ctx, "learner-1", "card-x"); got != nil {
		t.Errorf("invalid state was persisted: %+v", got)
	}
}

func TestListForLearner(t *testing.T) {
	db := openTempDB(t)
	ctx := context.Background()

	for _, id := range []string{"b", "a", "c"} {
		if err := db.Upsert(ctx, nil, firstState(id, reviewedAt)); err != nil {
			t.Fatalf("Upsert %s: %v", id, err)
		}
	}
	other := firstState("a", reviewedAt)
	other.LearnerID = "learner-2"
	if err := db.Upsert(ctx, nil, other); err != nil {
		t.Fatalf("Upsert other learner: %v", err)
	}

	states, err := db.ListForLearner(ctx, "learner-1")
	if err != nil {
		t.Fatalf("ListForLearner: %v", err)
	}
	if len(states) != 3 {
		t.Fatalf("got %d states, want 3", len(states))
	}
	if states[0].CardID != "a" || states[2].CardID != "c" {
		t.Errorf("order = %s,%s,%s", states[0].CardID, states[1].CardID, states[2].CardID)
	}
}

func TestCatalog(t *testing.T) {
	db := openTempDB(t)
	ctx := context.Background()

	src, err := db.InsertSource(ctx, "/decks/math", "local")
	if err != nil {
		t.Fatalf("InsertSource: %v", err)
	}
	cards := []domain.Card{
		{ID: "young", Question: "Q2", CreatedAt: reviewedAt},
		{ID: "old", Question: "Q1", Answer: "A1", CreatedAt: reviewedAt.AddDate(0, -1, 0)},
	}
	for _, c := range cards {
		if err := db.InsertCard(ctx, c, src); err != nil {
			t.Fatalf("InsertCard: %v", err)
		}
	}

	eligible, err := db.ListEligible(ctx)
	if err != nil {
		t.Fatalf("ListEligible: %v", err)
	}
	if len(eligible) != 2 || eligible[0].ID != "old" || eligible[0].Answer != "A1" {
		t.Fatalf("eligible = %+v", eligible)
	}

	if err := db.UnpublishCard(ctx, "old"); err != nil {
		t.Fatalf("UnpublishCard: %v", err)
	}
	eligible, _ = db.ListEligible(ctx)
	if len(eligible) != 1 || eligible[0].ID != "young" {
		t.Errorf("eligible after unpublish = %+v", eligible)
	}

	// Seeing the card again republishes it with its original creation time.
	if err := db.InsertCard(ctx, domain.Card{ID: "old", Question: "Q1", CreatedAt: reviewedAt.AddDate(0, 1, 0)}, src); err != nil {
		t.Fatalf("InsertCard again: %v", err)
	}
	found, err := db.FindCardByID(ctx, "old")
	if err != nil || found == nil {
		t.Fatalf("FindCardByID = %v, %v", found, err)
	}
	if !found.Published || !found.CreatedAt.Equal(reviewedAt.AddDate(0, -1, 0)) {
		t.Errorf("republished card = %+v", found)
	}

	if err := db.DeleteSource(ctx, src); err != nil {
		t.Fatalf("DeleteSource: %v", err)
	}
	eligible, _ = db.ListEligible(ctx)
	if len(eligible) != 0 {
		t.Errorf("cards of deleted source still eligible: %+v", eligible)
	}
	sources, _ := db.GetAllSources(ctx)
	if len(sources) != 0 {
		t.Errorf("sources after delete = %+v", sources)
	}
}

func TestSources(t *testing.T) {
	db := openTempDB(t)
	ctx := context.Background()

	id, err := db.InsertSource(ctx, "https://example.com/decks.git", "git")
	if err != nil {
		t.Fatalf("InsertSource: %v", err)
	}
	if _, err := db.InsertSource(ctx, "https://example.com/decks.git", "git"); err == nil {
		t.Error("expected duplicate path error")
	}
	if err := db.UpdateSourceLastScanned(ctx, id, reviewedAt); err != nil {
		t.Fatalf("UpdateSourceLastScanned: %v", err)
	}
	s, err := db.FindSourceByPath(ctx, "https://example.com/decks.git")
	if err != nil || s == nil {
		t.Fatalf("FindSourceByPath = %v, %v", s, err)
	}
	if s.Type != "git" || s.LastScanned == nil || !s.LastScanned.Equal(reviewedAt) {
		t.Errorf("source = %+v", s)
	}
	if missing, err := db.FindSourceByPath(ctx, "/nowhere"); missing != nil || err != nil {
		t.Errorf("FindSourceByPath(missing) = %v, %v", missing, err)
	}
}

func TestReviewHistory(t *testing.T) {
	db := openTempDB(t)
	ctx := context.Background()

	for i, q := range []domain.Quality{domain.Forgot, domain.Almost, domain.Remembered} {
		entry := domain.ReviewLog{LearnerID: "learner-1", CardID: "c", Quality: q, ReviewedAt: reviewedAt.Add(time.Duration(i) * time.Minute)}
		if err := db.AppendReview(ctx, entry); err != nil {
			t.Fatalf("AppendReview: %v", err)
		}
	}
	logs, err := db.ReviewHistory(ctx, "learner-1", 2)
	if err != nil {
		t.Fatalf("ReviewHistory: %v", err)
	}
	if len(logs) != 2 || logs[0].Quality != domain.Remembered || logs[1].Quality != domain.Almost {
		t.Errorf("history = %+v", logs)
	}
}

func TestClosedDatabaseIsUnavailable(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "closed.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	_ = db.Close()
	if _, err := db.Get(context.Background(), "l", "c"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("error = %v, want ErrUnavailable", err)
	}
}
