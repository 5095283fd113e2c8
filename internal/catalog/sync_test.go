package catalog

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/conorfennell/recall/internal/storage"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func writeDeck(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func newTestSyncer(t *testing.T) (*Syncer, *storage.DB) {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	s := NewSyncer(db, t.TempDir(), quiet)
	tick := time.Date(2026, time.April, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time {
		tick = tick.Add(time.Hour)
		return tick
	}
	return s, db
}

func TestSyncLocalSource(t *testing.T) {
	ctx := context.Background()
	s, db := newTestSyncer(t)
	deck := t.TempDir()
	writeDeck(t, deck, "derivasjon.md", "Q: (x^2)'\nA: 2x\n\nQ: (sin x)'\nA: cos x\n")
	writeDeck(t, deck, "notes.txt", "Q: ignored\nA: not markdown\n")

	src, err := s.AddSource(ctx, deck)
	if err != nil {
		t.Fatalf("AddSource: %v", err)
	}
	if src.Type != SourceLocal {
		t.Errorf("type = %s, want local", src.Type)
	}
	again, err := s.AddSource(ctx, deck)
	if err != nil || again.ID != src.ID {
		t.Errorf("adding the same source twice = %+v, %v", again, err)
	}

	report, err := s.RunSync(ctx)
	if err != nil {
		t.Fatalf("RunSync: %v", err)
	}
	if report.Added != 2 || report.Unpublished != 0 || len(report.Errors) != 0 {
		t.Errorf("first sync report = %+v", report)
	}

	cards, _ := db.ListEligible(ctx)
	if len(cards) != 2 || cards[0].Question != "(x^2)'" || cards[1].Question != "(sin x)'" {
		t.Fatalf("eligible after first sync = %+v", cards)
	}

	// Edit the deck: one card removed, one added.
	writeDeck(t, deck, "derivasjon.md", "Q: (x^2)'\nA: 2x\n\nQ: (e^x)'\nA: e^x\n")
	report, err = s.RunSync(ctx)
	if err != nil {
		t.Fatalf("RunSync: %v", err)
	}
	if report.Added != 1 || report.Unpublished != 1 {
		t.Errorf("second sync report = %+v", report)
	}

	cards, _ = db.ListEligible(ctx)
	if len(cards) != 2 || cards[0].Question != "(x^2)'" || cards[1].Question != "(e^x)'" {
		t.Errorf("eligible after second sync = %+v", cards)
	}

	sources, _ := db.GetAllSources(ctx)
	if len(sources) != 1 || sources[0].LastScanned == nil {
		t.Errorf("sources = %+v", sources)
	}
}

func TestAddSourceValidation(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestSyncer(t)

	if _, err := s.AddSource(ctx, "  "); err == nil {
		t.Error("expected error for empty path")
	}
	if _, err := s.AddSource(ctx, filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("expected error for missing directory")
	}
	if _, err := s.AddSource(ctx, "git@github.com:../../etc.git"); err == nil {
		t.Error("expected error for a git URL leaving the checkout directory")
	}
	src, err := s.AddSource(ctx, "git@github.com:ypsi/decks.git")
	if err != nil {
		t.Fatalf("AddSource(git): %v", err)
	}
	if src.Type != SourceGit {
		t.Errorf("type = %s, want git", src.Type)
	}
}

func TestRunSyncWithoutSources(t *testing.T) {
	s, _ := newTestSyncer(t)
	report, err := s.RunSync(context.Background())
	if err != nil || report.Sources != 0 {
		t.Errorf("RunSync() = %+v, %v", report, err)
	}
}

func TestCheckoutPath(t *testing.T) {
	testCases := []struct {
		remote   string
		expected string
		wantErr  bool
	}{
		{remote: "https://github.com/ypsi/decks.git", expected: filepath.Join("repos", "github.com", "ypsi", "decks")},
		{remote: "git@github.com:ypsi/decks.git", expected: filepath.Join("repos", "github.com", "ypsi", "decks")},
		{remote: "not a url", wantErr: true},
		{remote: "https://h/../../../tmp/decks.git", wantErr: true},
		{remote: "git@h:../../../tmp/decks.git", wantErr: true},
		{remote: "git@h:decks/../../other.git", wantErr: true},
		{remote: "https://h/decks/..%2F..%2Fother.git", wantErr: true},
	}
	for _, tc := range testCases {
		t.Run(tc.remote, func(t *testing.T) {
			got, err := CheckoutPath("repos", tc.remote)
			if tc.wantErr {
				if err == nil {
					t.Errorf("CheckoutPath(%q) = %q, want error", tc.remote, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("CheckoutPath(%q): %v", tc.remote, err)
			}
			if got != tc.expected {
				t.Errorf("CheckoutPath(%q) = %q, want %q", tc.remote, got, tc.expected)
			}
		})
	}
}
