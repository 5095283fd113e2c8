package catalog

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/conorfennell/recall/internal/domain"
	"github.com/conorfennell/recall/internal/storage"
)

const (
	SourceLocal = "local"
	SourceGit   = "git"
)

// Repository is the part of the database the syncer writes to.
type Repository interface {
	InsertSource(ctx context.Context, path, sourceType string) (int64, error)
	FindSourceByPath(ctx context.Context, path string) (*storage.Source, error)
	GetAllSources(ctx context.Context) ([]storage.Source, error)
	UpdateSourceLastScanned(ctx context.Context, sourceID int64, at time.Time) error
	InsertCard(ctx context.Context, card domain.Card, sourceID int64) error
	FindCardByID(ctx context.Context, id string) (*storage.CatalogCard, error)
	GetCardsBySourceID(ctx context.Context, sourceID int64) ([]storage.CatalogCard, error)
	UnpublishCard(ctx context.Context, id string) error
}

// Syncer reconciles sources into the catalog.
type Syncer struct {
	repo     Repository
	reposDir string
	logger   *slog.Logger
	now      func() time.Time
}

// NewSyncer returns a Syncer that checks git sources out under reposDir.
func NewSyncer(repo Repository, reposDir string, logger *slog.Logger) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{repo: repo, reposDir: reposDir, logger: logger, now: time.Now}
}

// Report summarises a reconciliation.
type Report struct {
	Sources     int
	Parsed      int
	Added       int
	Unpublished int
	Errors      []error
}

func (r *Report) merge(o Report) {
	r.Parsed += o.Parsed
	r.Added += o.Added
	r.Unpublished += o.Unpublished
	r.Errors = append(r.Errors, o.Errors...)
}

// AddSource registers a local directory or git URL. Adding a known source
// returns the existing record.
func (s *Syncer) AddSource(ctx context.Context, path string) (storage.Source, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return storage.Source{}, fmt.Errorf("source path is required")
	}

	sourceType := SourceLocal
	if IsGitURL(path) {
		sourceType = SourceGit
		if _, err := CheckoutPath(s.reposDir, path); err != nil {
			return storage.Source{}, err
		}
	} else {
		abs, err := filepath.Abs(path)
		if err != nil {
			return storage.Source{}, fmt.Errorf("resolve source path %s: %w", path, err)
		}
		info, err := os.Stat(abs)
		if err != nil {
			return storage.Source{}, fmt.Errorf("source path %s: %w", abs, err)
		}
		if !info.IsDir() {
			return storage.Source{}, fmt.Errorf("source path %s is not a directory", abs)
		}
		path = abs
	}

	existing, err := s.repo.FindSourceByPath(ctx, path)
	if err != nil {
		return storage.Source{}, err
	}
	if existing != nil {
		return *existing, nil
	}

	id, err := s.repo.InsertSource(ctx, path, sourceType)
	if err != nil {
		return storage.Source{}, err
	}
	s.logger.Info("source added", "id", id, "type", sourceType, "path", path)
	return storage.Source{ID: id, Path: path, Type: sourceType}, nil
}

// RunSync iterates over all sources and reconciles them. Failures of a
// single source are collected in the report; only a failure to list the
// sources aborts the run.
func (s *Syncer) RunSync(ctx context.Context) (Report, error) {
	s.logger.Info("starting sync")
	sources, err := s.repo.GetAllSources(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("failed to get sources: %w", err)
	}

	report := Report{Sources: len(sources)}
	if len(sources) == 0 {
		s.logger.Info("no sources configured, add one with --add-source <path/or/url.git>")
		return report, nil
	}

	for _, source := range sources {
		s.logger.Info("syncing source", "id", source.ID, "type", source.Type, "path", source.Path)

		dir := source.Path
		if source.Type == SourceGit {
			dir, err = CheckoutPath(s.reposDir, source.Path)
			if err == nil {
				err = SyncGit(ctx, s.logger, source.Path, dir)
			}
			if err != nil {
				s.logger.Error("error syncing git repo", "url", source.Path, "error", err)
				report.Errors = append(report.Errors, err)
				continue
			}
		}

		r, err := s.ReconcileSource(ctx, source, dir)
		if err != nil {
			s.logger.Error("error reconciling source", "path", source.Path, "error", err)
			report.Errors = append(report.Errors, err)
		}
		report.merge(r)
	}

	s.logger.Info("sync complete",
		"sources", report.Sources,
		"added", report.Added,
		"unpublished", report.Unpublished,
		"errors", len(report.Errors),
	)
	return report, nil
}

// ReconcileSource parses every markdown file under dir, publishes cards not
// yet in the catalog and unpublishes the source's cards that disappeared.
func (s *Syncer) ReconcileSource(ctx context.Context, source storage.Source, dir string) (Report, error) {
	var report Report
	found := make(map[string]bool)
	// Cards seen in one pass get increasing creation times so new-card
	// order follows the order they are written in.
	base := s.now()
	seq := 0

	walkErr := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(strings.ToLower(d.Name()), ".md") {
			return nil
		}

		cards, parseErr := ParseFile(path)
		if parseErr != nil {
			report.Errors = append(report.Errors, fmt.Errorf("parsing %s: %w", path, parseErr))
		}
		for _, card := range cards {
			report.Parsed++
			if found[card.ID] {
				continue
			}
			found[card.ID] = true

			existing, err := s.repo.FindCardByID(ctx, card.ID)
			if err != nil {
				return err
			}
			if existing != nil && existing.Published {
				continue
			}
			card.CreatedAt = base.Add(time.Duration(seq) * time.Millisecond)
			seq++
			if err := s.repo.InsertCard(ctx, card, source.ID); err != nil {
				return err
			}
			s.logger.Debug("card published", "id", card.ID)
			report.Added++
		}
		return nil
	})
	if walkErr != nil {
		return report, fmt.Errorf("walking %s: %w", dir, walkErr)
	}

	known, err := s.repo.GetCardsBySourceID(ctx, source.ID)
	if err != nil {
		return report, err
	}
	for _, c := range known {
		if found[c.ID] {
			continue
		}
		if err := s.repo.UnpublishCard(ctx, c.ID); err != nil {
			s.logger.Warn("failed to unpublish orphaned card", "id", c.ID, "error", err)
			continue
		}
		s.logger.Info("orphaned card unpublished", "id", c.ID)
		report.Unpublished++
	}

	if err := s.repo.UpdateSourceLastScanned(ctx, source.ID, s.now()); err != nil {
		s.logger.Warn("failed to update last scanned for source", "source_id", source.ID, "error", err)
	}

	s.logger.Info("reconciliation complete",
		"path", dir,
		"parsed_cards", report.Parsed,
		"added", report.Added,
		"unpublished", report.Unpublished,
		"errors", len(report.Errors),
	)
	return report, nil
}
