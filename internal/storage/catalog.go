package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/conorfennell/recall/internal/domain"
)

// Source represents a card source, either a local path or a Git URL.
type Source struct {
	ID          int64
	Path        string
	Type        string // "local" or "git"
	LastScanned *time.Time
}

// CatalogCard is a catalog row: the card plus its bookkeeping.
type CatalogCard struct {
	domain.Card
	Published bool
	SourceID  sql.NullInt64
}

const cardColumns = `id, question, answer, context, created_at, published, source_id`

func scanCard(row scanner) (CatalogCard, error) {
	var (
		c       CatalogCard
		created int64
	)
	err := row.Scan(&c.ID, &c.Question, &c.Answer, &c.Context, &created, &c.Published, &c.SourceID)
	if err != nil {
		return CatalogCard{}, err
	}
	c.CreatedAt = fromMillis(created)
	return c, nil
}

// InsertCard inserts a new published card into the catalog. A card whose
// content hash is already known keeps its original creation time.
func (db *DB) InsertCard(ctx context.Context, card domain.Card, sourceID int64) error {
	if card.CreatedAt.IsZero() {
		card.CreatedAt = time.Now()
	}
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO cards (`+cardColumns+`)
		VALUES (?, ?, ?, ?, ?, 1, ?)
		ON CONFLICT (id) DO UPDATE SET published = 1, source_id = excluded.source_id
	`,
		card.ID,
		card.Question,
		card.Answer,
		card.Context,
		toMillis(card.CreatedAt),
		sourceID,
	)
	if err != nil {
		return unavailable("insert card "+card.ID, err)
	}
	return nil
}

// FindCardByID retrieves a catalog card, or nil if it does not exist.
func (db *DB) FindCardByID(ctx context.Context, id string) (*CatalogCard, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+cardColumns+` FROM cards WHERE id = ?`, id)
	c, err := scanCard(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Card not found
		}
		return nil, unavailable("find card "+id, err)
	}
	return &c, nil
}

// ListEligible returns published cards, oldest first.
func (db *DB) ListEligible(ctx context.Context) ([]domain.Card, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT `+cardColumns+`
		FROM cards WHERE published = 1
		ORDER BY created_at, id
	`)
	if err != nil {
		return nil, unavailable("list eligible cards", err)
	}
	defer rows.Close()

	var cards []domain.Card
	for rows.Next() {
		c, err := scanCard(rows)
		if err != nil {
			return nil, unavailable("scan card", err)
		}
		cards = append(cards, c.Card)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list eligible cards", err)
	}
	return cards, nil
}

// GetCardsBySourceID retrieves all published cards associated with a source.
func (db *DB) GetCardsBySourceID(ctx context.Context, sourceID int64) ([]CatalogCard, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT `+cardColumns+`
		FROM cards WHERE source_id = ? AND published = 1
	`, sourceID)
	if err != nil {
		return nil, unavailable(fmt.Sprintf("get cards for source %d", sourceID), err)
	}
	defer rows.Close()

	var cards []CatalogCard
	for rows.Next() {
		c, err := scanCard(rows)
		if err != nil {
			return nil, unavailable(fmt.Sprintf("scan card for source %d", sourceID), err)
		}
		cards = append(cards, c)
	}
	return cards, rows.Err()
}

// UnpublishCard retracts a card from the catalog. Review states that refer
// to it are left untouched.
func (db *DB) UnpublishCard(ctx context.Context, id string) error {
	if _, err := db.conn.ExecContext(ctx, `UPDATE cards SET published = 0 WHERE id = ?`, id); err != nil {
		return unavailable("unpublish card "+id, err)
	}
	return nil
}

func scanSource(row scanner) (Source, error) {
	var (
		s       Source
		scanned sql.NullInt64
	)
	if err := row.Scan(&s.ID, &s.Path, &s.Type, &scanned); err != nil {
		return Source{}, err
	}
	if scanned.Valid {
		t := fromMillis(scanned.Int64)
		s.LastScanned = &t
	}
	return s, nil
}

// InsertSource inserts a new source path into the database and returns its ID.
func (db *DB) InsertSource(ctx context.Context, path, sourceType string) (int64, error) {
	res, err := db.conn.ExecContext(ctx, `
		INSERT INTO sources (path, type)
		VALUES (?, ?)
	`, path, sourceType)
	if err != nil {
		return 0, unavailable("insert source "+path, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, unavailable("last insert id for source "+path, err)
	}
	return id, nil
}

// FindSourceByPath retrieves a source by its path, or nil if unknown.
func (db *DB) FindSourceByPath(ctx context.Context, path string) (*Source, error) {
	row := db.conn.QueryRowContext(ctx, `
		SELECT id, path, type, last_scanned
		FROM sources WHERE path = ?
	`, path)
	s, err := scanSource(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Source not found
		}
		return nil, unavailable("find source "+path, err)
	}
	return &s, nil
}

// GetAllSources retrieves all stored sources.
func (db *DB) GetAllSources(ctx context.Context) ([]Source, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, path, type, last_scanned
		FROM sources ORDER BY id
	`)
	if err != nil {
		return nil, unavailable("get all sources", err)
	}
	defer rows.Close()

	var sources []Source
	for rows.Next() {
		s, err := scanSource(rows)
		if err != nil {
			return nil, unavailable("scan source", err)
		}
		sources = append(sources, s)
	}
	return sources, rows.Err()
}

// UpdateSourceLastScanned updates the last_scanned timestamp for a source.
func (db *DB) UpdateSourceLastScanned(ctx context.Context, sourceID int64, at time.Time) error {
	_, err := db.conn.ExecContext(ctx, `
		UPDATE sources SET last_scanned = ? WHERE id = ?
	`, toMillis(at), sourceID)
	if err != nil {
		return unavailable(fmt.Sprintf("update last scanned for source %d", sourceID), err)
	}
	return nil
}

// DeleteSource removes a source and unpublishes the cards it provided.
func (db *DB) DeleteSource(ctx context.Context, sourceID int64) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("begin delete source", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		UPDATE cards SET published = 0, source_id = NULL WHERE source_id = ?
	`, sourceID); err != nil {
		return unavailable(fmt.Sprintf("unpublish cards of source %d", sourceID), err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sources WHERE id = ?`, sourceID); err != nil {
		return unavailable(fmt.Sprintf("delete source %d", sourceID), err)
	}
	if err := tx.Commit(); err != nil {
		return unavailable(fmt.Sprintf("commit delete source %d", sourceID), err)
	}
	return nil
}
