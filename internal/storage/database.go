package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/conorfennell/recall/internal/domain"
	_ "modernc.org/sqlite" // Registers the sqlite driver
)

// DB represents a wrapper around the SQL database connection. It implements
// Store, Catalog and ReviewLogger.
type DB struct {
	conn *sql.DB
}

var (
	_ Store        = (*DB)(nil)
	_ Catalog      = (*DB)(nil)
	_ ReviewLogger = (*DB)(nil)
)

// Open creates a new database connection and ensures the schema is up to date.
func Open(path string) (*DB, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("database path is required")
	}
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows one writer; a single connection keeps conditional
	// writes from failing with SQLITE_BUSY.
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Execute the schema to create tables if they don't exist.
	if _, err := conn.Exec(schema); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &DB{conn: conn}, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(v int64) time.Time {
	return time.UnixMilli(v).UTC()
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(*t), Valid: true}
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}

const reviewStateColumns = `learner_id, card_id, repetitions, interval_days, ease_factor,
	next_review_at, last_reviewed_at, first_reviewed_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanReviewState(row scanner) (domain.ReviewState, error) {
	var (
		rs           domain.ReviewState
		nextReview   int64
		lastReviewed sql.NullInt64
		firstReview  int64
	)
	err := row.Scan(
		&rs.LearnerID,
		&rs.CardID,
		&rs.Repetitions,
		&rs.IntervalDays,
		&rs.EaseFactor,
		&nextReview,
		&lastReviewed,
		&firstReview,
	)
	if err != nil {
		return domain.ReviewState{}, err
	}
	rs.NextReviewAt = fromMillis(nextReview)
	rs.FirstReviewedAt = fromMillis(firstReview)
	if lastReviewed.Valid {
		t := fromMillis(lastReviewed.Int64)
		rs.LastReviewedAt = &t
	}
	return rs, nil
}

// Get retrieves a learner's review state for a card, or nil if there is none.
func (db *DB) Get(ctx context.Context, learnerID, cardID string) (*domain.ReviewState, error) {
	row := db.conn.QueryRowContext(ctx, `
		SELECT `+reviewStateColumns+`
		FROM review_states WHERE learner_id = ? AND card_id = ?
	`, learnerID, cardID)

	rs, err := scanReviewState(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Never reviewed
		}
		return nil, unavailable(fmt.Sprintf("get review state %s/%s", learnerID, cardID), err)
	}
	return &rs, nil
}

// ListForLearner retrieves all review states of a learner.
func (db *DB) ListForLearner(ctx context.Context, learnerID string) ([]domain.ReviewState, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT `+reviewStateColumns+`
		FROM review_states WHERE learner_id = ?
		ORDER BY next_review_at, card_id
	`, learnerID)
	if err != nil {
		return nil, unavailable("list review states for "+learnerID, err)
	}
	defer rows.Close()

	var states []domain.ReviewState
	for rows.Next() {
		rs, err := scanReviewState(rows)
		if err != nil {
			return nil, unavailable("scan review state", err)
		}
		states = append(states, rs)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list review states for "+learnerID, err)
	}
	return states, nil
}

// Upsert writes next if the stored record still matches prior.
func (db *DB) Upsert(ctx context.Context, prior *domain.ReviewState, next domain.ReviewState) error {
	if err := CheckUpsert(prior, next); err != nil {
		return err
	}

	var (
		res sql.Result
		err error
	)
	if prior == nil {
		res, err = db.conn.ExecContext(ctx, `
			INSERT INTO review_states (`+reviewStateColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (learner_id, card_id) DO NOTHING
		`,
			next.LearnerID,
			next.CardID,
			next.Repetitions,
			next.IntervalDays,
			next.EaseFactor,
			toMillis(next.NextReviewAt),
			nullMillis(next.LastReviewedAt),
			toMillis(next.FirstReviewedAt),
		)
	} else {
		res, err = db.conn.ExecContext(ctx, `
			UPDATE review_states
			SET repetitions = ?, interval_days = ?, ease_factor = ?, next_review_at = ?, last_reviewed_at = ?
			WHERE learner_id = ? AND card_id = ? AND last_reviewed_at IS ?
		`,
			next.Repetitions,
			next.IntervalDays,
			next.EaseFactor,
			toMillis(next.NextReviewAt),
			nullMillis(next.LastReviewedAt),
			next.LearnerID,
			next.CardID,
			nullMillis(prior.LastReviewedAt),
		)
	}
	if err != nil {
		return unavailable(fmt.Sprintf("upsert review state %s/%s", next.LearnerID, next.CardID), err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return unavailable("upsert rows affected", err)
	}
	if n == 0 {
		return fmt.Errorf("upsert review state %s/%s: %w", next.LearnerID, next.CardID, ErrConflict)
	}
	return nil
}

// AppendReview records a rating in the review history.
func (db *DB) AppendReview(ctx context.Context, entry domain.ReviewLog) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO review_log (learner_id, card_id, quality, reviewed_at)
		VALUES (?, ?, ?, ?)
	`, entry.LearnerID, entry.CardID, int(entry.Quality), toMillis(entry.ReviewedAt))
	if err != nil {
		return unavailable("append review for "+entry.CardID, err)
	}
	return nil
}

// ReviewHistory returns a learner's most recent ratings, newest first.
func (db *DB) ReviewHistory(ctx context.Context, learnerID string, limit int) ([]domain.ReviewLog, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT learner_id, card_id, quality, reviewed_at
		FROM review_log WHERE learner_id = ?
		ORDER BY reviewed_at DESC, id DESC
		LIMIT ?
	`, learnerID, limit)
	if err != nil {
		return nil, unavailable("review history for "+learnerID, err)
	}
	defer rows.Close()

	var logs []domain.ReviewLog
	for rows.Next() {
		var (
			l        domain.ReviewLog
			quality  int
			reviewed int64
		)
		if err := rows.Scan(&l.LearnerID, &l.CardID, &quality, &reviewed); err != nil {
			return nil, unavailable("scan review log", err)
		}
		l.Quality = domain.Quality(quality)
		l.ReviewedAt = fromMillis(reviewed)
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
