package storage

// Timestamps are stored as UTC unix milliseconds.
const schema = `
-- The 'cards' table is the content catalog: every flashcard ever seen in a source.
CREATE TABLE IF NOT EXISTS cards (
    id TEXT PRIMARY KEY,            -- content hash
    question TEXT NOT NULL,
    answer TEXT NOT NULL DEFAULT '',
    context TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL,
    published INTEGER NOT NULL DEFAULT 1,
    source_id INTEGER
);

CREATE INDEX IF NOT EXISTS cards_published_created ON cards (published, created_at, id);

-- The 'sources' table tracks where cards come from, either a local directory or a git repository.
CREATE TABLE IF NOT EXISTS sources (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    path TEXT NOT NULL UNIQUE,
    type TEXT NOT NULL DEFAULT 'local', -- 'local' or 'git'
    last_scanned INTEGER
);

-- One scheduling record per learner and card.
CREATE TABLE IF NOT EXISTS review_states (
    learner_id TEXT NOT NULL,
    card_id TEXT NOT NULL,
    repetitions INTEGER NOT NULL CHECK (repetitions >= 0),
    interval_days INTEGER NOT NULL CHECK (interval_days >= 1),
    ease_factor REAL NOT NULL CHECK (ease_factor >= 1.3),
    next_review_at INTEGER NOT NULL,
    last_reviewed_at INTEGER,
    first_reviewed_at INTEGER NOT NULL,

    PRIMARY KEY (learner_id, card_id)
);

-- Append-only rating history.
CREATE TABLE IF NOT EXISTS review_log (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    learner_id TEXT NOT NULL,
    card_id TEXT NOT NULL,
    quality INTEGER NOT NULL,
    reviewed_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS review_log_learner ON review_log (learner_id, reviewed_at);
`
