package storage

const sqliteSchema = `
-- The 'sources' table tracks where grammar content comes from, a local directory or a git repository.
CREATE TABLE IF NOT EXISTS sources (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    path TEXT NOT NULL UNIQUE,
    type TEXT NOT NULL DEFAULT 'local',
    last_scanned DATETIME
);

-- The 'grammar' table stores grammar points keyed by their content hash.
CREATE TABLE IF NOT EXISTS grammar (
    id TEXT PRIMARY KEY,
    level TEXT NOT NULL DEFAULT '',
    usage TEXT NOT NULL,
    meaning TEXT NOT NULL DEFAULT '',
    context TEXT NOT NULL DEFAULT '',
    tags TEXT NOT NULL DEFAULT '[]',
    notes TEXT NOT NULL DEFAULT '',
    nuance TEXT NOT NULL DEFAULT '',
    examples TEXT NOT NULL DEFAULT '[]',
    source_id INTEGER,

    FOREIGN KEY(source_id) REFERENCES sources(id)
);

CREATE TABLE IF NOT EXISTS journal_entry (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    title TEXT NOT NULL,
    content TEXT NOT NULL,
    private BOOLEAN NOT NULL DEFAULT 0,
    created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS sentence (
    id TEXT PRIMARY KEY,
    journal_entry_id TEXT NOT NULL,
    position INTEGER NOT NULL,
    content TEXT NOT NULL,

    FOREIGN KEY(journal_entry_id) REFERENCES journal_entry(id)
);

CREATE TABLE IF NOT EXISTS tagged_sentence (
    sentence_id TEXT NOT NULL,
    grammar_id TEXT NOT NULL,

    PRIMARY KEY(sentence_id, grammar_id),
    FOREIGN KEY(sentence_id) REFERENCES sentence(id),
    FOREIGN KEY(grammar_id) REFERENCES grammar(id)
);

-- The 'srs' table holds one scheduling record per (user, grammar point).
CREATE TABLE IF NOT EXISTS srs (
    user_id TEXT NOT NULL,
    grammar_id TEXT NOT NULL,
    ease_factor REAL NOT NULL,
    interval_days INTEGER NOT NULL,
    repetition INTEGER NOT NULL,
    due_date DATETIME NOT NULL,
    last_reviewed DATETIME,
    version INTEGER NOT NULL DEFAULT 0,

    PRIMARY KEY(user_id, grammar_id),
    FOREIGN KEY(grammar_id) REFERENCES grammar(id)
);
`

const postgresSchema = `
CREATE TABLE IF NOT EXISTS sources (
    id BIGSERIAL PRIMARY KEY,
    path TEXT NOT NULL UNIQUE,
    type TEXT NOT NULL DEFAULT 'local',
    last_scanned TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS grammar (
    id TEXT PRIMARY KEY,
    level TEXT NOT NULL DEFAULT '',
    usage TEXT NOT NULL,
    meaning TEXT NOT NULL DEFAULT '',
    context TEXT NOT NULL DEFAULT '',
    tags TEXT NOT NULL DEFAULT '[]',
    notes TEXT NOT NULL DEFAULT '',
    nuance TEXT NOT NULL DEFAULT '',
    examples TEXT NOT NULL DEFAULT '[]',
    source_id BIGINT REFERENCES sources(id)
);

CREATE TABLE IF NOT EXISTS journal_entry (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    title TEXT NOT NULL,
    content TEXT NOT NULL,
    private BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS sentence (
    id TEXT PRIMARY KEY,
    journal_entry_id TEXT NOT NULL REFERENCES journal_entry(id),
    position INTEGER NOT NULL,
    content TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS tagged_sentence (
    sentence_id TEXT NOT NULL REFERENCES sentence(id),
    grammar_id TEXT NOT NULL REFERENCES grammar(id),
    PRIMARY KEY(sentence_id, grammar_id)
);

CREATE TABLE IF NOT EXISTS srs (
    user_id TEXT NOT NULL,
    grammar_id TEXT NOT NULL REFERENCES grammar(id),
    ease_factor DOUBLE PRECISION NOT NULL,
    interval_days INTEGER NOT NULL,
    repetition INTEGER NOT NULL,
    due_date TIMESTAMPTZ NOT NULL,
    last_reviewed TIMESTAMPTZ,
    version BIGINT NOT NULL DEFAULT 0,
    PRIMARY KEY(user_id, grammar_id)
);
`
