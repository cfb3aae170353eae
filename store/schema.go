package store

import "fmt"

// schemaSQL returns the DDL for all tables. embeddingDim controls the
// vec0 virtual table dimension and must match the configured embedding model.
func schemaSQL(embeddingDim int) string {
	return fmt.Sprintf(`
-- Parent legal documents (acts, SIs, constitution, judgments), immutable
-- per version and fetched by key during small-to-big expansion.
CREATE TABLE IF NOT EXISTS parent_documents (
    parent_doc_id TEXT PRIMARY KEY,
    doc_type TEXT NOT NULL,
    title TEXT NOT NULL,
    canonical_citation TEXT,
    language TEXT NOT NULL DEFAULT 'en',
    jurisdiction TEXT NOT NULL DEFAULT 'ZW',
    version_effective_date TEXT,
    source_url TEXT,
    content_tree JSON,
    markdown TEXT,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Content-addressed chunks produced by upstream ingestion.
-- chunk_id is the 16-hex hash of (parent_doc_id, section_path,
-- start_char, end_char, normalized text).
CREATE TABLE IF NOT EXISTS chunks (
    id INTEGER PRIMARY KEY,
    chunk_id TEXT NOT NULL UNIQUE,
    parent_doc_id TEXT NOT NULL REFERENCES parent_documents(parent_doc_id) ON DELETE CASCADE,
    text TEXT NOT NULL,
    doc_type TEXT NOT NULL,
    section_path TEXT,
    start_char INTEGER NOT NULL DEFAULT 0,
    end_char INTEGER NOT NULL DEFAULT 0,
    num_tokens INTEGER,
    language TEXT,
    date_context TEXT,
    entities JSON,
    source_url TEXT,
    metadata JSON
);

-- Vector embeddings via sqlite-vec
CREATE VIRTUAL TABLE IF NOT EXISTS vec_chunks USING vec0(
    chunk_rowid INTEGER PRIMARY KEY,
    embedding float[%d]
);

-- Full-text search via FTS5
CREATE VIRTUAL TABLE IF NOT EXISTS chunks_fts USING fts5(
    text,
    section_path,
    content='chunks',
    content_rowid='id',
    tokenize='porter unicode61'
);

-- FTS triggers to keep index in sync
CREATE TRIGGER IF NOT EXISTS chunks_ai AFTER INSERT ON chunks BEGIN
    INSERT INTO chunks_fts(rowid, text, section_path) VALUES (new.id, new.text, new.section_path);
END;
CREATE TRIGGER IF NOT EXISTS chunks_ad AFTER DELETE ON chunks BEGIN
    INSERT INTO chunks_fts(chunks_fts, rowid, text, section_path) VALUES ('delete', old.id, old.text, old.section_path);
END;
CREATE TRIGGER IF NOT EXISTS chunks_au AFTER UPDATE ON chunks BEGIN
    INSERT INTO chunks_fts(chunks_fts, rowid, text, section_path) VALUES ('delete', old.id, old.text, old.section_path);
    INSERT INTO chunks_fts(chunks_fts, rowid, text, section_path) VALUES (new.id, new.text, new.section_path);
END;

-- Long-term memory: per-user aggregated profile. Scalar fields are
-- last-write-wins; area counts live in user_area_frequency so increments
-- stay commutative under concurrent sessions.
CREATE TABLE IF NOT EXISTS user_profiles (
    user_id TEXT PRIMARY KEY,
    expertise_level TEXT NOT NULL DEFAULT 'unknown',
    typical_complexity TEXT NOT NULL DEFAULT 'simple',
    query_count INTEGER NOT NULL DEFAULT 0,
    pending_expertise TEXT NOT NULL DEFAULT '',
    pending_streak INTEGER NOT NULL DEFAULT 0,
    last_seen_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS user_area_frequency (
    user_id TEXT NOT NULL,
    area TEXT NOT NULL,
    count INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (user_id, area)
);

-- Answered-query log for offline evaluation and analytics handoff.
CREATE TABLE IF NOT EXISTS query_log (
    id INTEGER PRIMARY KEY,
    request_id TEXT,
    trace_id TEXT,
    query TEXT NOT NULL,
    rewritten_query TEXT,
    intent TEXT,
    complexity TEXT,
    user_type TEXT,
    tldr TEXT,
    confidence REAL,
    source TEXT,
    citations JSON,
    prompt_tokens INTEGER,
    completion_tokens INTEGER,
    total_tokens INTEGER,
    elapsed_ms INTEGER,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_chunks_parent ON chunks(parent_doc_id);
CREATE INDEX IF NOT EXISTS idx_query_log_created ON query_log(created_at);
`, embeddingDim)
}
