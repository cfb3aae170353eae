// Package store wraps the SQLite content store shared by the retrieval
// pipeline: parent legal documents, content-addressed chunks with FTS5 and
// sqlite-vec indexes, long-term user profiles, and the answered-query log.
package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

func init() {
	sqlite_vec.Auto()
}

// MaxChunkTextChars is the corpus content-length cap. Retrievers never
// return chunk text longer than this; inserts above the cap are rejected.
const MaxChunkTextChars = 5000

// Document type labels used across the corpus.
const (
	DocTypeAct          = "act"
	DocTypeSI           = "si"
	DocTypeConstitution = "constitution"
	DocTypeJudgment     = "judgment"
	DocTypeRegulation   = "regulation"
	DocTypeOther        = "other"
)

// ErrParentNotFound is returned when a parent document key is absent from
// the blob store. Callers treat this as a degradation, not a failure.
var ErrParentNotFound = errors.New("store: parent document not found")

// ErrChunkTooLarge is returned when an inserted chunk exceeds MaxChunkTextChars.
var ErrChunkTooLarge = errors.New("store: chunk text exceeds content-length cap")

// ParentDocument is an immutable versioned legal source document.
type ParentDocument struct {
	ParentDocID          string `json:"parent_doc_id"`
	DocType              string `json:"doc_type"`
	Title                string `json:"title"`
	CanonicalCitation    string `json:"canonical_citation,omitempty"`
	Language             string `json:"language"`
	Jurisdiction         string `json:"jurisdiction"`
	VersionEffectiveDate string `json:"version_effective_date,omitempty"`
	SourceURL            string `json:"source_url,omitempty"`
	ContentTree          string `json:"content_tree,omitempty"` // JSON section tree
	Markdown             string `json:"markdown,omitempty"`
}

// Chunk is a contiguous passage of a parent document, addressed by content hash.
type Chunk struct {
	ChunkID     string            `json:"chunk_id"`
	ParentDocID string            `json:"parent_doc_id"`
	Text        string            `json:"text"`
	DocType     string            `json:"doc_type"`
	SectionPath string            `json:"section_path,omitempty"`
	StartChar   int               `json:"start_char"`
	EndChar     int               `json:"end_char"`
	NumTokens   int               `json:"num_tokens,omitempty"`
	Language    string            `json:"language,omitempty"`
	DateContext string            `json:"date_context,omitempty"`
	Entities    []string          `json:"entities,omitempty"`
	SourceURL   string            `json:"source_url,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// RetrievalResult is a Chunk enriched with retrieval scoring. Score is the
// retriever's native score; Confidence is set after cross-encoder reranking
// (min-max normalized within the batch, in [0,1]).
type RetrievalResult struct {
	Chunk
	Score      float64 `json:"score"`
	Confidence float64 `json:"confidence,omitempty"`
	Retriever  string  `json:"retriever,omitempty"`
}

// UserProfile is the long-term memory record for one user. No raw query
// text is retained, only aggregates.
type UserProfile struct {
	UserID            string         `json:"user_id"`
	ExpertiseLevel    string         `json:"expertise_level"` // unknown, citizen, professional
	AreaFrequency     map[string]int `json:"area_frequency"`
	TypicalComplexity string         `json:"typical_complexity"`
	QueryCount        int            `json:"query_count"`
	PendingExpertise  string         `json:"pending_expertise,omitempty"`
	PendingStreak     int            `json:"pending_streak,omitempty"`
	LastSeenAt        time.Time      `json:"last_seen_at"`
}

// ProfilePatch is an incremental profile update. Counter fields are applied
// as SQL-side increments so concurrent sessions commute; scalar fields are
// last-write-wins.
type ProfilePatch struct {
	UserID            string
	AreasSeen         []string // each bumps user_area_frequency by 1
	TypicalComplexity string   // empty = leave unchanged
	ExpertiseLevel    string   // empty = leave unchanged
	PendingExpertise  string
	PendingStreak     int
	SetPending        bool // apply PendingExpertise/PendingStreak
}

// QueryLog is one answered query, recorded for offline evaluation.
type QueryLog struct {
	RequestID        string
	TraceID          string
	Query            string
	RewrittenQuery   string
	Intent           string
	Complexity       string
	UserType         string
	TLDR             string
	Confidence       float64
	Source           string
	Citations        any
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	ElapsedMs        int64
}

// Store wraps the SQLite database for all gweta persistence.
type Store struct {
	db           *sql.DB
	embeddingDim int
}

// New opens (or creates) a SQLite database at the given path and
// initialises the schema including sqlite-vec and FTS5 virtual tables.
func New(dbPath string, embeddingDim int) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if _, err := db.Exec(schemaSQL(embeddingDim)); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	// Connection pool settings for SQLite.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	return &Store{db: db, embeddingDim: embeddingDim}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// EmbeddingDim returns the configured embedding dimension.
func (s *Store) EmbeddingDim() int {
	return s.embeddingDim
}

// --- Parent document operations ---

// UpsertParent inserts or replaces a parent document by key.
func (s *Store) UpsertParent(ctx context.Context, doc ParentDocument) error {
	if doc.Jurisdiction == "" {
		doc.Jurisdiction = "ZW"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO parent_documents
			(parent_doc_id, doc_type, title, canonical_citation, language,
			 jurisdiction, version_effective_date, source_url, content_tree, markdown)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(parent_doc_id) DO UPDATE SET
			doc_type = excluded.doc_type,
			title = excluded.title,
			canonical_citation = excluded.canonical_citation,
			language = excluded.language,
			jurisdiction = excluded.jurisdiction,
			version_effective_date = excluded.version_effective_date,
			source_url = excluded.source_url,
			content_tree = excluded.content_tree,
			markdown = excluded.markdown
	`, doc.ParentDocID, doc.DocType, doc.Title, doc.CanonicalCitation, doc.Language,
		doc.Jurisdiction, doc.VersionEffectiveDate, doc.SourceURL, doc.ContentTree, doc.Markdown)
	return err
}

// GetParent fetches a parent document by key. Returns ErrParentNotFound
// when the key is absent.
func (s *Store) GetParent(ctx context.Context, parentDocID string) (*ParentDocument, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT parent_doc_id, doc_type, title, COALESCE(canonical_citation, ''),
			language, jurisdiction, COALESCE(version_effective_date, ''),
			COALESCE(source_url, ''), COALESCE(content_tree, ''), COALESCE(markdown, '')
		FROM parent_documents WHERE parent_doc_id = ?
	`, parentDocID)

	var d ParentDocument
	err := row.Scan(&d.ParentDocID, &d.DocType, &d.Title, &d.CanonicalCitation,
		&d.Language, &d.Jurisdiction, &d.VersionEffectiveDate,
		&d.SourceURL, &d.ContentTree, &d.Markdown)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrParentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// --- Chunk operations ---

// InsertChunks stores a batch of chunks in one transaction. Chunk IDs must
// already be the content hash of the chunk fields.
func (s *Store) InsertChunks(ctx context.Context, chunks []Chunk) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT OR REPLACE INTO chunks
				(chunk_id, parent_doc_id, text, doc_type, section_path,
				 start_char, end_char, num_tokens, language, date_context,
				 entities, source_url, metadata)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, c := range chunks {
			if len(c.Text) > MaxChunkTextChars {
				return fmt.Errorf("%w: chunk %s has %d chars", ErrChunkTooLarge, c.ChunkID, len(c.Text))
			}
			entities, _ := json.Marshal(c.Entities)
			metadata, _ := json.Marshal(c.Metadata)
			if _, err := stmt.ExecContext(ctx,
				c.ChunkID, c.ParentDocID, c.Text, c.DocType, c.SectionPath,
				c.StartChar, c.EndChar, c.NumTokens, c.Language, c.DateContext,
				string(entities), c.SourceURL, string(metadata)); err != nil {
				return fmt.Errorf("inserting chunk %s: %w", c.ChunkID, err)
			}
		}
		return nil
	})
}

// InsertEmbedding stores a vector embedding for a chunk.
func (s *Store) InsertEmbedding(ctx context.Context, chunkID string, embedding []float32) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO vec_chunks (chunk_rowid, embedding)
		SELECT id, ? FROM chunks WHERE chunk_id = ?
	`, SerializeFloat32(embedding), chunkID)
	return err
}

const chunkColumns = `c.chunk_id, c.parent_doc_id, c.text, c.doc_type,
	COALESCE(c.section_path, ''), c.start_char, c.end_char,
	COALESCE(c.num_tokens, 0), COALESCE(c.language, ''),
	COALESCE(c.date_context, ''), COALESCE(c.entities, '[]'),
	COALESCE(c.source_url, ''), COALESCE(c.metadata, '{}')`

func scanResult(scan func(dest ...any) error, extra *float64) (RetrievalResult, error) {
	var r RetrievalResult
	var entities, metadata string
	dest := []any{
		&r.ChunkID, &r.ParentDocID, &r.Text, &r.DocType,
		&r.SectionPath, &r.StartChar, &r.EndChar,
		&r.NumTokens, &r.Language, &r.DateContext, &entities,
		&r.SourceURL, &metadata,
	}
	if extra != nil {
		dest = append(dest, extra)
	}
	if err := scan(dest...); err != nil {
		return r, err
	}
	json.Unmarshal([]byte(entities), &r.Entities)
	json.Unmarshal([]byte(metadata), &r.Metadata)
	return r, nil
}

// VectorSearch performs a KNN search returning the top-k nearest chunks.
func (s *Store) VectorSearch(ctx context.Context, queryEmbedding []float32, k int) ([]RetrievalResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+chunkColumns+`, v.distance
		FROM vec_chunks v
		JOIN chunks c ON c.id = v.chunk_rowid
		WHERE v.embedding MATCH ? AND k = ?
		ORDER BY v.distance
	`, SerializeFloat32(queryEmbedding), k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []RetrievalResult
	for rows.Next() {
		var distance float64
		r, err := scanResult(rows.Scan, &distance)
		if err != nil {
			return nil, err
		}
		// Convert distance to similarity score (1 - distance for cosine)
		r.Score = 1.0 - distance
		results = append(results, r)
	}
	return results, rows.Err()
}

// FTSSearch performs a full-text search using FTS5 BM25 ranking. The query
// must already be sanitized for FTS5 syntax.
func (s *Store) FTSSearch(ctx context.Context, query string, limit int) ([]RetrievalResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+chunkColumns+`, f.rank
		FROM chunks_fts f
		JOIN chunks c ON c.id = f.rowid
		WHERE chunks_fts MATCH ?
		ORDER BY f.rank
		LIMIT ?
	`, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []RetrievalResult
	for rows.Next() {
		var rank float64
		r, err := scanResult(rows.Scan, &rank)
		if err != nil {
			return nil, err
		}
		// FTS5 rank is negative (lower = better), convert to positive score
		r.Score = -rank
		results = append(results, r)
	}
	return results, rows.Err()
}

// CountChunks returns the number of stored chunks.
func (s *Store) CountChunks(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM chunks").Scan(&n)
	return n, err
}

// --- Profile operations (long-term memory) ---

// GetProfile fetches a user profile including area frequencies. A missing
// user returns a zero-valued profile with ExpertiseLevel "unknown".
func (s *Store) GetProfile(ctx context.Context, userID string) (*UserProfile, error) {
	p := &UserProfile{
		UserID:            userID,
		ExpertiseLevel:    "unknown",
		TypicalComplexity: "simple",
		AreaFrequency:     map[string]int{},
	}

	var lastSeen string
	err := s.db.QueryRowContext(ctx, `
		SELECT expertise_level, typical_complexity, query_count,
			pending_expertise, pending_streak, last_seen_at
		FROM user_profiles WHERE user_id = ?
	`, userID).Scan(&p.ExpertiseLevel, &p.TypicalComplexity, &p.QueryCount,
		&p.PendingExpertise, &p.PendingStreak, &lastSeen)
	if errors.Is(err, sql.ErrNoRows) {
		return p, nil
	}
	if err != nil {
		return nil, err
	}
	if t, perr := time.Parse("2006-01-02 15:04:05", lastSeen); perr == nil {
		p.LastSeenAt = t
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT area, count FROM user_area_frequency WHERE user_id = ?", userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var area string
		var count int
		if err := rows.Scan(&area, &count); err != nil {
			return nil, err
		}
		p.AreaFrequency[area] = count
	}
	return p, rows.Err()
}

// ApplyProfilePatch applies an incremental profile update. query_count and
// area counts increment server-side so concurrent patches commute.
func (s *Store) ApplyProfilePatch(ctx context.Context, patch ProfilePatch) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO user_profiles (user_id, query_count, last_seen_at)
			VALUES (?, 1, CURRENT_TIMESTAMP)
			ON CONFLICT(user_id) DO UPDATE SET
				query_count = query_count + 1,
				last_seen_at = CURRENT_TIMESTAMP
		`, patch.UserID); err != nil {
			return err
		}

		if patch.TypicalComplexity != "" {
			if _, err := tx.ExecContext(ctx,
				"UPDATE user_profiles SET typical_complexity = ? WHERE user_id = ?",
				patch.TypicalComplexity, patch.UserID); err != nil {
				return err
			}
		}
		if patch.ExpertiseLevel != "" {
			if _, err := tx.ExecContext(ctx,
				"UPDATE user_profiles SET expertise_level = ? WHERE user_id = ?",
				patch.ExpertiseLevel, patch.UserID); err != nil {
				return err
			}
		}
		if patch.SetPending {
			if _, err := tx.ExecContext(ctx,
				"UPDATE user_profiles SET pending_expertise = ?, pending_streak = ? WHERE user_id = ?",
				patch.PendingExpertise, patch.PendingStreak, patch.UserID); err != nil {
				return err
			}
		}

		for _, area := range patch.AreasSeen {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO user_area_frequency (user_id, area, count) VALUES (?, ?, 1)
				ON CONFLICT(user_id, area) DO UPDATE SET count = count + 1
			`, patch.UserID, area); err != nil {
				return err
			}
		}
		return nil
	})
}

// --- Query log ---

// LogQuery records an answered query. Best-effort; callers may ignore errors.
func (s *Store) LogQuery(ctx context.Context, q QueryLog) error {
	citations, _ := json.Marshal(q.Citations)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO query_log
			(request_id, trace_id, query, rewritten_query, intent, complexity,
			 user_type, tldr, confidence, source, citations,
			 prompt_tokens, completion_tokens, total_tokens, elapsed_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, q.RequestID, q.TraceID, q.Query, q.RewrittenQuery, q.Intent, q.Complexity,
		q.UserType, q.TLDR, q.Confidence, q.Source, string(citations),
		q.PromptTokens, q.CompletionTokens, q.TotalTokens, q.ElapsedMs)
	return err
}

// --- helpers ---

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// SerializeFloat32 converts a float32 slice to little-endian bytes, the
// storage format shared by sqlite-vec and the semantic cache.
func SerializeFloat32(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// DeserializeFloat32 is the inverse of SerializeFloat32.
func DeserializeFloat32(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}
