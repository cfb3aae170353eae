package store

import (
	"context"
	"path/filepath"
	"testing"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test.db"), 4)
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedCorpus(t *testing.T, s *Store) {
	t.Helper()
	ctx := context.Background()

	parents := []ParentDocument{
		{ParentDocID: "act-labour", DocType: DocTypeAct, Title: "Labour Act [Chapter 28:01]", Language: "en", SourceURL: "https://zimlii.org/akn/zw/act/1985/16"},
		{ParentDocID: "const-2013", DocType: DocTypeConstitution, Title: "Constitution of Zimbabwe", Language: "en", SourceURL: "https://zimlii.org/akn/zw/act/2013/constitution"},
	}
	for _, p := range parents {
		if err := s.UpsertParent(ctx, p); err != nil {
			t.Fatalf("upserting parent: %v", err)
		}
	}

	chunks := []Chunk{
		{ParentDocID: "act-labour", Text: "An employee shall not be unfairly dismissed without a valid reason and fair procedure.", DocType: DocTypeAct, SectionPath: "s 12B", StartChar: 0, EndChar: 88},
		{ParentDocID: "act-labour", Text: "The minimum wage shall be prescribed by statutory instrument from time to time.", DocType: DocTypeAct, SectionPath: "s 20", StartChar: 0, EndChar: 79},
		{ParentDocID: "const-2013", Text: "Any person who is arrested must be informed at the time of arrest of the reason for the arrest.", DocType: DocTypeConstitution, SectionPath: "s 50(1)", StartChar: 0, EndChar: 95},
	}
	for i := range chunks {
		c := &chunks[i]
		c.ChunkID = ChunkID(c.ParentDocID, c.SectionPath, c.StartChar, c.EndChar, c.Text)
	}
	if err := s.InsertChunks(ctx, chunks); err != nil {
		t.Fatalf("inserting chunks: %v", err)
	}

	embeddings := [][]float32{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
		{0, 0, 1, 0},
	}
	for i, c := range chunks {
		if err := s.InsertEmbedding(ctx, c.ChunkID, embeddings[i]); err != nil {
			t.Fatalf("inserting embedding: %v", err)
		}
	}
}

func TestChunkIDDeterministic(t *testing.T) {
	a := ChunkID("act-labour", "s 12B", 0, 88, "An employee shall   not be unfairly dismissed")
	b := ChunkID("act-labour", "s 12B", 0, 88, "an employee shall not be unfairly dismissed")
	if a != b {
		t.Errorf("chunk ID not stable under normalization: %s vs %s", a, b)
	}
	if len(a) != 16 {
		t.Errorf("chunk ID should be 16 hex chars, got %d", len(a))
	}

	c := ChunkID("act-labour", "s 12B", 1, 88, "An employee shall not be unfairly dismissed")
	if a == c {
		t.Error("different offsets should produce different chunk IDs")
	}
}

func TestNormalizeTextIdempotent(t *testing.T) {
	in := "  What IS  the\tMinimum\nWage? "
	once := NormalizeText(in)
	twice := NormalizeText(once)
	if once != twice {
		t.Errorf("normalize not idempotent: %q vs %q", once, twice)
	}
	if once != "what is the minimum wage?" {
		t.Errorf("unexpected normalization: %q", once)
	}
}

func TestParentRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	doc := ParentDocument{
		ParentDocID:       "act-labour",
		DocType:           DocTypeAct,
		Title:             "Labour Act [Chapter 28:01]",
		CanonicalCitation: "Labour Act [Chapter 28:01]",
		Language:          "en",
		Markdown:          "# Labour Act\n\n## Section 12B\n...",
	}
	if err := s.UpsertParent(ctx, doc); err != nil {
		t.Fatalf("upserting: %v", err)
	}

	got, err := s.GetParent(ctx, "act-labour")
	if err != nil {
		t.Fatalf("fetching: %v", err)
	}
	if got.Title != doc.Title || got.Markdown != doc.Markdown {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if got.Jurisdiction != "ZW" {
		t.Errorf("jurisdiction should default to ZW, got %q", got.Jurisdiction)
	}

	if _, err := s.GetParent(ctx, "missing"); err != ErrParentNotFound {
		t.Errorf("expected ErrParentNotFound, got %v", err)
	}
}

func TestFTSSearch(t *testing.T) {
	s := testStore(t)
	seedCorpus(t, s)

	results, err := s.FTSSearch(context.Background(), "unfairly dismissed", 10)
	if err != nil {
		t.Fatalf("fts search: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("expected at least one FTS result")
	}
	if results[0].ParentDocID != "act-labour" {
		t.Errorf("expected labour act chunk first, got %s", results[0].ParentDocID)
	}
	if results[0].Score <= 0 {
		t.Errorf("FTS score should be positive, got %f", results[0].Score)
	}
}

func TestVectorSearch(t *testing.T) {
	s := testStore(t)
	seedCorpus(t, s)

	// Query vector closest to the third chunk (constitution).
	results, err := s.VectorSearch(context.Background(), []float32{0, 0, 0.9, 0}, 2)
	if err != nil {
		t.Fatalf("vector search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].ParentDocID != "const-2013" {
		t.Errorf("expected constitution chunk first, got %s", results[0].ParentDocID)
	}
	if results[0].Score < results[1].Score {
		t.Error("results should be sorted by descending similarity")
	}
}

func TestInsertChunkTooLarge(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	if err := s.UpsertParent(ctx, ParentDocument{ParentDocID: "p", DocType: DocTypeOther, Title: "x"}); err != nil {
		t.Fatal(err)
	}

	big := make([]byte, MaxChunkTextChars+1)
	for i := range big {
		big[i] = 'a'
	}
	err := s.InsertChunks(ctx, []Chunk{{ChunkID: "deadbeefdeadbeef", ParentDocID: "p", DocType: DocTypeOther, Text: string(big)}})
	if err == nil {
		t.Fatal("expected content-length cap violation")
	}
}

func TestProfilePatchCommutative(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	// Two patches in either order must produce the same counters.
	patches := []ProfilePatch{
		{UserID: "u1", AreasSeen: []string{"labour", "labour"}},
		{UserID: "u1", AreasSeen: []string{"labour", "constitutional"}},
	}
	for _, p := range patches {
		if err := s.ApplyProfilePatch(ctx, p); err != nil {
			t.Fatalf("applying patch: %v", err)
		}
	}

	got, err := s.GetProfile(ctx, "u1")
	if err != nil {
		t.Fatalf("fetching profile: %v", err)
	}
	if got.QueryCount != 2 {
		t.Errorf("query_count = %d, want 2", got.QueryCount)
	}
	if got.AreaFrequency["labour"] != 3 || got.AreaFrequency["constitutional"] != 1 {
		t.Errorf("area frequency = %v", got.AreaFrequency)
	}
}

func TestProfileMissingUser(t *testing.T) {
	s := testStore(t)
	got, err := s.GetProfile(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("fetching: %v", err)
	}
	if got.ExpertiseLevel != "unknown" || got.QueryCount != 0 {
		t.Errorf("zero profile expected, got %+v", got)
	}
}

func TestSerializeRoundTrip(t *testing.T) {
	v := []float32{0.1, -2.5, 3.75, 0}
	got := DeserializeFloat32(SerializeFloat32(v))
	if len(got) != len(v) {
		t.Fatalf("length mismatch: %d vs %d", len(got), len(v))
	}
	for i := range v {
		if got[i] != v[i] {
			t.Errorf("index %d: %f != %f", i, got[i], v[i])
		}
	}
}

func TestLogQuery(t *testing.T) {
	s := testStore(t)
	err := s.LogQuery(context.Background(), QueryLog{
		RequestID:  "req-1",
		Query:      "what is the minimum wage?",
		Intent:     "statutory",
		Complexity: "simple",
		UserType:   "citizen",
		Confidence: 0.91,
		Source:     "pipeline",
		ElapsedMs:  820,
	})
	if err != nil {
		t.Fatalf("logging query: %v", err)
	}
}
