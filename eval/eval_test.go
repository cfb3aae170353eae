package eval

import (
	"context"
	"errors"
	"testing"

	"github.com/gweta-ai/gweta/agent"
	"github.com/gweta-ai/gweta/cache"
	"github.com/gweta-ai/gweta/store"
	"github.com/gweta-ai/gweta/synthesis"
)

// fakeEngine returns canned responses keyed by query text.
type fakeEngine struct {
	responses map[string]*agent.Response
	err       error
}

func (f *fakeEngine) RunQuery(ctx context.Context, req agent.Request) (*agent.Response, error) {
	if f.err != nil {
		return nil, f.err
	}
	if resp, ok := f.responses[req.Text]; ok {
		return resp, nil
	}
	return &agent.Response{Source: synthesis.SourceNoSources, Confidence: 0.1}, nil
}

func (f *fakeEngine) StreamQuery(ctx context.Context, req agent.Request) <-chan agent.Event {
	ch := make(chan agent.Event)
	close(ch)
	return ch
}

func (f *fakeEngine) Store() *store.Store            { return nil }
func (f *fakeEngine) CacheStats() cache.StatsSnapshot { return cache.StatsSnapshot{HitRate: 0.5} }
func (f *fakeEngine) Close() error                   { return nil }

func grounded() *agent.Response {
	return &agent.Response{
		TLDR:       "The minimum wage is set by statutory instrument.",
		Body:       "body",
		Confidence: 0.9,
		Source:     synthesis.SourceSynthesis,
		Citations: []synthesis.Citation{
			{ChunkID: "c1", Title: "Labour Act", DocType: store.DocTypeAct, SourceURL: "https://example.org/labour-act"},
		},
	}
}

func TestRunAggregates(t *testing.T) {
	engine := &fakeEngine{responses: map[string]*agent.Response{
		"What is the minimum wage?": grounded(),
	}}
	e := New(engine)

	report := e.Run(context.Background(), []Case{
		{Name: "wage", Query: "What is the minimum wage?", Category: "statutory", WantDocType: store.DocTypeAct},
		{Name: "unknown", Query: "something obscure", WantDocType: store.DocTypeAct},
	})

	if report.TotalCases != 2 || report.Passed != 1 || report.Failed != 1 {
		t.Fatalf("report counts: %+v", report)
	}
	if report.CitationRate != 0.5 {
		t.Errorf("citation rate = %f, want 0.5", report.CitationRate)
	}
	if report.ByCategory["statutory"] != 1 {
		t.Errorf("category counts: %v", report.ByCategory)
	}
	if report.CacheStats["hit_rate"] != 0.5 {
		t.Errorf("cache stats not captured: %v", report.CacheStats)
	}
}

func TestRunCaseExpectations(t *testing.T) {
	engine := &fakeEngine{responses: map[string]*agent.Response{"q": grounded()}}
	e := New(engine)

	tests := []struct {
		name string
		c    Case
		pass bool
	}{
		{"doc type match", Case{Query: "q", WantDocType: store.DocTypeAct}, true},
		{"doc type mismatch", Case{Query: "q", WantDocType: store.DocTypeConstitution}, false},
		{"citation title match", Case{Query: "q", WantCitationOf: "labour act"}, true},
		{"citation url match", Case{Query: "q", WantCitationOf: "example.org"}, true},
		{"citation mismatch", Case{Query: "q", WantCitationOf: "constitution"}, false},
		{"source match", Case{Query: "q", WantSource: synthesis.SourceSynthesis}, true},
		{"source mismatch", Case{Query: "q", WantSource: synthesis.SourceCacheExact}, false},
		{"no expectations", Case{Query: "q"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := e.runCase(context.Background(), tt.c)
			if result.Passed != tt.pass {
				t.Errorf("passed = %v, want %v (failures: %v)", result.Passed, tt.pass, result.Failures)
			}
		})
	}
}

func TestRunEngineError(t *testing.T) {
	e := New(&fakeEngine{err: errors.New("down")})
	report := e.Run(context.Background(), []Case{{Name: "x", Query: "q"}})
	if report.Failed != 1 {
		t.Fatalf("engine error must fail the case: %+v", report)
	}
	if report.Results[0].Err == "" {
		t.Error("error should be recorded on the result")
	}
}
