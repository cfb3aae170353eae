package quality

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/gweta-ai/gweta/intent"
	"github.com/gweta-ai/gweta/store"
	"github.com/gweta-ai/gweta/synthesis"
)

func bundleItem(chunkID, text string) synthesis.ContextItem {
	return synthesis.ContextItem{
		Result: store.RetrievalResult{
			Chunk: store.Chunk{ChunkID: chunkID, ParentDocID: "p-" + chunkID, Text: text, DocType: store.DocTypeAct},
		},
	}
}

func groundedAnswer() (*synthesis.Answer, []synthesis.ContextItem) {
	bundle := []synthesis.ContextItem{
		bundleItem("c1", "An employer shall not terminate a contract of employment without a valid reason and a fair hearing."),
		bundleItem("c2", "The minimum wage payable to agricultural workers is prescribed by statutory instrument."),
	}
	answer := &synthesis.Answer{
		TLDR: "Employers need a valid reason and fair hearing before termination.",
		KeyPoints: []string{
			"Termination requires a valid reason",
			"A fair hearing must precede dismissal",
			"Minimum wage is set by statutory instrument",
		},
		Body: "An employer shall not terminate a contract of employment without a valid reason. " +
			"A fair hearing must be held before any termination of employment. " +
			"The minimum wage for agricultural workers is prescribed by statutory instrument.",
		Citations: []synthesis.Citation{
			{ChunkID: "c1", ParentDocID: "p-c1", Title: "Labour Act", DocType: store.DocTypeAct},
			{ChunkID: "c2", ParentDocID: "p-c2", Title: "SI 81 of 2020", DocType: store.DocTypeSI},
		},
		Confidence: 0.9,
	}
	return answer, bundle
}

func TestGateGroundedAnswerPasses(t *testing.T) {
	answer, bundle := groundedAnswer()
	report := NewGate().Evaluate(context.Background(), "minimum wage and termination of employment", answer, bundle)

	if !report.Passed {
		t.Fatalf("grounded answer should pass: confidence=%f issues=%v", report.Confidence, report.Issues)
	}
	if d := Decide(report, answer, 0, intent.ComplexityModerate); d != DecisionPass {
		t.Errorf("decision = %s, want pass", d)
	}
}

func TestAttributionUnsupportedStatements(t *testing.T) {
	answer, bundle := groundedAnswer()
	answer.Body += " The president of Mars signed an interplanetary accord regulating asteroid mining revenue."

	res := Attribution{}.Check(context.Background(), "q", answer, bundle)
	if res.Score >= 1.0 {
		t.Errorf("unsupported sentence should lower the score, got %f", res.Score)
	}
	if len(res.Issues) == 0 {
		t.Error("unsupported statement should be reported")
	}
}

func TestAttributionNoCitations(t *testing.T) {
	answer, bundle := groundedAnswer()
	answer.Citations = nil

	res := Attribution{}.Check(context.Background(), "q", answer, bundle)
	if res.Score > 0.2 {
		t.Errorf("uncited answer score = %f, want <= 0.2", res.Score)
	}
}

func TestCoherenceStructuralDefects(t *testing.T) {
	res := Coherence{}.Check(context.Background(), "q", &synthesis.Answer{
		TLDR:      "",
		Body:      "Too short.",
		KeyPoints: []string{"a", "a"},
	}, nil)
	if res.Score > 0.5 {
		t.Errorf("defective answer coherence = %f, want low", res.Score)
	}
	if len(res.Issues) < 3 {
		t.Errorf("expected missing tldr, short body, point count and duplicate issues, got %v", res.Issues)
	}
}

func TestRelevanceIrrelevantChunks(t *testing.T) {
	answer, bundle := groundedAnswer()
	bundle = append(bundle, bundleItem("c3", "Provisions on the registration of fishing vessels on Lake Kariba."))
	answer.Citations = append(answer.Citations, synthesis.Citation{ChunkID: "c3"})

	res := Relevance{}.Check(context.Background(), "minimum wage termination employment", answer, bundle)
	if res.Score >= 1.0 {
		t.Errorf("irrelevant citation should lower relevance, got %f", res.Score)
	}
	found := false
	for _, issue := range res.Issues {
		if issue == "relevance: irrelevant chunk: c3" {
			found = true
		}
	}
	if !found {
		t.Errorf("irrelevant chunk not reported: %v", res.Issues)
	}
}

func TestDecidePriorities(t *testing.T) {
	answer, _ := groundedAnswer()

	tests := []struct {
		name       string
		report     *Report
		iteration  int
		complexity string
		want       string
	}{
		{
			name:      "cap reached fails",
			report:    &Report{Confidence: 0.6, Relevance: CheckResult{Score: 0.9}},
			iteration: IterationCap, complexity: intent.ComplexityModerate,
			want: DecisionFail,
		},
		{
			name:      "source gap retrieves more",
			report:    &Report{Confidence: 0.6, Relevance: CheckResult{Score: 0.3}},
			iteration: 0, complexity: intent.ComplexityModerate,
			want: DecisionRetrieveMore,
		},
		{
			name:      "weak confidence refines",
			report:    &Report{Confidence: 0.6, Relevance: CheckResult{Score: 0.9}},
			iteration: 0, complexity: intent.ComplexityModerate,
			want: DecisionRefine,
		},
		{
			name:      "complex stricter bar refines",
			report:    &Report{Confidence: 0.45, Relevance: CheckResult{Score: 0.9}},
			iteration: 0, complexity: intent.ComplexityExpert,
			want: DecisionRefine,
		},
		{
			name:      "strong answer passes",
			report:    &Report{Confidence: 0.9, Relevance: CheckResult{Score: 0.9}},
			iteration: 0, complexity: intent.ComplexityModerate,
			want: DecisionPass,
		},
		{
			name:      "moderate low confidence passes per priority order",
			report:    &Report{Confidence: 0.45, Relevance: CheckResult{Score: 0.9}},
			iteration: 0, complexity: intent.ComplexityModerate,
			want: DecisionPass,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Decide(tt.report, answer, tt.iteration, tt.complexity); got != tt.want {
				t.Errorf("Decide = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestTruncateKeepsRuneBoundaries(t *testing.T) {
	s := strings.Repeat("é", 60) // 120 bytes of two-byte runes
	got := truncate(s, 81)
	if !utf8.ValidString(got) {
		t.Errorf("truncated string is not valid UTF-8: %q", got)
	}
	if len(got) > 81+len("...") {
		t.Errorf("truncated length = %d", len(got))
	}
	if short := truncate("abc", 10); short != "abc" {
		t.Errorf("short strings pass through, got %q", short)
	}
}

func TestDecideNoCitationsIsSourceGap(t *testing.T) {
	answer, _ := groundedAnswer()
	answer.Citations = nil
	report := &Report{Confidence: 0.9, Relevance: CheckResult{Score: 0.9}}
	if got := Decide(report, answer, 0, intent.ComplexitySimple); got != DecisionRetrieveMore {
		t.Errorf("uncited answer should trigger retrieval, got %s", got)
	}
}
