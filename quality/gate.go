package quality

import (
	"context"
	"log/slog"
	"time"

	"github.com/gweta-ai/gweta/intent"
	"github.com/gweta-ai/gweta/synthesis"
)

// Aggregate weights and pass threshold.
const (
	attributionWeight = 0.5
	coherenceWeight   = 0.3
	relevanceWeight   = 0.2

	// Threshold is the confidence at which an answer passes the gate.
	Threshold = 0.8

	// IterationCap bounds refinement and gap-retrieval loops per request.
	IterationCap = 2

	// minSupportingChunks below which the gate treats the answer as having
	// a source gap.
	minSupportingChunks = 1
)

// Decisions returned by the gate.
const (
	DecisionPass         = "pass"
	DecisionRefine       = "refine_synthesis"
	DecisionRetrieveMore = "retrieve_more"
	DecisionFail         = "fail"
)

// Report aggregates the three checkers.
type Report struct {
	Attribution CheckResult
	Coherence   CheckResult
	Relevance   CheckResult
	Confidence  float64
	Passed      bool
	Issues      []string
}

// Gate fans out the three checkers and aggregates their verdicts.
type Gate struct {
	attribution Checker
	coherence   Checker
	relevance   Checker
}

// NewGate creates a gate with the default heuristic checkers.
func NewGate() *Gate {
	return &Gate{attribution: Attribution{}, coherence: Coherence{}, relevance: Relevance{}}
}

// NewGateWith creates a gate over explicit checkers.
func NewGateWith(attribution, coherence, relevance Checker) *Gate {
	return &Gate{attribution: attribution, coherence: coherence, relevance: relevance}
}

// Evaluate runs all three checkers concurrently and aggregates the
// weighted confidence.
func (g *Gate) Evaluate(ctx context.Context, query string, answer *synthesis.Answer, bundle []synthesis.ContextItem) *Report {
	start := time.Now()

	type slot struct {
		into *CheckResult
		c    Checker
	}
	report := &Report{}
	slots := []slot{
		{&report.Attribution, g.attribution},
		{&report.Coherence, g.coherence},
		{&report.Relevance, g.relevance},
	}

	done := make(chan struct{})
	for _, s := range slots {
		go func(s slot) {
			*s.into = s.c.Check(ctx, query, answer, bundle)
			done <- struct{}{}
		}(s)
	}
	for range slots {
		<-done
	}
	close(done)

	report.Confidence = attributionWeight*report.Attribution.Score +
		coherenceWeight*report.Coherence.Score +
		relevanceWeight*report.Relevance.Score
	report.Passed = report.Confidence >= Threshold
	report.Issues = append(report.Issues, report.Attribution.Issues...)
	report.Issues = append(report.Issues, report.Coherence.Issues...)
	report.Issues = append(report.Issues, report.Relevance.Issues...)

	slog.Debug("quality: gate evaluated",
		"attribution", report.Attribution.Score, "coherence", report.Coherence.Score,
		"relevance", report.Relevance.Score, "confidence", report.Confidence,
		"passed", report.Passed, "elapsed", time.Since(start).Round(time.Millisecond))
	return report
}

// Decide routes the request after a gate evaluation. Priority order, first
// match wins: cap reached fails; a source gap retrieves more; weak
// attribution or coherence refines; high-complexity answers refine below a
// stricter bar; everything else passes.
func Decide(report *Report, answer *synthesis.Answer, iteration int, complexity string) string {
	if iteration >= IterationCap {
		return DecisionFail
	}
	if report.Relevance.Score < 0.5 || len(answer.Citations) < minSupportingChunks {
		return DecisionRetrieveMore
	}
	if report.Confidence >= 0.5 && report.Confidence < Threshold {
		return DecisionRefine
	}
	if (complexity == intent.ComplexityComplex || complexity == intent.ComplexityExpert) && report.Confidence < 0.7 {
		return DecisionRefine
	}
	return DecisionPass
}
