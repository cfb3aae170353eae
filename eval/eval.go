// Package eval runs golden-question datasets against an engine and
// aggregates answer quality metrics for offline evaluation.
package eval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gweta-ai/gweta"
	"github.com/gweta-ai/gweta/agent"
)

// Case is one golden question with its expectations. Zero-value
// expectation fields are not checked.
type Case struct {
	Name     string `json:"name"`
	Query    string `json:"query"`
	UserID   string `json:"user_id,omitempty"`
	Category string `json:"category,omitempty"`

	// WantDocType passes when at least one citation has this doc type.
	WantDocType string `json:"want_doc_type,omitempty"`
	// WantCitationOf passes when at least one citation title or URL
	// contains this substring, case-insensitive.
	WantCitationOf string `json:"want_citation_of,omitempty"`
	// WantSource pins the expected response source label.
	WantSource string `json:"want_source,omitempty"`
}

// CaseResult is the outcome of one case.
type CaseResult struct {
	Case      Case     `json:"case"`
	Passed    bool     `json:"passed"`
	Failures  []string `json:"failures,omitempty"`
	Source    string   `json:"source"`
	Citations int      `json:"citations"`
	LatencyMs int64    `json:"latency_ms"`
	Err       string   `json:"error,omitempty"`

	confidence float64
	warnings   []string
}

// Report aggregates an evaluation run.
type Report struct {
	TotalCases      int                `json:"total_cases"`
	Passed          int                `json:"passed"`
	Failed          int                `json:"failed"`
	CitationRate    float64            `json:"citation_rate"`
	QualityPassRate float64            `json:"quality_pass_rate"`
	MeanConfidence  float64            `json:"mean_confidence"`
	MeanLatencyMs   float64            `json:"mean_latency_ms"`
	ByCategory      map[string]int     `json:"by_category,omitempty"`
	Results         []CaseResult       `json:"results"`
	RunTime         time.Duration      `json:"run_time"`
	CacheStats      map[string]float64 `json:"cache_stats,omitempty"`
}

// Evaluator runs datasets against an engine.
type Evaluator struct {
	engine gweta.Engine
}

// New creates an evaluator.
func New(engine gweta.Engine) *Evaluator {
	return &Evaluator{engine: engine}
}

// Run executes every case sequentially and aggregates the report.
// Sequential execution keeps cache and memory effects deterministic
// between cases.
func (e *Evaluator) Run(ctx context.Context, cases []Case) *Report {
	start := time.Now()
	report := &Report{TotalCases: len(cases), ByCategory: map[string]int{}}

	var withCitations, qualityPassed int
	var confidenceSum, latencySum float64

	for _, c := range cases {
		result := e.runCase(ctx, c)
		report.Results = append(report.Results, result)

		if result.Passed {
			report.Passed++
			if c.Category != "" {
				report.ByCategory[c.Category]++
			}
		} else {
			report.Failed++
		}
		if result.Citations > 0 {
			withCitations++
		}
		latencySum += float64(result.LatencyMs)
	}

	for _, r := range report.Results {
		if r.Err == "" && !hasWarning(r, "quality_below_threshold") {
			qualityPassed++
		}
		confidenceSum += r.confidence
	}

	if report.TotalCases > 0 {
		n := float64(report.TotalCases)
		report.CitationRate = float64(withCitations) / n
		report.QualityPassRate = float64(qualityPassed) / n
		report.MeanConfidence = confidenceSum / n
		report.MeanLatencyMs = latencySum / n
	}

	stats := e.engine.CacheStats()
	report.CacheStats = map[string]float64{
		"hit_rate":          stats.HitRate,
		"exact_hit_rate":    stats.ExactRate,
		"semantic_hit_rate": stats.SemanticRate,
	}

	report.RunTime = time.Since(start)
	slog.Info("eval: run complete",
		"cases", report.TotalCases, "passed", report.Passed,
		"citation_rate", fmt.Sprintf("%.2f", report.CitationRate),
		"run_time", report.RunTime.Round(time.Millisecond))
	return report
}

func (e *Evaluator) runCase(ctx context.Context, c Case) CaseResult {
	start := time.Now()
	result := CaseResult{Case: c}

	resp, err := e.engine.RunQuery(ctx, agent.Request{Text: c.Query, UserID: c.UserID})
	result.LatencyMs = time.Since(start).Milliseconds()
	if err != nil {
		result.Err = err.Error()
		result.Failures = append(result.Failures, "query failed: "+err.Error())
		return result
	}

	result.Source = resp.Source
	result.Citations = len(resp.Citations)
	result.confidence = resp.Confidence
	result.warnings = resp.Warnings

	if c.WantSource != "" && resp.Source != c.WantSource {
		result.Failures = append(result.Failures,
			fmt.Sprintf("source = %s, want %s", resp.Source, c.WantSource))
	}
	if c.WantDocType != "" && !citesDocType(resp, c.WantDocType) {
		result.Failures = append(result.Failures, "no citation with doc type "+c.WantDocType)
	}
	if c.WantCitationOf != "" && !citesAuthority(resp, c.WantCitationOf) {
		result.Failures = append(result.Failures, "no citation of "+c.WantCitationOf)
	}
	if len(resp.TLDR) > 220 {
		result.Failures = append(result.Failures, fmt.Sprintf("tldr length %d > 220", len(resp.TLDR)))
	}

	result.Passed = len(result.Failures) == 0
	return result
}

func citesDocType(resp *agent.Response, docType string) bool {
	for _, c := range resp.Citations {
		if c.DocType == docType {
			return true
		}
	}
	return false
}

func citesAuthority(resp *agent.Response, needle string) bool {
	needle = strings.ToLower(needle)
	for _, c := range resp.Citations {
		if strings.Contains(strings.ToLower(c.Title), needle) ||
			strings.Contains(strings.ToLower(c.SourceURL), needle) {
			return true
		}
	}
	return false
}

func hasWarning(r CaseResult, warning string) bool {
	for _, w := range r.warnings {
		if w == warning {
			return true
		}
	}
	return false
}
