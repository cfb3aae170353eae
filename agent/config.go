package agent

import "time"

// Config holds every tunable of the runtime. All thresholds that govern
// routing live here or as named constants in their owning package; nothing
// is read from the environment at query time.
type Config struct {
	RequestDeadline        time.Duration
	RetrievalTimeout       time.Duration
	RerankTimeout          time.Duration
	ParentExpandTimeout    time.Duration
	SynthesisTimeout       time.Duration
	QualityTimeout         time.Duration
	ParentFetchConcurrency int
	MemoryTokenBudget      int
	// StreamTokenChunk is the number of body runes per token event.
	StreamTokenChunk int
	// TraceEnabled records per-node trace steps on the response.
	TraceEnabled bool
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		RequestDeadline:        30 * time.Second,
		RetrievalTimeout:       3 * time.Second,
		RerankTimeout:          3 * time.Second,
		ParentExpandTimeout:    2 * time.Second,
		SynthesisTimeout:       15 * time.Second,
		QualityTimeout:         5 * time.Second,
		ParentFetchConcurrency: 8,
		MemoryTokenBudget:      2000,
		StreamTokenChunk:       24,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.RequestDeadline <= 0 {
		c.RequestDeadline = d.RequestDeadline
	}
	if c.RetrievalTimeout <= 0 {
		c.RetrievalTimeout = d.RetrievalTimeout
	}
	if c.RerankTimeout <= 0 {
		c.RerankTimeout = d.RerankTimeout
	}
	if c.ParentExpandTimeout <= 0 {
		c.ParentExpandTimeout = d.ParentExpandTimeout
	}
	if c.SynthesisTimeout <= 0 {
		c.SynthesisTimeout = d.SynthesisTimeout
	}
	if c.QualityTimeout <= 0 {
		c.QualityTimeout = d.QualityTimeout
	}
	if c.ParentFetchConcurrency <= 0 {
		c.ParentFetchConcurrency = d.ParentFetchConcurrency
	}
	if c.MemoryTokenBudget <= 0 {
		c.MemoryTokenBudget = d.MemoryTokenBudget
	}
	if c.StreamTokenChunk <= 0 {
		c.StreamTokenChunk = d.StreamTokenChunk
	}
	return c
}
