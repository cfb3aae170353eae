package intent

// Adaptive top-k policy: retrieval width and post-rerank selection size per
// complexity tier. Unknown tiers get the moderate defaults.
func TopK(complexity string) (retrievalTopK, rerankTopK int) {
	switch complexity {
	case ComplexitySimple:
		return 15, 5
	case ComplexityComplex:
		return 40, 12
	case ComplexityExpert:
		return 50, 15
	default:
		return 25, 8
	}
}
