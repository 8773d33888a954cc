package migration

// ResolveVerified applies the confidence-threshold policy to one row. A
// previously verified row keeps its verified status only when the
// classifier's resolved confidence clears the threshold; an unverified row
// stays unverified regardless of confidence.
func ResolveVerified(wasVerified bool, confidence, threshold float64) bool {
	return wasVerified && confidence >= threshold
}
