package model

// ClassificationResult is one row of a classification batch. The revised
// fields are populated when the classifier ran a second verification pass
// over its initial guess; an absent revision leaves them zero-valued.
type ClassificationResult struct {
	CategoryKey        string
	Rationale          string
	RevisedCategoryKey string
	RevisedRationale   string
	TransactionIndex   int
	Confidence         float64
	RevisedConfidence  float64
}

// HasRevision reports whether the second verification pass produced a
// revised assignment.
func (r *ClassificationResult) HasRevision() bool {
	return r.RevisedCategoryKey != ""
}

// ResolvedKey returns the revised category key when a revision is present,
// otherwise the initial key.
func (r *ClassificationResult) ResolvedKey() string {
	if r.HasRevision() {
		return r.RevisedCategoryKey
	}
	return r.CategoryKey
}

// ResolvedConfidence returns the revised confidence when a revision is
// present, otherwise the initial confidence.
func (r *ClassificationResult) ResolvedConfidence() float64 {
	if r.HasRevision() {
		return r.RevisedConfidence
	}
	return r.Confidence
}

// DiscardRevision drops the revised assignment, falling back to the
// initial one. Used when the revised key fails vocabulary validation.
func (r *ClassificationResult) DiscardRevision() {
	r.RevisedCategoryKey = ""
	r.RevisedConfidence = 0
	r.RevisedRationale = ""
}
