package model

// MigrationOperation identifies a taxonomy migration kind.
type MigrationOperation string

// Taxonomy migration operations.
const (
	MigrationRemove MigrationOperation = "remove"
	MigrationRename MigrationOperation = "rename"
	MigrationMerge  MigrationOperation = "merge"
	MigrationSplit  MigrationOperation = "split"
)

// MigrationResult reports the outcome of a taxonomy migration. Failures
// are recorded in Errors with Success=false rather than surfaced as a
// panic, since migrations are typically driven by automation that must
// react to failure without crashing.
type MigrationResult struct {
	Operation             MigrationOperation
	Errors                []string
	AffectedCount         int
	RecategorizedCount    int
	VerifiedRetainedCount int
	VerifiedDemotedCount  int
	Success               bool
}

// AddError appends a failure message and marks the result unsuccessful.
func (r *MigrationResult) AddError(msg string) {
	r.Errors = append(r.Errors, msg)
	r.Success = false
}
