package testutil

// FixedRunID returns the same run identifier every time.
//
// This keeps log output and summaries deterministic in tests that compare
// against golden files.
//
// Thread-safety: FixedRunID is stateless and safe for concurrent use.
type FixedRunID struct {
	id string
}

// NewFixedRunID creates a fixed run identifier generator.
// If id is empty, Generate() returns "test-run-default".
func NewFixedRunID(id string) *FixedRunID {
	if id == "" {
		id = "test-run-default"
	}
	return &FixedRunID{id: id}
}

// Generate returns the fixed identifier.
func (g *FixedRunID) Generate() string {
	return g.id
}
