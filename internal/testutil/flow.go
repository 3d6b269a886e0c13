package testutil

// FixedIDGenerator generates the same query id every time.
//
// This enables deterministic scenario runs: the same scenario with the same
// FixedIDGenerator produces byte-identical logs and golden output.
//
// Unlike engine.FixedGenerator which returns ids in sequence, this generator
// always returns the same id.
//
// Thread-safety: FixedIDGenerator is stateless and safe for concurrent use.
type FixedIDGenerator struct {
	id string
}

// NewFixedIDGenerator creates a new fixed id generator.
//
// If id is empty, Generate() returns "test-query-default".
func NewFixedIDGenerator(id string) *FixedIDGenerator {
	if id == "" {
		id = "test-query-default"
	}
	return &FixedIDGenerator{id: id}
}

// Generate returns the fixed id.
//
// Implements engine.QueryIDGenerator.
func (g *FixedIDGenerator) Generate() string {
	return g.id
}
