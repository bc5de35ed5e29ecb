package models

// ValidationVerdict is the result of one static validation pass.
// Produced fresh per attempt and never mutated; the regeneration loop
// folds Issues into feedback text for the next planning attempt.
type ValidationVerdict struct {
	Passed  bool           `json:"passed"`
	Issues  []string       `json:"issues"`
	Details map[string]any `json:"details,omitempty"`
}

// PassedVerdict returns a clean verdict.
func PassedVerdict() *ValidationVerdict {
	return &ValidationVerdict{Passed: true, Issues: []string{}, Details: map[string]any{}}
}
