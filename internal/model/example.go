package model

// Example is one labeled document: sentences of tokens plus the gold class
// path from the root. The path may stop above the leaves.
type Example struct {
	Text    [][]string `json:"text"`
	Classes []int      `json:"classes"`
}

// Prediction is the outcome of classifying one document.
type Prediction struct {
	Path          []int       `json:"path"`                    // predicted class per level, stop index removed
	Label         string      `json:"label"`                   // rendered path, e.g. "sports.football"
	Confidence    float64     `json:"confidence,omitempty"`    // product of the chosen probabilities
	Distributions [][]float32 `json:"distributions,omitempty"` // one per traversed level
	Expected      []int       `json:"expected,omitempty"`      // gold path, when known
}
