package canopy

// Prediction is the classification of one document.
// This is the stable public type; internal representations may evolve
// independently.
type Prediction struct {
	Path       []int       `json:"path"`             // class index per level, root first
	Label      string      `json:"label"`            // dotted labels, or indices without a labels file
	Confidence float64     `json:"confidence"`       // product of the chosen probability at every level
	Levels     [][]float32 `json:"levels,omitempty"` // class distribution per visited level
}
