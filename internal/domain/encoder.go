package domain

import "time"

// FeatureVector is the fixed-length numeric representation of a loan record.
// Immutable once produced. float32 matches what vector stores consume.
type FeatureVector []float32

// NumericFieldState holds the fitted standardization parameters for one
// numeric field.
type NumericFieldState struct {
	Field string  `json:"field"`
	Mean  float64 `json:"mean"`
	Std   float64 `json:"std"`
}

// CategoricalFieldState holds the fitted, ordered vocabulary for one
// categorical field. Every field gets one extra reserved slot for values
// never seen at fit time.
type CategoricalFieldState struct {
	Field      string   `json:"field"`
	Vocabulary []string `json:"vocabulary"`
}

// EncoderState is the fitted, versioned parameter set shared between corpus
// ingestion and live queries. Immutable once fit: re-fitting produces a new
// version and invalidates every vector stored under the old one.
type EncoderState struct {
	// Version is a digest of the fitted parameters. Identical corpora fit
	// to identical versions; any parameter drift yields a new version.
	Version     string                  `json:"version"`
	TenantID    string                  `json:"tenantId"`
	FittedAt    time.Time               `json:"fittedAt"`
	CorpusSize  int                     `json:"corpusSize"`
	Numeric     []NumericFieldState     `json:"numeric"`
	Categorical []CategoricalFieldState `json:"categorical"`
}

// Dimension returns the vector length produced under this state:
// one slot per numeric field plus, per categorical field, its vocabulary
// size plus the unknown slot.
func (s *EncoderState) Dimension() int {
	dim := len(s.Numeric)
	for _, c := range s.Categorical {
		dim += len(c.Vocabulary) + 1
	}
	return dim
}
