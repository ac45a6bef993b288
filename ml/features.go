package ml

const (
	FeatureWeight      = "weight"
	FeatureCholesterol = "cholesterol"
)

// Features is a single model input.
type Features struct {
	Weight      float64
	Cholesterol float64
}

// FeatureNames returns the column order the artifact was fitted on.
func FeatureNames() []string {
	return []string{FeatureWeight, FeatureCholesterol}
}

// Vector lays the features out in FeatureNames order.
func (f Features) Vector() []float64 {
	return []float64{f.Weight, f.Cholesterol}
}
