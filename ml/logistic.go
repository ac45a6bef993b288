package ml

import (
	"context"
	"encoding/json"
	"math"
	"os"

	"github.com/rotisserie/eris"
)

// Logistic is a fitted logistic regression exported as JSON:
//
//	{"coefficients": [0.031, 0.012], "intercept": -4.2, "threshold": 0.5}
type Logistic struct {
	Coefficients []float64 `json:"coefficients"`
	Intercept    float64   `json:"intercept"`
	Threshold    float64   `json:"threshold"`
}

func (l *Logistic) Predict(ctx context.Context, rows [][]float64) ([]float64, error) {
	out := make([]float64, 0, len(rows))
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p, err := l.Probability(row)
		if err != nil {
			return nil, err
		}
		if p >= l.threshold() {
			out = append(out, 1)
		} else {
			out = append(out, 0)
		}
	}
	return out, nil
}

// Probability returns the positive-class probability for one row.
func (l *Logistic) Probability(row []float64) (float64, error) {
	if len(row) != len(l.Coefficients) {
		return 0, eris.Errorf("expected %d features, got %d", len(l.Coefficients), len(row))
	}
	z := l.Intercept
	for i, c := range l.Coefficients {
		z += c * row[i]
	}
	return 1 / (1 + math.Exp(-z)), nil
}

func (l *Logistic) threshold() float64 {
	if l.Threshold <= 0 || l.Threshold >= 1 {
		return 0.5
	}
	return l.Threshold
}

func (l *Logistic) Load(path string) error {
	payload, err := os.ReadFile(path)
	if err != nil {
		return eris.Wrapf(err, "read %s", path)
	}
	var loaded Logistic
	if err := json.Unmarshal(payload, &loaded); err != nil {
		return eris.Wrapf(err, "decode logistic model %s", path)
	}
	if len(loaded.Coefficients) == 0 {
		return eris.Errorf("logistic model %s has no coefficients", path)
	}
	*l = loaded
	return nil
}
