package ml

import (
	"context"

	"github.com/rotisserie/eris"
)

// Classifier is a pre-fitted binary model. Predict takes a batch of feature rows and
// returns one raw class value per row. Implementations must be safe for concurrent use.
type Classifier interface {
	Predict(ctx context.Context, rows [][]float64) ([]float64, error)
}

// Unavailable stands in for a model that failed to load at startup.
type Unavailable struct {
	Err error
}

func (u Unavailable) Predict(ctx context.Context, rows [][]float64) ([]float64, error) {
	if u.Err == nil {
		return nil, eris.New("model not loaded")
	}
	return nil, eris.Wrap(u.Err, "model not loaded")
}
