package ml

import (
	"context"
	"math"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rotisserie/eris"
)

// Cached memoises per-row outputs of a deterministic classifier.
type Cached struct {
	inner Classifier
	cache *lru.Cache[string, float64]
}

// NewCached wraps inner with an LRU of the given size. A size <= 0 returns inner as is.
func NewCached(inner Classifier, size int) (Classifier, error) {
	if size <= 0 {
		return inner, nil
	}
	cache, err := lru.New[string, float64](size)
	if err != nil {
		return nil, eris.Wrap(err, "create prediction cache")
	}
	return &Cached{inner: inner, cache: cache}, nil
}

func (c *Cached) Predict(ctx context.Context, rows [][]float64) ([]float64, error) {
	out := make([]float64, len(rows))
	var missIdx []int
	var missRows [][]float64
	for i, row := range rows {
		if v, ok := c.cache.Get(rowKey(row)); ok {
			out[i] = v
			continue
		}
		missIdx = append(missIdx, i)
		missRows = append(missRows, row)
	}
	if len(missRows) == 0 {
		return out, nil
	}

	fresh, err := c.inner.Predict(ctx, missRows)
	if err != nil {
		return nil, err
	}
	if len(fresh) != len(missRows) {
		return nil, eris.Errorf("model returned %d values for %d rows", len(fresh), len(missRows))
	}
	for j, i := range missIdx {
		out[i] = fresh[j]
		c.cache.Add(rowKey(rows[i]), fresh[j])
	}
	return out, nil
}

// Len reports the number of cached rows.
func (c *Cached) Len() int {
	return c.cache.Len()
}

func rowKey(row []float64) string {
	var b strings.Builder
	for i, v := range row {
		if i > 0 {
			b.WriteByte(':')
		}
		b.WriteString(strconv.FormatUint(math.Float64bits(v), 16))
	}
	return b.String()
}
