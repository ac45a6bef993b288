package predict

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFeatures(t *testing.T) {
	features, err := ParseFeatures(map[string]string{"weight": "70.5", "cholesterol": "1.9e2"})
	require.NoError(t, err)
	assert.Equal(t, 70.5, features.Weight)
	assert.Equal(t, 190.0, features.Cholesterol)
}

func TestParseFeaturesAcceptsWideDigitsAndSpaces(t *testing.T) {
	features, err := ParseFeatures(map[string]string{"weight": "\t６５．５ ", "cholesterol": "２００"})
	require.NoError(t, err)
	assert.Equal(t, 65.5, features.Weight)
	assert.Equal(t, 200.0, features.Cholesterol)
}

func TestParseFeaturesNoRangeCheck(t *testing.T) {
	features, err := ParseFeatures(map[string]string{"weight": "-5", "cholesterol": "1e400"})
	require.NoError(t, err)
	assert.Equal(t, -5.0, features.Weight)
	assert.True(t, math.IsInf(features.Cholesterol, 1))
}

func TestParseFeaturesErrors(t *testing.T) {
	_, err := ParseFeatures(map[string]string{"cholesterol": "190"})
	var perr *ParseError
	require.True(t, errors.As(err, &perr))
	assert.True(t, perr.Missing)
	assert.Equal(t, "weight", perr.Field)
	assert.Equal(t, `missing form field "weight"`, err.Error())

	_, err = ParseFeatures(map[string]string{"weight": "70", "cholesterol": "high"})
	require.True(t, errors.As(err, &perr))
	assert.False(t, perr.Missing)
	assert.Equal(t, "cholesterol", perr.Field)
	assert.Equal(t, "high", perr.Value)
}

func TestParseFeaturesDecimalSyntax(t *testing.T) {
	features, err := ParseFeatures(map[string]string{"weight": "1_000.5", "cholesterol": "-Infinity"})
	require.NoError(t, err)
	assert.Equal(t, 1000.5, features.Weight)
	assert.True(t, math.IsInf(features.Cholesterol, -1))

	for _, bad := range []string{"0x1p3", "-0X10", "1__000", "_100", "100_", "1_.5", "in_f"} {
		_, err := ParseFeatures(map[string]string{"weight": bad, "cholesterol": "190"})
		var perr *ParseError
		require.True(t, errors.As(err, &perr), "input %q", bad)
		assert.Equal(t, bad, perr.Value)
	}
}
