package predict

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/text/width"

	"cvdrisk/ml"
)

// ParseError reports a missing or non-numeric form field.
type ParseError struct {
	Field   string
	Value   string
	Missing bool
}

func (e *ParseError) Error() string {
	if e.Missing {
		return fmt.Sprintf("missing form field %q", e.Field)
	}
	return fmt.Sprintf("could not convert string to float: %q", e.Value)
}

// ParseFeatures reads weight and cholesterol from form. Surrounding whitespace is
// ignored and full-width digits are accepted.
func ParseFeatures(form map[string]string) (ml.Features, error) {
	values := make([]float64, 0, 2)
	for _, name := range ml.FeatureNames() {
		v, err := parseField(form, name)
		if err != nil {
			return ml.Features{}, err
		}
		values = append(values, v)
	}
	return ml.Features{Weight: values[0], Cholesterol: values[1]}, nil
}

func parseField(form map[string]string, field string) (float64, error) {
	raw, ok := form[field]
	if !ok {
		return 0, &ParseError{Field: field, Missing: true}
	}
	s, ok := normalizeNumber(strings.TrimSpace(width.Narrow.String(raw)))
	if !ok {
		return 0, &ParseError{Field: field, Value: raw}
	}
	v, err := strconv.ParseFloat(s, 64)
	// out-of-range input saturates to ±Inf rather than failing
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return 0, &ParseError{Field: field, Value: raw}
	}
	return v, nil
}

// normalizeNumber accepts decimal literals only: hex floats are rejected and
// underscores are allowed between digits ("1_000"), then dropped.
func normalizeNumber(s string) (string, bool) {
	body := strings.TrimLeft(s, "+-")
	if len(body) >= 2 && body[0] == '0' && (body[1] == 'x' || body[1] == 'X') {
		return "", false
	}
	if !strings.Contains(s, "_") {
		return s, true
	}
	for i := 0; i < len(s); i++ {
		if s[i] != '_' {
			continue
		}
		if i == 0 || i == len(s)-1 || !isDigit(s[i-1]) || !isDigit(s[i+1]) {
			return "", false
		}
	}
	return strings.ReplaceAll(s, "_", ""), true
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
