// Package audit persists one row per prediction attempt.
package audit

import (
	"context"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"go.uber.org/multierr"
)

var Header = []string{"Weight", "Cholesterol", "Prediction"}

// Row is one audit record. Prediction holds the label or an "Error: ..." string.
type Row struct {
	Weight      float64
	Cholesterol float64
	Prediction  string
}

func (r Row) Fields() []string {
	return []string{FormatFloat(r.Weight), FormatFloat(r.Cholesterol), r.Prediction}
}

// Recorder appends rows durably. Record must be safe for concurrent use and must
// either persist the whole row or return an error.
type Recorder interface {
	Record(ctx context.Context, row Row) error
}

// Mirror writes each row to Primary and then, best effort, to every Secondary.
// Only a Primary failure is returned. Secondary failures are joined and handed
// to OnError, so a broken mirror never turns a recorded prediction into an error.
type Mirror struct {
	Primary   Recorder
	Secondary []Recorder
	OnError   func(error)
}

func (m Mirror) Record(ctx context.Context, row Row) error {
	if err := m.Primary.Record(ctx, row); err != nil {
		return err
	}
	var err error
	for _, r := range m.Secondary {
		err = multierr.Append(err, r.Record(ctx, row))
	}
	if err != nil && m.OnError != nil {
		m.OnError(err)
	}
	return nil
}

// JSONFloat encodes finite values as JSON numbers and NaN or ±Inf as the strings
// the CSV log uses ("nan", "inf", "-inf"), which encoding/json cannot represent.
type JSONFloat float64

func (f JSONFloat) MarshalJSON() ([]byte, error) {
	v := float64(f)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return json.Marshal(FormatFloat(v))
	}
	return json.Marshal(v)
}

func (f *JSONFloat) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return err
		}
		*f = JSONFloat(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*f = JSONFloat(v)
	return nil
}

// FormatFloat renders v the way existing prediction logs store numbers: shortest
// round-trip digits, always with a fractional part or exponent (70 -> "70.0",
// 1e16 -> "1e+16", 0.00001 -> "1e-05").
func FormatFloat(v float64) string {
	switch {
	case math.IsNaN(v):
		return "nan"
	case math.IsInf(v, 1):
		return "inf"
	case math.IsInf(v, -1):
		return "-inf"
	}

	abs := math.Abs(v)
	if abs != 0 && (abs < 1e-4 || abs >= 1e16) {
		s := strconv.FormatFloat(v, 'e', -1, 64)
		mantissa, exp, _ := strings.Cut(s, "e")
		// exponent keeps at least two digits: 1e-05, 1e+16, 1e+100
		sign := exp[:1]
		digits := strings.TrimLeft(exp[1:], "0")
		if len(digits) < 2 {
			digits = strings.Repeat("0", 2-len(digits)) + digits
		}
		return mantissa + "e" + sign + digits
	}

	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}
