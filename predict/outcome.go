package predict

import (
	"encoding/json"
	"time"

	"cvdrisk/audit"
)

// Label is the human-readable risk category.
type Label string

const (
	HighRisk Label = "High risk of Cardiovascular Disease (CVD)"
	LowRisk  Label = "Low risk of Cardiovascular Disease (CVD)"
)

// LabelFor maps a raw model output to a label. Only an exact 1 is high risk.
func LabelFor(raw float64) Label {
	if raw == 1 {
		return HighRisk
	}
	return LowRisk
}

type Kind string

const (
	KindSuccess        Kind = "success"
	KindParseError     Kind = "parse_error"
	KindInferenceError Kind = "inference_error"
	KindAuditError     Kind = "audit_error"
)

// Outcome is the result of one Handle call.
type Outcome struct {
	Kind        Kind          `json:"kind"`
	Label       Label         `json:"label,omitempty"`
	Message     string        `json:"error,omitempty"`
	Weight      float64       `json:"weight"`
	Cholesterol float64       `json:"cholesterol"`
	Audited     bool          `json:"audited"`
	Duration    time.Duration `json:"duration"`
}

func (o Outcome) Success() bool {
	return o.Kind == KindSuccess
}

// Text is what the page shows: the label, or "Error: <message>".
func (o Outcome) Text() string {
	if o.Success() {
		return string(o.Label)
	}
	return "Error: " + o.Message
}

type plainOutcome Outcome

type outcomeJSON struct {
	plainOutcome
	Weight      audit.JSONFloat `json:"weight"`
	Cholesterol audit.JSONFloat `json:"cholesterol"`
}

// MarshalJSON writes NaN and ±Inf inputs as strings so the API and the live
// feed can still report them.
func (o Outcome) MarshalJSON() ([]byte, error) {
	return json.Marshal(outcomeJSON{plainOutcome(o), audit.JSONFloat(o.Weight), audit.JSONFloat(o.Cholesterol)})
}

func (o *Outcome) UnmarshalJSON(data []byte) error {
	var v outcomeJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*o = Outcome(v.plainOutcome)
	o.Weight = float64(v.Weight)
	o.Cholesterol = float64(v.Cholesterol)
	return nil
}
