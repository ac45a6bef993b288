// Package predict turns submitted form values into a risk label and an audit row.
package predict

import (
	"context"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"cvdrisk/audit"
	"cvdrisk/ml"
)

// Observer is notified after every Handle call.
type Observer func(Outcome)

type Handler struct {
	model     ml.Classifier
	recorder  audit.Recorder
	logger    *zap.Logger
	timeout   time.Duration
	observers []Observer
}

type Option func(*Handler)

// WithInferenceTimeout bounds each model call. Zero leaves it unbounded.
func WithInferenceTimeout(d time.Duration) Option {
	return func(h *Handler) { h.timeout = d }
}

func WithLogger(logger *zap.Logger) Option {
	return func(h *Handler) { h.logger = logger }
}

func WithObserver(o Observer) Option {
	return func(h *Handler) { h.observers = append(h.observers, o) }
}

func NewHandler(model ml.Classifier, recorder audit.Recorder, opts ...Option) *Handler {
	if model == nil {
		model = ml.Unavailable{}
	}
	h := &Handler{
		model:    model,
		recorder: recorder,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HandleValues is Handle for url.Values; only the first value of each field is used.
func (h *Handler) HandleValues(ctx context.Context, values url.Values) Outcome {
	form := make(map[string]string, len(values))
	for key, vs := range values {
		if len(vs) > 0 {
			form[key] = vs[0]
		}
	}
	return h.Handle(ctx, form)
}

// Handle parses the form, runs the model and appends one audit row. Parse failures
// return before the model or the audit log is touched. Every later failure still
// produces an audit row when the log itself is writable.
func (h *Handler) Handle(ctx context.Context, form map[string]string) Outcome {
	start := time.Now()
	outcome := h.handle(ctx, form)
	outcome.Duration = time.Since(start)

	fields := []zap.Field{
		zap.String("kind", string(outcome.Kind)),
		zap.Duration("duration", outcome.Duration),
	}
	if outcome.Success() {
		h.logger.Info("Prediction result: "+string(outcome.Label), fields...)
	} else {
		h.logger.Error("Error during prediction: "+outcome.Message, fields...)
	}

	for _, o := range h.observers {
		o(outcome)
	}
	return outcome
}

func (h *Handler) handle(ctx context.Context, form map[string]string) Outcome {
	features, err := ParseFeatures(form)
	if err != nil {
		return Outcome{Kind: KindParseError, Message: err.Error()}
	}
	outcome := Outcome{Weight: features.Weight, Cholesterol: features.Cholesterol}

	label, err := h.infer(ctx, features)
	row := audit.Row{Weight: features.Weight, Cholesterol: features.Cholesterol}
	if err != nil {
		outcome.Kind = KindInferenceError
		outcome.Message = err.Error()
		row.Prediction = outcome.Text()
	} else {
		outcome.Kind = KindSuccess
		outcome.Label = label
		row.Prediction = string(label)
	}

	// the row is written even if the caller has gone away
	if err := h.recorder.Record(context.WithoutCancel(ctx), row); err != nil {
		h.logger.Error("audit append failed", zap.Error(err))
		if outcome.Success() {
			outcome.Kind = KindAuditError
			outcome.Label = ""
			outcome.Message = err.Error()
		} else {
			outcome.Message += "; " + err.Error()
		}
		return outcome
	}
	outcome.Audited = true
	return outcome
}

func (h *Handler) infer(ctx context.Context, features ml.Features) (Label, error) {
	if h.timeout <= 0 {
		// with no deadline configured the model call is not tied to the request
		ctx = context.WithoutCancel(ctx)
	} else {
		if err := ctx.Err(); err != nil {
			return "", eris.Wrap(err, "inference")
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	type result struct {
		out []float64
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: eris.Errorf("model panicked: %v", r)}
			}
		}()
		out, err := h.model.Predict(ctx, [][]float64{features.Vector()})
		done <- result{out: out, err: err}
	}()

	var res result
	select {
	case res = <-done:
	case <-ctx.Done():
		return "", eris.Wrap(ctx.Err(), "inference")
	}
	if res.err != nil {
		return "", res.err
	}
	if len(res.out) == 0 {
		return "", eris.New("model returned no prediction")
	}
	return LabelFor(res.out[0]), nil
}
