package predict

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/url"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"cvdrisk/audit"
	"cvdrisk/db"
)

type fakeModel struct {
	out   []float64
	err   error
	delay time.Duration

	mu   sync.Mutex
	seen [][]float64
}

func (f *fakeModel) Predict(ctx context.Context, rows [][]float64) ([]float64, error) {
	f.mu.Lock()
	f.seen = append(f.seen, rows...)
	f.mu.Unlock()
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return f.out, f.err
}

type failingRecorder struct{}

func (failingRecorder) Record(ctx context.Context, row audit.Row) error {
	return errors.New("write predictions_log.csv: no space left on device")
}

func newCSV(t *testing.T) *audit.CSVLog {
	t.Helper()
	l, err := audit.OpenCSV(filepath.Join(t.TempDir(), "predictions_log.csv"))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() }) //nolint:errcheck
	return l
}

func readRows(t *testing.T, l *audit.CSVLog) [][]string {
	t.Helper()
	header, rows, err := audit.ReadAll(l.Path())
	require.NoError(t, err)
	require.Equal(t, audit.Header, header)
	return rows
}

func TestHandle_HighRisk(t *testing.T) {
	model := &fakeModel{out: []float64{1}}
	log := newCSV(t)
	h := NewHandler(model, log)

	outcome := h.Handle(context.Background(), map[string]string{"weight": "70.0", "cholesterol": "190.0"})

	require.True(t, outcome.Success())
	assert.Equal(t, HighRisk, outcome.Label)
	assert.Equal(t, "High risk of Cardiovascular Disease (CVD)", outcome.Text())
	assert.True(t, outcome.Audited)
	assert.Equal(t, [][]float64{{70, 190}}, model.seen)
	assert.Equal(t, [][]string{{"70.0", "190.0", "High risk of Cardiovascular Disease (CVD)"}}, readRows(t, log))
}

func TestHandle_LowRisk(t *testing.T) {
	log := newCSV(t)
	h := NewHandler(&fakeModel{out: []float64{0}}, log)

	outcome := h.Handle(context.Background(), map[string]string{"weight": "60.0", "cholesterol": "150.0"})

	require.True(t, outcome.Success())
	assert.Equal(t, LowRisk, outcome.Label)
	assert.Equal(t, [][]string{{"60.0", "150.0", "Low risk of Cardiovascular Disease (CVD)"}}, readRows(t, log))
}

func TestHandle_ParseErrorWritesNothing(t *testing.T) {
	model := &fakeModel{out: []float64{1}}
	log := newCSV(t)
	h := NewHandler(model, log)

	cases := []map[string]string{
		{"weight": "abc", "cholesterol": "190"},
		{"weight": "70", "cholesterol": ""},
		{"cholesterol": "190"},
		{"weight": "70"},
		{},
	}
	for _, form := range cases {
		outcome := h.Handle(context.Background(), form)
		assert.Equal(t, KindParseError, outcome.Kind, "form %v", form)
		assert.False(t, outcome.Audited)
		assert.NotEmpty(t, outcome.Message)
	}

	assert.Empty(t, readRows(t, log))
	assert.Empty(t, model.seen)

	outcome := h.Handle(context.Background(), map[string]string{"weight": "abc", "cholesterol": "1"})
	assert.Equal(t, `Error: could not convert string to float: "abc"`, outcome.Text())
}

func TestHandle_InferenceErrorThenRecovers(t *testing.T) {
	model := &fakeModel{err: errors.New("boom: model exploded")}
	log := newCSV(t)
	h := NewHandler(model, log)

	outcome := h.Handle(context.Background(), map[string]string{"weight": "70", "cholesterol": "190"})
	assert.Equal(t, KindInferenceError, outcome.Kind)
	assert.Contains(t, outcome.Message, "boom: model exploded")
	assert.Equal(t, "Error: "+outcome.Message, outcome.Text())

	model.err = nil
	model.out = []float64{1}
	outcome = h.Handle(context.Background(), map[string]string{"weight": "70", "cholesterol": "190"})
	require.True(t, outcome.Success())

	rows := readRows(t, log)
	require.Len(t, rows, 2)
	assert.Contains(t, rows[0][2], "Error: boom: model exploded")
	assert.Equal(t, string(HighRisk), rows[1][2])
}

func TestHandle_EmptyModelOutput(t *testing.T) {
	h := NewHandler(&fakeModel{out: nil}, newCSV(t))
	outcome := h.Handle(context.Background(), map[string]string{"weight": "1", "cholesterol": "2"})
	assert.Equal(t, KindInferenceError, outcome.Kind)
	assert.Contains(t, outcome.Message, "no prediction")
}

func TestHandle_ModelPanic(t *testing.T) {
	h := NewHandler(panicModel{}, newCSV(t))
	outcome := h.Handle(context.Background(), map[string]string{"weight": "1", "cholesterol": "2"})
	assert.Equal(t, KindInferenceError, outcome.Kind)
	assert.Contains(t, outcome.Message, "panicked")
}

type panicModel struct{}

func (panicModel) Predict(ctx context.Context, rows [][]float64) ([]float64, error) {
	panic("index out of range")
}

func TestHandle_NilModelIsUnavailable(t *testing.T) {
	h := NewHandler(nil, newCSV(t))
	outcome := h.Handle(context.Background(), map[string]string{"weight": "1", "cholesterol": "2"})
	assert.Equal(t, KindInferenceError, outcome.Kind)
	assert.Contains(t, outcome.Message, "model not loaded")
}

func TestHandle_AuditFailureHidesLabel(t *testing.T) {
	h := NewHandler(&fakeModel{out: []float64{1}}, failingRecorder{})

	outcome := h.Handle(context.Background(), map[string]string{"weight": "70", "cholesterol": "190"})

	assert.Equal(t, KindAuditError, outcome.Kind)
	assert.Empty(t, outcome.Label)
	assert.False(t, outcome.Audited)
	assert.Contains(t, outcome.Text(), "Error: write predictions_log.csv")
}

func TestHandle_AuditFailureAfterInferenceError(t *testing.T) {
	h := NewHandler(&fakeModel{err: errors.New("boom")}, failingRecorder{})
	outcome := h.Handle(context.Background(), map[string]string{"weight": "70", "cholesterol": "190"})
	assert.Equal(t, KindInferenceError, outcome.Kind)
	assert.Contains(t, outcome.Message, "boom")
	assert.Contains(t, outcome.Message, "no space left on device")
}

func TestHandle_InferenceTimeout(t *testing.T) {
	log := newCSV(t)
	h := NewHandler(&fakeModel{out: []float64{1}, delay: 200 * time.Millisecond}, log,
		WithInferenceTimeout(10*time.Millisecond))

	outcome := h.Handle(context.Background(), map[string]string{"weight": "70", "cholesterol": "190"})

	assert.Equal(t, KindInferenceError, outcome.Kind)
	assert.Contains(t, outcome.Message, "deadline exceeded")
	assert.Less(t, outcome.Duration, 200*time.Millisecond)
	assert.Len(t, readRows(t, log), 1)
}

func TestHandle_CancelledRequestRunsToCompletion(t *testing.T) {
	log := newCSV(t)
	h := NewHandler(&fakeModel{out: []float64{0}}, log)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	outcome := h.Handle(ctx, map[string]string{"weight": "70", "cholesterol": "190"})

	require.True(t, outcome.Success())
	assert.Equal(t, LowRisk, outcome.Label)
	assert.Equal(t, [][]string{{"70.0", "190.0", string(LowRisk)}}, readRows(t, log))
}

func TestHandle_CancelledRequestWithDeadlineStillAudits(t *testing.T) {
	log := newCSV(t)
	h := NewHandler(&fakeModel{out: []float64{0}}, log, WithInferenceTimeout(time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	outcome := h.Handle(ctx, map[string]string{"weight": "70", "cholesterol": "190"})

	// the model call is abandoned, but the attempt is still recorded
	assert.Equal(t, KindInferenceError, outcome.Kind)
	assert.Contains(t, outcome.Message, "context canceled")
	assert.Len(t, readRows(t, log), 1)
}

func TestHandle_NaNWithSQLiteMirror(t *testing.T) {
	log := newCSV(t)
	store, err := db.Open(filepath.Join(t.TempDir(), "cvdrisk.db"))
	require.NoError(t, err)
	defer store.Close()

	var mirrorErrs []error
	h := NewHandler(&fakeModel{out: []float64{1}}, audit.Mirror{
		Primary:   log,
		Secondary: []audit.Recorder{store},
		OnError:   func(err error) { mirrorErrs = append(mirrorErrs, err) },
	})

	for _, weight := range []string{"nan", "inf", "1e400", "-Infinity"} {
		outcome := h.Handle(context.Background(), map[string]string{"weight": weight, "cholesterol": "190"})
		require.True(t, outcome.Success(), "weight %q: %s", weight, outcome.Text())
		assert.Equal(t, HighRisk, outcome.Label)
		assert.True(t, outcome.Audited)
	}

	assert.Empty(t, mirrorErrs)
	assert.Equal(t, [][]string{
		{"nan", "190.0", string(HighRisk)},
		{"inf", "190.0", string(HighRisk)},
		{"inf", "190.0", string(HighRisk)},
		{"-inf", "190.0", string(HighRisk)},
	}, readRows(t, log))

	n, err := store.CountPredictions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestHandle_MirrorFailureKeepsLabel(t *testing.T) {
	log := newCSV(t)
	var mirrorErrs []error
	h := NewHandler(&fakeModel{out: []float64{1}}, audit.Mirror{
		Primary:   log,
		Secondary: []audit.Recorder{failingRecorder{}},
		OnError:   func(err error) { mirrorErrs = append(mirrorErrs, err) },
	})

	outcome := h.Handle(context.Background(), map[string]string{"weight": "70", "cholesterol": "190"})

	require.True(t, outcome.Success())
	assert.Equal(t, HighRisk, outcome.Label)
	assert.Len(t, mirrorErrs, 1)
	assert.Len(t, readRows(t, log), 1)
}

func TestOutcomeJSONNonFinite(t *testing.T) {
	raw, err := json.Marshal(Outcome{Kind: KindSuccess, Label: HighRisk, Weight: math.Inf(1), Cholesterol: math.NaN()})
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"weight":"inf"`)
	assert.Contains(t, string(raw), `"cholesterol":"nan"`)
	assert.Contains(t, string(raw), `"kind":"success"`)

	var back Outcome
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, HighRisk, back.Label)
	assert.True(t, math.IsInf(back.Weight, 1))
	assert.True(t, math.IsNaN(back.Cholesterol))
}

func TestHandleValues(t *testing.T) {
	h := NewHandler(&fakeModel{out: []float64{1}}, newCSV(t))
	outcome := h.HandleValues(context.Background(), url.Values{
		"weight":      {"７０", "999"},
		"cholesterol": {" 190 "},
	})
	require.True(t, outcome.Success())
	assert.Equal(t, 70.0, outcome.Weight)
	assert.Equal(t, 190.0, outcome.Cholesterol)
}

func TestLabelFor(t *testing.T) {
	assert.Equal(t, HighRisk, LabelFor(1))
	for _, raw := range []float64{0, 2, -1, 0.5, 1.0000001, math.NaN(), math.Inf(1)} {
		assert.Equal(t, LowRisk, LabelFor(raw), "raw %v", raw)
	}
}

func TestHandle_LogsAndNotifies(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	var seen []Outcome
	h := NewHandler(&fakeModel{out: []float64{1}}, newCSV(t),
		WithLogger(zap.New(core)),
		WithObserver(func(o Outcome) { seen = append(seen, o) }))

	h.Handle(context.Background(), map[string]string{"weight": "70", "cholesterol": "190"})
	h.Handle(context.Background(), map[string]string{"weight": "x", "cholesterol": "190"})

	require.Len(t, seen, 2)
	assert.True(t, seen[0].Success())
	assert.Equal(t, KindParseError, seen[1].Kind)

	assert.Equal(t, 1, logs.FilterMessage("Prediction result: "+string(HighRisk)).Len())
	assert.Equal(t, 1, logs.FilterLevelExact(zapcore.ErrorLevel).Len())
}

func TestHandle_ConcurrentRequestsProduceWholeRows(t *testing.T) {
	log := newCSV(t)
	h := NewHandler(&fakeModel{out: []float64{1}}, log)

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcome := h.Handle(context.Background(), map[string]string{
				"weight":      fmt.Sprint(i),
				"cholesterol": fmt.Sprint(100 + i),
			})
			assert.True(t, outcome.Success())
		}(i)
	}
	wg.Wait()

	rows := readRows(t, log)
	require.Len(t, rows, n)
	for _, row := range rows {
		var w, c float64
		_, err := fmt.Sscanf(row[0]+" "+row[1], "%g %g", &w, &c)
		require.NoError(t, err)
		assert.Equal(t, w+100, c)
		assert.Equal(t, string(HighRisk), row[2])
	}
}
