package main

import (
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"cvdrisk/audit"
	"cvdrisk/db"
	"cvdrisk/ml"
	"cvdrisk/monitoring"
	"cvdrisk/predict"
)

// app holds everything a prediction needs, shared by serve and predict.
type app struct {
	logger    *zap.Logger
	modelErr  error
	csv       *audit.CSVLog
	store     *db.Store
	metrics   *monitoring.MetricsCollector
	predictor *predict.Handler
}

func newApp(cfg *Config, logger *zap.Logger, observers ...predict.Observer) (*app, error) {
	a := &app{
		logger:  logger,
		metrics: monitoring.NewMetricsCollector(),
	}

	model, err := loadClassifier(cfg, logger)
	if err != nil {
		// keep serving; every prediction reports the load failure
		a.modelErr = err
		model = ml.Unavailable{Err: err}
	}

	a.csv, err = audit.OpenCSV(cfg.Audit.CSVPath)
	if err != nil {
		return nil, err
	}
	var recorder audit.Recorder = a.csv
	if cfg.Database.Path != "" {
		a.store, err = db.Open(cfg.Database.Path)
		if err != nil {
			a.csv.Close()
			return nil, err
		}
		// the CSV log is authoritative; the SQLite copy is best effort
		recorder = audit.Mirror{
			Primary:   a.csv,
			Secondary: []audit.Recorder{a.store},
			OnError: func(err error) {
				logger.Warn("sqlite mirror write failed", zap.Error(err))
			},
		}
	}

	opts := []predict.Option{
		predict.WithLogger(logger),
		predict.WithInferenceTimeout(cfg.Model.InferenceTimeout),
		predict.WithObserver(a.metrics.Observe),
	}
	for _, o := range observers {
		opts = append(opts, predict.WithObserver(o))
	}
	a.predictor = predict.NewHandler(model, recorder, opts...)
	return a, nil
}

func loadClassifier(cfg *Config, logger *zap.Logger) (ml.Classifier, error) {
	model, err := ml.LoadModel(cfg.Model.Type, cfg.Model.Path)
	if err != nil {
		logger.Error("Model not loaded properly.", zap.String("path", cfg.Model.Path), zap.Error(err))
		return nil, err
	}
	logger.Info("Model loaded successfully.", zap.String("type", cfg.Model.Type), zap.String("path", cfg.Model.Path))
	return ml.NewCached(model, cfg.Model.CacheSize)
}

func (a *app) Close() error {
	err := a.csv.Close()
	if a.store != nil {
		err = multierr.Append(err, a.store.Close())
	}
	return err
}
