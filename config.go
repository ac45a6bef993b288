package main

import (
	"os"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v2"

	qhttp "cvdrisk/http"
	"cvdrisk/logging"
	"cvdrisk/ml"
)

const defaultConfigPath = "config.yaml"

type Config struct {
	HTTP  qhttp.ServerConfig `yaml:"http"`
	Model struct {
		Type             string        `yaml:"type"`
		Path             string        `yaml:"path"`
		InferenceTimeout time.Duration `yaml:"inference_timeout"`
		CacheSize        int           `yaml:"cache_size"`
	} `yaml:"model"`
	Audit struct {
		CSVPath string `yaml:"csv_path"`
	} `yaml:"audit"`
	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`
	Log logging.Config `yaml:"log"`
}

func defaultConfig() Config {
	var cfg Config
	cfg.HTTP = qhttp.DefaultServerConfig()
	cfg.Model.Type = ml.KindDecisionTree
	cfg.Model.Path = "ML/model.json"
	cfg.Model.CacheSize = 1024
	cfg.Audit.CSVPath = "predictions_log.csv"
	cfg.Log = logging.DefaultConfig()
	return cfg
}

// loadConfig decodes path over the defaults. A missing file is only an error when
// required is set, so the service starts with no config.yaml at all.
func loadConfig(path string, required bool) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !required {
			return &cfg, nil
		}
		return nil, eris.Wrapf(err, "read config %s", path)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, eris.Wrapf(err, "parse config %s", path)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		return eris.Errorf("http.port %d out of range", c.HTTP.Port)
	}
	if c.Audit.CSVPath == "" {
		return eris.New("audit.csv_path is required")
	}
	if c.Model.CacheSize < 0 {
		return eris.Errorf("model.cache_size must not be negative, got %d", c.Model.CacheSize)
	}
	if c.Model.InferenceTimeout < 0 {
		return eris.Errorf("model.inference_timeout must not be negative, got %s", c.Model.InferenceTimeout)
	}
	return nil
}
