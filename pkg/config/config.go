package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment"`
	Server      struct {
		Port            int           `yaml:"port"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`
	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
		Output string `yaml:"output"`
	} `yaml:"logging"`
	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
	} `yaml:"metrics"`
	Backend struct {
		Type         string        `yaml:"type"`
		BatchSize    int           `yaml:"batch_size"`
		BatchTimeout time.Duration `yaml:"batch_timeout"`
	} `yaml:"backend"`
	Kafka struct {
		Brokers      []string `yaml:"brokers"`
		Topic        string   `yaml:"topic"`
		AlertTopic   string   `yaml:"alert_topic"`
		LogTopic     string   `yaml:"log_topic"`
		RequiredAcks int      `yaml:"required_acks"`
		Compression  string   `yaml:"compression"`
		Producer     struct {
			MaxAttempts  int           `yaml:"max_attempts"`
			Linger       time.Duration `yaml:"linger"`
			BatchBytes   int           `yaml:"batch_bytes"`
			BatchSize    int           `yaml:"batch_size"`
			WriteTimeout time.Duration `yaml:"write_timeout"`
			ReadTimeout  time.Duration `yaml:"read_timeout"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID    string        `yaml:"group_id"`
			Workers    int           `yaml:"workers"`
			BufferSize int           `yaml:"buffer_size"`
			RetryMax   int           `yaml:"retry_max"`
			BackoffMin time.Duration `yaml:"backoff_min"`
			BackoffMax time.Duration `yaml:"backoff_max"`
			DLQTopic   string        `yaml:"dlq_topic"`
			MinBytes   int           `yaml:"min_bytes"`
			MaxBytes   int           `yaml:"max_bytes"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	ClickHouse struct {
		Host             string        `yaml:"host"`
		Port             int           `yaml:"port"`
		Database         string        `yaml:"database"`
		User             string        `yaml:"user"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout"`
		ReadTimeout      time.Duration `yaml:"read_timeout"`
		WriteTimeout     time.Duration `yaml:"write_timeout"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time"`
	} `yaml:"clickhouse"`
	Feed struct {
		APIKey         string        `yaml:"api_key"`
		WebSocketURL   string        `yaml:"websocket_url"`
		Symbols        []string      `yaml:"symbols"`
		ReconnectDelay time.Duration `yaml:"reconnect_delay"`
		PingInterval   time.Duration `yaml:"ping_interval"`
	} `yaml:"feed"`
	Detection struct {
		WindowSize         int     `yaml:"window_size"`          // rolling window capacity
		ZThreshold         float64 `yaml:"z_threshold"`          // default 3.0
		IQRMultiplier      float64 `yaml:"iqr_multiplier"`       // default 1.5
		GrubbsAlpha        float64 `yaml:"grubbs_alpha"`         // default 0.05
		DecisionThreshold  float64 `yaml:"decision_threshold"`   // default 0.5
		AllowSingleTrigger bool    `yaml:"allow_single_trigger"` // soft-OR policy
		// per-method ensemble weights; nil weights all present methods equally
		Weights map[string]float64 `yaml:"weights"`
	} `yaml:"detection"`
	Learned struct {
		Contamination       float64       `yaml:"contamination"`         // default 0.1
		MinTrainSize        int           `yaml:"min_train_size"`        // default 50
		KNeighbors          int           `yaml:"k_neighbors"`           // default 20
		ReconstructionPct   float64       `yaml:"reconstruction_pct"`    // default 0.95
		EWMAAlpha           float64       `yaml:"ewma_alpha"`            // default 0.3
		Seed                int64         `yaml:"seed"`                  // default 42
		RefitInterval       time.Duration `yaml:"refit_interval"`        // how often fit jobs are enqueued
		TrainingWindow      int           `yaml:"training_window"`       // observations fetched per fit
		RegimeFeatureWindow int           `yaml:"regime_feature_window"` // window for regime features
	} `yaml:"learned"`
	Drift struct {
		Threshold       float64    `yaml:"threshold"`        // default 0.1
		Buckets         int        `yaml:"buckets"`          // default 10
		MinSample       int        `yaml:"min_sample"`       // default 10
		VarianceBand    [2]float64 `yaml:"variance_band"`    // default [0.5, 2.0]
		ReferenceWindow int        `yaml:"reference_window"` // observations frozen as reference
		// per-test weights; nil uses the documented defaults
		Weights map[string]float64 `yaml:"weights"`
	} `yaml:"drift"`
	Regime struct {
		MaxIterations int     `yaml:"max_iterations"` // default 100
		Tolerance     float64 `yaml:"tolerance"`      // default 1e-6
		MinTrainRows  int     `yaml:"min_train_rows"` // default 40
	} `yaml:"regime"`
	Alerts struct {
		WarningThreshold  float64 `yaml:"warning_threshold"`  // default 0.5
		CriticalThreshold float64 `yaml:"critical_threshold"` // default 0.8
		MaxRetained       int     `yaml:"max_retained"`       // default 100
	} `yaml:"alerts"`
	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
	Queue struct {
		Workers    int           `yaml:"workers"`
		QueueSize  int           `yaml:"queue_size"`
		RetryLimit int           `yaml:"retry_limit"`
		RetryDelay time.Duration `yaml:"retry_delay"`
	} `yaml:"queue"`
	CacheTTL struct {
		Snapshot time.Duration `yaml:"snapshot"`
		Drift    time.Duration `yaml:"drift"`
		Regime   time.Duration `yaml:"regime"`
	} `yaml:"cache_ttl"`
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	c.applyDefaults()

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("FEED_API_KEY"); v != "" {
		c.Feed.APIKey = v
	}
	if v := os.Getenv("SYMBOLS"); v != "" {
		c.Feed.Symbols = strings.Split(v, ",")
	}
	if v := os.Getenv("BACKEND"); v != "" {
		c.Backend.Type = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("KAFKA_TOPIC"); v != "" {
		c.Kafka.Topic = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}

	return c, nil
}

// applyDefaults fills zero values with the documented detection defaults so a
// minimal YAML file still yields a working service.
func (c *Config) applyDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stdout"
	}
	if c.Kafka.AlertTopic == "" {
		c.Kafka.AlertTopic = "streamsentinel.alerts"
	}
	if c.Queue.Workers == 0 {
		c.Queue.Workers = 2
	}
	if c.Queue.QueueSize == 0 {
		c.Queue.QueueSize = 100
	}
	if c.Queue.RetryLimit == 0 {
		c.Queue.RetryLimit = 3
	}
	if c.Queue.RetryDelay == 0 {
		c.Queue.RetryDelay = 30 * time.Second
	}
	if c.Detection.WindowSize == 0 {
		c.Detection.WindowSize = 100
	}
	if c.Detection.ZThreshold == 0 {
		c.Detection.ZThreshold = 3.0
	}
	if c.Detection.IQRMultiplier == 0 {
		c.Detection.IQRMultiplier = 1.5
	}
	if c.Detection.GrubbsAlpha == 0 {
		c.Detection.GrubbsAlpha = 0.05
	}
	if c.Detection.DecisionThreshold == 0 {
		c.Detection.DecisionThreshold = 0.5
	}
	if c.Learned.Contamination == 0 {
		c.Learned.Contamination = 0.1
	}
	if c.Learned.MinTrainSize == 0 {
		c.Learned.MinTrainSize = 50
	}
	if c.Learned.KNeighbors == 0 {
		c.Learned.KNeighbors = 20
	}
	if c.Learned.ReconstructionPct == 0 {
		c.Learned.ReconstructionPct = 0.95
	}
	if c.Learned.EWMAAlpha == 0 {
		c.Learned.EWMAAlpha = 0.3
	}
	if c.Learned.Seed == 0 {
		c.Learned.Seed = 42
	}
	if c.Learned.RefitInterval == 0 {
		c.Learned.RefitInterval = 5 * time.Minute
	}
	if c.Learned.TrainingWindow == 0 {
		c.Learned.TrainingWindow = 600
	}
	if c.Learned.RegimeFeatureWindow == 0 {
		c.Learned.RegimeFeatureWindow = 20
	}
	if c.Drift.Threshold == 0 {
		c.Drift.Threshold = 0.1
	}
	if c.Drift.Buckets == 0 {
		c.Drift.Buckets = 10
	}
	if c.Drift.MinSample == 0 {
		c.Drift.MinSample = 10
	}
	if c.Drift.VarianceBand == [2]float64{} {
		c.Drift.VarianceBand = [2]float64{0.5, 2.0}
	}
	if c.Drift.ReferenceWindow == 0 {
		c.Drift.ReferenceWindow = 500
	}
	if c.Regime.MaxIterations == 0 {
		c.Regime.MaxIterations = 100
	}
	if c.Regime.Tolerance == 0 {
		c.Regime.Tolerance = 1e-6
	}
	if c.Regime.MinTrainRows == 0 {
		c.Regime.MinTrainRows = 40
	}
	if c.Alerts.WarningThreshold == 0 {
		c.Alerts.WarningThreshold = 0.5
	}
	if c.Alerts.CriticalThreshold == 0 {
		c.Alerts.CriticalThreshold = 0.8
	}
	if c.Alerts.MaxRetained == 0 {
		c.Alerts.MaxRetained = 100
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Environment == "" {
		return fmt.Errorf("environment is required")
	}
	if c.Backend.Type == "" {
		return fmt.Errorf("backend.type is required")
	}
	if c.Backend.Type != "kafka" && c.Backend.Type != "clickhouse" {
		return fmt.Errorf("backend.type must be 'kafka' or 'clickhouse', got '%s'", c.Backend.Type)
	}
	if len(c.Feed.Symbols) == 0 {
		return fmt.Errorf("feed.symbols cannot be empty")
	}
	if c.Detection.WindowSize < 2 {
		return fmt.Errorf("detection.window_size must be at least 2")
	}
	if c.Detection.DecisionThreshold <= 0 || c.Detection.DecisionThreshold > 1 {
		return fmt.Errorf("detection.decision_threshold must be in (0, 1]")
	}
	if c.Learned.Contamination <= 0 || c.Learned.Contamination >= 0.5 {
		return fmt.Errorf("learned.contamination must be in (0, 0.5)")
	}
	if c.Drift.Threshold <= 0 || c.Drift.Threshold > 1 {
		return fmt.Errorf("drift.threshold must be in (0, 1]")
	}
	if c.Drift.VarianceBand[0] <= 0 || c.Drift.VarianceBand[0] >= c.Drift.VarianceBand[1] {
		return fmt.Errorf("drift.variance_band must be an increasing positive pair")
	}
	if c.Alerts.WarningThreshold >= c.Alerts.CriticalThreshold {
		return fmt.Errorf("alerts.warning_threshold must be below alerts.critical_threshold")
	}
	return nil
}
