package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Soarbook SoarbookConfig `yaml:"soarbook"`
}

// SoarbookConfig is the project configuration.
type SoarbookConfig struct {
	Input    InputConfig    `yaml:"input"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Playbook PlaybookConfig `yaml:"playbook"`
	Assets   []AssetConfig  `yaml:"assets"`
	Prompts  PromptsConfig  `yaml:"prompts"`
	Output   OutputConfig   `yaml:"output"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// InputConfig controls the container reader.
type InputConfig struct {
	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig controls Redis input.
type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	Key          string        `yaml:"key"`
	BlockTimeout time.Duration `yaml:"block_timeout"`
}

// PipelineConfig controls pipeline behavior.
type PipelineConfig struct {
	Workers       int           `yaml:"workers"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// PlaybookConfig selects the playbook and bounds action fan-out.
type PlaybookConfig struct {
	Path              string `yaml:"path"`
	ActionConcurrency int    `yaml:"action_concurrency"`
}

// AssetConfig binds an asset name to a connector.
type AssetConfig struct {
	Name     string           `yaml:"name"`
	Type     string           `yaml:"type"` // static|http|rules
	Fixtures string           `yaml:"fixtures"`
	HTTP     HTTPOutputConfig `yaml:"http"`
	Rules    string           `yaml:"rules"`
}

// PromptsConfig selects how analysts are asked.
type PromptsConfig struct {
	Mode     string              `yaml:"mode"` // console|redis|scripted
	Redis    PromptRedisConfig   `yaml:"redis"`
	Scripted map[string][]string `yaml:"scripted"`
	Delay    time.Duration       `yaml:"delay"`
}

// PromptRedisConfig controls the Redis prompt broker.
type PromptRedisConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	KeyPrefix    string        `yaml:"key_prefix"`
	BlockTimeout time.Duration `yaml:"block_timeout"`
	ResponseTTL  time.Duration `yaml:"response_ttl"`
}

// OutputConfig controls where run summaries go. Every listed sink receives
// every summary.
type OutputConfig struct {
	Sinks      []string               `yaml:"sinks"` // file|http|clickhouse|sqlite|runstate
	File       FileOutputConfig       `yaml:"file"`
	HTTP       HTTPOutputConfig       `yaml:"http"`
	ClickHouse ClickHouseOutputConfig `yaml:"clickhouse"`
	SQLite     SQLiteOutputConfig     `yaml:"sqlite"`
	RunState   RunStateConfig         `yaml:"runstate"`
}

// FileOutputConfig config for local JSON output.
type FileOutputConfig struct {
	Path string `yaml:"path"`
}

// HTTPOutputConfig config for remote endpoints. OnlyFailed applies to the
// summary sink only.
type HTTPOutputConfig struct {
	URL        string            `yaml:"url"`
	Timeout    time.Duration     `yaml:"timeout"`
	Headers    map[string]string `yaml:"headers"`
	OnlyFailed bool              `yaml:"only_failed"`
}

// ClickHouseOutputConfig config for ClickHouse HTTP JSONEachRow writes.
type ClickHouseOutputConfig struct {
	URL      string            `yaml:"url"`
	Database string            `yaml:"database"`
	Table    string            `yaml:"table"`
	Username string            `yaml:"username"`
	Password string            `yaml:"password"`
	Timeout  time.Duration     `yaml:"timeout"`
	Headers  map[string]string `yaml:"headers"`
}

// SQLiteOutputConfig config for the local audit database.
type SQLiteOutputConfig struct {
	Path string `yaml:"path"`
}

// RunStateConfig config for the Redis run index.
type RunStateConfig struct {
	Addr      string        `yaml:"addr"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	KeyPrefix string        `yaml:"key_prefix"`
	TTL       time.Duration `yaml:"ttl"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	Path    string `yaml:"path"`
}

// LoggingConfig controls logging output.
type LoggingConfig struct {
	Enabled bool   `yaml:"enabled"`
	Level   string `yaml:"level"`
	File    string `yaml:"file"`
	Console bool   `yaml:"console"`
}

// LoadConfig reads and parses a YAML config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
