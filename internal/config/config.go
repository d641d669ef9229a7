package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v9"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"handoff/internal/logger"
	"handoff/internal/stress"
)

// EnvPrefix は環境変数による上書きで使う接頭辞
const EnvPrefix = "HANDOFF_"

// DefaultAddr は API サーバーのデフォルトの待ち受けアドレス
const DefaultAddr = ":8080"

// FileConfig は設定ファイルの構造
type FileConfig struct {
	Stress StressConfig `yaml:"stress" json:"stress" envPrefix:"STRESS_"`
	Log    LogConfig    `yaml:"log" json:"log" envPrefix:"LOG_"`
	API    APIConfig    `yaml:"api" json:"api" envPrefix:"API_"`
}

// StressConfig はストレス実行の設定
type StressConfig struct {
	Preset      string `yaml:"preset" json:"preset" env:"PRESET"`
	Name        string `yaml:"name" json:"name" env:"NAME"`
	Description string `yaml:"description" json:"description" env:"DESCRIPTION"`

	Workers        int    `yaml:"workers" json:"workers" env:"WORKERS"`
	Iterations     int    `yaml:"iterations" json:"iterations" env:"ITERATIONS"`
	FailEvery      int    `yaml:"fail_every" json:"fail_every" env:"FAIL_EVERY"`
	ResetEvery     int    `yaml:"reset_every" json:"reset_every" env:"RESET_EVERY"`
	JobDelay       string `yaml:"job_delay" json:"job_delay" env:"JOB_DELAY"`
	PingPongRounds int    `yaml:"ping_pong_rounds" json:"ping_pong_rounds" env:"PING_PONG_ROUNDS"`

	Emulated     bool `yaml:"emulated" json:"emulated" env:"EMULATED"`
	LockOSThread bool `yaml:"lock_os_thread" json:"lock_os_thread" env:"LOCK_OS_THREAD"`
}

// LogConfig はログ設定
type LogConfig struct {
	Level  string `yaml:"level" json:"level" env:"LEVEL"`
	Format string `yaml:"format" json:"format" env:"FORMAT"` // console または json
}

// APIConfig は API サーバー設定
type APIConfig struct {
	Addr string `yaml:"addr" json:"addr" env:"ADDR"`
}

// Load は設定ファイルを読み込み、環境変数で上書きして検証する
// path が空ならファイルは読まない。
func Load(path string) (*FileConfig, error) {
	config := &FileConfig{}
	if path != "" {
		c, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		config = c
	}

	if err := ApplyEnv(config); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return config, nil
}

// LoadFile は設定ファイルを読み込む
// 拡張子で YAML、JSON、.env を判別する。
func LoadFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config FileConfig
	ext := strings.ToLower(filepath.Ext(path))

	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse JSON: %w", err)
		}
	case ".env":
		envMap, err := godotenv.Read(path)
		if err != nil {
			return nil, fmt.Errorf("failed to parse .env file: %w", err)
		}
		if err := env.ParseWithOptions(&config, env.Options{
			Environment: envMap,
			Prefix:      EnvPrefix,
		}); err != nil {
			return nil, fmt.Errorf("failed to parse .env file: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}

	return &config, nil
}

// ApplyEnv は HANDOFF_ で始まる環境変数で設定を上書きする
func ApplyEnv(config *FileConfig) error {
	if err := env.ParseWithOptions(config, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("failed to parse environment variables: %w", err)
	}
	return nil
}

// ToStressConfig は FileConfig を stress.Config に変換する
// preset が指定されていればそれを基に、なければデフォルト設定を基にする。
func (f *FileConfig) ToStressConfig() (stress.Config, error) {
	sc := f.Stress

	config := stress.DefaultConfig()
	if sc.Preset != "" {
		preset, ok := stress.GetPreset(sc.Preset)
		if !ok {
			return config, fmt.Errorf("unknown preset: %s", sc.Preset)
		}
		config = preset
	}

	if sc.Name != "" {
		config.Name = sc.Name
	}
	if sc.Description != "" {
		config.Description = sc.Description
	}
	if sc.Workers > 0 {
		config.Workers = sc.Workers
	}
	if sc.Iterations > 0 {
		config.Iterations = sc.Iterations
	}
	if sc.FailEvery > 0 {
		config.FailEvery = sc.FailEvery
	}
	if sc.ResetEvery > 0 {
		config.ResetEvery = sc.ResetEvery
	}
	if sc.PingPongRounds > 0 {
		config.PingPongRounds = sc.PingPongRounds
	}
	if sc.JobDelay != "" {
		d, err := time.ParseDuration(sc.JobDelay)
		if err != nil {
			return config, fmt.Errorf("invalid job_delay: %w", err)
		}
		config.JobDelay = d
	}
	config.Emulated = config.Emulated || sc.Emulated
	config.LockOSThread = config.LockOSThread || sc.LockOSThread

	return config, config.Validate()
}

// Logger はログ設定に従ってロガーを作成する
func (l LogConfig) Logger(out io.Writer) (*logger.Logger, error) {
	level, err := logger.ParseLevel(l.Level)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(l.Format) {
	case "", "console":
		return logger.New(out, level), nil
	case "json":
		return logger.NewJSON(out, level), nil
	default:
		return nil, fmt.Errorf("unknown log format: %s", l.Format)
	}
}

// ListenAddr は API サーバーの待ち受けアドレスを返す
func (a APIConfig) ListenAddr() string {
	if a.Addr == "" {
		return DefaultAddr
	}
	return a.Addr
}

// Validate は設定を検証する
func (f *FileConfig) Validate() error {
	sc := f.Stress

	if sc.Workers < 0 {
		return fmt.Errorf("stress.workers must be non-negative")
	}
	if sc.Iterations < 0 {
		return fmt.Errorf("stress.iterations must be non-negative")
	}
	if sc.FailEvery < 0 {
		return fmt.Errorf("stress.fail_every must be non-negative")
	}
	if sc.ResetEvery < 0 {
		return fmt.Errorf("stress.reset_every must be non-negative")
	}
	if sc.PingPongRounds < 0 {
		return fmt.Errorf("stress.ping_pong_rounds must be non-negative")
	}
	if sc.Preset != "" {
		if _, ok := stress.GetPreset(sc.Preset); !ok {
			return fmt.Errorf("stress.preset %q is not a known preset", sc.Preset)
		}
	}

	if _, err := logger.ParseLevel(f.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	switch strings.ToLower(f.Log.Format) {
	case "", "console", "json":
	default:
		return fmt.Errorf("log.format must be console or json")
	}

	return nil
}
