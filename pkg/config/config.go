// Package config は環境変数（と任意の .env ファイル）から設定を読み込みます。
// 変数名は PSYGRID_<セクション>_<項目> です。例: PSYGRID_GEN_BACKEND, PSYGRID_WORKER_COUNT。
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/shouni/psychedelic-image-kit/pkg/domain"
	"github.com/shouni/psychedelic-image-kit/pkg/generator"
	"github.com/shouni/psychedelic-image-kit/pkg/imgutil"
)

const envPrefix = "psygrid"

type Config struct {
	HTTP     HTTPConfig
	Gen      GenConfig
	Pipeline PipelineConfig
	Worker   WorkerConfig
	Store    StoreConfig
	Progress ProgressConfig
	Log      LogConfig
}

type HTTPConfig struct {
	Addr             string        `default:":8080"`
	MaxUpload        int64         `split_words:"true" default:"10485760"`
	UploadsPerMinute float64       `split_words:"true" default:"6"`
	UploadBurst      int           `split_words:"true" default:"3"`
	ShutdownTimeout  time.Duration `split_words:"true" default:"30s"`
	AllowedOrigins   []string      `split_words:"true"`
}

type GenConfig struct {
	Backend       string        `default:"variation"`
	BaseURL       string        `split_words:"true"`
	APIKey        string        `envconfig:"API_KEY"`
	Model         string
	Endpoint      string
	ImageSize     int           `split_words:"true"`
	Prompt        string
	ResponseField string        `split_words:"true"`
	Timeout       time.Duration `default:"60s"`
	RateLimit     float64       `split_words:"true"`
	RateBurst     int           `split_words:"true" default:"1"`
	Seed          *int64

	// AllowPrivateNetwork はローカルや社内の互換サーバーを使うときだけ有効にします。
	AllowPrivateNetwork bool `split_words:"true"`
}

type PipelineConfig struct {
	Iterations     int    `default:"9"`
	ColorMode      string `split_words:"true" default:"rgb"`
	DisplaySize    int    `split_words:"true" default:"256"`
	DisplayQuality int    `split_words:"true" default:"80"`
}

type WorkerConfig struct {
	Count int `default:"2"`
	Queue int `default:"16"`
}

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

type StoreConfig struct {
	Driver      string `default:"memory"`
	DSN         string
	SaveRetries uint64 `split_words:"true" default:"3"`
	Migrate     bool   `default:"true"`
}

type ProgressConfig struct {
	Buffer       int           `default:"16"`
	RedisURL     string        `envconfig:"REDIS_URL"`
	RedisChannel string        `split_words:"true" default:"psygrid:progress"`
	PongWait     time.Duration `split_words:"true" default:"60s"`
}

type LogConfig struct {
	Level  string `default:"info"`
	Format string `default:"text"`
}

// Load は envFile（空なら ".env"）があれば読み込んでから環境変数を解釈します。
// 既に設定されている環境変数は .env で上書きされません。
// CLI フラグで上書きする余地を残すため、Validate は呼び出し側で行います。
func Load(envFile string) (*Config, error) {
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", envFile, err)
	}

	var cfg Config
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("error processing environment configuration: %w", err)
	}
	return &cfg, nil
}

// Validate は値の組み合わせを検証します。
func (c *Config) Validate() error {
	var errs []error

	if _, err := c.Generator().WithDefaults(); err != nil {
		errs = append(errs, err)
	}
	if c.Gen.Backend != generator.BackendLocal && c.Gen.APIKey == "" {
		errs = append(errs, fmt.Errorf("PSYGRID_GEN_API_KEY is required for backend %q", c.Gen.Backend))
	}
	if c.Pipeline.Iterations < 1 || c.Pipeline.Iterations > domain.MaxIterations {
		errs = append(errs, fmt.Errorf("pipeline iterations must be in [1, %d]: %d", domain.MaxIterations, c.Pipeline.Iterations))
	}
	if _, err := imgutil.ParseColorMode(c.Pipeline.ColorMode); err != nil {
		errs = append(errs, err)
	}
	if c.Pipeline.DisplayQuality < 0 || c.Pipeline.DisplayQuality > 100 {
		errs = append(errs, fmt.Errorf("display quality must be in [0, 100]: %d", c.Pipeline.DisplayQuality))
	}
	if c.Worker.Count < 1 {
		errs = append(errs, fmt.Errorf("worker count must be positive: %d", c.Worker.Count))
	}
	if c.Worker.Queue < 0 {
		errs = append(errs, fmt.Errorf("worker queue must not be negative: %d", c.Worker.Queue))
	}
	switch c.Store.Driver {
	case StoreMemory:
	case StorePostgres:
		if c.Store.DSN == "" {
			errs = append(errs, fmt.Errorf("PSYGRID_STORE_DSN is required for the postgres store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store driver: %q", c.Store.Driver))
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if f := strings.ToLower(c.Log.Format); f != "text" && f != "json" {
		errs = append(errs, fmt.Errorf("unknown log format: %q", c.Log.Format))
	}

	return errors.Join(errs...)
}

// Generator は生成バックエンド用の設定に変換します。
func (c *Config) Generator() generator.Config {
	return generator.Config{
		Backend:        c.Gen.Backend,
		BaseURL:        c.Gen.BaseURL,
		APIKey:         c.Gen.APIKey,
		Model:          c.Gen.Model,
		Endpoint:       c.Gen.Endpoint,
		ImageSize:      c.Gen.ImageSize,
		PromptTemplate: c.Gen.Prompt,
		ResponseField:  c.Gen.ResponseField,
		Timeout:        c.Gen.Timeout,
		RateLimit:      c.Gen.RateLimit,
		RateBurst:      c.Gen.RateBurst,
		Seed:           c.Gen.Seed,

		AllowPrivateNetwork: c.Gen.AllowPrivateNetwork,
	}
}

// ColorMode は検証済みの色モードを返します。
func (c *Config) ColorMode() imgutil.ColorMode {
	mode, _ := imgutil.ParseColorMode(c.Pipeline.ColorMode)
	return mode
}
