package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/croessner/ratebench/server/definitions"
	"github.com/croessner/ratebench/server/errors"
	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds all parameters for the harness.
type Config struct {
	Endpoint          string        `mapstructure:"endpoint" validate:"required,url"`
	Workers           int           `mapstructure:"workers" validate:"min=1"`
	MaxRetries        int           `mapstructure:"max_retries" validate:"min=0"`
	Timeout           time.Duration `mapstructure:"timeout" validate:"min=0"`
	WorkerTimeout     time.Duration `mapstructure:"worker_timeout" validate:"min=0"`
	MaxRetryWait      time.Duration `mapstructure:"max_retry_wait" validate:"min=0"`
	DefaultRetryAfter time.Duration `mapstructure:"default_retry_after" validate:"min=0"`
	ErrorBackoff      time.Duration `mapstructure:"error_backoff" validate:"min=0"`
	RPS               float64       `mapstructure:"rps" validate:"min=0"`
	Burst             int           `mapstructure:"burst" validate:"min=0"`

	Token     string      `mapstructure:"token"`
	TokenFile string      `mapstructure:"token_file" validate:"omitempty,file"`
	OAuth     OAuthConfig `mapstructure:"oauth"`

	Payload  PayloadConfig  `mapstructure:"payload"`
	Registry RegistryConfig `mapstructure:"registry"`
	Report   ReportConfig   `mapstructure:"report"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Log      LogConfig      `mapstructure:"log"`

	// RunID names the run in the registry; empty generates a new ksuid.
	RunID string `mapstructure:"run_id" validate:"omitempty,printascii"`

	Debug bool `mapstructure:"debug"`
}

// OAuthConfig enables the client credentials flow when ClientID is set.
type OAuthConfig struct {
	ClientID     string   `mapstructure:"client_id"`
	ClientSecret string   `mapstructure:"client_secret" validate:"required_with=ClientID"`
	TokenURL     string   `mapstructure:"token_url" validate:"required_with=ClientID,omitempty,url"`
	Scopes       []string `mapstructure:"scopes"`
}

// PayloadConfig describes the request descriptor sent by every worker.
type PayloadConfig struct {
	CRS              string    `mapstructure:"crs" validate:"required"`
	BBox             []float64 `mapstructure:"bbox" validate:"len=4"`
	Jitter           float64   `mapstructure:"jitter" validate:"min=0"`
	TimeFrom         string    `mapstructure:"time_from" validate:"required"`
	TimeTo           string    `mapstructure:"time_to" validate:"required"`
	DataType         string    `mapstructure:"data_type" validate:"required"`
	MosaickingOrder  string    `mapstructure:"mosaicking_order"`
	PreviewMode      string    `mapstructure:"preview_mode"`
	MaxCloudCoverage float64   `mapstructure:"max_cloud_coverage" validate:"min=0,max=100"`
	Upsampling       string    `mapstructure:"upsampling"`
	Downsampling     string    `mapstructure:"downsampling"`
	Width            int       `mapstructure:"width" validate:"min=1"`
	Height           int       `mapstructure:"height" validate:"min=1"`
	Identifier       string    `mapstructure:"identifier" validate:"required"`
	Format           string    `mapstructure:"format" validate:"required"`
	EvalscriptFile   string    `mapstructure:"evalscript_file" validate:"omitempty,file"`
}

// RegistryConfig selects where worker outcomes are collected.
type RegistryConfig struct {
	Backend       string        `mapstructure:"backend" validate:"oneof=memory redis"`
	RedisAddress  string        `mapstructure:"redis_address" validate:"required_if=Backend redis"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db" validate:"min=0"`
	RedisPrefix   string        `mapstructure:"redis_prefix"`
	RedisTTL      time.Duration `mapstructure:"redis_ttl" validate:"min=0"`
}

type ReportConfig struct {
	JSON  string `mapstructure:"json"`
	Color string `mapstructure:"color" validate:"oneof=auto always never"`
}

type MetricsConfig struct {
	Listen string `mapstructure:"listen" validate:"omitempty,hostname_port"`
}

type LogConfig struct {
	Level string `mapstructure:"level" validate:"oneof=none error warn info debug"`
	JSON  bool   `mapstructure:"json"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		Endpoint:          definitions.DefaultEndpoint,
		Workers:           definitions.DefaultWorkers,
		MaxRetries:        definitions.DefaultMaxRetries,
		Timeout:           2 * time.Minute,
		DefaultRetryAfter: time.Second,
		Payload: PayloadConfig{
			CRS:              "http://www.opengis.net/def/crs/EPSG/0/3857",
			BBox:             []float64{1330615.7883883484, 5165920.119625352, 1369751.5468703588, 5205055.878107364},
			Jitter:           1000,
			TimeFrom:         "2022-03-01T00:00:00.000Z",
			TimeTo:           "2022-03-31T23:59:59.999Z",
			DataType:         "LETML2",
			MosaickingOrder:  "mostRecent",
			PreviewMode:      "EXTENDED_PREVIEW",
			MaxCloudCoverage: 100,
			Upsampling:       "NEAREST",
			Downsampling:     "NEAREST",
			Width:            2500,
			Height:           2500,
			Identifier:       "default",
			Format:           definitions.MIMEImageTIFF,
		},
		Registry: RegistryConfig{
			Backend:     "memory",
			RedisPrefix: definitions.RedisKeyPrefix,
			RedisTTL:    24 * time.Hour,
		},
		Report: ReportConfig{Color: "auto"},
		Log:    LogConfig{Level: "info"},
	}
}

// SetupFlags registers every config key on fs. Flag names use dashes, viper keys use dots
// and underscores.
func SetupFlags(fs *pflag.FlagSet, cfg *Config) {
	fs.String("config", "", "Optional config file (yaml, toml, json)")

	fs.String("url", cfg.Endpoint, "Processing API endpoint")
	fs.Int("workers", cfg.Workers, "Number of concurrent workers")
	fs.Int("max-retries", cfg.MaxRetries, "Retry ceiling per worker")
	fs.Duration("timeout", cfg.Timeout, "Timeout of a single HTTP attempt (0=none)")
	fs.Duration("worker-timeout", cfg.WorkerTimeout, "Upper bound for the whole life of a worker (0=none)")
	fs.Duration("max-retry-wait", cfg.MaxRetryWait, "Upper bound for the sum of retry-after sleeps per worker (0=none)")
	fs.Duration("default-retry-after", cfg.DefaultRetryAfter, "Delay used when a 429 has no usable retry-after header")
	fs.Duration("error-backoff", cfg.ErrorBackoff, "Delay before retrying a non-429 error (0=immediate)")
	fs.Float64("rps", cfg.RPS, "Global client side request rate limit (0=unlimited)")
	fs.Int("burst", cfg.Burst, "Burst for --rps (0=number of workers)")

	fs.String("token", "", "Bearer token (prefer RATEBENCH_TOKEN)")
	fs.String("token-file", "", "File holding the bearer token, re-read when it changes")
	fs.String("oauth-client-id", "", "OAuth2 client id for the client credentials flow")
	fs.String("oauth-client-secret", "", "OAuth2 client secret (prefer RATEBENCH_OAUTH_CLIENT_SECRET)")
	fs.String("oauth-token-url", "", "OAuth2 token endpoint")

	fs.Float64("jitter", cfg.Payload.Jitter, "Upper bound of the random offset added to each bbox coordinate")
	fs.StringSlice("bbox", nil, "Base bbox minX,minY,maxX,maxY")
	fs.String("evalscript-file", "", "Evalscript sent with every request (default: built-in)")
	fs.Int("width", cfg.Payload.Width, "Output width in pixels")
	fs.Int("height", cfg.Payload.Height, "Output height in pixels")

	fs.String("run-id", "", "Run id shared by harness processes feeding one redis registry")
	fs.String("registry", cfg.Registry.Backend, "Outcome registry backend: memory|redis")
	fs.String("redis-address", "", "Redis address for --registry=redis")
	fs.Int("redis-db", 0, "Redis database number")

	fs.String("report-json", "", "Write a JSON report to this path")
	fs.String("color", cfg.Report.Color, "Color output: auto|always|never")
	fs.String("metrics-listen", "", "Serve Prometheus metrics on this address")

	fs.String("log-level", cfg.Log.Level, "Log level: none|error|warn|info|debug")
	fs.Bool("log-json", false, "Log in JSON")
	fs.Bool("debug", false, "Enable debug output (including FX logs)")
}

// flagKeys maps flag names to viper keys.
var flagKeys = map[string]string{
	"url":                 "endpoint",
	"workers":             "workers",
	"max-retries":         "max_retries",
	"timeout":             "timeout",
	"worker-timeout":      "worker_timeout",
	"max-retry-wait":      "max_retry_wait",
	"default-retry-after": "default_retry_after",
	"error-backoff":       "error_backoff",
	"rps":                 "rps",
	"burst":               "burst",
	"token":               "token",
	"token-file":          "token_file",
	"oauth-client-id":     "oauth.client_id",
	"oauth-client-secret": "oauth.client_secret",
	"oauth-token-url":     "oauth.token_url",
	"jitter":              "payload.jitter",
	"bbox":                "payload.bbox",
	"evalscript-file":     "payload.evalscript_file",
	"width":               "payload.width",
	"height":              "payload.height",
	"run-id":              "run_id",
	"registry":            "registry.backend",
	"redis-address":       "registry.redis_address",
	"redis-db":            "registry.redis_db",
	"report-json":         "report.json",
	"color":               "report.color",
	"metrics-listen":      "metrics.listen",
	"log-level":           "log.level",
	"log-json":            "log.json",
	"debug":               "debug",
}

// LoadConfig merges defaults, an optional config file, RATEBENCH_* environment variables
// and the parsed flags in fs, then validates the result.
func LoadConfig(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	setDefaults(v, DefaultConfig())

	for name, key := range flagKeys {
		if f := fs.Lookup(name); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, err
			}
		}
	}

	v.SetEnvPrefix(definitions.EnvPrefixClient)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AllowEmptyEnv(false)
	v.AutomaticEnv()

	if f := fs.Lookup("config"); f != nil && f.Value.String() != "" {
		v.SetConfigFile(f.Value.String())

		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %q: %w", f.Value.String(), err)
		}
	}

	cfg := &Config{}

	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))

	if err := v.Unmarshal(cfg, hook); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("endpoint", cfg.Endpoint)
	v.SetDefault("workers", cfg.Workers)
	v.SetDefault("max_retries", cfg.MaxRetries)
	v.SetDefault("timeout", cfg.Timeout)
	v.SetDefault("worker_timeout", cfg.WorkerTimeout)
	v.SetDefault("max_retry_wait", cfg.MaxRetryWait)
	v.SetDefault("default_retry_after", cfg.DefaultRetryAfter)
	v.SetDefault("error_backoff", cfg.ErrorBackoff)
	v.SetDefault("rps", cfg.RPS)
	v.SetDefault("burst", cfg.Burst)
	v.SetDefault("token", "")
	v.SetDefault("token_file", "")
	v.SetDefault("oauth.client_id", "")
	v.SetDefault("oauth.client_secret", "")
	v.SetDefault("oauth.token_url", "")
	v.SetDefault("oauth.scopes", []string{})

	v.SetDefault("payload.crs", cfg.Payload.CRS)
	v.SetDefault("payload.bbox", cfg.Payload.BBox)
	v.SetDefault("payload.jitter", cfg.Payload.Jitter)
	v.SetDefault("payload.time_from", cfg.Payload.TimeFrom)
	v.SetDefault("payload.time_to", cfg.Payload.TimeTo)
	v.SetDefault("payload.data_type", cfg.Payload.DataType)
	v.SetDefault("payload.mosaicking_order", cfg.Payload.MosaickingOrder)
	v.SetDefault("payload.preview_mode", cfg.Payload.PreviewMode)
	v.SetDefault("payload.max_cloud_coverage", cfg.Payload.MaxCloudCoverage)
	v.SetDefault("payload.upsampling", cfg.Payload.Upsampling)
	v.SetDefault("payload.downsampling", cfg.Payload.Downsampling)
	v.SetDefault("payload.width", cfg.Payload.Width)
	v.SetDefault("payload.height", cfg.Payload.Height)
	v.SetDefault("payload.identifier", cfg.Payload.Identifier)
	v.SetDefault("payload.format", cfg.Payload.Format)
	v.SetDefault("payload.evalscript_file", "")

	v.SetDefault("registry.backend", cfg.Registry.Backend)
	v.SetDefault("registry.redis_address", "")
	v.SetDefault("registry.redis_password", "")
	v.SetDefault("registry.redis_db", 0)
	v.SetDefault("registry.redis_prefix", cfg.Registry.RedisPrefix)
	v.SetDefault("registry.redis_ttl", cfg.Registry.RedisTTL)

	v.SetDefault("report.json", "")
	v.SetDefault("report.color", cfg.Report.Color)
	v.SetDefault("metrics.listen", "")
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.json", false)
	v.SetDefault("run_id", "")
	v.SetDefault("debug", false)
}

// Validate checks struct constraints and the token source rules.
func (c *Config) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())

	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	sources := 0

	if c.Token != "" {
		sources++
	}

	if c.TokenFile != "" {
		sources++
	}

	if c.OAuth.ClientID != "" {
		sources++
	}

	switch {
	case sources == 0:
		return errors.ErrNoToken
	case sources > 1:
		return errors.ErrTooManyTokens
	}

	return nil
}

// LogLevel maps the configured level name to the definitions.LogLevel* constants.
func (c *Config) LogLevel() (int, error) {
	switch c.Log.Level {
	case "none":
		return definitions.LogLevelNone, nil
	case "error":
		return definitions.LogLevelError, nil
	case "warn":
		return definitions.LogLevelWarn, nil
	case "info", "":
		return definitions.LogLevelInfo, nil
	case "debug":
		return definitions.LogLevelDebug, nil
	default:
		return 0, fmt.Errorf("%w: %q", errors.ErrWrongVerboseLevel, c.Log.Level)
	}
}

// EffectiveBurst returns the limiter burst; by default every worker may fire once at start.
func (c *Config) EffectiveBurst() int {
	if c.Burst > 0 {
		return c.Burst
	}

	return c.Workers
}
