// Copyright (C) 2024 Christian Rößner
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// Package config loads the settings of the mock processing API.
package config

import (
	"crypto/sha256"
	"crypto/subtle"
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

// Verbosity is a pflag.Value for the log level names none, error, warn, info and debug.
type Verbosity struct {
	verboseLevel int
	name         string
}

func (v *Verbosity) String() string {
	return v.name
}

// Set updates the verbosity level. An unknown name yields ErrWrongVerboseLevel.
func (v *Verbosity) Set(value string) error {
	switch value {
	case "none", "":
		v.verboseLevel = definitions.LogLevelNone
	case "error":
		v.verboseLevel = definitions.LogLevelError
	case "warn":
		v.verboseLevel = definitions.LogLevelWarn
	case "info":
		v.verboseLevel = definitions.LogLevelInfo
	case "debug":
		v.verboseLevel = definitions.LogLevelDebug
	default:
		return errors.ErrWrongVerboseLevel
	}

	v.name = value

	return nil
}

func (v *Verbosity) Type() string {
	return "Verbosity"
}

// Level returns the verbosity level of the Verbosity instance.
func (v *Verbosity) Level() int {
	return v.verboseLevel
}

// Mock holds the settings of the mock processing API.
type Mock struct {
	Address string `mapstructure:"address" validate:"required,hostname_port"`
	Path    string `mapstructure:"path" validate:"required,startswith=/"`

	// RPS and Burst size the token bucket every bearer token gets.
	RPS   float64 `mapstructure:"rps" validate:"gt=0"`
	Burst int     `mapstructure:"burst" validate:"min=1"`

	// MaxConcurrent caps requests in flight; 0 disables the cap.
	MaxConcurrent int `mapstructure:"max_concurrent" validate:"min=0"`

	// Tokens lists the accepted bearer tokens; empty accepts any non-empty token.
	Tokens []string `mapstructure:"tokens"`

	ErrorRate    float64       `mapstructure:"error_rate" validate:"min=0,max=1"`
	Latency      time.Duration `mapstructure:"latency" validate:"min=0"`
	LimiterTTL   time.Duration `mapstructure:"limiter_ttl" validate:"gt=0"`
	ShutdownWait time.Duration `mapstructure:"shutdown_wait" validate:"min=0"`

	LogLevel Verbosity `mapstructure:"-"`
	LogJSON  bool      `mapstructure:"log_json"`
}

// DefaultMock returns a Mock with default values.
func DefaultMock() *Mock {
	m := &Mock{
		Address:      definitions.DefaultMockAddress,
		Path:         definitions.DefaultMockPath,
		RPS:          definitions.DefaultMockRPS,
		Burst:        definitions.DefaultMockBurst,
		LimiterTTL:   10 * time.Minute,
		ShutdownWait: 10 * time.Second,
	}

	_ = m.LogLevel.Set("info")

	return m
}

// SetupMockFlags registers the mock API flags on fs.
func SetupMockFlags(fs *pflag.FlagSet, m *Mock) {
	fs.String("config", "", "Optional config file (yaml, toml, json)")
	fs.String("address", m.Address, "Listen address")
	fs.String("path", m.Path, "Path of the processing endpoint")
	fs.Float64("rps", m.RPS, "Requests per second granted to each bearer token")
	fs.Int("burst", m.Burst, "Token bucket size per bearer token")
	fs.Int("max-concurrent", m.MaxConcurrent, "Requests in flight before answering 429 (0=unlimited)")
	fs.StringSlice("tokens", nil, "Accepted bearer tokens (default: any)")
	fs.Float64("error-rate", m.ErrorRate, "Share of admitted requests answered with 500 (0..1)")
	fs.Duration("latency", m.Latency, "Artificial processing time of admitted requests")
	fs.Duration("limiter-ttl", m.LimiterTTL, "Idle time after which a token's bucket is forgotten")
	fs.Duration("shutdown-wait", m.ShutdownWait, "Grace period for in-flight requests on shutdown")
	fs.Var(&m.LogLevel, "log-level", "Log level: none|error|warn|info|debug")
	fs.Bool("log-json", m.LogJSON, "Log in JSON")
}

var mockFlagKeys = map[string]string{
	"address":        "address",
	"path":           "path",
	"rps":            "rps",
	"burst":          "burst",
	"max-concurrent": "max_concurrent",
	"tokens":         "tokens",
	"error-rate":     "error_rate",
	"latency":        "latency",
	"limiter-ttl":    "limiter_ttl",
	"shutdown-wait":  "shutdown_wait",
	"log-json":       "log_json",
	"log-level":      "log_level",
}

// LoadMock merges defaults, an optional config file, RATEBENCH_MOCK_* variables and the
// parsed flags in fs.
func LoadMock(fs *pflag.FlagSet) (*Mock, error) {
	defaults := DefaultMock()
	v := viper.New()

	v.SetDefault("address", defaults.Address)
	v.SetDefault("path", defaults.Path)
	v.SetDefault("rps", defaults.RPS)
	v.SetDefault("burst", defaults.Burst)
	v.SetDefault("max_concurrent", defaults.MaxConcurrent)
	v.SetDefault("tokens", []string{})
	v.SetDefault("error_rate", defaults.ErrorRate)
	v.SetDefault("latency", defaults.Latency)
	v.SetDefault("limiter_ttl", defaults.LimiterTTL)
	v.SetDefault("shutdown_wait", defaults.ShutdownWait)
	v.SetDefault("log_json", false)
	v.SetDefault("log_level", defaults.LogLevel.String())

	for name, key := range mockFlagKeys {
		if f := fs.Lookup(name); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, err
			}
		}
	}

	v.SetEnvPrefix(definitions.EnvPrefixMock)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if f := fs.Lookup("config"); f != nil && f.Value.String() != "" {
		v.SetConfigFile(f.Value.String())

		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %q: %w", f.Value.String(), err)
		}
	}

	m := &Mock{}

	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))

	if err := v.Unmarshal(m, hook); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := m.LogLevel.Set(v.GetString("log_level")); err != nil {
		return nil, err
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}

	return m, nil
}

// Validate checks the struct constraints.
func (m *Mock) Validate() error {
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(m); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	return nil
}

// TokenAllowed reports whether token may use the API. Tokens are compared in constant time.
func (m *Mock) TokenAllowed(token string) bool {
	if token == "" {
		return false
	}

	if len(m.Tokens) == 0 {
		return true
	}

	h := sha256.Sum256([]byte(token))

	for _, allowed := range m.Tokens {
		ha := sha256.Sum256([]byte(allowed))
		if subtle.ConstantTimeCompare(h[:], ha[:]) == 1 {
			return true
		}
	}

	return false
}
