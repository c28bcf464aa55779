// Package config loads resolvcore's runtime configuration from defaults,
// an optional YAML file, and environment variable overrides, the same
// layered-koanf shape the teacher's config package uses.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// AppConfig holds every value a resolvcore QueryEngine is constructed
// from, plus the ambient logging/metrics/persistence knobs.
type AppConfig struct {
	Forwarders []string `koanf:"forwarders" validate:"dive,ip_port"`

	QueryTimeoutMs  int `koanf:"query_timeout_ms" validate:"required,gte=1"`
	ClientTimeoutMs int `koanf:"client_timeout_ms"`
	LookupTimeoutMs int `koanf:"lookup_timeout_ms"`
	Retries         int `koanf:"retries" validate:"gte=0"`

	CacheSize uint `koanf:"cache_size" validate:"required,gte=1"`

	Env      string `koanf:"env" validate:"required,oneof=dev prod"`
	LogLevel string `koanf:"log_level" validate:"required,oneof=debug info warn error"`

	StatsdAddr string `koanf:"statsd_addr"`
	SentryDSN  string `koanf:"sentry_dsn"`

	CachePersistPath string `koanf:"cache_persist_path"`
	BlocklistPath    string `koanf:"blocklist_path"`
}

// DefaultAppConfig defines the default configuration settings for the
// resolver.
var DefaultAppConfig = AppConfig{
	Forwarders:      nil, // empty ⇒ iterative mode
	QueryTimeoutMs:  2000,
	ClientTimeoutMs: 1000,
	LookupTimeoutMs: 10000,
	Retries:         2,
	CacheSize:       10000,
	Env:             "prod",
	LogLevel:        "info",
}

func validIPPort(fl validator.FieldLevel) bool {
	addr := fl.Field().String()
	ip, port, err := net.SplitHostPort(addr)
	if err != nil || ip == "" || port == "" {
		return false
	}
	if net.ParseIP(ip) == nil {
		return false
	}
	portNum, err := strconv.ParseUint(port, 10, 16)
	return err == nil && portNum > 0 && portNum < 65536
}

var envLoader = func(k *koanf.Koanf) error {
	return k.Load(env.Provider(".", env.Opt{
		Prefix: "RESOLVCORE_",
		TransformFunc: func(key, value string) (string, any) {
			key = strings.ToLower(strings.TrimPrefix(key, "RESOLVCORE_"))
			value = strings.TrimSpace(value)
			if value == "" {
				return key, value
			}
			if strings.Contains(value, " ") || strings.Contains(value, ",") {
				parts := strings.FieldsFunc(value, func(r rune) bool {
					return r == ' ' || r == ','
				})
				return key, parts
			}
			return key, value
		},
	}), nil)
}

var defaultLoader = func(k *koanf.Koanf) error {
	return k.Load(structs.Provider(DefaultAppConfig, "koanf"), nil)
}

var registerValidation = func(v *validator.Validate) error {
	return v.RegisterValidation("ip_port", validIPPort)
}

// Load parses defaults, an optional YAML file at path (skipped if path
// is empty or does not exist), and environment variable overrides, then
// validates the result.
func Load(path string) (*AppConfig, error) {
	k := koanf.New(".")

	if err := defaultLoader(k); err != nil {
		return nil, fmt.Errorf("config: error loading defaults: %w", err)
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("config: error loading %s: %w", path, err)
			}
		}
	}

	if err := envLoader(k); err != nil {
		return nil, fmt.Errorf("config: error loading env: %w", err)
	}

	var cfg AppConfig
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("config: error unmarshalling: %w", err)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := registerValidation(validate); err != nil {
		return nil, fmt.Errorf("config: error registering validation: %w", err)
	}
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}

	return &cfg, nil
}
