package chstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/chendingplano/aggview/api/aggschema"
	"github.com/spf13/viper"
)

// Location codes for config operations
const (
	LOC_CFG_LOAD  = "AGV_CFG_001"
	LOC_CFG_VALID = "AGV_CFG_002"
	LOC_CFG_PATH  = "AGV_CFG_003"
	LOC_CFG_DSN   = "AGV_CFG_004"
)

// ErrConfig marks a missing or invalid startup parameter. It is returned
// before any store interaction and is never retryable.
var ErrConfig = errors.New("configuration error")

// Config holds the connection target, credentials, namespace and JSON
// capability toggles. Values come from an optional TOML file named by
// AGGVIEW_CONFIG, overridden by environment variables.
type Config struct {
	Host           string `mapstructure:"clickhouse_host"`
	User           string `mapstructure:"clickhouse_user"`
	Password       string `mapstructure:"clickhouse_password"`
	Database       string `mapstructure:"clickhouse_database"`
	DialTimeoutSec int    `mapstructure:"dial_timeout_sec"`

	// Optional JSON schema that every event_data document must satisfy.
	EventSchemaPath string `mapstructure:"event_data_schema"`

	NativeJSON        bool `mapstructure:"native_json"`
	ReadJSONAsString  bool `mapstructure:"read_json_as_string"`
	WriteJSONAsString bool `mapstructure:"write_json_as_string"`

	// Derived
	ConfigPath string `mapstructure:"-"`
}

// LoadConfig reads the optional TOML file named by AGGVIEW_CONFIG, applies
// environment overrides and defaults, and validates the result.
func LoadConfig() (*Config, error) {
	v := viper.New()

	v.SetDefault("clickhouse_user", "default")
	v.SetDefault("clickhouse_database", "sam_test")
	v.SetDefault("dial_timeout_sec", 10)
	v.SetDefault("native_json", true)
	v.SetDefault("read_json_as_string", true)
	v.SetDefault("write_json_as_string", true)

	configPath := os.Getenv("AGGVIEW_CONFIG")
	if configPath != "" {
		var err error
		configPath, err = expandPath(configPath)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to expand config path: %v (%s)", ErrConfig, err, LOC_CFG_PATH)
		}
		v.SetConfigFile(configPath)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("%w: failed to read config file %s: %v (%s)", ErrConfig, configPath, err, LOC_CFG_LOAD)
		}
	}

	v.BindEnv("clickhouse_host", "CLICKHOUSE_HOST")
	v.BindEnv("clickhouse_user", "CLICKHOUSE_USER")
	v.BindEnv("clickhouse_password", "CLICKHOUSE_PASSWORD")
	v.BindEnv("clickhouse_database", "CLICKHOUSE_DATABASE")
	v.BindEnv("dial_timeout_sec", "CLICKHOUSE_DIAL_TIMEOUT_SEC")
	v.BindEnv("event_data_schema", "AGGVIEW_EVENT_SCHEMA")
	v.BindEnv("native_json", "AGGVIEW_NATIVE_JSON")
	v.BindEnv("read_json_as_string", "AGGVIEW_READ_JSON_AS_STRING")
	v.BindEnv("write_json_as_string", "AGGVIEW_WRITE_JSON_AS_STRING")

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal config: %v (%s)", ErrConfig, err, LOC_CFG_LOAD)
	}
	config.ConfigPath = configPath

	if config.DialTimeoutSec <= 0 {
		config.DialTimeoutSec = 10
	}

	if config.EventSchemaPath != "" {
		p, err := expandPath(config.EventSchemaPath)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to expand event_data_schema: %v (%s)", ErrConfig, err, LOC_CFG_PATH)
		}
		config.EventSchemaPath = p
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: CLICKHOUSE_HOST must be set (%s)", ErrConfig, LOC_CFG_VALID)
	}
	if c.Password == "" {
		return fmt.Errorf("%w: CLICKHOUSE_PASSWORD must be set (%s)", ErrConfig, LOC_CFG_VALID)
	}
	if c.User == "" {
		return fmt.Errorf("%w: clickhouse_user must not be empty (%s)", ErrConfig, LOC_CFG_VALID)
	}
	if c.Database == "" {
		return fmt.Errorf("%w: clickhouse_database must not be empty (%s)", ErrConfig, LOC_CFG_VALID)
	}
	if c.EventSchemaPath != "" {
		info, err := os.Stat(c.EventSchemaPath)
		if err != nil {
			return fmt.Errorf("%w: event_data_schema does not exist: %s (%s)", ErrConfig, c.EventSchemaPath, LOC_CFG_VALID)
		}
		if info.IsDir() {
			return fmt.Errorf("%w: event_data_schema is a directory: %s (%s)", ErrConfig, c.EventSchemaPath, LOC_CFG_VALID)
		}
	}
	return nil
}

// Options translates the config into clickhouse-go options. CLICKHOUSE_HOST
// may be a DSN (clickhouse://, tcp://, http://, https://) or a bare host:port.
func (c *Config) Options() (*clickhouse.Options, error) {
	var opts *clickhouse.Options
	if strings.Contains(c.Host, "://") {
		parsed, err := clickhouse.ParseDSN(c.Host)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid CLICKHOUSE_HOST: %v (%s)", ErrConfig, err, LOC_CFG_DSN)
		}
		opts = parsed
	} else {
		opts = &clickhouse.Options{Addr: []string{c.Host}}
	}

	opts.Auth.Username = c.User
	opts.Auth.Password = c.Password
	opts.Auth.Database = c.Database
	opts.DialTimeout = time.Duration(c.DialTimeoutSec) * time.Second
	return opts, nil
}

// Capabilities returns the JSON toggles as store capabilities.
func (c *Config) Capabilities() aggschema.Capabilities {
	return aggschema.Capabilities{
		NativeJSON:        c.NativeJSON,
		ReadJSONAsString:  c.ReadJSONAsString,
		WriteJSONAsString: c.WriteJSONAsString,
	}
}

// expandPath expands ~ to the user's home directory and resolves relative paths.
func expandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(home, path[1:])
	}
	return filepath.Abs(path)
}
