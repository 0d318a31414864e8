package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment variable read by LoadConfig.
const EnvPrefix = "NEST_MCP_"

// Config represents the application configuration
type Config struct {
	Server   ServerConfig   `json:"server"   yaml:"server"`
	Database DatabaseConfig `json:"database" yaml:"database"`
	Dataset  DatasetConfig  `json:"dataset"  yaml:"dataset"`
	Query    QueryConfig    `json:"query"    yaml:"query"`
	Session  SessionConfig  `json:"session"  yaml:"session"`
	Cache    CacheConfig    `json:"cache"    yaml:"cache"`
	Logging  LoggingConfig  `json:"logging"  yaml:"logging"`
}

// ServerConfig represents the HTTP listener and endpoint layout
type ServerConfig struct {
	Host            string   `json:"host"             yaml:"host"             env:"HOST"             envDefault:"0.0.0.0"`
	Port            int      `json:"port"             yaml:"port"             env:"PORT"             envDefault:"8000"`
	SSEPath         string   `json:"sse_path"         yaml:"sse_path"         env:"SSE_PATH"         envDefault:"/sse"`
	MessagePath     string   `json:"message_path"     yaml:"message_path"     env:"MESSAGE_PATH"     envDefault:"/message"`
	KeepAlive       string   `json:"keep_alive"       yaml:"keep_alive"       env:"KEEP_ALIVE"       envDefault:"15s"` // 0 disables keep-alive comments
	ShutdownTimeout string   `json:"shutdown_timeout" yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	AllowedOrigins  []string `json:"allowed_origins"  yaml:"allowed_origins"  env:"ALLOWED_ORIGINS"  envSeparator:","` // empty allows every origin
	MaxBodyBytes    int64    `json:"max_body_bytes"   yaml:"max_body_bytes"   env:"MAX_BODY_BYTES"   envDefault:"1048576"`
	WriteTimeout    string   `json:"write_timeout"    yaml:"write_timeout"    env:"WRITE_TIMEOUT"    envDefault:"10s"` // per SSE write; 0 disables the deadline
}

// DatabaseConfig represents the DuckDB engine configuration
type DatabaseConfig struct {
	Path                  string `json:"path"                     yaml:"path"                     env:"DB_PATH"`                                       // empty opens an in-memory database
	ReadOnly              bool   `json:"read_only"                yaml:"read_only"                env:"DB_READ_ONLY"                envDefault:"true"` // ignored for in-memory databases
	MaxConnections        int    `json:"max_connections"          yaml:"max_connections"          env:"DB_MAX_CONNECTIONS"          envDefault:"10"`
	MaxIdleConns          int    `json:"max_idle_conns"           yaml:"max_idle_conns"           env:"DB_MAX_IDLE_CONNS"           envDefault:"5"`
	ConnMaxLifetime       string `json:"conn_max_lifetime"        yaml:"conn_max_lifetime"        env:"DB_CONN_MAX_LIFETIME"        envDefault:"30m"`
	ConnMaxIdleTime       string `json:"conn_max_idle_time"       yaml:"conn_max_idle_time"       env:"DB_CONN_MAX_IDLE_TIME"       envDefault:"5m"`
	HTTPTimeout           string `json:"http_timeout"             yaml:"http_timeout"             env:"DB_HTTP_TIMEOUT"             envDefault:"15m"`
	HTTPRetries           int    `json:"http_retries"             yaml:"http_retries"             env:"DB_HTTP_RETRIES"             envDefault:"3"`
	HTTPKeepAlive         bool   `json:"http_keep_alive"          yaml:"http_keep_alive"          env:"DB_HTTP_KEEP_ALIVE"          envDefault:"true"`
	S3UploaderThreadLimit int    `json:"s3_uploader_thread_limit" yaml:"s3_uploader_thread_limit" env:"DB_S3_UPLOADER_THREAD_LIMIT" envDefault:"64"`
	TempDirectory         string `json:"temp_directory"           yaml:"temp_directory"           env:"DB_TEMP_DIRECTORY"`
	MaxTempDirectorySize  string `json:"max_temp_directory_size"  yaml:"max_temp_directory_size"  env:"DB_MAX_TEMP_DIRECTORY_SIZE"  envDefault:"10GB"`
	S3CredentialChain     bool   `json:"s3_credential_chain"      yaml:"s3_credential_chain"      env:"DB_S3_CREDENTIAL_CHAIN"      envDefault:"false"`
}

// DatasetConfig describes where the company records live
type DatasetConfig struct {
	Source string `json:"source" yaml:"source" env:"DATASET_SOURCE"`                        // parquet path, glob or URL; empty uses an existing table
	Table  string `json:"table"  yaml:"table"  env:"DATASET_TABLE"  envDefault:"companies"` // must be a plain identifier
}

// QueryConfig holds limits applied to every tool execution
type QueryConfig struct {
	RowCap  int    `json:"row_cap" yaml:"row_cap" env:"QUERY_ROW_CAP" envDefault:"1000"`
	Timeout string `json:"timeout" yaml:"timeout" env:"QUERY_TIMEOUT" envDefault:"30s"`
}

// SessionConfig represents streaming session limits
type SessionConfig struct {
	IdleTimeout string `json:"idle_timeout" yaml:"idle_timeout" env:"SESSION_IDLE_TIMEOUT" envDefault:"30m"` // 0 disables reaping
	MaxSessions int    `json:"max_sessions" yaml:"max_sessions" env:"SESSION_MAX_SESSIONS" envDefault:"0"`   // 0 is unlimited
	Workers     int    `json:"workers"      yaml:"workers"      env:"SESSION_WORKERS"      envDefault:"8"`
	QueueSize   int    `json:"queue_size"   yaml:"queue_size"   env:"SESSION_QUEUE_SIZE"   envDefault:"256"`
	FrameBuffer int    `json:"frame_buffer" yaml:"frame_buffer" env:"SESSION_FRAME_BUFFER" envDefault:"64"`
	// StallTimeout bounds how long a worker waits on a full frame buffer
	// before the session is torn down
	StallTimeout string `json:"stall_timeout" yaml:"stall_timeout" env:"SESSION_STALL_TIMEOUT" envDefault:"5s"`
}

// CacheConfig represents result caching configuration
type CacheConfig struct {
	Enabled     bool   `json:"enabled"           yaml:"enabled"           env:"CACHE_ENABLED"      envDefault:"true"`
	TTL         string `json:"ttl"               yaml:"ttl"               env:"CACHE_TTL"          envDefault:"5m"`
	MaxEntries  int    `json:"max_entries"       yaml:"max_entries"       env:"CACHE_MAX_ENTRIES"  envDefault:"256"`
	CleanupFreq string `json:"cleanup_frequency" yaml:"cleanup_frequency" env:"CACHE_CLEANUP_FREQ" envDefault:"1m"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level     string `json:"level"      yaml:"level"      env:"LOG_LEVEL"      envDefault:"info"`                            // debug, info, warn, error
	Format    string `json:"format"     yaml:"format"     env:"LOG_FORMAT"     envDefault:"text"`                            // text, json
	Output    string `json:"output"     yaml:"output"     env:"LOG_OUTPUT"     envDefault:"stderr"`                          // stdout, stderr, file
	File      string `json:"file"       yaml:"file"       env:"LOG_FILE"       envDefault:"~/.config/nest-mcp/logs/app.log"` // log file path when output is file
	AddSource bool   `json:"add_source" yaml:"add_source" env:"LOG_ADD_SOURCE" envDefault:"false"`                           // add source file and line info to logs
}

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// DefaultConfig returns the configuration produced by envDefault tags alone
func DefaultConfig() *Config {
	cfg := &Config{}
	// Defaults only; parsing an empty environment cannot fail.
	_ = env.ParseWithOptions(cfg, env.Options{
		Prefix:      EnvPrefix,
		Environment: map[string]string{},
	})

	return cfg
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig() (*Config, error) {
	return LoadConfigWithOverrides("", nil)
}

// LoadConfigWithOverrides loads configuration from an optional file path, the
// environment, and command-line flag overrides, in that order of precedence.
func LoadConfigWithOverrides(configPath string, flagOverrides map[string]any) (*Config, error) {
	config := DefaultConfig()

	if configPath == "" {
		configPath = getConfigPath()
	} else {
		configPath = ExpandPath(configPath)
	}

	if _, err := os.Stat(configPath); err == nil {
		if err := loadConfigFromFile(config, configPath); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := applyEnvironment(config); err != nil {
		return nil, fmt.Errorf("failed to parse environment variables: %w", err)
	}

	if flagOverrides != nil {
		if err := applyFlagOverrides(config, flagOverrides); err != nil {
			return nil, fmt.Errorf("failed to apply flag overrides: %w", err)
		}
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// applyEnvironment overlays the variables that are actually set. Fields whose
// parsed value still equals the built-in default are left alone, so values
// loaded from a config file survive when the environment is silent.
func applyEnvironment(config *Config) error {
	var fromEnv Config
	if err := env.ParseWithOptions(&fromEnv, env.Options{
		Prefix:      EnvPrefix,
		Environment: setVariables(EnvPrefix),
	}); err != nil {
		return err
	}

	overlayChanged(config, &fromEnv, DefaultConfig())

	// Cloud Run and similar platforms inject an unprefixed PORT.
	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("invalid PORT %q: %w", port, err)
		}

		config.Server.Port = p
	}

	return nil
}

// setVariables returns the prefixed variables present in the process environment
func setVariables(prefix string) map[string]string {
	vars := make(map[string]string)

	for _, kv := range os.Environ() {
		key, value, ok := strings.Cut(kv, "=")
		if ok && strings.HasPrefix(key, prefix) {
			vars[key] = value
		}
	}

	return vars
}

// loadConfigFromFile loads configuration from a JSON or YAML file. Keys absent
// from the file keep their current values.
func loadConfigFromFile(config *Config, configPath string) error {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(configPath)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, config); err != nil {
			return fmt.Errorf("failed to parse config file: %w", err)
		}
	default:
		if err := json.Unmarshal(data, config); err != nil {
			return fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	return nil
}

// applyFlagOverrides applies command-line flag overrides to configuration
func applyFlagOverrides(config *Config, overrides map[string]any) error {
	for key, value := range overrides {
		switch key {
		case "host":
			if str, ok := value.(string); ok && str != "" {
				config.Server.Host = str
			}
		case "port":
			switch v := value.(type) {
			case int:
				if v > 0 {
					config.Server.Port = v
				}
			case string:
				if v == "" {
					continue
				}

				p, err := strconv.Atoi(v)
				if err != nil {
					return fmt.Errorf("invalid port %q: %w", v, err)
				}

				config.Server.Port = p
			}
		case "db-path":
			if str, ok := value.(string); ok && str != "" {
				config.Database.Path = str
			}
		case "dataset":
			if str, ok := value.(string); ok && str != "" {
				config.Dataset.Source = str
			}
		case "log-level":
			if str, ok := value.(string); ok && str != "" {
				config.Logging.Level = str
			}
		case "log-format":
			if str, ok := value.(string); ok && str != "" {
				config.Logging.Format = str
			}
		}
	}

	return nil
}

// overlayChanged copies every leaf of source that differs from base into target
func overlayChanged(target, source, base *Config) {
	var overlay func(t, s, b reflect.Value)
	overlay = func(t, s, b reflect.Value) {
		if t.Kind() == reflect.Struct {
			for i := range s.NumField() {
				overlay(t.Field(i), s.Field(i), b.Field(i))
			}

			return
		}

		if !reflect.DeepEqual(s.Interface(), b.Interface()) {
			t.Set(s)
		}
	}

	overlay(reflect.ValueOf(target).Elem(), reflect.ValueOf(source).Elem(), reflect.ValueOf(base).Elem())
}

// validateConfig validates the configuration for common errors
func validateConfig(config *Config) error {
	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(config.Logging.Level)] {
		return fmt.Errorf(
			"invalid log level: %s (must be debug, info, warn, or error)",
			config.Logging.Level,
		)
	}

	validLogFormats := map[string]bool{
		"text": true, "json": true,
	}
	if !validLogFormats[strings.ToLower(config.Logging.Format)] {
		return fmt.Errorf("invalid log format: %s (must be text or json)", config.Logging.Format)
	}

	validLogOutputs := map[string]bool{
		"stdout": true, "stderr": true, "file": true,
	}
	if !validLogOutputs[strings.ToLower(config.Logging.Output)] {
		return fmt.Errorf(
			"invalid log output: %s (must be stdout, stderr, or file)",
			config.Logging.Output,
		)
	}

	durations := map[string]string{
		"server keep alive":       config.Server.KeepAlive,
		"server shutdown timeout": config.Server.ShutdownTimeout,
		"database conn lifetime":  config.Database.ConnMaxLifetime,
		"database conn idle time": config.Database.ConnMaxIdleTime,
		"database http timeout":   config.Database.HTTPTimeout,
		"query timeout":           config.Query.Timeout,
		"session idle timeout":    config.Session.IdleTimeout,
		"session stall timeout":   config.Session.StallTimeout,
		"server write timeout":    config.Server.WriteTimeout,
		"cache ttl":               config.Cache.TTL,
		"cache cleanup frequency": config.Cache.CleanupFreq,
	}
	for name, value := range durations {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid %s: %s", name, value)
		}

		if d < 0 {
			return fmt.Errorf("%s must not be negative: %s", name, value)
		}
	}

	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("server port out of range: %d", config.Server.Port)
	}

	for name, path := range map[string]string{
		"sse path":     config.Server.SSEPath,
		"message path": config.Server.MessagePath,
	} {
		if !strings.HasPrefix(path, "/") {
			return fmt.Errorf("%s must start with '/': %q", name, path)
		}
	}

	if config.Server.SSEPath == config.Server.MessagePath {
		return fmt.Errorf("sse path and message path must differ: %q", config.Server.SSEPath)
	}

	if config.Database.MaxConnections <= 0 {
		return fmt.Errorf(
			"database max connections must be positive: %d",
			config.Database.MaxConnections,
		)
	}

	if !identifierPattern.MatchString(config.Dataset.Table) {
		return fmt.Errorf("dataset table must be a plain identifier: %q", config.Dataset.Table)
	}

	if config.Query.RowCap <= 0 {
		return fmt.Errorf("query row cap must be positive: %d", config.Query.RowCap)
	}

	if config.Session.Workers <= 0 {
		return fmt.Errorf("session workers must be positive: %d", config.Session.Workers)
	}

	if config.Session.QueueSize <= 0 || config.Session.FrameBuffer <= 0 {
		return fmt.Errorf(
			"session queue size and frame buffer must be positive: %d, %d",
			config.Session.QueueSize, config.Session.FrameBuffer,
		)
	}

	if config.Session.MaxSessions < 0 {
		return fmt.Errorf("session max sessions must not be negative: %d", config.Session.MaxSessions)
	}

	return nil
}

// getConfigPath returns the path to the configuration file
func getConfigPath() string {
	if configPath := os.Getenv(EnvPrefix + "CONFIG"); configPath != "" {
		return ExpandPath(configPath)
	}

	return filepath.Join(GetConfigDir(), "config.json")
}

// ExpandPath expands ~ to home directory in file paths
func ExpandPath(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return path
	}

	if path == "~" {
		return homeDir
	}

	if strings.HasPrefix(path, "~/") {
		return filepath.Join(homeDir, path[2:])
	}

	return path
}

// ExpandAllPaths expands all paths in the configuration
func (c *Config) ExpandAllPaths() {
	c.Database.Path = ExpandPath(c.Database.Path)
	c.Database.TempDirectory = ExpandPath(c.Database.TempDirectory)
	c.Dataset.Source = ExpandPath(c.Dataset.Source)
	c.Logging.File = ExpandPath(c.Logging.File)
}

// GetConfigDir returns the configuration directory
func GetConfigDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ".config/nest-mcp"
	}

	return filepath.Join(homeDir, ".config", "nest-mcp")
}

// Addr returns the listen address
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// KeepAliveInterval returns the keep-alive interval; zero disables it
func (s ServerConfig) KeepAliveInterval() time.Duration {
	return mustDuration(s.KeepAlive)
}

// WriteTimeoutDuration returns the per-write SSE deadline; zero disables it
func (s ServerConfig) WriteTimeoutDuration() time.Duration {
	return mustDuration(s.WriteTimeout)
}

// ShutdownTimeoutDuration returns the graceful shutdown budget
func (s ServerConfig) ShutdownTimeoutDuration() time.Duration {
	return mustDuration(s.ShutdownTimeout)
}

// ConnMaxLifetimeDuration returns the pooled connection lifetime
func (d DatabaseConfig) ConnMaxLifetimeDuration() time.Duration {
	return mustDuration(d.ConnMaxLifetime)
}

// ConnMaxIdleTimeDuration returns the pooled connection idle time
func (d DatabaseConfig) ConnMaxIdleTimeDuration() time.Duration {
	return mustDuration(d.ConnMaxIdleTime)
}

// HTTPTimeoutDuration returns the engine's remote read timeout
func (d DatabaseConfig) HTTPTimeoutDuration() time.Duration {
	return mustDuration(d.HTTPTimeout)
}

// TimeoutDuration returns the per-statement execution timeout
func (q QueryConfig) TimeoutDuration() time.Duration {
	return mustDuration(q.Timeout)
}

// IdleTimeoutDuration returns the idle session timeout; zero disables it
func (s SessionConfig) IdleTimeoutDuration() time.Duration {
	return mustDuration(s.IdleTimeout)
}

// StallTimeoutDuration returns how long delivery waits on a full stream
func (s SessionConfig) StallTimeoutDuration() time.Duration {
	return mustDuration(s.StallTimeout)
}

// TTLDuration returns the cache entry lifetime
func (c CacheConfig) TTLDuration() time.Duration {
	return mustDuration(c.TTL)
}

// CleanupFreqDuration returns the cache sweep interval
func (c CacheConfig) CleanupFreqDuration() time.Duration {
	return mustDuration(c.CleanupFreq)
}

// mustDuration parses a duration that validateConfig already accepted
func mustDuration(value string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}

	return d
}
