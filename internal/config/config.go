package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Recognizer RecognizerConfig `yaml:"recognizer"`
	Bridge     BridgeConfig     `yaml:"bridge"`
	Auth       AuthConfig       `yaml:"auth"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig contains HTTP and WebSocket transport configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	MaxMessageSize  int64         `yaml:"max_message_size"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// RecognizerConfig selects and configures the recognition backend
type RecognizerConfig struct {
	Backend         string `yaml:"backend"` // dialogflow, speech or mock
	CredentialsFile string `yaml:"credentials_file"`
	ProjectID       string `yaml:"project_id"`
	LanguageCode    string `yaml:"language_code"`
	SampleRateHertz int    `yaml:"sample_rate_hertz"`
	Encoding        string `yaml:"encoding"`
}

// BridgeConfig contains session lifecycle configuration
type BridgeConfig struct {
	Sentinel            string        `yaml:"sentinel"`
	DrainTimeout        time.Duration `yaml:"drain_timeout"`
	MaxSessionAge       time.Duration `yaml:"max_session_age"`
	ReaperInterval      time.Duration `yaml:"reaper_interval"`
	ReportOnAbruptClose bool          `yaml:"report_on_abrupt_close"`
}

// AuthConfig contains JWT configuration. An empty secret disables auth.
type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when nothing overrides it
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			MaxMessageSize:  4 * 1024 * 1024,
			ShutdownTimeout: 20 * time.Second,
		},
		Recognizer: RecognizerConfig{
			Backend:         "dialogflow",
			LanguageCode:    "en-US",
			SampleRateHertz: 16000,
			Encoding:        "LINEAR16",
		},
		Bridge: BridgeConfig{
			Sentinel:            "end",
			DrainTimeout:        15 * time.Second,
			MaxSessionAge:       2 * time.Minute,
			ReaperInterval:      10 * time.Second,
			ReportOnAbruptClose: true,
		},
		Auth: AuthConfig{
			TokenTTL: 24 * time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds the configuration from defaults, the optional YAML file at
// path, the optional dotenv file and the process environment, in that
// order of precedence from lowest to highest.
func Load(path, envFile string) (*Config, error) {
	config := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if envFile != "" {
		// Existing environment variables win over the file.
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load env file %s: %w", envFile, err)
		}
	}

	if err := config.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// ApplyEnv overrides fields from environment variables resolved by lookup
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	e := envReader{lookup: lookup}

	e.setInt("PORT", &c.Server.Port)
	e.setInt64("MAX_MESSAGE_SIZE", &c.Server.MaxMessageSize)
	e.setList("ALLOWED_ORIGINS", &c.Server.AllowedOrigins)
	e.setDuration("SHUTDOWN_TIMEOUT", &c.Server.ShutdownTimeout)

	e.setString("RECOGNIZER_BACKEND", &c.Recognizer.Backend)
	e.setString("GOOGLE_APPLICATION_CREDENTIALS", &c.Recognizer.CredentialsFile)
	e.setString("DIALOGFLOW_PROJECT_ID", &c.Recognizer.ProjectID)
	e.setString("LANGUAGE_CODE", &c.Recognizer.LanguageCode)
	e.setInt("SAMPLE_RATE_HERTZ", &c.Recognizer.SampleRateHertz)
	e.setString("AUDIO_ENCODING", &c.Recognizer.Encoding)

	e.setString("SENTINEL", &c.Bridge.Sentinel)
	e.setDuration("DRAIN_TIMEOUT", &c.Bridge.DrainTimeout)
	e.setDuration("MAX_SESSION_AGE", &c.Bridge.MaxSessionAge)
	e.setDuration("REAPER_INTERVAL", &c.Bridge.ReaperInterval)
	e.setBool("REPORT_ON_ABRUPT_CLOSE", &c.Bridge.ReportOnAbruptClose)

	e.setString("JWT_SECRET", &c.Auth.JWTSecret)
	e.setDuration("TOKEN_TTL", &c.Auth.TokenTTL)

	e.setString("LOG_LEVEL", &c.Logging.Level)
	e.setString("LOG_FORMAT", &c.Logging.Format)

	return errors.Join(e.errs...)
}

type envReader struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (e *envReader) get(key string) (string, bool) {
	value, ok := e.lookup(key)
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	return value, value != ""
}

func (e *envReader) setString(key string, dst *string) {
	if value, ok := e.get(key); ok {
		*dst = value
	}
}

func (e *envReader) setList(key string, dst *[]string) {
	value, ok := e.get(key)
	if !ok {
		return
	}
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	*dst = items
}

func (e *envReader) setInt(key string, dst *int) {
	value, ok := e.get(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: invalid integer %q", key, value))
		return
	}
	*dst = n
}

func (e *envReader) setInt64(key string, dst *int64) {
	value, ok := e.get(key)
	if !ok {
		return
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: invalid integer %q", key, value))
		return
	}
	*dst = n
}

func (e *envReader) setBool(key string, dst *bool) {
	value, ok := e.get(key)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: invalid boolean %q", key, value))
		return
	}
	*dst = b
}

func (e *envReader) setDuration(key string, dst *time.Duration) {
	value, ok := e.get(key)
	if !ok {
		return
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: invalid duration %q", key, value))
		return
	}
	*dst = d
}

// Validate performs validation of every section
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.Recognizer.Validate(); err != nil {
		return fmt.Errorf("recognizer config: %w", err)
	}

	if err := c.Bridge.Validate(); err != nil {
		return fmt.Errorf("bridge config: %w", err)
	}

	if err := c.Auth.Validate(); err != nil {
		return fmt.Errorf("auth config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", s.Port)
	}

	if s.MaxMessageSize < 1024 {
		return fmt.Errorf("max_message_size must be at least 1024 bytes, got %d", s.MaxMessageSize)
	}

	if s.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown_timeout must be positive, got %s", s.ShutdownTimeout)
	}

	return nil
}

// Validate validates recognizer configuration
func (r *RecognizerConfig) Validate() error {
	validBackends := map[string]bool{"dialogflow": true, "speech": true, "mock": true}
	if !validBackends[r.Backend] {
		return fmt.Errorf("backend must be one of [dialogflow, speech, mock], got '%s'", r.Backend)
	}

	if r.LanguageCode == "" {
		return fmt.Errorf("language_code cannot be empty")
	}

	if r.SampleRateHertz < 8000 || r.SampleRateHertz > 48000 {
		return fmt.Errorf("sample_rate_hertz must be between 8000 and 48000, got %d", r.SampleRateHertz)
	}

	if r.Encoding == "" {
		return fmt.Errorf("encoding cannot be empty")
	}

	return nil
}

// Validate validates bridge configuration
func (b *BridgeConfig) Validate() error {
	if len(b.Sentinel) != 3 {
		return fmt.Errorf("sentinel must be exactly 3 bytes, got %d", len(b.Sentinel))
	}

	if b.DrainTimeout <= 0 {
		return fmt.Errorf("drain_timeout must be positive, got %s", b.DrainTimeout)
	}

	if b.MaxSessionAge < 0 {
		return fmt.Errorf("max_session_age cannot be negative, got %s", b.MaxSessionAge)
	}

	if b.MaxSessionAge > 0 && b.ReaperInterval <= 0 {
		return fmt.Errorf("reaper_interval must be positive when max_session_age is set, got %s", b.ReaperInterval)
	}

	return nil
}

// Validate validates auth configuration
func (a *AuthConfig) Validate() error {
	if a.JWTSecret != "" && len(a.JWTSecret) < 16 {
		return fmt.Errorf("jwt_secret must be at least 16 bytes when set, got %d", len(a.JWTSecret))
	}

	if a.TokenTTL <= 0 {
		return fmt.Errorf("token_ttl must be positive, got %s", a.TokenTTL)
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'console', got '%s'", l.Format)
	}

	return nil
}
