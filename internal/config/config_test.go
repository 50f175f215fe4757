package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func mapLookup(env map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		value, ok := env[key]
		return value, ok
	}
}

// clearEnv blanks the variables Load reads; blank values are ignored.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PORT", "MAX_MESSAGE_SIZE", "ALLOWED_ORIGINS", "SHUTDOWN_TIMEOUT",
		"RECOGNIZER_BACKEND", "GOOGLE_APPLICATION_CREDENTIALS", "DIALOGFLOW_PROJECT_ID",
		"LANGUAGE_CODE", "SAMPLE_RATE_HERTZ", "AUDIO_ENCODING", "SENTINEL",
		"DRAIN_TIMEOUT", "MAX_SESSION_AGE", "REAPER_INTERVAL", "REPORT_ON_ABRUPT_CLOSE",
		"JWT_SECRET", "TOKEN_TTL", "LOG_LEVEL", "LOG_FORMAT",
	} {
		t.Setenv(key, "")
	}
}

func TestDefaultIsValid(t *testing.T) {
	config := Default()
	if err := config.Validate(); err != nil {
		t.Fatalf("default config should be valid: %v", err)
	}
	if config.Bridge.Sentinel != "end" {
		t.Errorf("default sentinel = %q, want %q", config.Bridge.Sentinel, "end")
	}
	if config.Server.MaxMessageSize != 4*1024*1024 {
		t.Errorf("default max message size = %d, want 4 MiB", config.Server.MaxMessageSize)
	}
	if config.Recognizer.SampleRateHertz != 16000 || config.Recognizer.LanguageCode != "en-US" {
		t.Errorf("unexpected default audio profile: %+v", config.Recognizer)
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(*Config)
		expectError bool
		errorMsg    string
	}{
		{
			name:   "valid configuration",
			mutate: func(c *Config) {},
		},
		{
			name:        "invalid port",
			mutate:      func(c *Config) { c.Server.Port = 70000 },
			expectError: true,
			errorMsg:    "port must be between 1 and 65535",
		},
		{
			name:        "unknown backend",
			mutate:      func(c *Config) { c.Recognizer.Backend = "whisper" },
			expectError: true,
			errorMsg:    "backend must be one of",
		},
		{
			name:        "sentinel too long",
			mutate:      func(c *Config) { c.Bridge.Sentinel = "stop" },
			expectError: true,
			errorMsg:    "sentinel must be exactly 3 bytes",
		},
		{
			name:        "zero drain timeout",
			mutate:      func(c *Config) { c.Bridge.DrainTimeout = 0 },
			expectError: true,
			errorMsg:    "drain_timeout must be positive",
		},
		{
			name: "reaper disabled",
			mutate: func(c *Config) {
				c.Bridge.MaxSessionAge = 0
				c.Bridge.ReaperInterval = 0
			},
		},
		{
			name:        "short jwt secret",
			mutate:      func(c *Config) { c.Auth.JWTSecret = "short" },
			expectError: true,
			errorMsg:    "jwt_secret must be at least 16 bytes",
		},
		{
			name:        "invalid log level",
			mutate:      func(c *Config) { c.Logging.Level = "verbose" },
			expectError: true,
			errorMsg:    "level must be one of",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := Default()
			tt.mutate(config)

			err := config.Validate()
			if tt.expectError {
				if err == nil {
					t.Errorf("expected error but got none")
				} else if tt.errorMsg != "" && !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("expected error containing '%s', got '%s'", tt.errorMsg, err.Error())
				}
			} else if err != nil {
				t.Errorf("expected no error but got: %v", err)
			}
		})
	}
}

func TestApplyEnv(t *testing.T) {
	config := Default()
	err := config.ApplyEnv(mapLookup(map[string]string{
		"PORT":                   "9090",
		"RECOGNIZER_BACKEND":     "mock",
		"DIALOGFLOW_PROJECT_ID":  "my-agent",
		"SENTINEL":               "eof",
		"DRAIN_TIMEOUT":          "3s",
		"REPORT_ON_ABRUPT_CLOSE": "false",
		"ALLOWED_ORIGINS":        "https://a.example, https://b.example",
		"LOG_LEVEL":              " ",
	}))
	if err != nil {
		t.Fatalf("ApplyEnv failed: %v", err)
	}

	if config.Server.Port != 9090 {
		t.Errorf("port = %d, want 9090", config.Server.Port)
	}
	if config.Recognizer.Backend != "mock" {
		t.Errorf("backend = %q, want mock", config.Recognizer.Backend)
	}
	if config.Recognizer.ProjectID != "my-agent" {
		t.Errorf("project id = %q, want my-agent", config.Recognizer.ProjectID)
	}
	if config.Bridge.Sentinel != "eof" {
		t.Errorf("sentinel = %q, want eof", config.Bridge.Sentinel)
	}
	if config.Bridge.DrainTimeout != 3*time.Second {
		t.Errorf("drain timeout = %s, want 3s", config.Bridge.DrainTimeout)
	}
	if config.Bridge.ReportOnAbruptClose {
		t.Error("report on abrupt close should be disabled")
	}
	if len(config.Server.AllowedOrigins) != 2 || config.Server.AllowedOrigins[1] != "https://b.example" {
		t.Errorf("allowed origins = %v", config.Server.AllowedOrigins)
	}
	if config.Logging.Level != "info" {
		t.Errorf("blank LOG_LEVEL should keep the default, got %q", config.Logging.Level)
	}
}

func TestApplyEnv_InvalidValues(t *testing.T) {
	config := Default()
	err := config.ApplyEnv(mapLookup(map[string]string{
		"PORT":                   "eighty",
		"DRAIN_TIMEOUT":          "soon",
		"REPORT_ON_ABRUPT_CLOSE": "maybe",
	}))
	if err == nil {
		t.Fatal("expected error for invalid values")
	}
	for _, key := range []string{"PORT", "DRAIN_TIMEOUT", "REPORT_ON_ABRUPT_CLOSE"} {
		if !strings.Contains(err.Error(), key) {
			t.Errorf("error should mention %s: %v", key, err)
		}
	}
}

func TestLoad(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	configPath := filepath.Join(dir, "config.yaml")
	configContent := `
server:
  port: 7070
recognizer:
  backend: speech
  language_code: en-GB
bridge:
  drain_timeout: 5s
  max_session_age: 90s
logging:
  level: debug
  format: console
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	envPath := filepath.Join(dir, ".env")
	if err := os.WriteFile(envPath, []byte("STREAMVOICE_TEST_ONLY=1\n"), 0644); err != nil {
		t.Fatalf("failed to write env file: %v", err)
	}
	t.Setenv("LANGUAGE_CODE", "en-AU")

	config, err := Load(configPath, envPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if config.Server.Port != 7070 {
		t.Errorf("port = %d, want 7070", config.Server.Port)
	}
	if config.Recognizer.Backend != "speech" {
		t.Errorf("backend = %q, want speech", config.Recognizer.Backend)
	}
	if config.Recognizer.LanguageCode != "en-AU" {
		t.Errorf("environment should override file, got %q", config.Recognizer.LanguageCode)
	}
	if config.Bridge.DrainTimeout != 5*time.Second {
		t.Errorf("drain timeout = %s, want 5s", config.Bridge.DrainTimeout)
	}
	if config.Bridge.MaxSessionAge != 90*time.Second {
		t.Errorf("max session age = %s, want 90s", config.Bridge.MaxSessionAge)
	}
	if config.Recognizer.SampleRateHertz != 16000 {
		t.Errorf("unset fields should keep defaults, got sample rate %d", config.Recognizer.SampleRateHertz)
	}
	if os.Getenv("STREAMVOICE_TEST_ONLY") != "1" {
		t.Error("env file was not loaded")
	}
	os.Unsetenv("STREAMVOICE_TEST_ONLY")
}

func TestLoad_Errors(t *testing.T) {
	clearEnv(t)
	if _, err := Load("/nonexistent/config.yaml", ""); err == nil {
		t.Error("expected error for missing config file")
	}

	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("server: [unclosed"), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	if _, err := Load(bad, ""); err == nil {
		t.Error("expected error for malformed YAML")
	}

	if _, err := Load("", filepath.Join(dir, "missing.env")); err != nil {
		t.Errorf("missing env file should be ignored: %v", err)
	}
}
