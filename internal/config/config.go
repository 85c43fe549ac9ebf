package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/painreview/pkg/models"
)

// Config represents the application configuration. Every numeric
// threshold the engine uses is a default here, never a hard-coded
// constant in the pipeline.
type Config struct {
	Engine struct {
		Workers             int `koanf:"workers"`
		QueueLength         int `koanf:"queue_length"`
		ParseTimeoutSeconds int `koanf:"parse_timeout_seconds"`
	} `koanf:"engine"`

	Scoring struct {
		BaseScore           int `koanf:"base_score"`
		MaxFunctionLines    int `koanf:"max_function_lines"`
		MaxNestingDepth     int `koanf:"max_nesting_depth"`
		StrictFunctionLines int `koanf:"strict_function_lines"`
		StrictNestingDepth  int `koanf:"strict_nesting_depth"`
	} `koanf:"scoring"`

	Session struct {
		TimeoutSeconds int      `koanf:"timeout_seconds"`
		MaxSessions    int      `koanf:"max_sessions"`
		RequiredRoles  []string `koanf:"required_roles"`
	} `koanf:"session"`

	Events struct {
		QueueLength int `koanf:"queue_length"`
	} `koanf:"events"`

	History struct {
		MaxEntries int `koanf:"max_entries"`
		PageSize   int `koanf:"page_size"`
	} `koanf:"history"`

	Server struct {
		Port      int     `koanf:"port"`
		RateLimit float64 `koanf:"rate_limit"`
	} `koanf:"server"`
}

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"engine.workers":                4,
		"engine.queue_length":           128,
		"engine.parse_timeout_seconds":  5,
		"scoring.base_score":            100,
		"scoring.max_function_lines":    50,
		"scoring.max_nesting_depth":     4,
		"scoring.strict_function_lines": 30,
		"scoring.strict_nesting_depth":  3,
		"session.timeout_seconds":       120,
		"session.max_sessions":          1000,
		"events.queue_length":           64,
		"history.max_entries":           1000,
		"history.page_size":             50,
		"server.port":                   8080,
		"server.rate_limit":             20.0,
	}
}

// LoadConfig loads the configuration from defaults, an optional TOML
// file, and PAINREVIEW_ environment variables, in that order.
func LoadConfig(configPath string) (*Config, error) {
	var k = koanf.New(".")

	k.Load(confmap.Provider(defaults(), "."), nil)

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), toml.Parser()); err != nil {
			return nil, fmt.Errorf("error loading config: %w", err)
		}
	} else {
		defaultPaths := []string{"./painreview.toml", "$HOME/.painreview.toml"}
		for _, path := range defaultPaths {
			path = os.ExpandEnv(path)
			if _, err := os.Stat(path); err == nil {
				if err := k.Load(file.Provider(path), toml.Parser()); err == nil {
					break
				}
			}
		}
	}

	k.Load(env.Provider("PAINREVIEW_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "PAINREVIEW_")), "_", ".", 1)
	}), nil)

	var config Config
	if err := k.Unmarshal("", &config); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	return &config, nil
}

// Default returns the built-in configuration without touching disk.
func Default() *Config {
	var k = koanf.New(".")
	k.Load(confmap.Provider(defaults(), "."), nil)
	var config Config
	k.Unmarshal("", &config)
	return &config
}

// InitConfig writes a sample configuration file.
func InitConfig(configPath string) error {
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("configuration file already exists at %s", configPath)
	}

	sampleConfig := `# PainReview Configuration

[engine]
workers = 4
queue_length = 128
parse_timeout_seconds = 5

[scoring]
base_score = 100
max_function_lines = 50
max_nesting_depth = 4
strict_function_lines = 30
strict_nesting_depth = 3

[session]
timeout_seconds = 120
max_sessions = 1000
required_roles = ["IMPLEMENTATION_ANALYST", "ARCHITECTURE_REVIEWER", "DOCUMENTATION_KEEPER"]

[events]
queue_length = 64

[history]
max_entries = 1000
page_size = 50

[server]
port = 8080
rate_limit = 20.0
`

	return os.WriteFile(configPath, []byte(sampleConfig), 0644)
}

// Validate validates the configuration.
func Validate(config *Config) error {
	if config.Engine.Workers < 1 {
		return fmt.Errorf("engine workers must be at least 1")
	}
	if config.History.MaxEntries < 1 {
		return fmt.Errorf("history max_entries must be at least 1")
	}
	if config.Session.TimeoutSeconds < 1 {
		return fmt.Errorf("session timeout must be at least 1 second")
	}
	if config.Session.MaxSessions < 1 {
		return fmt.Errorf("session max_sessions must be at least 1")
	}
	if _, err := RequiredRoles(config); err != nil {
		return err
	}
	return nil
}

// ParseTimeout returns the parse budget as a duration.
func (c *Config) ParseTimeout() time.Duration {
	return time.Duration(c.Engine.ParseTimeoutSeconds) * time.Second
}

// SessionTimeout returns the aggregation timeout as a duration.
func (c *Config) SessionTimeout() time.Duration {
	return time.Duration(c.Session.TimeoutSeconds) * time.Second
}

// RequiredRoles resolves the configured reviewer role names. An empty
// list means all known roles are required.
func RequiredRoles(config *Config) ([]models.ReviewerRole, error) {
	if len(config.Session.RequiredRoles) == 0 {
		return models.AllReviewerRoles(), nil
	}
	roles := make([]models.ReviewerRole, 0, len(config.Session.RequiredRoles))
	for _, name := range config.Session.RequiredRoles {
		role, err := models.ParseReviewerRole(name)
		if err != nil {
			return nil, fmt.Errorf("invalid required role: %w", err)
		}
		roles = append(roles, role)
	}
	return roles, nil
}
