package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all termhub configuration, loaded from the environment.
type Config struct {
	Server   ServerConfig
	Auth     AuthConfig
	Session  SessionConfig
	Prewarm  PrewarmConfig
	Activity ActivityConfig
	Logging  LogConfig
	Tabs     TabsConfig
}

// ServerConfig holds the HTTP listener configuration.
type ServerConfig struct {
	Host string `envconfig:"HOST" default:"0.0.0.0"`
	Port string `envconfig:"PORT" default:"8080"`
}

// AuthConfig holds the shared secret for the control-plane endpoints.
// An empty token disables the bearer check.
type AuthConfig struct {
	Token string `envconfig:"AUTH_TOKEN" default:""`
}

// SessionConfig holds session lifecycle tunables.
type SessionConfig struct {
	Max              int           `envconfig:"MAX_SESSIONS" default:"12"`
	MaxTabs          int           `envconfig:"MAX_TABS" default:"6"`
	Keepalive        time.Duration `envconfig:"SESSION_KEEPALIVE" default:"45m"`
	ReapInterval     time.Duration `envconfig:"SESSION_REAP_INTERVAL" default:"60s"`
	NamePollInterval time.Duration `envconfig:"NAME_POLL_INTERVAL" default:"3s"`
	WorkDir          string        `envconfig:"WORK_DIR" default:""`
}

// PrewarmConfig holds readiness engine tunables. Quiescence thresholds are
// per-command (see prewarm.ParamsFor); only the global bounds live here.
type PrewarmConfig struct {
	Enabled       bool          `envconfig:"PREWARM_ENABLED" default:"true"`
	HardTimeout   time.Duration `envconfig:"PREWARM_HARD_TIMEOUT" default:"20s"`
	OrphanTimeout time.Duration `envconfig:"PREWARM_ORPHAN_TIMEOUT" default:"120s"`
	PollInterval  time.Duration `envconfig:"PREWARM_POLL_INTERVAL" default:"500ms"`
}

// ActivityConfig holds the background activity probe configuration.
type ActivityConfig struct {
	Dirs         []string      `envconfig:"ACTIVITY_DIRS" default:"~/.claude,~/.codex,~/.opencode"`
	PollInterval time.Duration `envconfig:"ACTIVITY_POLL_INTERVAL" default:"30s"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// TabsConfig points at the externally supplied per-tab command file.
type TabsConfig struct {
	Path string `envconfig:"TAB_CONFIG" default:""`
}

// Load loads configuration from environment variables. Each section is
// processed separately under the shared prefix; processing the root
// struct would fold the section field name into every key
// (TERMHUB_SESSION_MAX_SESSIONS instead of TERMHUB_MAX_SESSIONS).
func Load() (*Config, error) {
	var cfg Config
	sections := []any{
		&cfg.Server,
		&cfg.Auth,
		&cfg.Session,
		&cfg.Prewarm,
		&cfg.Activity,
		&cfg.Logging,
		&cfg.Tabs,
	}
	for _, section := range sections {
		if err := envconfig.Process("TERMHUB", section); err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}
	return &cfg, nil
}

