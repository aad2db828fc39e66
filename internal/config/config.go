package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Bridge   BridgeConfig   `yaml:"bridge"`
	Workflow WorkflowConfig `yaml:"workflow"`
}

type ServerConfig struct {
	Port              int           `yaml:"port"`
	Host              string        `yaml:"host"`
	BroadcastThrottle time.Duration `yaml:"broadcast_throttle"`
	SnapshotInterval  time.Duration `yaml:"snapshot_interval"`
	// MaxWSConnections limits concurrent WebSocket clients; 0 means
	// unlimited.
	MaxWSConnections int      `yaml:"max_ws_connections"`
	AllowedOrigins   []string `yaml:"allowed_origins"`
	// AuthToken, when set, is required on every API and WebSocket
	// request.
	AuthToken string `yaml:"auth_token"`
}

// BridgeConfig points at the migration service. Offline enables
// fallback synthesis: when session creation against the live service
// fails (or no URL is configured), the session continues on locally
// fabricated data instead of surfacing the failure.
type BridgeConfig struct {
	URL            string        `yaml:"url"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	Offline        bool          `yaml:"offline"`
}

type WorkflowConfig struct {
	StatusPollInterval time.Duration `yaml:"status_poll_interval"`
	// StatusMaxSilent caps consecutive swallowed status-poll failures
	// before the workflow surfaces an error instead of polling forever.
	StatusMaxSilent    int           `yaml:"status_max_silent_failures"`
	DetectPollInterval time.Duration `yaml:"detect_poll_interval"`
	DetectMaxAttempts  int           `yaml:"detect_max_attempts"`
	SimulateStepDelay  time.Duration `yaml:"simulate_step_delay"`
}

// Default returns the built-in configuration. Load starts from this
// and overlays whatever the yaml file sets.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:              8090,
			Host:              "0.0.0.0",
			BroadcastThrottle: 100 * time.Millisecond,
			SnapshotInterval:  10 * time.Second,
		},
		Bridge: BridgeConfig{
			URL:            "http://localhost:9090",
			RequestTimeout: 15 * time.Second,
		},
		Workflow: WorkflowConfig{
			StatusPollInterval: 5 * time.Second,
			StatusMaxSilent:    120,
			DetectPollInterval: 5 * time.Second,
			DetectMaxAttempts:  24,
			SimulateStepDelay:  2 * time.Second,
		},
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Workflow.StatusPollInterval <= 0 {
		return fmt.Errorf("workflow.status_poll_interval must be positive")
	}
	if c.Workflow.DetectPollInterval <= 0 {
		return fmt.Errorf("workflow.detect_poll_interval must be positive")
	}
	if c.Workflow.DetectMaxAttempts <= 0 {
		return fmt.Errorf("workflow.detect_max_attempts must be positive")
	}
	if !c.Bridge.Offline && c.Bridge.URL == "" {
		return fmt.Errorf("bridge.url is required unless bridge.offline is set")
	}
	return nil
}
