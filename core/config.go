package core

import (
	"fmt"
	"time"
)

const (
	RoleOperator = "operator"
	RoleViewer   = "viewer"
)

// Config is resolved from defaults, then the config file, then environment
// and flags — later wins. See cmd/roverlink for the loading order.
type Config struct {
	System struct {
		Role  string `mapstructure:"role"`
		Debug bool   `mapstructure:"debug"`
	} `mapstructure:"system"`

	Signaling struct {
		URLs      []string `mapstructure:"urls"`
		ChannelID string   `mapstructure:"channel_id"`
		Password  string   `mapstructure:"password"`
	} `mapstructure:"signaling"`

	Channels struct {
		StateLabel string `mapstructure:"state_label"`
		CtrlLabel  string `mapstructure:"ctrl_label"`
	} `mapstructure:"channels"`

	Sync struct {
		RenderDelayMS      int `mapstructure:"render_delay_ms"`
		RetentionMS        int `mapstructure:"retention_ms"`
		MaxExtrapolationMS int `mapstructure:"max_extrapolation_ms"`
		StatusIntervalMS   int `mapstructure:"status_interval_ms"`
	} `mapstructure:"sync"`

	Command struct {
		MinIntervalMS int     `mapstructure:"min_interval_ms"`
		KeepaliveMS   int     `mapstructure:"keepalive_ms"`
		HeartbeatMS   int     `mapstructure:"heartbeat_ms"`
		MetricsMS     int     `mapstructure:"metrics_ms"`
		AxisEpsilon   float64 `mapstructure:"axis_epsilon"`
	} `mapstructure:"command"`

	Health struct {
		StalenessMS int `mapstructure:"staleness_ms"`
	} `mapstructure:"health"`

	Loop struct {
		TickHZ int `mapstructure:"tick_hz"`
	} `mapstructure:"loop"`

	Logging struct {
		Level   string   `mapstructure:"level"`
		Outputs []string `mapstructure:"outputs"`
	} `mapstructure:"logging"`
}

// DefaultConfig returns the baseline every other source overrides.
func DefaultConfig() Config {
	var cfg Config
	cfg.System.Role = RoleOperator
	cfg.Channels.StateLabel = "#state"
	cfg.Channels.CtrlLabel = "#ctrl"
	cfg.Sync.RenderDelayMS = 80
	cfg.Sync.RetentionMS = 1000
	cfg.Sync.MaxExtrapolationMS = 150
	cfg.Sync.StatusIntervalMS = 200
	cfg.Command.MinIntervalMS = 50
	cfg.Command.KeepaliveMS = 250
	cfg.Command.HeartbeatMS = 1000
	cfg.Command.MetricsMS = 1000
	cfg.Command.AxisEpsilon = 0.005
	cfg.Health.StalenessMS = 2500
	cfg.Loop.TickHZ = 60
	cfg.Logging.Level = "info"
	return cfg
}

// Validate fails loudly on construction-time misconfiguration; this is the
// only condition the core refuses to start on.
func (c *Config) Validate() error {
	if len(c.Signaling.URLs) == 0 {
		return fmt.Errorf("%w: signaling urls are required", ErrInvalidConfig)
	}
	if c.Signaling.ChannelID == "" {
		return fmt.Errorf("%w: signaling channel_id is required", ErrInvalidConfig)
	}
	if c.System.Role != RoleOperator && c.System.Role != RoleViewer {
		return fmt.Errorf("%w: unknown role %q", ErrInvalidConfig, c.System.Role)
	}
	if c.Channels.StateLabel == "" {
		return fmt.Errorf("%w: state channel label is required", ErrInvalidConfig)
	}
	if c.System.Role == RoleOperator && c.Channels.CtrlLabel == "" {
		return fmt.Errorf("%w: ctrl channel label is required for the operator role", ErrInvalidConfig)
	}
	return nil
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }
