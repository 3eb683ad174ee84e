package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := DefaultConfig()
	cfg.Signaling.URLs = []string{"wss://sora.example.com/signaling"}
	cfg.Signaling.ChannelID = "rover-1"
	return cfg
}

func TestConfigValidate(t *testing.T) {
	t.Run("valid operator", func(t *testing.T) {
		cfg := validConfig()
		assert.NoError(t, cfg.Validate())
	})

	t.Run("valid viewer without ctrl label", func(t *testing.T) {
		cfg := validConfig()
		cfg.System.Role = RoleViewer
		cfg.Channels.CtrlLabel = ""
		assert.NoError(t, cfg.Validate())
	})

	t.Run("missing urls", func(t *testing.T) {
		cfg := validConfig()
		cfg.Signaling.URLs = nil
		require.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
	})

	t.Run("missing channel id", func(t *testing.T) {
		cfg := validConfig()
		cfg.Signaling.ChannelID = ""
		require.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
	})

	t.Run("unknown role", func(t *testing.T) {
		cfg := validConfig()
		cfg.System.Role = "spectator"
		require.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
	})

	t.Run("missing state label", func(t *testing.T) {
		cfg := validConfig()
		cfg.Channels.StateLabel = ""
		require.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
	})

	t.Run("operator needs ctrl label", func(t *testing.T) {
		cfg := validConfig()
		cfg.Channels.CtrlLabel = ""
		require.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
	})
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, RoleOperator, cfg.System.Role)
	assert.Equal(t, "#state", cfg.Channels.StateLabel)
	assert.Equal(t, "#ctrl", cfg.Channels.CtrlLabel)
	assert.Equal(t, 80, cfg.Sync.RenderDelayMS)
	assert.Equal(t, 150, cfg.Sync.MaxExtrapolationMS)
	assert.Equal(t, 2500, cfg.Health.StalenessMS)
	assert.Equal(t, 60, cfg.Loop.TickHZ)
}
