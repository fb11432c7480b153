package frontend

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lk2023060901/danmu-garden-gateway/internal/service"
	"github.com/lk2023060901/danmu-garden-gateway/pkg/util/merr"
)

func TestChannelRoutes(t *testing.T) {
	routes, err := DefaultConfig().channelRoutes(2)
	require.NoError(t, err)
	assert.Equal(t, map[uint16]service.Type{1: service.PlayerManager, 2: service.GroupingManager}, routes)

	cfg := Config{Channels: map[string]string{"1": "PlayerManager", "3": "GroupingManager"}}
	routes, err = cfg.channelRoutes(3)
	require.NoError(t, err)
	assert.Len(t, routes, 2)

	bad := []map[string]string{
		{"1": "PlayerManager", "3": "GroupingManager"},
		{"0": "PlayerManager"},
		{"x": "PlayerManager"},
		{"1": "Frontend"},
		{"1": "Nope"},
		{"2": "GroupingManager"},
	}
	for _, channels := range bad {
		_, err := Config{Channels: channels}.channelRoutes(2)
		assert.Error(t, err, "%v", channels)
	}

	_, err = Config{Channels: map[string]string{"2": "GroupingManager"}}.channelRoutes(2)
	assert.ErrorIs(t, err, merr.ErrParameterMissing)
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{MaxFramesPerSecond: 50}.withDefaults()
	assert.Equal(t, 1, cfg.MaxAuthFailures)
	assert.Equal(t, 100, cfg.FrameBurst)
	assert.Len(t, cfg.Channels, 2)
}
