package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().HTTPAddr, cfg.HTTPAddr)
	assert.True(t, cfg.TLSEnabled)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	cfg := DefaultConfig()
	cfg.Role = RoleCoordinator
	cfg.Coordinator = &CoordinatorConfig{Deadline: 42 * time.Second}
	cfg.AddTrustedPeer(&TrustedPeer{ID: "peer-1", Fingerprint: "abc"})

	require.NoError(t, cfg.Save(path))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, RoleCoordinator, loaded.Role)
	assert.Equal(t, 42*time.Second, loaded.Coordinator.Deadline)
	peer, ok := loaded.GetTrustedPeer("peer-1")
	require.True(t, ok)
	assert.Equal(t, "abc", peer.Fingerprint)
}

func TestApplyDefaultsFillsRoleSpecificConfig(t *testing.T) {
	cfg := &Config{Role: RoleCoordinator}
	applyDefaults(cfg)
	require.NotNil(t, cfg.Coordinator)
	assert.Equal(t, DefaultCoordinatorConfig().Deadline, cfg.Coordinator.Deadline)

	cfg2 := &Config{Role: RoleTaskManager}
	applyDefaults(cfg2)
	require.NotNil(t, cfg2.TaskManager)
	assert.Equal(t, 4, cfg2.TaskManager.SlotCapacity)
}

func TestGetCoordinatorConfigInitializesOnDemand(t *testing.T) {
	cfg := &Config{}
	got := cfg.GetCoordinatorConfig()
	require.NotNil(t, got)
	assert.Same(t, got, cfg.GetCoordinatorConfig(), "a second call must not reinitialize")
}

func TestGetTaskManagerConfigInitializesOnDemand(t *testing.T) {
	cfg := &Config{}
	got := cfg.GetTaskManagerConfig()
	require.NotNil(t, got)
	assert.Equal(t, 4, got.SlotCapacity)
}

func TestSetTaskManagerAuthTokenInitializesConfigIfNeeded(t *testing.T) {
	cfg := &Config{}
	cfg.SetTaskManagerAuthToken("tok-123")
	assert.Equal(t, "tok-123", cfg.TaskManager.AuthToken)
}

func TestTrustedPeerLifecycle(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AddTrustedPeer(&TrustedPeer{ID: "p1", Fingerprint: "fp1"})
	cfg.AddTrustedPeer(&TrustedPeer{ID: "p2", Fingerprint: "fp2"})

	assert.Len(t, cfg.ListTrustedPeers(), 2)

	cfg.UpdatePeerLastSeen("p1")
	peer, ok := cfg.GetTrustedPeer("p1")
	require.True(t, ok)
	assert.False(t, peer.LastSeen.IsZero())

	cfg.RemoveTrustedPeer("p1")
	_, ok = cfg.GetTrustedPeer("p1")
	assert.False(t, ok)
	assert.Len(t, cfg.ListTrustedPeers(), 1)
}

func TestRedactHidesKeyFile(t *testing.T) {
	cfg := DefaultConfig()
	cfg.KeyFile = "/secret/identity.key"
	redacted := cfg.Redact()
	assert.Equal(t, "***REDACTED***", redacted["key_file"])
}

func TestIsCoordinatorAndIsTaskManager(t *testing.T) {
	cfg := &Config{Role: RoleCoordinator}
	assert.True(t, cfg.IsCoordinator())
	assert.False(t, cfg.IsTaskManager())

	cfg.Role = RoleTaskManager
	assert.False(t, cfg.IsCoordinator())
	assert.True(t, cfg.IsTaskManager())
}
