package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Role constants
const (
	RoleCoordinator = "coordinator"
	RoleTaskManager = "taskmanager"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	HTTPAddr string `json:"http_addr"`
	GRPCAddr string `json:"grpc_addr"`

	// Security configuration
	TLSEnabled bool   `json:"tls_enabled"`
	CertFile   string `json:"cert_file"`
	KeyFile    string `json:"key_file"`

	// Logging configuration
	LogLevel string `json:"log_level"`

	// Data directory for certificates and state
	DataDir string `json:"data_dir"`

	// Trusted peers, keyed by certificate fingerprint
	TrustedPeers map[string]*TrustedPeer `json:"trusted_peers"`

	// Role configuration (coordinator or taskmanager)
	Role        string             `json:"role"`
	Coordinator *CoordinatorConfig `json:"coordinator,omitempty"`
	TaskManager *TaskManagerConfig `json:"task_manager,omitempty"`

	mu sync.RWMutex
}

// CoordinatorConfig holds coordinator-specific configuration.
type CoordinatorConfig struct {
	// Deadline is how long a triggered modification waits for every
	// target subtask to acknowledge before it is marked EXPIRED.
	Deadline time.Duration `json:"deadline"`

	// CleanupInterval is how often completed/failed modification
	// records older than their retention window are pruned.
	CleanupInterval time.Duration `json:"cleanup_interval"`

	// CheckpointInterval is how often the checkpoint id counter advances.
	CheckpointInterval time.Duration `json:"checkpoint_interval"`
}

// TaskManagerConfig holds task-manager-specific configuration.
type TaskManagerConfig struct {
	// CoordinatorAddr is the gRPC address of the coordinator's control
	// plane.
	CoordinatorAddr string `json:"coordinator_addr"`

	// AuthToken authenticates this task manager's control stream,
	// derived out of band via transport.DeriveAuthToken.
	AuthToken string `json:"auth_token"`

	// SlotCapacity is how many subtask slots this task manager offers.
	SlotCapacity int `json:"slot_capacity"`

	// Name is the human-readable task manager name.
	Name string `json:"name"`
}

// DefaultCoordinatorConfig returns default coordinator configuration.
func DefaultCoordinatorConfig() *CoordinatorConfig {
	return &CoordinatorConfig{
		Deadline:           90 * time.Second,
		CleanupInterval:    5 * time.Minute,
		CheckpointInterval: 10 * time.Second,
	}
}

// DefaultTaskManagerConfig returns default task-manager configuration.
func DefaultTaskManagerConfig() *TaskManagerConfig {
	return &TaskManagerConfig{
		CoordinatorAddr: "",
		AuthToken:       "",
		SlotCapacity:    4,
		Name:            "",
	}
}

// TrustedPeer represents a coordinator or task manager whose certificate
// fingerprint has been added to the trust store.
type TrustedPeer struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Fingerprint string    `json:"fingerprint"`
	Address     string    `json:"address"`
	AddedAt     time.Time `json:"added_at"`
	LastSeen    time.Time `json:"last_seen"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		HTTPAddr:     ":8080",
		GRPCAddr:     ":9090",
		TLSEnabled:   true,
		LogLevel:     "info",
		DataDir:      "", // Will use ~/.flowmod by default
		TrustedPeers: make(map[string]*TrustedPeer),
	}
}

// LoadConfig loads configuration from a file or returns default config
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		// Try default locations
		homeDir, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(homeDir, ".flowmod", "config.json")
		}
	}

	// If file doesn't exist, return default config
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Apply defaults for missing fields
	applyDefaults(&cfg)

	return &cfg, nil
}

// Save saves the configuration to a file
func (c *Config) Save(path string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if path == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(homeDir, ".flowmod", "config.json")
	}

	// Create directory if it doesn't exist
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Marshal with indentation for readability
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Write to temporary file first, then atomic rename
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename config file: %w", err)
	}

	return nil
}

// AddTrustedPeer adds a peer to the trusted peers list
func (c *Config) AddTrustedPeer(peer *TrustedPeer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.TrustedPeers[peer.ID] = peer
}

// RemoveTrustedPeer removes a peer from the trusted peers list
func (c *Config) RemoveTrustedPeer(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.TrustedPeers, id)
}

// GetTrustedPeer retrieves a trusted peer by ID
func (c *Config) GetTrustedPeer(id string) (*TrustedPeer, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	peer, ok := c.TrustedPeers[id]
	return peer, ok
}

// UpdatePeerLastSeen updates the last seen timestamp for a peer
func (c *Config) UpdatePeerLastSeen(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if peer, ok := c.TrustedPeers[id]; ok {
		peer.LastSeen = time.Now()
	}
}

// ListTrustedPeers returns a list of all trusted peers
func (c *Config) ListTrustedPeers() []*TrustedPeer {
	c.mu.RLock()
	defer c.mu.RUnlock()

	peers := make([]*TrustedPeer, 0, len(c.TrustedPeers))
	for _, peer := range c.TrustedPeers {
		peers = append(peers, peer)
	}
	return peers
}

// Redact returns a redacted copy of the config for logging
func (c *Config) Redact() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return map[string]interface{}{
		"http_addr":     c.HTTPAddr,
		"grpc_addr":     c.GRPCAddr,
		"tls_enabled":   c.TLSEnabled,
		"cert_file":     c.CertFile,
		"key_file":      "***REDACTED***",
		"log_level":     c.LogLevel,
		"role":          c.Role,
		"trusted_peers": len(c.TrustedPeers),
	}
}

func applyDefaults(cfg *Config) {
	defaults := DefaultConfig()

	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = defaults.HTTPAddr
	}
	if cfg.GRPCAddr == "" {
		cfg.GRPCAddr = defaults.GRPCAddr
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = defaults.LogLevel
	}
	if cfg.TrustedPeers == nil {
		cfg.TrustedPeers = make(map[string]*TrustedPeer)
	}

	// Apply role-specific defaults
	if cfg.Role == RoleCoordinator && cfg.Coordinator == nil {
		cfg.Coordinator = DefaultCoordinatorConfig()
	}
	if cfg.Role == RoleTaskManager && cfg.TaskManager == nil {
		cfg.TaskManager = DefaultTaskManagerConfig()
	}
}

// IsCoordinator returns true if running in coordinator mode
func (c *Config) IsCoordinator() bool {
	return c.Role == RoleCoordinator
}

// IsTaskManager returns true if running in task-manager mode
func (c *Config) IsTaskManager() bool {
	return c.Role == RoleTaskManager
}

// GetCoordinatorConfig returns coordinator config, initializing if needed
func (c *Config) GetCoordinatorConfig() *CoordinatorConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Coordinator == nil {
		c.Coordinator = DefaultCoordinatorConfig()
	}
	return c.Coordinator
}

// GetTaskManagerConfig returns task-manager config, initializing if needed
func (c *Config) GetTaskManagerConfig() *TaskManagerConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.TaskManager == nil {
		c.TaskManager = DefaultTaskManagerConfig()
	}
	return c.TaskManager
}

// SetTaskManagerAuthToken stores the auth token derived for this task
// manager's control stream.
func (c *Config) SetTaskManagerAuthToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.TaskManager == nil {
		c.TaskManager = DefaultTaskManagerConfig()
	}
	c.TaskManager.AuthToken = token
}
