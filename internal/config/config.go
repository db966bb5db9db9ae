package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"streamthumb/internal/logger"
)

// CaptureRegion describes the screen region captured for live thumbnails
type CaptureRegion struct {
	X      int `json:"x" yaml:"x"`
	Y      int `json:"y" yaml:"y"`
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
}

// RemoteConfig describes the preview submission endpoint
type RemoteConfig struct {
	BaseURL        string `json:"base_url" yaml:"base_url"`
	TimeoutSeconds int    `json:"timeout_seconds" yaml:"timeout_seconds"`
}

// Config represents the application configuration
type Config struct {
	ServerPort          int           `json:"server_port" yaml:"server_port"`
	LogLevel            string        `json:"log_level" yaml:"log_level"`
	Remote              RemoteConfig  `json:"remote" yaml:"remote"`
	Capture             CaptureRegion `json:"capture" yaml:"capture"`
	JPEGQuality         int           `json:"jpeg_quality" yaml:"jpeg_quality"`
	DisableAutoPreviews bool          `json:"disable_auto_previews" yaml:"disable_auto_previews"`
}

// Manager handles configuration
type Manager struct {
	configPath string
	config     *Config
	mu         sync.RWMutex
}

// NewManager creates a new configuration manager
func NewManager(configFile string) (*Manager, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}

	configDir := filepath.Join(homeDir, ".config", "streamthumb")
	defaultConfigPath := filepath.Join(configDir, "config.yaml")

	actualConfigPath := defaultConfigPath
	if configFile != "" {
		actualConfigPath = configFile
	}

	if err := os.MkdirAll(filepath.Dir(actualConfigPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	m := &Manager{
		configPath: actualConfigPath,
	}

	if err := m.load(); err != nil {
		if os.IsNotExist(err) {
			logger.WithComponent("config").Info().
				Str("path", m.configPath).
				Msg("Config file not found, creating new config")
			m.config = m.getDefaults()
			if err := m.Save(); err != nil {
				return nil, fmt.Errorf("failed to create default config: %w", err)
			}
		} else {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	logger.WithComponent("config").Info().
		Str("path", m.configPath).
		Bool("disable_auto_previews", m.config.DisableAutoPreviews).
		Msg("Config loaded")

	return m, nil
}

// getDefaults returns default configuration
func (m *Manager) getDefaults() *Config {
	return &Config{
		ServerPort:  8090,
		LogLevel:    "info",
		JPEGQuality: 90,
		Remote: RemoteConfig{
			BaseURL:        "http://localhost:8091",
			TimeoutSeconds: 30,
		},
		Capture: CaptureRegion{
			X:      0,
			Y:      0,
			Width:  1920,
			Height: 1080,
		},
	}
}

// load reads the configuration from disk
func (m *Manager) load() error {
	data, err := os.ReadFile(m.configPath)
	if err != nil {
		return err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}

	if cfg.JPEGQuality <= 0 || cfg.JPEGQuality > 100 {
		cfg.JPEGQuality = 90
	}
	if cfg.Remote.TimeoutSeconds <= 0 {
		cfg.Remote.TimeoutSeconds = 30
	}

	m.mu.Lock()
	m.config = &cfg
	m.mu.Unlock()

	return nil
}

// Get returns a copy of the current configuration
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.config == nil {
		return m.getDefaults()
	}

	cfg := *m.config
	return &cfg
}

// Save saves the current configuration to disk
func (m *Manager) Save() error {
	m.mu.RLock()
	cfg := m.config
	m.mu.RUnlock()

	if cfg == nil {
		cfg = m.getDefaults()
	}

	configDir := filepath.Dir(m.configPath)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(m.configPath, data, 0644); err != nil {
		logger.WithComponent("config").Error().
			Err(err).
			Str("path", m.configPath).
			Msg("Failed to write config")
		return err
	}

	logger.WithComponent("config").Debug().
		Str("path", m.configPath).
		Msg("Config saved")
	return nil
}

// Update updates the entire configuration
func (m *Manager) Update(cfg *Config) error {
	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	return m.Save()
}

// GetDisableAutoPreviews reports whether automatic preview refresh is suppressed
func (m *Manager) GetDisableAutoPreviews() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.config == nil {
		return false
	}
	return m.config.DisableAutoPreviews
}

// SetDisableAutoPreviews sets the auto-preview suppression flag
func (m *Manager) SetDisableAutoPreviews(disabled bool) error {
	m.mu.Lock()
	if m.config == nil {
		m.config = m.getDefaults()
	}
	m.config.DisableAutoPreviews = disabled
	m.mu.Unlock()

	logger.WithComponent("config").Info().
		Bool("disabled", disabled).
		Msg("Auto preview suppression updated")
	return m.Save()
}

// GetRemote returns the remote endpoint configuration
func (m *Manager) GetRemote() RemoteConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.config == nil {
		return m.getDefaults().Remote
	}
	return m.config.Remote
}

// GetCaptureRegion returns the configured capture region
func (m *Manager) GetCaptureRegion() CaptureRegion {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.config == nil {
		return m.getDefaults().Capture
	}
	return m.config.Capture
}

// GetJPEGQuality returns the configured JPEG encode quality
func (m *Manager) GetJPEGQuality() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.config == nil {
		return 90
	}
	return m.config.JPEGQuality
}

// SetPort sets the server port
func (m *Manager) SetPort(port int) error {
	m.mu.Lock()
	m.config.ServerPort = port
	m.mu.Unlock()
	return m.Save()
}

// GetPort gets the server port
func (m *Manager) GetPort() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config.ServerPort
}

// SetLogLevel sets the log level
func (m *Manager) SetLogLevel(level string) error {
	m.mu.Lock()
	m.config.LogLevel = level
	m.mu.Unlock()
	return m.Save()
}

// GetLogLevel gets the log level
func (m *Manager) GetLogLevel() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config.LogLevel
}

// GetConfigPath returns the path to the config file
func (m *Manager) GetConfigPath() string {
	return m.configPath
}
