package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigVersion is the current config file version
const ConfigVersion = "1.0"

// APIConfig holds facilitator API configuration
type APIConfig struct {
	Endpoint string        `yaml:"endpoint"`
	Timeout  time.Duration `yaml:"timeout"`
}

// RPCConfig holds the RPC endpoints the health command probes
type RPCConfig struct {
	Base        string `yaml:"base"`
	BaseSepolia string `yaml:"base_sepolia"`
}

// DefaultsConfig holds per-command defaults
type DefaultsConfig struct {
	RecentLimit   int           `yaml:"recent_limit"`
	WatchInterval time.Duration `yaml:"watch_interval"`
}

// CLIConfig holds the complete CLI configuration
type CLIConfig struct {
	Version  string         `yaml:"version"`
	API      APIConfig      `yaml:"api"`
	RPC      RPCConfig      `yaml:"rpc"`
	Defaults DefaultsConfig `yaml:"defaults"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *CLIConfig {
	return &CLIConfig{
		Version: ConfigVersion,
		API: APIConfig{
			Endpoint: DefaultAPIEndpoint,
			Timeout:  30 * time.Second,
		},
		RPC: RPCConfig{
			Base:        BaseMainnetRPC,
			BaseSepolia: BaseSepoliaRPC,
		},
		Defaults: DefaultsConfig{
			RecentLimit:   DefaultRecentLimit,
			WatchInterval: DefaultWatchInterval,
		},
	}
}

// ConfigDir returns the configuration directory
func ConfigDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}
	return filepath.Join(homeDir, ".tollgate")
}

// ConfigPath returns the full path to the config file
func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// LoadConfig loads the configuration from disk. A missing file yields
// the defaults; TOLLGATE_API overrides the endpoint either way.
func LoadConfig() (*CLIConfig, error) {
	config := DefaultConfig()

	configPath := ConfigPath()
	if _, err := os.Stat(configPath); err == nil {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
		if config.Version == "" {
			config.Version = ConfigVersion
		}
	}

	if endpoint := os.Getenv("TOLLGATE_API"); endpoint != "" {
		config.API.Endpoint = endpoint
	}
	if config.API.Timeout <= 0 {
		config.API.Timeout = 30 * time.Second
	}
	if config.Defaults.RecentLimit <= 0 {
		config.Defaults.RecentLimit = DefaultRecentLimit
	}
	if config.Defaults.WatchInterval <= 0 {
		config.Defaults.WatchInterval = DefaultWatchInterval
	}

	return config, nil
}

// Save saves the configuration to disk
func (c *CLIConfig) Save() error {
	configDir := ConfigDir()

	if err := os.MkdirAll(configDir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(ConfigPath(), data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ConfigInit writes a default config file. An existing file is left
// alone unless force is set.
func ConfigInit(force bool) error {
	configPath := ConfigPath()
	if _, err := os.Stat(configPath); err == nil && !force {
		fmt.Println(warningStyle.Render("Config already exists:"), configPath)
		fmt.Println(infoStyle.Render("Use --force to overwrite"))
		return nil
	}

	if err := DefaultConfig().Save(); err != nil {
		return err
	}
	fmt.Println(successStyle.Render("✓ Config written:"), configPath)
	return nil
}

// ConfigShow prints the effective configuration.
func ConfigShow() error {
	config, err := LoadConfig()
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	fmt.Println(infoStyle.Render("# " + ConfigPath()))
	fmt.Print(string(data))
	return nil
}
