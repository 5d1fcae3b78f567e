// Package config provides configuration management for the packager using
// Viper for flexible configuration loading from files, environment variables,
// and command-line flags.
//
// Values come from (highest priority first) bound command-line flags,
// PACKAGER_<SECTION>_<KEY> environment variables, the .packager.yml file and
// finally the defaults registered by SetDefaults. Load validates the merged
// result before handing it to the server.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/gobwas/glob"
	"github.com/spf13/viper"

	"github.com/conneroisu/packager/internal/errors"
	"github.com/conneroisu/packager/internal/logging"
)

type Config struct {
	Server  ServerConfig  `mapstructure:"server" yaml:"server" json:"server"`
	Project ProjectConfig `mapstructure:"project" yaml:"project" json:"project"`
	Watcher WatcherConfig `mapstructure:"watcher" yaml:"watcher" json:"watcher"`
	Bundler BundlerConfig `mapstructure:"bundler" yaml:"bundler" json:"bundler"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging" json:"logging"`
}

type ServerConfig struct {
	Port           int      `mapstructure:"port" yaml:"port" json:"port"`
	Host           string   `mapstructure:"host" yaml:"host" json:"host"`
	MaxConnections int      `mapstructure:"max_connections" yaml:"max_connections" json:"max_connections"`
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins" json:"allowed_origins"`
	Environment    string   `mapstructure:"environment" yaml:"environment" json:"environment"`
}

type ProjectConfig struct {
	Roots      []string `mapstructure:"roots" yaml:"roots" json:"roots"`
	AssetRoots []string `mapstructure:"asset_roots" yaml:"asset_roots" json:"asset_roots"`
	Platforms  []string `mapstructure:"platforms" yaml:"platforms" json:"platforms"`
}

type WatcherConfig struct {
	Debounce time.Duration `mapstructure:"debounce" yaml:"debounce" json:"debounce"`
	Ignore   []string      `mapstructure:"ignore" yaml:"ignore" json:"ignore"`
}

type BundlerConfig struct {
	RunBeforeMainModule []string `mapstructure:"run_before_main_module" yaml:"run_before_main_module" json:"run_before_main_module"`
	Target              string   `mapstructure:"target" yaml:"target" json:"target"`
	ResolveExtensions   []string `mapstructure:"resolve_extensions" yaml:"resolve_extensions" json:"resolve_extensions"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level" json:"level"`
	Format string `mapstructure:"format" yaml:"format" json:"format"`
}

// DefaultPlatforms are the platform tags recognized in bundle and asset paths.
var DefaultPlatforms = []string{"ios", "android", "web", "tvos"}

// SetDefaults registers default values on v. Explicitly set values win.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8081)
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.max_connections", 0)
	v.SetDefault("server.environment", "development")

	v.SetDefault("project.roots", []string{"."})
	v.SetDefault("project.platforms", DefaultPlatforms)

	v.SetDefault("watcher.debounce", 50*time.Millisecond)
	v.SetDefault("watcher.ignore", []string{"**/node_modules/**", "**/.git/**", "node_modules/**", ".git/**"})

	v.SetDefault("bundler.run_before_main_module", []string{"InitializeCore"})
	v.SetDefault("bundler.target", "es2017")
	v.SetDefault("bundler.resolve_extensions", []string{".js", ".jsx", ".ts", ".tsx", ".json"})

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// Load reads the configuration from the global viper instance.
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom reads and validates the configuration held by v.
func LoadFrom(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.NewConfigError("failed to decode configuration", err)
	}

	// Asset roots fall back to the project roots.
	if len(config.Project.AssetRoots) == 0 {
		config.Project.AssetRoots = append([]string(nil), config.Project.Roots...)
	}

	if err := validateConfig(&config); err != nil {
		return nil, errors.NewConfigError("invalid configuration", err)
	}

	return &config, nil
}

// Addr returns the host:port the server listens on.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// validateConfig validates configuration values for security and correctness
func validateConfig(config *Config) error {
	if err := validateServerConfig(&config.Server); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := validateProjectConfig(&config.Project); err != nil {
		return fmt.Errorf("project config: %w", err)
	}

	if err := validateWatcherConfig(&config.Watcher); err != nil {
		return fmt.Errorf("watcher config: %w", err)
	}

	if _, err := logging.ParseLevel(config.Logging.Level); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}
	if config.Logging.Format != "text" && config.Logging.Format != "json" {
		return fmt.Errorf("logging config: unknown format %q", config.Logging.Format)
	}

	return nil
}

func validateServerConfig(config *ServerConfig) error {
	// Port 0 asks the kernel for a free port.
	if config.Port < 0 || config.Port > 65535 {
		return fmt.Errorf("port %d is not in valid range 0-65535", config.Port)
	}

	if config.MaxConnections < 0 {
		return fmt.Errorf("max_connections must not be negative")
	}

	if config.Host != "" {
		dangerousChars := []string{";", "&", "|", "$", "`", "(", ")", "<", ">", "\"", "'", "\\"}
		for _, char := range dangerousChars {
			if strings.Contains(config.Host, char) {
				return fmt.Errorf("host contains dangerous character: %s", char)
			}
		}
	}

	return nil
}

func validateProjectConfig(config *ProjectConfig) error {
	if len(config.Roots) == 0 {
		return fmt.Errorf("at least one project root is required")
	}

	for _, root := range append(append([]string(nil), config.Roots...), config.AssetRoots...) {
		if err := validatePath(root); err != nil {
			return fmt.Errorf("invalid root '%s': %w", root, err)
		}
	}

	for _, platform := range config.Platforms {
		if platform == "" || strings.ContainsAny(platform, "./\\") {
			return fmt.Errorf("invalid platform tag %q", platform)
		}
	}

	return nil
}

func validateWatcherConfig(config *WatcherConfig) error {
	if config.Debounce < 0 {
		return fmt.Errorf("debounce must not be negative")
	}

	for _, pattern := range config.Ignore {
		if _, err := glob.Compile(pattern, '/'); err != nil {
			return fmt.Errorf("invalid ignore pattern %q: %w", pattern, err)
		}
	}

	return nil
}

// validatePath validates a file path for security
func validatePath(path string) error {
	if path == "" {
		return fmt.Errorf("empty path")
	}

	cleanPath := filepath.Clean(path)

	if strings.Contains(cleanPath, "..") {
		return fmt.Errorf("path contains traversal: %s", path)
	}

	dangerousChars := []string{";", "&", "|", "$", "`", "(", ")", "<", ">", "\"", "'"}
	for _, char := range dangerousChars {
		if strings.Contains(cleanPath, char) {
			return fmt.Errorf("path contains dangerous character: %s", char)
		}
	}

	return nil
}
