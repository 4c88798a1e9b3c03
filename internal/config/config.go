// Package config provides configuration management for tramline using Viper
// for flexible loading from files, environment variables and command-line
// flags.
//
// The configuration system supports YAML files (Tramline.yaml or
// .tramline.yml), a .env file, environment variable overrides with the
// TRAMLINE_ prefix and validation. It manages the build target and output
// locations, the external toolchain commands, watch settings and dev server
// options.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/conneroisu/tramline/internal/validation"
)

// Config is the complete, validated tramline configuration.
type Config struct {
	Build BuildConfig `mapstructure:"build" yaml:"build"`
	Watch WatchConfig `mapstructure:"watch" yaml:"watch"`
	Serve ServeConfig `mapstructure:"serve" yaml:"serve"`
	Log   LogConfig   `mapstructure:"log" yaml:"log"`
}

// BuildConfig describes one build: the HTML template, where the bundle is
// published and which toolchain commands the pipelines invoke.
type BuildConfig struct {
	Target    string `mapstructure:"target" yaml:"target"`
	Dist      string `mapstructure:"dist" yaml:"dist"`
	PublicURL string `mapstructure:"public_url" yaml:"public_url"`
	Release   bool   `mapstructure:"release" yaml:"release"`
	Workers   int    `mapstructure:"workers" yaml:"workers"`

	// AppName and TargetDir are project metadata normally supplied by the
	// workspace; they name the compiled module and where the compiler
	// writes it.
	AppName   string `mapstructure:"app_name" yaml:"app_name"`
	TargetDir string `mapstructure:"target_dir" yaml:"target_dir"`

	Cargo   string `mapstructure:"cargo" yaml:"cargo"`
	Bindgen string `mapstructure:"bindgen" yaml:"bindgen"`
	Sass    string `mapstructure:"sass" yaml:"sass"`
}

// WatchConfig controls which paths trigger rebuilds.
type WatchConfig struct {
	Paths    []string      `mapstructure:"paths" yaml:"paths"`
	Ignore   []string      `mapstructure:"ignore" yaml:"ignore"`
	Debounce time.Duration `mapstructure:"debounce" yaml:"debounce"`
}

// ServeConfig controls the development server.
type ServeConfig struct {
	Host         string `mapstructure:"host" yaml:"host"`
	Port         int    `mapstructure:"port" yaml:"port"`
	SPAFallback  bool   `mapstructure:"spa_fallback" yaml:"spa_fallback"`
	NoReload     bool   `mapstructure:"no_reload" yaml:"no_reload"`
	Open         bool   `mapstructure:"open" yaml:"open"`
	ProxyBackend string `mapstructure:"proxy_backend" yaml:"proxy_backend"`
	ProxyRewrite string `mapstructure:"proxy_rewrite" yaml:"proxy_rewrite"`
	// Proxies are mounted alongside ProxyBackend.
	Proxies []ProxyConfig `mapstructure:"proxies" yaml:"proxies"`
}

// ProxyConfig forwards requests under Rewrite (or the backend's own path)
// to Backend.
type ProxyConfig struct {
	Backend string `mapstructure:"backend" yaml:"backend"`
	Rewrite string `mapstructure:"rewrite" yaml:"rewrite"`
}

// ProxyMounts lists every configured proxy, the single proxy_backend first.
func (c ServeConfig) ProxyMounts() []ProxyConfig {
	var mounts []ProxyConfig
	if c.ProxyBackend != "" {
		mounts = append(mounts, ProxyConfig{Backend: c.ProxyBackend, Rewrite: c.ProxyRewrite})
	}
	return append(mounts, c.Proxies...)
}

// LogConfig controls the structured logger.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("build.target", "index.html")
	v.SetDefault("build.dist", "dist")
	v.SetDefault("build.public_url", "/")
	v.SetDefault("build.release", false)
	v.SetDefault("build.workers", 4)
	v.SetDefault("build.target_dir", "target")
	v.SetDefault("build.cargo", "cargo")
	v.SetDefault("build.bindgen", "wasm-bindgen")
	v.SetDefault("build.sass", "sass")

	v.SetDefault("watch.paths", []string{"."})
	v.SetDefault("watch.ignore", []string{".git", "target", "node_modules"})
	v.SetDefault("watch.debounce", 100*time.Millisecond)

	v.SetDefault("serve.host", "127.0.0.1")
	v.SetDefault("serve.port", 8080)
	v.SetDefault("serve.spa_fallback", false)
	v.SetDefault("serve.no_reload", false)
	v.SetDefault("serve.open", false)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// EnvPrefix prefixes every environment override, e.g. TRAMLINE_SERVE_PORT.
const EnvPrefix = "TRAMLINE"

// ConfigFiles are searched, in order, when no config file is given.
var ConfigFiles = []string{"Tramline.yaml", "Tramline.yml", ".tramline.yaml", ".tramline.yml"}

// FindConfigFile returns the first of ConfigFiles present in dir, or "".
func FindConfigFile(dir string) string {
	for _, name := range ConfigFiles {
		path := filepath.Join(dir, name)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path
		}
	}
	return ""
}

// BindEnv enables TRAMLINE_<SECTION>_<KEY> environment overrides on v.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
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
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}

	// Environment overrides of slices arrive as single strings.
	if v.IsSet("watch.paths") {
		config.Watch.Paths = v.GetStringSlice("watch.paths")
	}
	if v.IsSet("watch.ignore") {
		config.Watch.Ignore = v.GetStringSlice("watch.ignore")
	}

	if !strings.HasSuffix(config.Build.PublicURL, "/") {
		config.Build.PublicURL += "/"
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// ProjectDir is the directory containing the HTML template. Directive
// references are resolved relative to it.
func (c *Config) ProjectDir() string {
	return filepath.Dir(c.Build.Target)
}

// validateConfig validates configuration values for security and correctness
func validateConfig(config *Config) error {
	if err := validateBuildConfig(&config.Build); err != nil {
		return fmt.Errorf("build config: %w", err)
	}

	if err := validateWatchConfig(&config.Watch); err != nil {
		return fmt.Errorf("watch config: %w", err)
	}

	if err := validateServeConfig(&config.Serve); err != nil {
		return fmt.Errorf("serve config: %w", err)
	}

	return nil
}

func validateBuildConfig(config *BuildConfig) error {
	if config.Target == "" {
		return fmt.Errorf("target is required")
	}

	if config.Dist == "" {
		return fmt.Errorf("dist is required")
	}

	dist := filepath.Clean(config.Dist)
	if dist == "." || dist == filepath.Clean(filepath.Dir(config.Target)) {
		return fmt.Errorf("dist %q must not be the project directory", config.Dist)
	}

	if !strings.HasPrefix(config.PublicURL, "/") && !strings.Contains(config.PublicURL, "://") {
		return fmt.Errorf("public_url %q must be absolute", config.PublicURL)
	}

	if config.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", config.Workers)
	}

	for name, command := range map[string]string{
		"cargo":   config.Cargo,
		"bindgen": config.Bindgen,
		"sass":    config.Sass,
	} {
		if err := validation.ValidateCommand(command); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}

	return nil
}

func validateWatchConfig(config *WatchConfig) error {
	if config.Debounce <= 0 {
		return fmt.Errorf("debounce must be positive, got %s", config.Debounce)
	}

	for _, path := range config.Paths {
		if strings.TrimSpace(path) == "" {
			return fmt.Errorf("empty watch path")
		}
	}

	return nil
}

func validateServeConfig(config *ServeConfig) error {
	// Allow 0 for system-assigned ports in testing.
	if config.Port < 0 || config.Port > 65535 {
		return fmt.Errorf("port %d is not in valid range 0-65535", config.Port)
	}

	if config.ProxyBackend != "" {
		if err := validation.ValidateURL(config.ProxyBackend); err != nil {
			return fmt.Errorf("proxy_backend %q must be an absolute http(s) URL: %w", config.ProxyBackend, err)
		}
		if config.ProxyRewrite != "" && !strings.HasPrefix(config.ProxyRewrite, "/") {
			return fmt.Errorf("proxy_rewrite %q must start with /", config.ProxyRewrite)
		}
	}

	for i, proxy := range config.Proxies {
		if err := validation.ValidateURL(proxy.Backend); err != nil {
			return fmt.Errorf("proxies[%d].backend %q must be an absolute http(s) URL: %w", i, proxy.Backend, err)
		}
		if proxy.Rewrite != "" && !strings.HasPrefix(proxy.Rewrite, "/") {
			return fmt.Errorf("proxies[%d].rewrite %q must start with /", i, proxy.Rewrite)
		}
	}

	return nil
}
