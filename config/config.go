// Package config loads benchmark settings from defaults, an optional YAML
// file, KERNELBENCH_* environment variables and command line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/notargets/KernelBench/bench"
	"github.com/notargets/KernelBench/runner"
	"github.com/notargets/KernelBench/utils"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. KERNELBENCH_ITERATIONS
const EnvPrefix = "KERNELBENCH"

// Config represents the benchmark configuration
type Config struct {
	Devices    []string `mapstructure:"devices"`
	Iterations int      `mapstructure:"iterations"`
	Length     int      `mapstructure:"length"`
	Seed       uint64   `mapstructure:"seed"`
	ModulePath string   `mapstructure:"module_path"`
	LogLevel   string   `mapstructure:"log_level"`
	LogFile    string   `mapstructure:"log_file"`
	JSONOut    string   `mapstructure:"json_out"`
	MetricsOut string   `mapstructure:"metrics_out"`
	Color      bool     `mapstructure:"color"`
}

// DefaultConfig returns configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Devices:    DefaultDevices(runtime.GOOS),
		Iterations: bench.DefaultIterations,
		Length:     runner.ArrayLength,
		Seed:       1,
		LogLevel:   "info",
		Color:      true,
	}
}

// DefaultDevices is the backend probe order for goos, by mode name
func DefaultDevices(goos string) []string {
	var devices []string
	if goos == "darwin" {
		devices = append(devices, "Metal")
	}
	return append(devices, "CUDA", "HIP", "OpenCL", "OpenMP", "Serial", utils.HostBackend)
}

// flagKeys maps command line flag names to configuration keys
var flagKeys = map[string]string{
	"device":     "devices",
	"iterations": "iterations",
	"length":     "length",
	"seed":       "seed",
	"module":     "module_path",
	"log-level":  "log_level",
	"log-file":   "log_file",
	"json":       "json_out",
	"metrics":    "metrics_out",
	"color":      "color",
}

// Load reads configuration from cfgFile (or ./kernelbench.yaml when empty),
// the environment and flags, in increasing order of precedence
func Load(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	cfg := DefaultConfig()
	setDefaults(v, cfg)

	if cfgFile != "" {
		if _, err := os.Stat(cfgFile); err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigType("yaml")
		v.SetConfigName("kernelbench")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("binding flag %s: %w", name, err)
				}
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.ExpandPaths()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Iterations <= 0 {
		return fmt.Errorf("iterations must be positive, got %d", c.Iterations)
	}
	if c.Length <= 0 {
		return fmt.Errorf("length must be positive, got %d", c.Length)
	}
	if len(c.Devices) == 0 {
		return errors.New("at least one device backend is required")
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	return nil
}

// ExpandPaths expands ~ and environment variables in paths
func (c *Config) ExpandPaths() {
	c.ModulePath = expandPath(c.ModulePath)
	c.LogFile = expandPath(c.LogFile)
	c.JSONOut = expandPath(c.JSONOut)
	c.MetricsOut = expandPath(c.MetricsOut)
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return os.ExpandEnv(path)
}

// RunnerConfig returns the runner settings. An empty ModulePath selects the
// embedded kernel module.
func (c *Config) RunnerConfig() runner.Config {
	rc := runner.Config{Length: c.Length, Seed: c.Seed}
	if c.ModulePath != "" {
		rc.Module = os.DirFS(filepath.Dir(c.ModulePath))
		rc.ModulePath = filepath.Base(c.ModulePath)
	}
	return rc
}

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("devices", cfg.Devices)
	v.SetDefault("iterations", cfg.Iterations)
	v.SetDefault("length", cfg.Length)
	v.SetDefault("seed", cfg.Seed)
	v.SetDefault("module_path", cfg.ModulePath)
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("log_file", cfg.LogFile)
	v.SetDefault("json_out", cfg.JSONOut)
	v.SetDefault("metrics_out", cfg.MetricsOut)
	v.SetDefault("color", cfg.Color)
}
