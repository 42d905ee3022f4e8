// Package config loads dcadm settings from an optional YAML file and the
// environment. Precedence, lowest to highest: built-in defaults, config
// file, DCADM_* environment variables, command-line flags (applied by the
// CLI layer).
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/dcadm/dcadm/internal/dispatch"
	"github.com/dcadm/dcadm/internal/probe/logtail"
	"github.com/dcadm/dcadm/internal/probe/portscan"
	"github.com/dcadm/dcadm/internal/probe/resource"
)

type Config struct {
	Concurrency   int           `mapstructure:"concurrency"`
	GlobalTimeout time.Duration `mapstructure:"global_timeout"`
	TargetTimeout time.Duration `mapstructure:"target_timeout"`
	Output        string        `mapstructure:"output"`
	NoColor       bool          `mapstructure:"no_color"`
	Debug         bool          `mapstructure:"debug"`

	SSH      SSHConfig      `mapstructure:"ssh"`
	Monitor  MonitorConfig  `mapstructure:"monitor"`
	Netcheck NetcheckConfig `mapstructure:"netcheck"`
	Logs     LogsConfig     `mapstructure:"logs"`
}

type SSHConfig struct {
	User string `mapstructure:"user"`
	Key  string `mapstructure:"key"`
	Port int    `mapstructure:"port"`
}

type MonitorConfig struct {
	ThresholdCPU  int           `mapstructure:"threshold_cpu"`
	ThresholdMem  int           `mapstructure:"threshold_mem"`
	ThresholdDisk int           `mapstructure:"threshold_disk"`
	Interval      time.Duration `mapstructure:"interval"`
	DiskPath      string        `mapstructure:"disk_path"`
}

type NetcheckConfig struct {
	Ports       []int         `mapstructure:"ports"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	Host        string        `mapstructure:"host"`
}

type LogsConfig struct {
	Tail int `mapstructure:"tail"`
}

// Load reads configuration. When path is empty the usual locations are
// searched for dcadm.yaml and a missing file is fine; an explicit path that
// cannot be read is an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("DCADM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("dcadm")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/dcadm")
		v.AddConfigPath("/etc/dcadm")

		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Dispatch defaults
	v.SetDefault("concurrency", dispatch.DefaultMaxConcurrency)
	v.SetDefault("global_timeout", dispatch.DefaultGlobalTimeout)
	v.SetDefault("target_timeout", dispatch.DefaultTargetTimeout)

	// Output defaults
	v.SetDefault("output", "text")
	v.SetDefault("no_color", false)
	v.SetDefault("debug", false)

	// SSH defaults
	v.SetDefault("ssh.user", "")
	v.SetDefault("ssh.key", "")
	v.SetDefault("ssh.port", 22)

	// Monitor defaults
	v.SetDefault("monitor.threshold_cpu", resource.DefaultCPUThreshold)
	v.SetDefault("monitor.threshold_mem", resource.DefaultMemThreshold)
	v.SetDefault("monitor.threshold_disk", resource.DefaultDiskThreshold)
	v.SetDefault("monitor.interval", time.Second)
	v.SetDefault("monitor.disk_path", "/")

	// Netcheck defaults
	v.SetDefault("netcheck.ports", portscan.DefaultPorts)
	v.SetDefault("netcheck.dial_timeout", portscan.DefaultDialTimeout)
	v.SetDefault("netcheck.host", "8.8.8.8")

	// Logs defaults
	v.SetDefault("logs.tail", logtail.DefaultTailLines)
}

func (c *Config) validate() error {
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1, got %d", c.Concurrency)
	}
	if c.GlobalTimeout <= 0 {
		return fmt.Errorf("global_timeout must be positive, got %v", c.GlobalTimeout)
	}
	if c.TargetTimeout <= 0 {
		return fmt.Errorf("target_timeout must be positive, got %v", c.TargetTimeout)
	}
	switch c.Output {
	case "text", "json":
	default:
		return fmt.Errorf("output must be 'text' or 'json', got %q", c.Output)
	}
	if c.Logs.Tail < 1 {
		return fmt.Errorf("logs.tail must be at least 1, got %d", c.Logs.Tail)
	}
	return nil
}
