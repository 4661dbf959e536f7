package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/cuemby/burrow/pkg/errdefs"
	"github.com/cuemby/burrow/pkg/log"
)

// Storage backends
const (
	BackendBolt = "bolt"
	BackendEtcd = "etcd"
)

// Config is the burrow configuration document
type Config struct {
	Log       LogConfig       `yaml:"log"`
	Storage   StorageConfig   `yaml:"storage"`
	Fanout    FanoutConfig    `yaml:"fanout"`
	SSH       SSHConfig       `yaml:"ssh"`
	Logs      LogsConfig      `yaml:"logs"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Security  SecurityConfig  `yaml:"security"`
}

// LogConfig configures the global logger
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// StorageConfig selects and configures the table/blob store backend
type StorageConfig struct {
	Backend       string        `yaml:"backend"`
	DataDir       string        `yaml:"data_dir"`
	EtcdEndpoints []string      `yaml:"etcd_endpoints"`
	EtcdPrefix    string        `yaml:"etcd_prefix"`
	DialTimeout   time.Duration `yaml:"dial_timeout"`
}

// FanoutConfig bounds concurrent remote work
type FanoutConfig struct {
	MaxConcurrency int           `yaml:"max_concurrency"`
	Timeout        time.Duration `yaml:"timeout"`
}

// SSHConfig configures the remote execution channel
type SSHConfig struct {
	Port           int           `yaml:"port"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	KnownHostsFile string        `yaml:"known_hosts_file"`
	ContainerCLI   string        `yaml:"container_cli"`
}

// LogsConfig configures application log retrieval
type LogsConfig struct {
	PathTemplate string `yaml:"path_template"`
	Container    string `yaml:"container"`
}

// SchedulerConfig points at the scheduler inventory
type SchedulerConfig struct {
	Inventory string `yaml:"inventory"`
}

// SecurityConfig holds the passphrase sealing persisted key material
type SecurityConfig struct {
	Passphrase string `yaml:"passphrase"`
}

// Default returns a Config with sensible defaults
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: string(log.InfoLevel)},
		Storage: StorageConfig{
			Backend:     BackendBolt,
			DataDir:     "./burrow-data",
			EtcdPrefix:  "/burrow",
			DialTimeout: 5 * time.Second,
		},
		Fanout: FanoutConfig{
			MaxConcurrency: 16,
			Timeout:        60 * time.Second,
		},
		SSH: SSHConfig{
			Port:           22,
			ConnectTimeout: 10 * time.Second,
			ContainerCLI:   "docker",
		},
		Logs: LogsConfig{
			PathTemplate: "/mnt/burrow/applications/{app}/output.log",
		},
		Scheduler: SchedulerConfig{
			Inventory: "inventory.yaml",
		},
	}
}

// Load builds a Config from defaults, an optional .env file, an optional YAML
// file and BURROW_* environment variables, in that order of precedence.
func Load(path string) (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, errdefs.Validation("load config", "failed to parse %s: %v", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
			log.Logger.Debug().Str("path", path).Msg("config file not found, using defaults")
		default:
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadDotEnv() error {
	if _, err := os.Stat(".env"); err == nil {
		return godotenv.Load(".env")
	}
	return nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("BURROW_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("BURROW_LOG_JSON"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return errdefs.Validation("load config", "BURROW_LOG_JSON: %v", err)
		}
		c.Log.JSON = b
	}
	if v := os.Getenv("BURROW_STORAGE_BACKEND"); v != "" {
		c.Storage.Backend = v
	}
	if v := os.Getenv("BURROW_DATA_DIR"); v != "" {
		c.Storage.DataDir = v
	}
	if v := os.Getenv("BURROW_ETCD_ENDPOINTS"); v != "" {
		c.Storage.EtcdEndpoints = strings.Split(v, ",")
	}
	if v := os.Getenv("BURROW_MAX_CONCURRENCY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return errdefs.Validation("load config", "BURROW_MAX_CONCURRENCY: %v", err)
		}
		c.Fanout.MaxConcurrency = n
	}
	if v := os.Getenv("BURROW_INVENTORY"); v != "" {
		c.Scheduler.Inventory = v
	}
	if v := os.Getenv("BURROW_PASSPHRASE"); v != "" {
		c.Security.Passphrase = v
	}
	return nil
}

// Validate checks the configuration for values no component can work with
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendBolt:
		if c.Storage.DataDir == "" {
			return errdefs.Validation("validate config", "storage.data_dir is required for the bolt backend")
		}
	case BackendEtcd:
		if len(c.Storage.EtcdEndpoints) == 0 {
			return errdefs.Validation("validate config", "storage.etcd_endpoints is required for the etcd backend")
		}
	default:
		return errdefs.Validation("validate config", "unknown storage backend %q", c.Storage.Backend)
	}
	if c.Fanout.MaxConcurrency < 1 {
		return errdefs.Validation("validate config", "fanout.max_concurrency must be at least 1, got %d", c.Fanout.MaxConcurrency)
	}
	if c.SSH.Port < 1 || c.SSH.Port > 65535 {
		return errdefs.Validation("validate config", "ssh.port out of range: %d", c.SSH.Port)
	}
	if !strings.Contains(c.Logs.PathTemplate, "{app}") {
		return errdefs.Validation("validate config", "logs.path_template must contain {app}")
	}
	return nil
}
