package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/alucardeht/mfhost/internal/bridge"
	"github.com/alucardeht/mfhost/internal/manifest"
)

const EnvPrefix = "MFHOST"

type DaemonConfig struct {
	SocketPath     string `yaml:"socket_path" mapstructure:"socket_path"`
	PIDFile        string `yaml:"pid_file" mapstructure:"pid_file"`
	MaxConnections int    `yaml:"max_connections" mapstructure:"max_connections"`
	// HTTPAddr serves /healthz and the /bridge websocket. Empty disables it.
	HTTPAddr        string        `yaml:"http_addr" mapstructure:"http_addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
	// PreloadAssets injects every JS fragment's assets when a page connects.
	PreloadAssets bool `yaml:"preload_assets" mapstructure:"preload_assets"`
}

type RouterConfig struct {
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Mode    string `yaml:"mode" mapstructure:"mode"`
}

type SlotConfig struct {
	CSSClass        string `yaml:"css_class" mapstructure:"css_class"`
	ContainerClass  string `yaml:"container_class" mapstructure:"container_class"`
	LoadingTemplate string `yaml:"loading_template" mapstructure:"loading_template"`
	// ErrorTemplate is markup with a single %s for the escaped message.
	ErrorTemplate string `yaml:"error_template" mapstructure:"error_template"`
}

type StoreConfig struct {
	Path         string `yaml:"path" mapstructure:"path"`
	JournalQueue int    `yaml:"journal_queue" mapstructure:"journal_queue"`
}

type LogConfig struct {
	Level     string `yaml:"level" mapstructure:"level"`
	Format    string `yaml:"format" mapstructure:"format"`
	AddSource bool   `yaml:"add_source" mapstructure:"add_source"`
}

type Config struct {
	Daemon   DaemonConfig        `yaml:"daemon" mapstructure:"daemon"`
	Router   RouterConfig        `yaml:"router" mapstructure:"router"`
	Slot     SlotConfig          `yaml:"slot" mapstructure:"slot"`
	Manifest manifest.Config     `yaml:"manifest" mapstructure:"manifest"`
	Bridge   bridge.ClientConfig `yaml:"bridge" mapstructure:"bridge"`
	Store    StoreConfig         `yaml:"store" mapstructure:"store"`
	Log      LogConfig           `yaml:"log" mapstructure:"log"`
}

// Dir is where the host keeps its socket, pid file and database.
func Dir() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".mfhost")
}

func Default() Config {
	dir := Dir()
	return Config{
		Daemon: DaemonConfig{
			SocketPath:      filepath.Join(dir, "daemon.sock"),
			PIDFile:         filepath.Join(dir, "daemon.pid"),
			MaxConnections:  100,
			HTTPAddr:        "127.0.0.1:8765",
			ShutdownTimeout: 5 * time.Second,
		},
		Router: RouterConfig{
			BaseURL: "/",
			Mode:    "exact",
		},
		Manifest: manifest.DefaultConfig(),
		Bridge:   bridge.DefaultClientConfig(),
		Store: StoreConfig{
			Path:         filepath.Join(dir, "mfhost.db"),
			JournalQueue: 256,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load layers defaults, the config file and MFHOST_* environment variables.
// An empty path looks for mfhost.yaml in the working directory and in Dir.
// A missing file is not an error.
func Load(v *viper.Viper, path string) (Config, error) {
	if v == nil {
		v = viper.New()
	}

	setDefaults(v, Default())

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("mfhost")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(Dir())
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !(path != "" && os.IsNotExist(err)) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

// setDefaults registers every leaf of cfg so env overrides work for keys
// missing from the file.
func setDefaults(v *viper.Viper, cfg Config) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return
	}
	var tree map[string]any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return
	}
	walkDefaults(v, "", tree)
}

func walkDefaults(v *viper.Viper, prefix string, node map[string]any) {
	for key, value := range node {
		full := key
		if prefix != "" {
			full = prefix + "." + key
		}
		if child, ok := value.(map[string]any); ok {
			walkDefaults(v, full, child)
			continue
		}
		v.SetDefault(full, value)
	}
}

// WriteDefault writes the default configuration to path unless it exists.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config %s already exists", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

func (c *Config) EnsureDirectories() error {
	for _, path := range []string{c.Daemon.SocketPath, c.Daemon.PIDFile, c.Store.Path} {
		if path == "" {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return err
		}
	}
	return nil
}
