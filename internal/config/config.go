// Package config loads the gateway configuration: built-in defaults, then an
// optional TOML or YAML file, then CARD_GATEWAY_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/SimplyPrint/card-gateway/internal/logging"
)

const (
	DefaultHost    = "127.0.0.1"
	DefaultPort    = 3001
	DefaultCommand = "venv_nfc/bin/python"
	DefaultScript  = "scripts/read_uid.py"
	DefaultTimeout = 15 * time.Second

	ModeProcess = "process"
	ModePCSC    = "pcsc"
)

type Config struct {
	Server  ServerConfig  `toml:"server" yaml:"server"`
	Driver  DriverConfig  `toml:"driver" yaml:"driver"`
	Gateway GatewayConfig `toml:"gateway" yaml:"gateway"`
	Logging LoggingConfig `toml:"logging" yaml:"logging"`
}

type ServerConfig struct {
	Host string `toml:"host" yaml:"host"`
	Port int    `toml:"port" yaml:"port"`
}

// DriverConfig selects how card operations reach hardware. In process mode
// every operation runs Command with Args followed by the operation arguments.
type DriverConfig struct {
	Mode    string   `toml:"mode" yaml:"mode"`
	Command string   `toml:"command" yaml:"command"`
	Args    []string `toml:"args" yaml:"args"`
	Dir     string   `toml:"dir" yaml:"dir"`
	Env     []string `toml:"env" yaml:"env"`
	Timeout Duration `toml:"timeout" yaml:"timeout"`
}

type GatewayConfig struct {
	SerializeReaders bool    `toml:"serialize_readers" yaml:"serialize_readers"`
	SpawnRate        float64 `toml:"spawn_rate" yaml:"spawn_rate"`
	SpawnBurst       int     `toml:"spawn_burst" yaml:"spawn_burst"`
}

type LoggingConfig struct {
	Level     string `toml:"level" yaml:"level"`
	Capacity  int    `toml:"capacity" yaml:"capacity"`
	SentryDSN string `toml:"sentry_dsn" yaml:"sentry_dsn"`
}

// Duration accepts Go duration strings ("15s", "1m30s") in either format.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	return d.UnmarshalText([]byte(s))
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host: DefaultHost,
			Port: DefaultPort,
		},
		Driver: DriverConfig{
			Mode:    ModeProcess,
			Command: DefaultCommand,
			Args:    []string{DefaultScript},
			Timeout: Duration{DefaultTimeout},
		},
		Gateway: GatewayConfig{
			SerializeReaders: true,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Capacity: 1000,
		},
	}
}

// Load builds a Config from defaults, the file at path (skipped when path is
// empty) and the environment, then validates it.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		meta, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return fmt.Errorf("config parse failed (%s): %w", path, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return fmt.Errorf("config %s: unknown keys: %s", path, strings.Join(keys, ", "))
		}
	case ".yaml", ".yml":
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("config load failed (%s): %w", path, err)
		}
		defer f.Close()
		dec := yaml.NewDecoder(f)
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("config parse failed (%s): %w", path, err)
		}
	default:
		return fmt.Errorf("config %s: unsupported format (want .toml, .yaml or .yml)", path)
	}

	logging.Info(logging.CatSystem, "Loaded config file", map[string]any{"path": path})
	return nil
}

// applyEnv overlays CARD_GATEWAY_HOST, CARD_GATEWAY_PORT, CARD_GATEWAY_DRIVER,
// CARD_GATEWAY_DRIVER_MODE and CARD_GATEWAY_DRIVER_TIMEOUT.
func applyEnv(cfg *Config) error {
	if v := strings.TrimSpace(os.Getenv("CARD_GATEWAY_HOST")); v != "" {
		cfg.Server.Host = v
	}
	if v := strings.TrimSpace(os.Getenv("CARD_GATEWAY_PORT")); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("CARD_GATEWAY_PORT: %w", err)
		}
		cfg.Server.Port = port
	}
	if v := strings.TrimSpace(os.Getenv("CARD_GATEWAY_DRIVER")); v != "" {
		fields := strings.Fields(v)
		cfg.Driver.Command = fields[0]
		cfg.Driver.Args = fields[1:]
	}
	if v := strings.TrimSpace(os.Getenv("CARD_GATEWAY_DRIVER_MODE")); v != "" {
		cfg.Driver.Mode = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv("CARD_GATEWAY_DRIVER_TIMEOUT")); v != "" {
		if err := cfg.Driver.Timeout.UnmarshalText([]byte(v)); err != nil {
			return fmt.Errorf("CARD_GATEWAY_DRIVER_TIMEOUT: %w", err)
		}
	}
	return nil
}

// Validate reports the first problem found, naming the offending key.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Server.Host) == "" {
		return errors.New("server.host is required")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}

	switch c.Driver.Mode {
	case ModeProcess:
		if strings.TrimSpace(c.Driver.Command) == "" {
			return errors.New("driver.command is required in process mode")
		}
	case ModePCSC:
	default:
		return fmt.Errorf("driver.mode %q must be %q or %q", c.Driver.Mode, ModeProcess, ModePCSC)
	}
	if c.Driver.Timeout.Duration <= 0 {
		return fmt.Errorf("driver.timeout must be positive, got %s", c.Driver.Timeout)
	}

	if c.Gateway.SpawnRate < 0 {
		return fmt.Errorf("gateway.spawn_rate must not be negative")
	}
	if c.Gateway.SpawnBurst < 0 {
		return fmt.Errorf("gateway.spawn_burst must not be negative")
	}

	if _, ok := logging.ParseLevel(c.Logging.Level); !ok {
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	if c.Logging.Capacity <= 0 {
		return fmt.Errorf("logging.capacity must be positive")
	}
	return nil
}

// Address is the host:port the HTTP server listens on.
func (c Config) Address() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// LogLevel returns the parsed logging.level.
func (c Config) LogLevel() logging.Level {
	l, _ := logging.ParseLevel(c.Logging.Level)
	return l
}
