package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

const DefaultConfigPath = "brainlink.toml"

const (
	SourceSerial = "serial"
	SourceTCP    = "tcp"
)

type Config struct {
	Source     SourceConfig    `toml:"source" yaml:"source"`
	Hub        HubConfig       `toml:"hub" yaml:"hub"`
	Decoder    DecoderConfig   `toml:"decoder" yaml:"decoder"`
	Record     RecordConfig    `toml:"record" yaml:"record"`
	Focus      FocusConfig     `toml:"focus" yaml:"focus"`
	Foxglove   FoxgloveConfig  `toml:"foxglove" yaml:"foxglove"`
	Metrics    MetricsConfig   `toml:"metrics" yaml:"metrics"`
	Discovery  DiscoveryConfig `toml:"discovery" yaml:"discovery"`
	configPath string
}

type SourceConfig struct {
	Kind         string `toml:"kind" yaml:"kind"`
	Port         string `toml:"port" yaml:"port"`
	Baud         int    `toml:"baud" yaml:"baud"`
	Addr         string `toml:"addr" yaml:"addr"`
	Reconnect    string `toml:"reconnect" yaml:"reconnect"`
	ReconnectMax string `toml:"reconnect_max" yaml:"reconnect_max"`
	// Buf sizes the chunk channel between the transport and the decoder.
	Buf          int    `toml:"buf" yaml:"buf"`
	ReaderBuf    int    `toml:"reader_buf" yaml:"reader_buf"`
}

// HubConfig sizes the per-subscriber sample queues of the fan-out hub.
type HubConfig struct {
	SubscriberBuf int `toml:"subscriber_buf" yaml:"subscriber_buf"`
}

type DecoderConfig struct {
	Strict bool `toml:"strict" yaml:"strict"`
}

type RecordConfig struct {
	JSONL    string `toml:"jsonl,omitempty" yaml:"jsonl,omitempty"`
	CSV      string `toml:"csv,omitempty" yaml:"csv,omitempty"`
	CSVEvery int    `toml:"csv_every" yaml:"csv_every"`
}

type FocusConfig struct {
	Enabled        bool    `toml:"enabled" yaml:"enabled"`
	Window         int     `toml:"window" yaml:"window"`
	SampleFraction float64 `toml:"sample_fraction" yaml:"sample_fraction"`
	Threshold      float64 `toml:"threshold" yaml:"threshold"`
	ActuatorPort   string  `toml:"actuator_port,omitempty" yaml:"actuator_port,omitempty"`
	ActuatorBaud   int     `toml:"actuator_baud" yaml:"actuator_baud"`
}

type FoxgloveConfig struct {
	Enabled  bool   `toml:"enabled" yaml:"enabled"`
	WSAddr   string `toml:"ws_addr" yaml:"ws_addr"`
	Name     string `toml:"name" yaml:"name"`
	Topic    string `toml:"topic" yaml:"topic"`
	RawTopic string `toml:"raw_topic" yaml:"raw_topic"`
	LogTopic string `toml:"log_topic" yaml:"log_topic"`
	SendBuf  int    `toml:"send_buf" yaml:"send_buf"`
}

type MetricsConfig struct {
	Addr string `toml:"addr,omitempty" yaml:"addr,omitempty"`
}

type DiscoveryConfig struct {
	Enabled  bool   `toml:"enabled" yaml:"enabled"`
	Instance string `toml:"instance" yaml:"instance"`
}

func Default() Config {
	return Config{
		Source: SourceConfig{
			Kind:         SourceSerial,
			Port:         "/dev/rfcomm0",
			Baud:         9600,
			Addr:         "127.0.0.1:7070",
			Reconnect:    "1s",
			ReconnectMax: "30s",
			Buf:          256,
			ReaderBuf:    4096,
		},
		Hub: HubConfig{
			SubscriberBuf: 128,
		},
		Record: RecordConfig{
			CSVEvery: 99,
		},
		Focus: FocusConfig{
			Enabled:        true,
			Window:         100,
			SampleFraction: 0.2,
			Threshold:      1.15,
			ActuatorBaud:   9600,
		},
		Foxglove: FoxgloveConfig{
			Enabled:  true,
			WSAddr:   "127.0.0.1:8765",
			Name:     "brainlink",
			Topic:    "/eeg/telemetry",
			RawTopic: "/eeg/raw",
			LogTopic: "/eeg/log",
			SendBuf:  256,
		},
		Discovery: DiscoveryConfig{
			Instance: "brainlink",
		},
	}
}

func Load(path string) (Config, error) {
	cfg, exists, err := LoadOrDefault(path)
	if err != nil {
		return Config{}, err
	}
	if !exists {
		return Config{}, os.ErrNotExist
	}
	return cfg, nil
}

// LoadOrDefault reads path when it exists and fills every unset field from
// Default. The boolean reports whether the file was found.
func LoadOrDefault(path string) (Config, bool, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.normalize(path)
			return cfg, false, nil
		}
		return Config{}, false, fmt.Errorf("read config: %w", err)
	}

	if isYAML(path) {
		err = yaml.Unmarshal(data, &cfg)
	} else {
		err = toml.Unmarshal(data, &cfg)
	}
	if err != nil {
		return Config{}, true, fmt.Errorf("parse config: %w", err)
	}
	cfg.normalize(path)

	if err := cfg.Validate(); err != nil {
		return Config{}, true, err
	}
	return cfg, true, nil
}

func (cfg *Config) Save(path string) error {
	cfg.normalize(path)
	if err := cfg.Validate(); err != nil {
		return err
	}

	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(cfg)
	} else {
		data, err = toml.Marshal(cfg)
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func (cfg *Config) ConfigPath() string {
	return cfg.configPath
}

func (cfg *Config) Validate() error {
	switch cfg.Source.Kind {
	case SourceSerial:
		if cfg.Source.Port == "" {
			return fmt.Errorf("source.port is required for serial sources")
		}
	case SourceTCP:
		if cfg.Source.Addr == "" {
			return fmt.Errorf("source.addr is required for tcp sources")
		}
	default:
		return fmt.Errorf("source.kind must be %q or %q, got %q", SourceSerial, SourceTCP, cfg.Source.Kind)
	}
	if cfg.Source.Baud <= 0 {
		return fmt.Errorf("source.baud must be positive: %d", cfg.Source.Baud)
	}
	if _, err := cfg.ReconnectInterval(); err != nil {
		return err
	}
	if _, err := cfg.ReconnectMax(); err != nil {
		return err
	}

	if cfg.Focus.Window < 2 {
		return fmt.Errorf("focus.window must be at least 2: %d", cfg.Focus.Window)
	}
	if cfg.Focus.SampleFraction <= 0 || cfg.Focus.SampleFraction > 1 {
		return fmt.Errorf("focus.sample_fraction out of range (0, 1]: %v", cfg.Focus.SampleFraction)
	}
	if cfg.Focus.Threshold <= 0 {
		return fmt.Errorf("focus.threshold must be positive: %v", cfg.Focus.Threshold)
	}
	return nil
}

func (cfg *Config) ReconnectInterval() (time.Duration, error) {
	d, err := time.ParseDuration(cfg.Source.Reconnect)
	if err != nil {
		return 0, fmt.Errorf("source.reconnect: %w", err)
	}
	return d, nil
}

func (cfg *Config) ReconnectMax() (time.Duration, error) {
	d, err := time.ParseDuration(cfg.Source.ReconnectMax)
	if err != nil {
		return 0, fmt.Errorf("source.reconnect_max: %w", err)
	}
	return d, nil
}

func (cfg *Config) normalize(path string) {
	def := Default()

	cfg.Source.Kind = strings.ToLower(strings.TrimSpace(cfg.Source.Kind))
	if cfg.Source.Kind == "" {
		cfg.Source.Kind = def.Source.Kind
	}
	if cfg.Source.Baud <= 0 {
		cfg.Source.Baud = def.Source.Baud
	}
	if cfg.Source.Reconnect == "" {
		cfg.Source.Reconnect = def.Source.Reconnect
	}
	if cfg.Source.ReconnectMax == "" {
		cfg.Source.ReconnectMax = def.Source.ReconnectMax
	}
	if cfg.Source.Buf <= 0 {
		cfg.Source.Buf = def.Source.Buf
	}
	if cfg.Source.ReaderBuf <= 0 {
		cfg.Source.ReaderBuf = def.Source.ReaderBuf
	}

	if cfg.Hub.SubscriberBuf <= 0 {
		cfg.Hub.SubscriberBuf = def.Hub.SubscriberBuf
	}

	if cfg.Record.CSVEvery <= 0 {
		cfg.Record.CSVEvery = def.Record.CSVEvery
	}

	if cfg.Focus.Window == 0 {
		cfg.Focus.Window = def.Focus.Window
	}
	if cfg.Focus.SampleFraction == 0 {
		cfg.Focus.SampleFraction = def.Focus.SampleFraction
	}
	if cfg.Focus.Threshold == 0 {
		cfg.Focus.Threshold = def.Focus.Threshold
	}
	if cfg.Focus.ActuatorBaud <= 0 {
		cfg.Focus.ActuatorBaud = def.Focus.ActuatorBaud
	}

	if cfg.Foxglove.WSAddr == "" {
		cfg.Foxglove.WSAddr = def.Foxglove.WSAddr
	}
	if cfg.Foxglove.Name == "" {
		cfg.Foxglove.Name = def.Foxglove.Name
	}
	if cfg.Foxglove.Topic == "" {
		cfg.Foxglove.Topic = def.Foxglove.Topic
	}
	if cfg.Foxglove.RawTopic == "" {
		cfg.Foxglove.RawTopic = def.Foxglove.RawTopic
	}
	if cfg.Foxglove.LogTopic == "" {
		cfg.Foxglove.LogTopic = def.Foxglove.LogTopic
	}
	if cfg.Foxglove.SendBuf <= 0 {
		cfg.Foxglove.SendBuf = def.Foxglove.SendBuf
	}

	if cfg.Discovery.Instance == "" {
		cfg.Discovery.Instance = def.Discovery.Instance
	}

	if path == "" {
		path = cfg.configPath
	}
	if path == "" {
		path = DefaultConfigPath
	}
	cfg.configPath = path
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	default:
		return false
	}
}
