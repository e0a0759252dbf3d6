package foxglove

const TelemetrySchema = `{
  "type": "object",
  "properties": {
    "timestamp": {
      "type": "object",
      "properties": { "sec": { "type": "integer" }, "nsec": { "type": "integer" } }
    },
    "seq": { "type": "integer" },
    "parse_ok": { "type": "boolean" },
    "signal_quality": { "type": "integer" },
    "focus": { "type": "integer" },
    "meditation": { "type": "integer" },
    "raw": { "type": "integer" },
    "bands": { "type": "array", "items": { "type": "integer" } }
  },
  "required": ["seq", "parse_ok"]
}`

const RawSchema = `{
  "type": "object",
  "properties": {
    "timestamp": {
      "type": "object",
      "properties": { "sec": { "type": "integer" }, "nsec": { "type": "integer" } }
    },
    "value": { "type": "integer" }
  },
  "required": ["timestamp", "value"]
}`

const LogSchema = `{
  "type": "object",
  "properties": {
    "timestamp": {
      "type": "object",
      "properties": { "sec": { "type": "integer" }, "nsec": { "type": "integer" } }
    },
    "level": { "type": "integer" },
    "message": { "type": "string" },
    "name": { "type": "string" },
    "file": { "type": "string" },
    "line": { "type": "integer" }
  },
  "required": ["timestamp", "level", "message"]
}`

type Config struct {
	WSAddr  string
	Name    string
	SendBuf int

	Topic     string
	ChannelID uint64

	RawTopic     string
	RawChannelID uint64

	LogTopic     string
	LogChannelID uint64
	LogName      string
}

func DefaultConfig() Config {
	return Config{
		WSAddr:       "127.0.0.1:8765",
		Name:         "brainlink",
		SendBuf:      256,
		Topic:        "/eeg/telemetry",
		ChannelID:    1,
		RawTopic:     "/eeg/raw",
		RawChannelID: 2,
		LogTopic:     "/eeg/log",
		LogChannelID: 3,
		LogName:      "brainlink",
	}
}

func (cfg Config) withDefaults() Config {
	defaults := DefaultConfig()
	if cfg.WSAddr == "" {
		cfg.WSAddr = defaults.WSAddr
	}
	if cfg.Name == "" {
		cfg.Name = defaults.Name
	}
	if cfg.SendBuf <= 0 {
		cfg.SendBuf = defaults.SendBuf
	}
	if cfg.Topic == "" {
		cfg.Topic = defaults.Topic
	}
	if cfg.ChannelID == 0 {
		cfg.ChannelID = defaults.ChannelID
	}
	if cfg.RawTopic == "" {
		cfg.RawTopic = defaults.RawTopic
	}
	if cfg.RawChannelID == 0 {
		cfg.RawChannelID = defaults.RawChannelID
	}
	if cfg.LogTopic == "" {
		cfg.LogTopic = defaults.LogTopic
	}
	if cfg.LogChannelID == 0 {
		cfg.LogChannelID = defaults.LogChannelID
	}
	if cfg.LogName == "" {
		cfg.LogName = cfg.Name
	}
	if cfg.RawChannelID == cfg.ChannelID {
		cfg.RawChannelID = cfg.ChannelID + 1
	}
	if cfg.LogChannelID == cfg.ChannelID || cfg.LogChannelID == cfg.RawChannelID {
		cfg.LogChannelID = maxUint64(cfg.ChannelID, cfg.RawChannelID) + 1
	}
	return cfg
}

func maxUint64(a uint64, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}
