package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like
// "30s" or "2m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("config: bad duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the node configuration, loaded from a YAML file.
type Config struct {
	WAL        WALConfig     `yaml:"wal"`
	History    HistoryConfig `yaml:"history"`
	Kafka      KafkaConfig   `yaml:"kafka"`
	Engine     EngineConfig  `yaml:"engine"`
	Settlement SettleConfig  `yaml:"settlement"`
	LogLevel   string        `yaml:"logLevel"`
}

type WALConfig struct {
	Dir             string   `yaml:"dir"`
	SegmentSize     uint64   `yaml:"segmentSize"`
	SegmentDuration Duration `yaml:"segmentDuration"`
}

type HistoryConfig struct {
	Dir string `yaml:"dir"`
}

type KafkaConfig struct {
	Brokers        []string `yaml:"brokers"`
	InboundTopic   string   `yaml:"inboundTopic"`
	InboundGroupID string   `yaml:"inboundGroupID"`
	OutboundTopic  string   `yaml:"outboundTopic"`
}

type EngineConfig struct {
	Markets       []string `yaml:"markets"`
	ArenaCapacity int      `yaml:"arenaCapacity"`
	VWAPWindow    int      `yaml:"vwapWindow"`
}

type SettleConfig struct {
	Policy   string   `yaml:"policy"` // "lenient" or "strict"
	Interval Duration `yaml:"interval"`
}

// ApplyDefaults fills in every unset field.
func (c *Config) ApplyDefaults() {
	if c.WAL.Dir == "" {
		c.WAL.Dir = "data/wal"
	}
	if c.WAL.SegmentSize == 0 {
		c.WAL.SegmentSize = 64 << 20
	}
	if c.History.Dir == "" {
		c.History.Dir = "data/history"
	}
	if len(c.Kafka.Brokers) == 0 {
		c.Kafka.Brokers = []string{"localhost:9092"}
	}
	if c.Kafka.InboundTopic == "" {
		c.Kafka.InboundTopic = "transactions"
	}
	if c.Kafka.InboundGroupID == "" {
		c.Kafka.InboundGroupID = "clearline"
	}
	if c.Kafka.OutboundTopic == "" {
		c.Kafka.OutboundTopic = "trades"
	}
	if c.Engine.ArenaCapacity == 0 {
		c.Engine.ArenaCapacity = 1 << 20
	}
	if c.Engine.VWAPWindow == 0 {
		c.Engine.VWAPWindow = 256
	}
	if c.Settlement.Policy == "" {
		c.Settlement.Policy = "lenient"
	}
	if c.Settlement.Interval == 0 {
		c.Settlement.Interval = Duration(time.Minute)
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

func (c *Config) Validate() error {
	if len(c.Engine.Markets) == 0 {
		return fmt.Errorf("config: at least one market is required")
	}
	if c.Engine.ArenaCapacity <= 0 {
		return fmt.Errorf("config: arenaCapacity must be positive, got %d", c.Engine.ArenaCapacity)
	}
	if c.Engine.VWAPWindow <= 0 {
		return fmt.Errorf("config: vwapWindow must be positive, got %d", c.Engine.VWAPWindow)
	}
	switch c.Settlement.Policy {
	case "lenient", "strict":
	default:
		return fmt.Errorf("config: settlement policy must be lenient or strict, got %q", c.Settlement.Policy)
	}
	return nil
}

// Load reads, defaults and validates a config file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	c.ApplyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}
