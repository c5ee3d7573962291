// Package config loads the YAML configuration of the reactivecrdt command.
package config

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"reactivecrdt/luvjson/crdtpubsub"
	"reactivecrdt/luvjson/crdtstorage"
	"reactivecrdt/luvjson/view"
)

// Transport kinds.
const (
	TransportMemory = "memory"
	TransportRedis  = "redis"
	TransportGossip = "gossip"
)

// Root kinds used in the template section.
const (
	RootArray  = "array"
	RootObject = "object"
	RootText   = "text"
)

// Config is the whole configuration file.
type Config struct {
	// Replica names this process in logs and metrics.
	Replica string `yaml:"replica"`
	// Document is the id the snapshot is stored under.
	Document string `yaml:"document"`
	// Topic is the pub/sub topic patches are exchanged on.
	Topic string `yaml:"topic"`

	PubSub   PubSubConfig      `yaml:"pubsub"`
	Patches  PatchStoreConfig  `yaml:"patches"`
	Storage  StorageConfig     `yaml:"storage"`
	Log      LogConfig         `yaml:"log"`
	Template map[string]string `yaml:"template"`
}

// RedisConfig holds connection settings shared by the Redis components.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// GossipConfig holds the libp2p settings of the gossip transport.
type GossipConfig struct {
	// ListenAddrs are multiaddrs such as /ip4/0.0.0.0/tcp/4001.
	ListenAddrs []string `yaml:"listen_addrs"`
	// Peers are dialed on start, each ending in /p2p/<peer id>.
	Peers []string `yaml:"peers"`
}

// PubSubConfig selects the patch transport.
type PubSubConfig struct {
	Kind   string       `yaml:"kind"`
	Format string       `yaml:"format"`
	Redis  RedisConfig  `yaml:"redis"`
	Gossip GossipConfig `yaml:"gossip"`
}

// PatchStoreConfig selects where patches are kept for catch-up.
type PatchStoreConfig struct {
	Kind      string      `yaml:"kind"`
	StreamKey string      `yaml:"stream_key"`
	MaxLen    int64       `yaml:"max_len"`
	Redis     RedisConfig `yaml:"redis"`
}

// StorageConfig selects the snapshot persistence.
type StorageConfig struct {
	Type            string        `yaml:"type"`
	Path            string        `yaml:"path"`
	Redis           RedisConfig   `yaml:"redis"`
	KeyPrefix       string        `yaml:"key_prefix"`
	MongoURI        string        `yaml:"mongo_uri"`
	MongoDatabase   string        `yaml:"mongo_database"`
	MongoCollection string        `yaml:"mongo_collection"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
	SaveInterval    time.Duration `yaml:"save_interval"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Caller bool   `yaml:"caller"`
}

// Default returns a configuration that runs entirely in memory.
func Default() *Config {
	storage := crdtstorage.DefaultStorageOptions()
	return &Config{
		Replica:  "replica",
		Document: "default",
		Topic:    "reactivecrdt",
		PubSub: PubSubConfig{
			Kind:   TransportMemory,
			Format: string(crdtpubsub.EncodingFormatJSON),
			Redis:  RedisConfig{Addr: storage.RedisAddr},
			Gossip: GossipConfig{ListenAddrs: []string{"/ip4/0.0.0.0/tcp/0"}},
		},
		Patches: PatchStoreConfig{
			Kind:      TransportMemory,
			StreamKey: "reactivecrdt:patches",
			MaxLen:    10000,
			Redis:     RedisConfig{Addr: storage.RedisAddr},
		},
		Storage: StorageConfig{
			Type:            storage.PersistenceType,
			Redis:           RedisConfig{Addr: storage.RedisAddr},
			KeyPrefix:       storage.KeyPrefix,
			MongoURI:        storage.MongoURI,
			MongoDatabase:   storage.MongoDatabase,
			MongoCollection: storage.MongoCollection,
			ConnectTimeout:  storage.ConnectTimeout,
			SaveInterval:    10 * time.Second,
		},
		Log: LogConfig{Level: "info"},
		Template: map[string]string{
			"todos": RootArray,
		},
	}
}

// Load reads path and applies it over the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config")
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults and validates the result. A template
// section replaces the default template instead of extending it.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	defaults := cfg.Template
	cfg.Template = nil
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config")
	}
	if len(cfg.Template) == 0 {
		cfg.Template = defaults
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the enumerated settings.
func (c *Config) Validate() error {
	if c.Topic == "" {
		return errors.New("topic cannot be empty")
	}
	if c.Document == "" {
		return errors.New("document cannot be empty")
	}
	switch c.PubSub.Kind {
	case TransportMemory, TransportRedis:
	case TransportGossip:
		if len(c.PubSub.Gossip.ListenAddrs) == 0 {
			return errors.New("gossip pubsub needs a listen address")
		}
	default:
		return errors.Errorf("unknown pubsub kind %q", c.PubSub.Kind)
	}
	if _, err := crdtpubsub.GetEncoderDecoder(crdtpubsub.EncodingFormat(c.PubSub.Format)); err != nil {
		return errors.Wrap(err, "pubsub format")
	}
	switch c.Patches.Kind {
	case "", TransportMemory, TransportRedis:
	default:
		return errors.Errorf("unknown patch store kind %q", c.Patches.Kind)
	}
	switch c.Storage.Type {
	case crdtstorage.PersistenceMemory, crdtstorage.PersistenceFile, crdtstorage.PersistenceRedis,
		crdtstorage.PersistenceBadger, crdtstorage.PersistenceMongoDB:
	default:
		return errors.Errorf("unknown storage type %q", c.Storage.Type)
	}
	if c.Storage.Type == crdtstorage.PersistenceFile && c.Storage.Path == "" {
		return errors.New("file storage needs a path")
	}
	for name, kind := range c.Template {
		switch kind {
		case RootArray, RootObject, RootText:
		default:
			return errors.Errorf("root %s has unknown kind %q", name, kind)
		}
	}
	return nil
}

// StorageOptions converts the storage section.
func (c *Config) StorageOptions() *crdtstorage.StorageOptions {
	return &crdtstorage.StorageOptions{
		PersistenceType: c.Storage.Type,
		PersistencePath: c.Storage.Path,
		RedisAddr:       c.Storage.Redis.Addr,
		RedisPassword:   c.Storage.Redis.Password,
		RedisDB:         c.Storage.Redis.DB,
		KeyPrefix:       c.Storage.KeyPrefix,
		MongoURI:        c.Storage.MongoURI,
		MongoDatabase:   c.Storage.MongoDatabase,
		MongoCollection: c.Storage.MongoCollection,
		ConnectTimeout:  c.Storage.ConnectTimeout,
	}
}

// RootTemplate converts the template section into the form view.New takes.
func (c *Config) RootTemplate() map[string]any {
	template := make(map[string]any, len(c.Template))
	for name, kind := range c.Template {
		switch kind {
		case RootArray:
			template[name] = []any{}
		case RootObject:
			template[name] = map[string]any{}
		case RootText:
			template[name] = view.Text("")
		}
	}
	return template
}
