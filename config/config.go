package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jonwraymond/tokencache/content"
	"github.com/jonwraymond/tokencache/memo"
	"github.com/jonwraymond/tokencache/observe"
	"github.com/jonwraymond/tokencache/secret"
	"github.com/jonwraymond/tokencache/token"
)

// Environment variables read by Load.
const (
	EnvConfigPath = "TOKENCACHE_CONFIG"
	EnvEnabled    = "TOKENCACHE_ENABLED"
)

// Backends accepted in store.backend.
var Backends = []string{"memory", "bolt", "fs", "nats", "s3", "resp"}

var (
	// ErrInvalidBackend means store.backend names no known backend.
	ErrInvalidBackend = errors.New("config: invalid store backend")

	// ErrInvalid means a value is out of range.
	ErrInvalid = errors.New("config: invalid value")
)

// Config is the resolved configuration of a tokencache deployment.
type Config struct {
	Enabled           bool          `yaml:"enabled"`
	CorruptionGrace   time.Duration `yaml:"corruption_grace"`
	WriteMode         string        `yaml:"write_mode"`
	QueueSize         int           `yaml:"queue_size"`
	Workers           int           `yaml:"workers"`
	VisibilityTimeout time.Duration `yaml:"visibility_timeout"`
	Codec             string        `yaml:"codec"`

	Content  ContentConfig  `yaml:"content"`
	Registry RegistryConfig `yaml:"registry"`
	Store    StoreConfig    `yaml:"store"`
	Sweeper  SweeperConfig  `yaml:"sweeper"`
	Server   ServerConfig   `yaml:"server"`
	Observe  observe.Config `yaml:"observe"`

	// Secrets configures secret providers by name, e.g. file: {dir: /run/secrets}.
	// The env provider is always available.
	Secrets map[string]map[string]any `yaml:"secrets"`
}

// ContentConfig sizes content records.
type ContentConfig struct {
	MaxValueSize int `yaml:"max_value_size"`
	ShardSize    int `yaml:"shard_size"`
}

// RegistryConfig configures the token registry.
type RegistryConfig struct {
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	Globals         []string      `yaml:"globals"`
}

// StoreConfig selects and configures the kv backend.
type StoreConfig struct {
	// Backend is one of Backends.
	Backend string `yaml:"backend"`

	// URI is the bolt file, fs root, NATS URL, S3 endpoint or RESP address.
	URI string `yaml:"uri"`

	Bucket       string `yaml:"bucket"`
	Prefix       string `yaml:"prefix"`
	AccessKey    string `yaml:"access_key"`
	SecretKey    string `yaml:"secret_key"`
	UseSSL       bool   `yaml:"use_ssl"`
	CreateBucket bool   `yaml:"create_bucket"`
	NoSync       bool   `yaml:"no_sync"`
	Replicas     int    `yaml:"replicas"`

	// PoolSize is the number of RESP connections per process.
	PoolSize int `yaml:"pool_size"`

	// Timeout bounds one RESP round trip.
	Timeout time.Duration `yaml:"timeout"`

	Resilience ResilienceConfig `yaml:"resilience"`
}

// ResilienceConfig tunes the retry and circuit breaker around the backend.
type ResilienceConfig struct {
	Disabled     bool          `yaml:"disabled"`
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	OpTimeout    time.Duration `yaml:"op_timeout"`
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// SweeperConfig configures the reachability sweeper.
type SweeperConfig struct {
	// Interval between background sweeps. Zero disables them.
	Interval          time.Duration `yaml:"interval"`
	DeleteRate        float64       `yaml:"delete_rate"`
	FalsePositiveRate float64       `yaml:"false_positive_rate"`
}

// ServerConfig configures tokencached.
type ServerConfig struct {
	RESPAddr string     `yaml:"resp_addr"`
	HTTPAddr string     `yaml:"http_addr"`
	Auth     AuthConfig `yaml:"auth"`
}

// AuthConfig lists the admin API credentials. With neither keys nor a JWT
// secret the admin API is open.
type AuthConfig struct {
	APIKeys []APIKeyConfig `yaml:"api_keys"`
	JWT     JWTConfig      `yaml:"jwt"`
}

// APIKeyConfig is one admin API key.
type APIKeyConfig struct {
	ID        string   `yaml:"id"`
	Key       string   `yaml:"key"`
	Principal string   `yaml:"principal"`
	Roles     []string `yaml:"roles"`
}

// JWTConfig configures HS256 bearer tokens.
type JWTConfig struct {
	Secret   string `yaml:"secret"`
	Issuer   string `yaml:"issuer"`
	Audience string `yaml:"audience"`
}

// Default returns the configuration used for keys absent from the file.
func Default() Config {
	return Config{
		Enabled:           true,
		CorruptionGrace:   memo.DefaultCorruptionGrace,
		WriteMode:         string(memo.WriteSync),
		QueueSize:         256,
		Workers:           4,
		VisibilityTimeout: 2 * time.Second,
		Codec:             memo.CodecJSON,
		Content: ContentConfig{
			MaxValueSize: content.DefaultMaxValueSize,
			ShardSize:    content.DefaultMaxValueSize,
		},
		Registry: RegistryConfig{RefreshInterval: token.DefaultRefreshInterval},
		Store: StoreConfig{
			Backend:  "bolt",
			URI:      "tokencache.db",
			Bucket:   "tokencache",
			PoolSize: 4,
		},
		Sweeper: SweeperConfig{DeleteRate: 200, FalsePositiveRate: 0.001},
		Server:  ServerConfig{RESPAddr: ":6380", HTTPAddr: ":8080"},
		Observe: observe.Config{
			ServiceName: "tokencache",
			Tracing:     observe.TracingConfig{Exporter: "none", SamplePct: 1},
			Metrics:     observe.MetricsConfig{Enabled: true, Exporter: "prometheus"},
			Logging:     observe.LoggingConfig{Enabled: true, Level: "info"},
		},
	}
}

// Load reads the file at path, or at $TOKENCACHE_CONFIG when path is empty,
// over Default. With neither, Default is used. Environment overrides and
// secret references are applied before validation.
func Load(ctx context.Context, path string) (Config, error) {
	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := Parse(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.ResolveSecrets(ctx); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse expands environment references in raw and decodes it into cfg.
// Unknown keys are rejected.
func Parse(raw []byte, cfg *Config) error {
	expanded, err := secret.ExpandEnvStrict(string(raw))
	if err != nil {
		return err
	}
	dec := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("config: decode: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	v, ok := os.LookupEnv(EnvEnabled)
	if !ok || v == "" {
		return nil
	}
	on, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%w: %s=%q", ErrInvalid, EnvEnabled, v)
	}
	c.Enabled = on
	return nil
}

// ResolveSecrets replaces secret references in credential fields.
func (c *Config) ResolveSecrets(ctx context.Context) error {
	providers, err := secret.NewDefaultRegistry().Open(c.Secrets)
	if err != nil {
		return fmt.Errorf("config: secrets: %w", err)
	}
	r := secret.NewResolver(true, providers...)
	defer r.Close()

	fields := []*string{&c.Store.URI, &c.Store.AccessKey, &c.Store.SecretKey, &c.Server.Auth.JWT.Secret}
	for i := range c.Server.Auth.APIKeys {
		fields = append(fields, &c.Server.Auth.APIKeys[i].Key)
	}
	if err := r.ResolveInPlace(ctx, fields...); err != nil {
		return fmt.Errorf("config: secrets: %w", err)
	}
	return nil
}

// Validate checks ranges and enumerations.
func (c *Config) Validate() error {
	if !slices.Contains(Backends, c.Store.Backend) {
		return fmt.Errorf("%w: %q", ErrInvalidBackend, c.Store.Backend)
	}
	if c.Store.Backend != "memory" && c.Store.URI == "" {
		return fmt.Errorf("%w: store.uri is required for %s", ErrInvalid, c.Store.Backend)
	}
	switch memo.WriteMode(c.WriteMode) {
	case memo.WriteSync, memo.WriteAsync, "":
	default:
		return fmt.Errorf("%w: write_mode %q", ErrInvalid, c.WriteMode)
	}
	switch c.Codec {
	case "", memo.CodecJSON, memo.CodecGob:
	default:
		return fmt.Errorf("%w: codec %q", ErrInvalid, c.Codec)
	}
	if c.Content.MaxValueSize < 0 || c.Content.ShardSize < 0 || c.Content.ShardSize > c.Content.MaxValueSize {
		return fmt.Errorf("%w: content sizes %d/%d", ErrInvalid, c.Content.MaxValueSize, c.Content.ShardSize)
	}
	if c.Sweeper.FalsePositiveRate < 0 || c.Sweeper.FalsePositiveRate >= 1 {
		return fmt.Errorf("%w: sweeper.false_positive_rate %v", ErrInvalid, c.Sweeper.FalsePositiveRate)
	}
	for _, k := range c.Server.Auth.APIKeys {
		if k.Key == "" || k.Principal == "" {
			return fmt.Errorf("%w: api key %q needs key and principal", ErrInvalid, k.ID)
		}
	}
	if err := c.Observe.Validate(); err != nil {
		return fmt.Errorf("config: observe: %w", err)
	}
	return nil
}

// Memo returns the manager configuration.
func (c Config) Memo() memo.Config {
	return memo.Config{
		Enabled:           c.Enabled,
		CorruptionGrace:   c.CorruptionGrace,
		WriteMode:         memo.WriteMode(c.WriteMode),
		QueueSize:         c.QueueSize,
		Workers:           c.Workers,
		VisibilityTimeout: c.VisibilityTimeout,
		Codec:             c.Codec,
	}
}

// ContentStore returns the content store configuration.
func (c Config) ContentStore() content.Config {
	return content.Config{MaxValueSize: c.Content.MaxValueSize, ShardSize: c.Content.ShardSize}
}

// Globals returns the registry's global segments.
func (c Config) Globals() []token.Segment {
	out := make([]token.Segment, 0, len(c.Registry.Globals))
	for _, g := range c.Registry.Globals {
		out = append(out, token.Segment(g))
	}
	return out
}
