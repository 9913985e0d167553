package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	StorageFile     = "file"
	StoragePostgres = "postgres"
)

// Config holds configuration values loaded from flags, env, or config file.
type Config struct {
	RPCURL      string
	NetID       uint64
	NetworkName string
	Proxy       string
	Subgraph    string

	CacheDir string
	Storage  string
	PGDSN    string

	ChunkSize    uint64
	PageSize     int
	OnlyRPC      bool
	MaxRetries   int
	RetryBackoff time.Duration
	RPCTimeout   time.Duration
	HTTPTimeout  time.Duration

	MerkleTreeHeight int
	MerkleHasher     string

	PollInterval    time.Duration
	PollTimeout     time.Duration
	ReceiptAttempts int
	ReceiptDelay    time.Duration

	LogLevel  string
	Instances []Instance
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("MIXER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("cache-dir", "./cache")
	v.SetDefault("storage", StorageFile)
	v.SetDefault("chunk-size", uint64(10000))
	v.SetDefault("page-size", 1000)
	v.SetDefault("only-rpc", false)
	v.SetDefault("max-retries", 5)
	v.SetDefault("retry-backoff", 500*time.Millisecond)
	v.SetDefault("rpc-timeout", 60*time.Second)
	v.SetDefault("http-timeout", 30*time.Second)
	v.SetDefault("merkle-tree-height", 20)
	v.SetDefault("merkle-hasher", "mimcsponge")
	v.SetDefault("poll-interval", 3*time.Second)
	v.SetDefault("poll-timeout", time.Duration(0))
	v.SetDefault("receipt-attempts", 60)
	v.SetDefault("receipt-delay", time.Second)
	v.SetDefault("log-level", "info")

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	instances, err := loadInstances(v)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		RPCURL:           v.GetString("rpc"),
		NetID:            v.GetUint64("net-id"),
		NetworkName:      v.GetString("network-name"),
		Proxy:            v.GetString("proxy"),
		Subgraph:         v.GetString("subgraph"),
		CacheDir:         v.GetString("cache-dir"),
		Storage:          strings.ToLower(v.GetString("storage")),
		PGDSN:            v.GetString("pg-dsn"),
		ChunkSize:        v.GetUint64("chunk-size"),
		PageSize:         v.GetInt("page-size"),
		OnlyRPC:          v.GetBool("only-rpc"),
		MaxRetries:       v.GetInt("max-retries"),
		RetryBackoff:     v.GetDuration("retry-backoff"),
		RPCTimeout:       v.GetDuration("rpc-timeout"),
		HTTPTimeout:      v.GetDuration("http-timeout"),
		MerkleTreeHeight: v.GetInt("merkle-tree-height"),
		MerkleHasher:     v.GetString("merkle-hasher"),
		PollInterval:     v.GetDuration("poll-interval"),
		PollTimeout:      v.GetDuration("poll-timeout"),
		ReceiptAttempts:  v.GetInt("receipt-attempts"),
		ReceiptDelay:     v.GetDuration("receipt-delay"),
		LogLevel:         v.GetString("log-level"),
		Instances:        instances,
	}

	return cfg, nil
}

// Validate checks the settings every chain-backed command needs.
func (c Config) Validate() error {
	if c.RPCURL == "" {
		return fmt.Errorf("rpc url is required")
	}
	switch c.Storage {
	case StorageFile:
		if c.CacheDir == "" {
			return fmt.Errorf("cache-dir is required for file storage")
		}
	case StoragePostgres:
		if c.PGDSN == "" {
			return fmt.Errorf("pg-dsn is required for postgres storage")
		}
	default:
		return fmt.Errorf("unknown storage %q (want %s or %s)", c.Storage, StorageFile, StoragePostgres)
	}
	if c.Proxy != "" {
		if _, err := ParseAddress(c.Proxy); err != nil {
			return fmt.Errorf("proxy: %w", err)
		}
	}
	if c.MerkleTreeHeight < 1 || c.MerkleTreeHeight > 32 {
		return fmt.Errorf("merkle-tree-height must be between 1 and 32, got %d", c.MerkleTreeHeight)
	}
	if len(c.Instances) == 0 {
		return fmt.Errorf("at least one instance is required")
	}
	return nil
}

// Instance returns the configured instance for currency and amount.
func (c Config) Instance(currency, amount string) (Instance, bool) {
	for _, instance := range c.Instances {
		if strings.EqualFold(instance.Currency, currency) && instance.Amount == strings.TrimSpace(amount) {
			return instance, true
		}
	}
	return Instance{}, false
}
