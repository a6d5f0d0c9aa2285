// Package config loads the node configuration from YAML with environment
// overrides for deployment secrets.
package config

import (
	"fmt"
	"os"
	"time"

	"cosmossdk.io/math"
	"gopkg.in/yaml.v3"

	"github.com/abyssgrid/gridmarket/internal/types"
)

// Config represents the complete configuration for a marketplace node
type Config struct {
	Node      NodeConfig      `yaml:"node"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Transport TransportConfig `yaml:"transport"`
	API       APIConfig       `yaml:"api"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Market    MarketConfig    `yaml:"market"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// NodeConfig holds this node's identity
type NodeConfig struct {
	PeerID       string  `yaml:"peer_id"`
	ComputeScore float64 `yaml:"compute_score"`
	JWTSecret    string  `yaml:"jwt_secret"`
}

// DatabaseConfig holds PostgreSQL configuration. Backend "memory" skips
// Postgres entirely.
type DatabaseConfig struct {
	Backend         string        `yaml:"backend"` // "memory" or "postgres"
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"ssl_mode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// RedisConfig holds the optional read cache configuration
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Host     string        `yaml:"host"`
	Port     int           `yaml:"port"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// TransportConfig holds peer mesh configuration
type TransportConfig struct {
	Peers       []string `yaml:"peers"`        // ws:// urls dialed at startup
	MessageRate float64  `yaml:"message_rate"` // inbound messages per second
}

// APIConfig holds API server configuration
type APIConfig struct {
	Host        string        `yaml:"host"`
	Port        int           `yaml:"port"`
	CORSOrigins []string      `yaml:"cors_origins"`
	RateLimit   int           `yaml:"rate_limit"`
	Timeout     time.Duration `yaml:"timeout"`
}

// MetricsConfig holds metrics server configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// MarketConfig holds the economic parameters. Decimal fields are strings so
// YAML carries exact values.
type MarketConfig struct {
	ProofBackend    string        `yaml:"proof_backend"` // "mock" or "groth16"
	SlashFraction   string        `yaml:"slash_fraction"`
	TrustPenalty    string        `yaml:"trust_penalty"`
	BasePrice       string        `yaml:"base_price"`
	CycleRate       string        `yaml:"cycle_rate"`
	MaxDiscount     string        `yaml:"max_discount"`
	MinimumPrice    string        `yaml:"minimum_price"`
	CyclesPerID     uint64        `yaml:"cycles_per_id"`
	ZkBonusPerProof string        `yaml:"zk_bonus_per_proof"`
	DispatchTimeout time.Duration `yaml:"dispatch_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// LoadConfig loads configuration from a YAML file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnvOverrides()

	return &cfg, nil
}

// applyEnvOverrides applies environment variable overrides
func (c *Config) applyEnvOverrides() {
	if peerID := os.Getenv("GRIDMARKET_PEER_ID"); peerID != "" {
		c.Node.PeerID = peerID
	}
	if secret := os.Getenv("GRIDMARKET_JWT_SECRET"); secret != "" {
		c.Node.JWTSecret = secret
	}
	if dbHost := os.Getenv("DB_HOST"); dbHost != "" {
		c.Database.Host = dbHost
	}
	if dbPort := os.Getenv("DB_PORT"); dbPort != "" {
		fmt.Sscanf(dbPort, "%d", &c.Database.Port)
	}
	if dbUser := os.Getenv("DB_USER"); dbUser != "" {
		c.Database.User = dbUser
	}
	if dbPass := os.Getenv("DB_PASSWORD"); dbPass != "" {
		c.Database.Password = dbPass
	}
	if dbName := os.Getenv("DB_NAME"); dbName != "" {
		c.Database.Database = dbName
	}
	if redisHost := os.Getenv("REDIS_HOST"); redisHost != "" {
		c.Redis.Host = redisHost
	}
	if redisPort := os.Getenv("REDIS_PORT"); redisPort != "" {
		fmt.Sscanf(redisPort, "%d", &c.Redis.Port)
	}
	if redisPass := os.Getenv("REDIS_PASSWORD"); redisPass != "" {
		c.Redis.Password = redisPass
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Node.PeerID == "" {
		return fmt.Errorf("node peer_id is required")
	}
	if c.Node.JWTSecret == "" {
		return fmt.Errorf("node jwt_secret is required")
	}

	switch c.Database.Backend {
	case "", "memory":
		c.Database.Backend = "memory"
	case "postgres":
		if c.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}
		if c.Database.Port == 0 {
			return fmt.Errorf("database port is required")
		}
		if c.Database.User == "" {
			return fmt.Errorf("database user is required")
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
	default:
		return fmt.Errorf("unknown database backend %q", c.Database.Backend)
	}

	if c.Redis.Enabled {
		if c.Redis.Host == "" {
			return fmt.Errorf("redis host is required")
		}
		if c.Redis.Port == 0 {
			return fmt.Errorf("redis port is required")
		}
		if c.Redis.CacheTTL <= 0 {
			c.Redis.CacheTTL = time.Minute
		}
	}

	if c.Transport.MessageRate <= 0 {
		c.Transport.MessageRate = 200
	}

	if c.API.Port == 0 {
		return fmt.Errorf("API port is required")
	}
	if c.API.RateLimit <= 0 {
		c.API.RateLimit = 100
	}
	if c.API.Timeout <= 0 {
		c.API.Timeout = 60 * time.Second
	}

	if c.Metrics.Enabled && c.Metrics.Port == 0 {
		return fmt.Errorf("metrics port is required when metrics are enabled")
	}

	switch c.Market.ProofBackend {
	case "", "mock", "groth16":
	default:
		return fmt.Errorf("unknown proof backend %q", c.Market.ProofBackend)
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}

	return nil
}

// MarketParams builds the economic parameters, falling back to defaults for
// any field left empty.
func (c *Config) MarketParams() (types.Params, error) {
	params := types.DefaultParams()

	set := func(target *math.LegacyDec, value, name string) error {
		if value == "" {
			return nil
		}
		d, err := math.LegacyNewDecFromStr(value)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, value, err)
		}
		*target = d
		return nil
	}

	if err := set(&params.SlashFraction, c.Market.SlashFraction, "slash_fraction"); err != nil {
		return params, err
	}
	if err := set(&params.TrustPenalty, c.Market.TrustPenalty, "trust_penalty"); err != nil {
		return params, err
	}
	if err := set(&params.BasePrice, c.Market.BasePrice, "base_price"); err != nil {
		return params, err
	}
	if err := set(&params.CycleRate, c.Market.CycleRate, "cycle_rate"); err != nil {
		return params, err
	}
	if err := set(&params.MaxDiscount, c.Market.MaxDiscount, "max_discount"); err != nil {
		return params, err
	}
	if err := set(&params.MinimumPrice, c.Market.MinimumPrice, "minimum_price"); err != nil {
		return params, err
	}
	if err := set(&params.ZkBonusPerProof, c.Market.ZkBonusPerProof, "zk_bonus_per_proof"); err != nil {
		return params, err
	}
	if c.Market.CyclesPerID > 0 {
		params.CyclesPerID = c.Market.CyclesPerID
	}
	if c.Market.DispatchTimeout > 0 {
		params.DispatchTimeout = c.Market.DispatchTimeout
	}

	if err := params.Validate(); err != nil {
		return params, err
	}
	return params, nil
}

// GetConnectionString returns the PostgreSQL connection string
func (c *DatabaseConfig) GetConnectionString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// GetRedisAddr returns the Redis connection address
func (c *RedisConfig) GetRedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
