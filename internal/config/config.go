package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"golang.org/x/xerrors"
)

// Store backends.
const (
	StoreMemory = "memory"
	StoreBolt   = "bolt"
	StoreMongo  = "mongo"
)

// Config holds all configuration for the raffle server.
type Config struct {
	Server       ServerConfig
	LogVerbosity int
	Network      string
	NetworksFile string
	Deployer     string
	Automation   AutomationConfig
	Oracle       OracleConfig
	Store        StoreConfig
	MongoDB      MongoDBConfig
	Telegram     TelegramConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port string
}

// AutomationConfig controls the keeper loop.
type AutomationConfig struct {
	Enabled    bool
	Poll       time.Duration
	StaleAfter time.Duration
}

// OracleConfig holds settings for the randomness side.
type OracleConfig struct {
	JWTSecret string
	// BlockTime is how often the development coordinator mines a block.
	BlockTime time.Duration
	// AutoFulfill runs a local node answering pending requests on development networks.
	AutoFulfill bool
}

// StoreConfig selects where round history lives.
type StoreConfig struct {
	Backend  string
	BoltPath string
}

// MongoDBConfig holds MongoDB-specific configuration.
type MongoDBConfig struct {
	URI      string
	Database string
}

// TelegramConfig enables winner notifications when Token is set.
type TelegramConfig struct {
	Token  string
	ChatID int64
}

// Load reads .env, then the optional config file, then RAFFLE_* environment variables.
// An empty path searches for config.yaml in the working directory and ./config.
func Load(path string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}
	v.SetEnvPrefix("raffle")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, xerrors.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, xerrors.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values viper cannot.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case StoreMemory, StoreBolt, StoreMongo:
	default:
		return xerrors.Errorf("unknown store backend %q", c.Store.Backend)
	}
	if c.Automation.Poll <= 0 {
		return xerrors.Errorf("automation poll interval must be positive, got %s", c.Automation.Poll)
	}
	if c.Oracle.BlockTime <= 0 {
		return xerrors.Errorf("oracle block time must be positive, got %s", c.Oracle.BlockTime)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("Server.Port", "8080")
	v.SetDefault("LogVerbosity", 0)
	v.SetDefault("Network", "hardhat")
	v.SetDefault("NetworksFile", "")
	v.SetDefault("Deployer", "0x00000000000000000000000000000000000d3910")
	v.SetDefault("Automation.Enabled", true)
	v.SetDefault("Automation.Poll", time.Second)
	v.SetDefault("Automation.StaleAfter", 10*time.Minute)
	v.SetDefault("Oracle.JWTSecret", "")
	v.SetDefault("Oracle.BlockTime", time.Second)
	v.SetDefault("Oracle.AutoFulfill", true)
	v.SetDefault("Store.Backend", StoreBolt)
	v.SetDefault("Store.BoltPath", "raffle.db")
	v.SetDefault("MongoDB.URI", "mongodb://localhost:27017")
	v.SetDefault("MongoDB.Database", "raffle")
	v.SetDefault("Telegram.Token", "")
	v.SetDefault("Telegram.ChatID", 0)
}
