package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config application configuration structure
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	NATS      NATSConfig      `yaml:"nats"`
	Transport TransportConfig `yaml:"transport"`
	Protocol  ProtocolConfig  `yaml:"protocol"`
	CORS      CORSConfig      `yaml:"cors"`
	Auth      AuthConfig      `yaml:"auth"`
	Admin     AdminConfig     `yaml:"admin"`
}

// ServerConfig server configuration
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig database configuration
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // postgres | memory
	DSN    string `yaml:"dsn"`
}

// NATSConfig NATS message server configuration
type NATSConfig struct {
	URL           string `yaml:"url"`
	Timeout       int    `yaml:"timeout"` // seconds
	ReconnectWait int    `yaml:"reconnect_wait"`
	MaxReconnects int    `yaml:"max_reconnects"`
}

// TransportConfig cross-domain transport configuration
type TransportConfig struct {
	Mode                  string `yaml:"mode"` // local | nats
	WitnessPollIntervalMs int    `yaml:"witness_poll_interval_ms"`
	WitnessMaxWaitMs      int    `yaml:"witness_max_wait_ms"`
	BatchSealIntervalMs   int    `yaml:"batch_seal_interval_ms"`
}

// ProtocolConfig intent protocol parameters
type ProtocolConfig struct {
	FeeBps               int64  `yaml:"fee_bps"`
	SettlementAddress    string `yaml:"settlement_address"`
	SweepIntervalSeconds int    `yaml:"sweep_interval_seconds"`
}

// CORSConfig CORS configuration
type CORSConfig struct {
	AllowedOrigins   []string `yaml:"allowed_origins"`
	AllowCredentials bool     `yaml:"allow_credentials"`
	MaxAge           int      `yaml:"max_age"`
}

// AuthConfig owner session token configuration
type AuthConfig struct {
	JWTSecret       string `yaml:"jwt_secret"`
	TokenTTLMinutes int    `yaml:"token_ttl_minutes"`
}

// AdminConfig operator endpoint restrictions
type AdminConfig struct {
	AllowedIPs []string `yaml:"allowed_ips"` // exact IPs or CIDR ranges, localhost always passes
}

// AppConfig global application configuration
var AppConfig *Config

// LoadConfig reads the YAML config file and applies environment overrides.
func LoadConfig(configPath string) error {
	config := defaultConfig()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return fmt.Errorf("failed to parse config file %s: %w", configPath, err)
		}
		log.Printf("✅ Configuration loaded from %s", configPath)
	} else {
		log.Printf("⚠️ No config file provided, using defaults + environment")
	}

	applyEnvOverrides(config)

	if config.Transport.Mode != "local" && config.Transport.Mode != "nats" {
		return fmt.Errorf("invalid transport mode %q (want local or nats)", config.Transport.Mode)
	}
	if config.Database.Driver != "postgres" && config.Database.Driver != "memory" {
		return fmt.Errorf("invalid database driver %q (want postgres or memory)", config.Database.Driver)
	}
	if config.Database.Driver == "postgres" && config.Database.DSN == "" {
		return fmt.Errorf("database DSN is required for the postgres driver")
	}

	AppConfig = config
	return nil
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 8080},
		Database: DatabaseConfig{
			Driver: "memory",
		},
		NATS: NATSConfig{
			URL:           "nats://localhost:4222",
			Timeout:       10,
			ReconnectWait: 5,
			MaxReconnects: -1,
		},
		Transport: TransportConfig{
			Mode:                  "local",
			WitnessPollIntervalMs: 500,
			WitnessMaxWaitMs:      30000,
			BatchSealIntervalMs:   2000,
		},
		Protocol: ProtocolConfig{
			FeeBps:               10,
			SweepIntervalSeconds: 30,
		},
		CORS: CORSConfig{
			AllowedOrigins:   []string{"*"},
			AllowCredentials: true,
			MaxAge:           3600,
		},
		Auth: AuthConfig{TokenTTLMinutes: 60},
	}
}

func applyEnvOverrides(config *Config) {
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			config.Server.Port = port
		}
	}
	if v := os.Getenv("DATABASE_DSN"); v != "" {
		config.Database.DSN = v
		config.Database.Driver = "postgres"
	}
	if v := os.Getenv("NATS_URL"); v != "" {
		config.NATS.URL = v
	}
	if v := os.Getenv("TRANSPORT_MODE"); v != "" {
		config.Transport.Mode = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		config.Auth.JWTSecret = v
	}
	if v := os.Getenv("SETTLEMENT_ADDRESS"); v != "" {
		config.Protocol.SettlementAddress = v
	}
}

// WitnessPollInterval returns the configured witness poll interval.
func (c *Config) WitnessPollInterval() time.Duration {
	return time.Duration(c.Transport.WitnessPollIntervalMs) * time.Millisecond
}

// WitnessMaxWait returns the configured witness wait budget.
func (c *Config) WitnessMaxWait() time.Duration {
	return time.Duration(c.Transport.WitnessMaxWaitMs) * time.Millisecond
}

// SweepInterval returns the deadline sweeper interval.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Protocol.SweepIntervalSeconds) * time.Second
}
