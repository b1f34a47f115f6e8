package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all environment-driven configuration for a bpci-core node.
type Config struct {
	// L1 anchoring endpoint
	EthereumURL string
	EthChainID  int64

	// Registry API server configuration
	ListenAddr  string
	MetricsAddr string
	HealthAddr  string

	// Database configuration (URL-based, used by pkg/registry/postgres.go)
	DatabaseURL         string
	DatabaseMaxConns    int
	DatabaseMinConns    int
	DatabaseMaxIdleTime int // seconds
	DatabaseMaxLifetime int // seconds
	DatabaseRequired    bool

	// Database configuration (individual fields, used by pgx/lib-pq dial options)
	DBHost            string
	DBPort            int
	DBUser            string
	DBPassword        string
	DBName            string
	DBSSLMode         string
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration

	// L1 anchoring account
	EthPrivateKey     string
	EthAccountAddress string

	// Validator key material
	Ed25519KeyPath    string
	BLSPrivateKeyPath string
	BLSPublicKeyPath  string
	DataDir           string

	// Anchoring contract
	AnchorContractAddress string

	// Settlement contracts
	NFTClaimContractAddress     string
	SettlementCoinContractAddress string

	// Node identity
	ValidatorID   string
	ValidatorRole string
	LogLevel      string

	// CometBFT / IBFT network configuration
	P2PPort int
	RPCPort int
	ChainID string

	NetworkName string

	// Round-protocol peer set
	AttestationPeers         []string
	AttestationRequiredCount int

	// Security
	JWTSecret   string
	CORSOrigins []string
	TLSEnabled  bool

	// Rate limiting on the Registry API
	RateLimitRequests int
	RateLimitWindow   int

	// Light-client reorg policy
	MinAnchorConfirmations uint64
	MaxReorgDepth          uint64
	StrictAnchorVerification bool
}

// Load reads configuration from environment variables. Required
// variables (EthereumURL, EthPrivateKey, AnchorContractAddress,
// DatabaseURL, JWTSecret) have no defaults; call Validate after Load
// before starting a production node.
func Load() (*Config, error) {
	cfg := &Config{
		EthereumURL: getEnv("ETHEREUM_URL", ""),
		EthChainID:  getEnvInt64("ETH_CHAIN_ID", 11155111),

		ListenAddr:  getEnv("API_HOST", "0.0.0.0") + ":" + getEnv("API_PORT", "8080"),
		MetricsAddr: getEnv("API_HOST", "0.0.0.0") + ":" + getEnv("METRICS_PORT", "9090"),
		HealthAddr:  getEnv("API_HOST", "0.0.0.0") + ":" + getEnv("HEALTH_CHECK_PORT", "8081"),

		DatabaseURL:         getEnv("DATABASE_URL", ""),
		DatabaseMaxConns:    getEnvInt("DATABASE_MAX_CONNS", 25),
		DatabaseMinConns:    getEnvInt("DATABASE_MIN_CONNS", 5),
		DatabaseMaxIdleTime: getEnvInt("DATABASE_MAX_IDLE_TIME", 300),
		DatabaseMaxLifetime: getEnvInt("DATABASE_MAX_LIFETIME", 3600),
		DatabaseRequired:    getEnvBool("DATABASE_REQUIRED", false),

		DBHost:            getEnv("DB_HOST", "localhost"),
		DBPort:            getEnvInt("DB_PORT", 5432),
		DBUser:            getEnv("DB_USER", "bpci"),
		DBPassword:        getEnv("DB_PASSWORD", ""),
		DBName:            getEnv("DB_NAME", "bpci_registry"),
		DBSSLMode:         getEnv("DB_SSL_MODE", "require"),
		DBMaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
		DBMaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
		DBConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", time.Hour),

		EthPrivateKey:     getEnv("ETH_PRIVATE_KEY", ""),
		EthAccountAddress: getEnv("ETH_ACCOUNT_ADDRESS", ""),

		Ed25519KeyPath:    getEnv("ED25519_KEY_PATH", ""),
		BLSPrivateKeyPath: getEnv("BLS_PRIVATE_KEY_PATH", ""),
		BLSPublicKeyPath:  getEnv("BLS_PUBLIC_KEY_PATH", ""),
		DataDir:           getEnv("DATA_DIR", "./data"),

		AnchorContractAddress: getEnv("ANCHOR_CONTRACT_ADDRESS", ""),

		NFTClaimContractAddress:     getEnv("NFT_CLAIM_CONTRACT_ADDRESS", ""),
		SettlementCoinContractAddress: getEnv("SETTLEMENT_COIN_CONTRACT_ADDRESS", ""),

		ValidatorID:   getEnv("VALIDATOR_ID", "validator-default"),
		ValidatorRole: getEnv("VALIDATOR_ROLE", "validator"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),

		P2PPort: getEnvInt("COMETBFT_P2P_PORT", 26656),
		RPCPort: getEnvInt("COMETBFT_RPC_PORT", 26657),
		ChainID: getEnv("COMETBFT_CHAIN_ID", "bpci-core"),

		NetworkName: getEnv("NETWORK_NAME", "devnet"),

		AttestationPeers:         parseAttestationPeers(getEnv("ATTESTATION_PEERS", "")),
		AttestationRequiredCount: getEnvInt("ATTESTATION_REQUIRED_COUNT", 3),

		JWTSecret:   getEnv("JWT_SECRET", ""),
		CORSOrigins: strings.Split(getEnv("CORS_ORIGINS", "http://localhost:3000,http://localhost:3001"), ","),
		TLSEnabled:  getEnvBool("TLS_ENABLED", true),

		RateLimitRequests: getEnvInt("RATE_LIMIT_REQUESTS", 100),
		RateLimitWindow:   getEnvInt("RATE_LIMIT_WINDOW", 60),

		MinAnchorConfirmations:   uint64(getEnvInt("MIN_ANCHOR_CONFIRMATIONS", 6)),
		MaxReorgDepth:            uint64(getEnvInt("MAX_REORG_DEPTH", 100)),
		StrictAnchorVerification: getEnvBool("STRICT_ANCHOR_VERIFICATION", true),
	}

	return cfg, nil
}

// Validate checks that all required configuration is present and secure.
// Call after Load before starting a production node.
func (c *Config) Validate() error {
	var errors []string

	if c.EthereumURL == "" {
		errors = append(errors, "ETHEREUM_URL is required but not set")
	}
	if c.EthPrivateKey == "" {
		errors = append(errors, "ETH_PRIVATE_KEY is required but not set")
	}
	if c.AnchorContractAddress == "" {
		errors = append(errors, "ANCHOR_CONTRACT_ADDRESS is required")
	}

	if c.DatabaseURL == "" {
		errors = append(errors, "DATABASE_URL is required but not set")
	} else {
		if strings.Contains(c.DatabaseURL, "sslmode=disable") {
			errors = append(errors, "DATABASE_URL must use sslmode=require for production security")
		}
	}

	if c.JWTSecret == "" {
		errors = append(errors, "JWT_SECRET is required but not set")
	} else {
		weakSecrets := []string{"development", "secret", "password", "change-me", "changeme", "default", "test"}
		lowerSecret := strings.ToLower(c.JWTSecret)
		for _, weak := range weakSecrets {
			if strings.Contains(lowerSecret, weak) {
				errors = append(errors, "JWT_SECRET contains weak/default value - generate a secure random secret")
				break
			}
		}
		if len(c.JWTSecret) < 32 {
			errors = append(errors, "JWT_SECRET must be at least 32 characters for security")
		}
	}

	if !c.TLSEnabled {
		fmt.Println("WARNING: TLS_ENABLED is false - enable TLS for production security")
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	return nil
}

// ValidateForDevelopment performs relaxed validation suitable for local
// development. Do not use this in production; use Validate instead.
func (c *Config) ValidateForDevelopment() error {
	if c.EthereumURL == "" {
		return fmt.Errorf("development configuration validation failed:\n  - ETHEREUM_URL is required")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// parseAttestationPeers parses comma-separated peer URLs for the round
// protocol's commit-aggregation peer set.
// Example: "http://validator-2:8080,http://validator-3:8080"
func parseAttestationPeers(value string) []string {
	if value == "" {
		return nil
	}
	peers := strings.Split(value, ",")
	result := make([]string, 0, len(peers))
	for _, peer := range peers {
		peer = strings.TrimSpace(peer)
		if peer != "" {
			result = append(result, peer)
		}
	}
	return result
}
