package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the relayer
type Config struct {
	Environment  string                       `mapstructure:"environment"`
	LogLevel     string                       `mapstructure:"log_level"`
	Server       ServerConfig                 `mapstructure:"server"`
	Database     DatabaseConfig               `mapstructure:"database"`
	Redis        RedisConfig                  `mapstructure:"redis"`
	JWT          JWTConfig                    `mapstructure:"jwt"`
	Chains       map[string]ChainConfig       `mapstructure:"chains"`
	Attestation  AttestationConfig            `mapstructure:"attestation"`
	Destinations map[string]DestinationConfig `mapstructure:"destinations"`
	Relay        RelayConfig                  `mapstructure:"relay"`
	Workers      WorkerConfig                 `mapstructure:"workers"`
	Events       EventsConfig                 `mapstructure:"events"`
	Alerting     AlertingConfig               `mapstructure:"alerting"`
	Security     SecurityConfig               `mapstructure:"security"`
	Tracing      TracingConfig                `mapstructure:"tracing"`
}

type ServerConfig struct {
	Port            int      `mapstructure:"port"`
	Host            string   `mapstructure:"host"`
	ReadTimeout     int      `mapstructure:"read_timeout"`
	WriteTimeout    int      `mapstructure:"write_timeout"`
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	RateLimitPerMin int      `mapstructure:"rate_limit_per_min"`
}

type DatabaseConfig struct {
	URL             string `mapstructure:"url"`
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	Name            string `mapstructure:"name"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	SSLMode         string `mapstructure:"ssl_mode"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`
	QueryTimeout    int    `mapstructure:"query_timeout"`
	MaxRetries      int    `mapstructure:"max_retries"`
}

type RedisConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Password   string `mapstructure:"password"`
	DB         int    `mapstructure:"db"`
	MaxRetries int    `mapstructure:"max_retries"`
	PoolSize   int    `mapstructure:"pool_size"`
}

type JWTConfig struct {
	Secret    string `mapstructure:"secret"`
	AccessTTL int    `mapstructure:"access_token_ttl"`
	Issuer    string `mapstructure:"issuer"`
}

// ChainConfig describes one monitored source chain. Family selects the
// adapter implementation; zero confirmations means the family default.
type ChainConfig struct {
	Family            string        `mapstructure:"family"` // utxo, evm, tron, xrp, solana
	Domain            uint32        `mapstructure:"domain"`
	RPCURL            string        `mapstructure:"rpc_url"`
	WSURL             string        `mapstructure:"ws_url"`
	APIKey            string        `mapstructure:"api_key"`
	RPCUser           string        `mapstructure:"rpc_user"`
	RPCPassword       string        `mapstructure:"rpc_password"`
	BridgeAddress     string        `mapstructure:"bridge_address"`
	TokenAddress      string        `mapstructure:"token_address"`
	RecipientFormat   string        `mapstructure:"recipient_format"` // raw32, hex32, base58, ss58
	MemoPrefix        string        `mapstructure:"memo_prefix"`
	Decimals          int           `mapstructure:"decimals"`
	Confirmations     uint64        `mapstructure:"confirmations"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	MaxBlockBatch     uint64        `mapstructure:"max_block_batch"`
	MinDeposit        string        `mapstructure:"min_deposit"`
	MaxDeposit        string        `mapstructure:"max_deposit"`
	DestinationDomain uint32        `mapstructure:"destination_domain"`
	Enabled           bool          `mapstructure:"enabled"`
}

// AttestationConfig carries the attester set and the M-of-N threshold
type AttestationConfig struct {
	Threshold int              `mapstructure:"threshold"`
	ExpiryTTL time.Duration    `mapstructure:"expiry_ttl"`
	Attesters []AttesterConfig `mapstructure:"attesters"`
}

// AttesterConfig is one authorized attester identity. The public key is the
// uncompressed secp256k1 key, hex encoded.
type AttesterConfig struct {
	ID        string `mapstructure:"id"`
	PublicKey string `mapstructure:"public_key"`
}

// DestinationConfig describes one destination ledger dispatcher
type DestinationConfig struct {
	Kind              string        `mapstructure:"kind"` // substrate or evm
	Domain            uint32        `mapstructure:"domain"`
	WSURL             string        `mapstructure:"ws_url"`
	RPCURL            string        `mapstructure:"rpc_url"`
	SignerSeed        string        `mapstructure:"signer_seed"`
	SignerKey         string        `mapstructure:"signer_key"`
	Pallet            string        `mapstructure:"pallet"`
	CallName          string        `mapstructure:"call_name"`
	ReceiverAddress   string        `mapstructure:"receiver_address"`
	SS58Prefix        uint16        `mapstructure:"ss58_prefix"`
	GasLimit          uint64        `mapstructure:"gas_limit"`
	ConfirmationDepth uint64        `mapstructure:"confirmation_depth"`
	FinalityTimeout   time.Duration `mapstructure:"finality_timeout"`
	Enabled           bool          `mapstructure:"enabled"`
}

// RelayConfig tunes the submission loop
type RelayConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	BatchSize    int           `mapstructure:"batch_size"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
	LeaseTTL     time.Duration `mapstructure:"lease_ttl"`
}

// WorkerConfig contains background worker configuration
type WorkerConfig struct {
	ExpiryInterval  time.Duration `mapstructure:"expiry_interval"`
	ExpiryBatchSize int           `mapstructure:"expiry_batch_size"`
	SweeperInterval time.Duration `mapstructure:"sweeper_interval"`
	StaleAfter      time.Duration `mapstructure:"stale_after"`
	PrunerSchedule  string        `mapstructure:"pruner_schedule"`
	RetentionDays   int           `mapstructure:"retention_days"`
}

// EventsConfig configures the Kafka event stream
type EventsConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// AlertingConfig configures operator alerting channels
type AlertingConfig struct {
	SentryDSN string      `mapstructure:"sentry_dsn"`
	Email     EmailAlerts `mapstructure:"email"`
	SNS       SNSAlerts   `mapstructure:"sns"`
}

type EmailAlerts struct {
	Enabled   bool     `mapstructure:"enabled"`
	APIKey    string   `mapstructure:"api_key"`
	FromEmail string   `mapstructure:"from_email"`
	FromName  string   `mapstructure:"from_name"`
	To        []string `mapstructure:"to"`
}

type SNSAlerts struct {
	Enabled  bool   `mapstructure:"enabled"`
	Region   string `mapstructure:"region"`
	TopicARN string `mapstructure:"topic_arn"`
}

type SecurityConfig struct {
	AdminTOTPSecret  string `mapstructure:"admin_totp_secret"`
	TOTPIssuer       string `mapstructure:"totp_issuer"`
	SecretsProvider  string `mapstructure:"secrets_provider"` // "env", "aws_secrets_manager"
	AWSSecretsRegion string `mapstructure:"aws_secrets_region"`
	AWSSecretsPrefix string `mapstructure:"aws_secrets_prefix"`
}

type TracingConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	SampleRatio  float64 `mapstructure:"sample_ratio"`
}

// Load loads configuration from environment variables and config files
func Load() (*Config, error) {
	// Load .env file if it exists (ignore errors if file doesn't exist)
	godotenv.Load()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")

	setDefaults()

	// Read from config file if it exists
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// Override with environment variables
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	overrideFromEnv()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Build database URL if not provided
	if config.Database.URL == "" {
		config.Database.URL = fmt.Sprintf(
			"postgres://%s:%s@%s:%d/%s?sslmode=%s",
			config.Database.User,
			config.Database.Password,
			config.Database.Host,
			config.Database.Port,
			config.Database.Name,
			config.Database.SSLMode,
		)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("environment", "development")
	viper.SetDefault("log_level", "info")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.read_timeout", 30)
	viper.SetDefault("server.write_timeout", 30)
	viper.SetDefault("server.rate_limit_per_min", 300)

	// Database defaults
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.name", "flarebridge")
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_open_conns", 50)
	viper.SetDefault("database.max_idle_conns", 10)
	viper.SetDefault("database.conn_max_lifetime", 3600)
	viper.SetDefault("database.query_timeout", 30)
	viper.SetDefault("database.max_retries", 3)

	// Redis defaults
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.max_retries", 3)
	viper.SetDefault("redis.pool_size", 10)

	// JWT defaults
	viper.SetDefault("jwt.access_token_ttl", 3600)
	viper.SetDefault("jwt.issuer", "flarebridge")

	// Attestation defaults
	viper.SetDefault("attestation.threshold", 2)
	viper.SetDefault("attestation.expiry_ttl", "24h")

	// Relay defaults
	viper.SetDefault("relay.poll_interval", "3s")
	viper.SetDefault("relay.batch_size", 10)
	viper.SetDefault("relay.max_attempts", 5)
	viper.SetDefault("relay.lease_ttl", "5m")

	// Worker defaults
	viper.SetDefault("workers.expiry_interval", "1m")
	viper.SetDefault("workers.expiry_batch_size", 100)
	viper.SetDefault("workers.sweeper_interval", "2m")
	viper.SetDefault("workers.stale_after", "15m")
	viper.SetDefault("workers.pruner_schedule", "0 3 * * *")
	viper.SetDefault("workers.retention_days", 90)

	// Events defaults
	viper.SetDefault("events.enabled", false)
	viper.SetDefault("events.topic", "bridge.events")

	// Security defaults
	viper.SetDefault("security.totp_issuer", "flarebridge")
	viper.SetDefault("security.secrets_provider", "env")
	viper.SetDefault("security.aws_secrets_region", "us-east-1")
	viper.SetDefault("security.aws_secrets_prefix", "flarebridge/")

	// Tracing defaults
	viper.SetDefault("tracing.enabled", false)
	viper.SetDefault("tracing.otlp_endpoint", "localhost:4317")
	viper.SetDefault("tracing.sample_ratio", 0.1)
}

func overrideFromEnv() {
	// Server
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			viper.Set("server.port", p)
		}
	}

	// Database
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		viper.Set("database.url", dbURL)
	}

	// Redis
	if redisHost := os.Getenv("REDIS_HOST"); redisHost != "" {
		viper.Set("redis.host", redisHost)
	}
	if redisPassword := os.Getenv("REDIS_PASSWORD"); redisPassword != "" {
		viper.Set("redis.password", redisPassword)
	}

	// JWT
	if jwtSecret := os.Getenv("JWT_SECRET"); jwtSecret != "" {
		viper.Set("jwt.secret", jwtSecret)
	}

	// Attestation
	if threshold := os.Getenv("ATTESTATION_THRESHOLD"); threshold != "" {
		if t, err := strconv.Atoi(threshold); err == nil {
			viper.Set("attestation.threshold", t)
		}
	}

	// Chain endpoints and credentials. Keys follow CHAINS_<NAME>_* so
	// secrets stay out of the yaml file.
	for _, chain := range []string{"bitcoin", "ethereum", "tron", "xrp", "solana"} {
		upper := strings.ToUpper(chain)
		if rpcURL := os.Getenv(upper + "_RPC_URL"); rpcURL != "" {
			viper.Set(fmt.Sprintf("chains.%s.rpc_url", chain), rpcURL)
		}
		if wsURL := os.Getenv(upper + "_WS_URL"); wsURL != "" {
			viper.Set(fmt.Sprintf("chains.%s.ws_url", chain), wsURL)
		}
		if apiKey := os.Getenv(upper + "_API_KEY"); apiKey != "" {
			viper.Set(fmt.Sprintf("chains.%s.api_key", chain), apiKey)
		}
		if rpcUser := os.Getenv(upper + "_RPC_USER"); rpcUser != "" {
			viper.Set(fmt.Sprintf("chains.%s.rpc_user", chain), rpcUser)
		}
		if rpcPass := os.Getenv(upper + "_RPC_PASSWORD"); rpcPass != "" {
			viper.Set(fmt.Sprintf("chains.%s.rpc_password", chain), rpcPass)
		}
	}

	// Destination signers
	if seed := os.Getenv("FLARECHAIN_SIGNER_SEED"); seed != "" {
		viper.Set("destinations.flarechain.signer_seed", seed)
	}
	if wsURL := os.Getenv("FLARECHAIN_WS_URL"); wsURL != "" {
		viper.Set("destinations.flarechain.ws_url", wsURL)
	}
	if key := os.Getenv("EVM_SIGNER_KEY"); key != "" {
		viper.Set("destinations.evm.signer_key", key)
	}
	if rpcURL := os.Getenv("EVM_DESTINATION_RPC_URL"); rpcURL != "" {
		viper.Set("destinations.evm.rpc_url", rpcURL)
	}

	// Events
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		parts := strings.Split(brokers, ",")
		var addrs []string
		for _, part := range parts {
			trimmed := strings.TrimSpace(part)
			if trimmed != "" {
				addrs = append(addrs, trimmed)
			}
		}
		if len(addrs) > 0 {
			viper.Set("events.brokers", addrs)
			viper.Set("events.enabled", true)
		}
	}
	if topic := os.Getenv("KAFKA_TOPIC"); topic != "" {
		viper.Set("events.topic", topic)
	}

	// Alerting
	if sentryDSN := os.Getenv("SENTRY_DSN"); sentryDSN != "" {
		viper.Set("alerting.sentry_dsn", sentryDSN)
	}
	if sendgridKey := os.Getenv("SENDGRID_API_KEY"); sendgridKey != "" {
		viper.Set("alerting.email.api_key", sendgridKey)
		viper.Set("alerting.email.enabled", true)
	}
	if alertTo := os.Getenv("ALERT_EMAIL_TO"); alertTo != "" {
		parts := strings.Split(alertTo, ",")
		var addrs []string
		for _, part := range parts {
			trimmed := strings.TrimSpace(part)
			if trimmed != "" {
				addrs = append(addrs, trimmed)
			}
		}
		if len(addrs) > 0 {
			viper.Set("alerting.email.to", addrs)
		}
	}
	if snsTopic := os.Getenv("ALERT_SNS_TOPIC_ARN"); snsTopic != "" {
		viper.Set("alerting.sns.topic_arn", snsTopic)
		viper.Set("alerting.sns.enabled", true)
	}

	// Security
	if totpSecret := os.Getenv("ADMIN_TOTP_SECRET"); totpSecret != "" {
		viper.Set("security.admin_totp_secret", totpSecret)
	}

	// Tracing
	if otlpEndpoint := os.Getenv("OTLP_ENDPOINT"); otlpEndpoint != "" {
		viper.Set("tracing.otlp_endpoint", otlpEndpoint)
		viper.Set("tracing.enabled", true)
	}
}

func validate(config *Config) error {
	// With an external secrets provider the JWT secret is resolved at
	// startup, after config load.
	if config.JWT.Secret == "" && config.Security.SecretsProvider == "env" {
		return fmt.Errorf("JWT secret is required")
	}

	if config.Database.URL == "" && (config.Database.Host == "" || config.Database.Name == "") {
		return fmt.Errorf("database configuration is incomplete")
	}

	if config.Attestation.Threshold < 1 {
		return fmt.Errorf("attestation threshold must be at least 1")
	}
	if len(config.Attestation.Attesters) > 0 && config.Attestation.Threshold > len(config.Attestation.Attesters) {
		return fmt.Errorf("attestation threshold %d exceeds attester count %d",
			config.Attestation.Threshold, len(config.Attestation.Attesters))
	}

	for name, chain := range config.Chains {
		if !chain.Enabled {
			continue
		}
		switch chain.Family {
		case "utxo", "evm", "tron", "xrp", "solana":
		default:
			return fmt.Errorf("chain %s has unknown family %q", name, chain.Family)
		}
		if chain.BridgeAddress == "" {
			return fmt.Errorf("chain %s is missing a bridge address", name)
		}
	}

	for name, dest := range config.Destinations {
		if !dest.Enabled {
			continue
		}
		if dest.Kind != "substrate" && dest.Kind != "evm" {
			return fmt.Errorf("destination %s has unknown kind %q", name, dest.Kind)
		}
	}

	return nil
}
