package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the full runtime configuration of the identity service.
type Config struct {
	Environment   string
	Server        ServerConfig
	Logging       LoggingConfig
	Redis         RedisConfig
	Scylla        ScyllaConfig
	Kafka         KafkaConfig
	Elasticsearch ElasticsearchConfig
	Clickhouse    ClickhouseConfig
	KMS           KMSConfig
	Bucketing     BucketingConfig
	JWT           JWTConfig
	Session       SessionConfig
}

type ServerConfig struct {
	Port         string
	TLSPort      string
	EnableTLS    bool
	AutoCert     bool
	Domain       string
	CertFile     string
	KeyFile      string
	AutoCertDir  string
	Email        string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	// AllowedOrigins feeds the CORS middleware.
	AllowedOrigins []string
}

type LoggingConfig struct {
	Level  string
	Format string
}

type RedisConfig struct {
	URL         string
	Password    string
	DB          int
	PoolSize    int
	TLSCAFile   string
	TLSCertFile string
	TLSKeyFile  string
}

type ScyllaConfig struct {
	Nodes        []string
	Keyspace     string
	Username     string
	Password     string
	EnableTLS    bool
	CAPath       string
	CertPath     string
	KeyPath      string
	EnsureSchema bool
}

type KafkaConfig struct {
	Enabled            bool
	Brokers            []string
	SessionEventsTopic string
}

type ElasticsearchConfig struct {
	Enabled            bool
	URL                string
	Username           string
	Password           string
	SessionEventsIndex string
}

type ClickhouseConfig struct {
	Enabled  bool
	URL      string
	Username string
	Password string
	Database string
	CAFile   string
}

type KMSConfig struct {
	Enabled bool
	KeyID   string
	Region  string
	// LocalMasterKey (base64, 32 bytes) wraps data keys when KMS is disabled.
	LocalMasterKey string
}

type BucketingConfig struct {
	EmployerBuckets int
}

type JWTConfig struct {
	Secret     string
	Issuer     string
	Audience   string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// SessionConfig controls the employer session cache.
type SessionConfig struct {
	TTL time.Duration
	// SealPayloads envelope-encrypts cached session payloads at rest.
	SealPayloads     bool
	PinMaxAttempts   int
	PinAttemptTTL    time.Duration
	PinLockout       time.Duration
	OperationTimeout time.Duration
}

// LoadConfig reads an optional .env file and then the process environment.
func LoadConfig() (*Config, error) {
	// missing .env is fine, the environment may be fully populated already
	_ = godotenv.Load()

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			TLSPort:        getEnv("TLS_PORT", "8443"),
			EnableTLS:      getEnvBool("ENABLE_TLS", false),
			AutoCert:       getEnvBool("AUTO_CERT", false),
			Domain:         getEnv("DOMAIN", ""),
			CertFile:       getEnv("TLS_CERT_FILE", ""),
			KeyFile:        getEnv("TLS_KEY_FILE", ""),
			AutoCertDir:    getEnv("AUTO_CERT_DIR", "./certs"),
			Email:          getEnv("ACME_EMAIL", ""),
			ReadTimeout:    getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:   getEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:    getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			AllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Redis: RedisConfig{
			URL:         getEnv("REDIS_URL", "redis://localhost:6379/0"),
			Password:    getEnv("REDIS_PASSWORD", ""),
			DB:          getEnvInt("REDIS_DB", 0),
			PoolSize:    getEnvInt("REDIS_POOL_SIZE", 50),
			TLSCAFile:   getEnv("REDIS_TLS_CA_FILE", "/app/certs/ca.crt"),
			TLSCertFile: getEnv("REDIS_TLS_CERT_FILE", "/app/certs/redis.crt"),
			TLSKeyFile:  getEnv("REDIS_TLS_KEY_FILE", "/app/certs/redis.key"),
		},
		Scylla: ScyllaConfig{
			Nodes:        getEnvList("SCYLLA_NODES", []string{"localhost:9042"}),
			Keyspace:     getEnv("SCYLLA_KEYSPACE", "identity"),
			Username:     getEnv("SCYLLA_USERNAME", ""),
			Password:     getEnv("SCYLLA_PASSWORD", ""),
			EnableTLS:    getEnvBool("SCYLLA_TLS", false),
			CAPath:       getEnv("SCYLLA_CA_PATH", "/root/certs/ca.pem"),
			CertPath:     getEnv("SCYLLA_CERT_PATH", "/root/certs/server.pem"),
			KeyPath:      getEnv("SCYLLA_KEY_PATH", "/root/certs/server.key"),
			EnsureSchema: getEnvBool("SCYLLA_ENSURE_SCHEMA", false),
		},
		Kafka: KafkaConfig{
			Enabled:            getEnvBool("KAFKA_ENABLED", false),
			Brokers:            getEnvList("KAFKA_BROKERS", []string{"localhost:9092"}),
			SessionEventsTopic: getEnv("KAFKA_SESSION_EVENTS_TOPIC", "employer-session-events"),
		},
		Elasticsearch: ElasticsearchConfig{
			Enabled:            getEnvBool("ELASTICSEARCH_ENABLED", false),
			URL:                getEnv("ELASTICSEARCH_URL", "http://localhost:9200"),
			Username:           getEnv("ELASTICSEARCH_USERNAME", ""),
			Password:           getEnv("ELASTICSEARCH_PASSWORD", ""),
			SessionEventsIndex: getEnv("ELASTICSEARCH_SESSION_EVENTS_INDEX", "employer-session-events"),
		},
		Clickhouse: ClickhouseConfig{
			Enabled:  getEnvBool("CLICKHOUSE_ENABLED", false),
			URL:      getEnv("CLICKHOUSE_URL", "tcp://localhost:9000"),
			Username: getEnv("CLICKHOUSE_USERNAME", "default"),
			Password: getEnv("CLICKHOUSE_PASSWORD", ""),
			Database: getEnv("CLICKHOUSE_DATABASE", "identity"),
			CAFile:   getEnv("CLICKHOUSE_CA_FILE", ""),
		},
		KMS: KMSConfig{
			Enabled:        getEnvBool("KMS_ENABLED", false),
			KeyID:          getEnv("KMS_KEY_ID", ""),
			Region:         getEnv("AWS_REGION", "ap-south-1"),
			LocalMasterKey: getEnv("LOCAL_SEAL_KEY", ""),
		},
		Bucketing: BucketingConfig{
			EmployerBuckets: getEnvInt("EMPLOYER_BUCKETS", 64),
		},
		JWT: JWTConfig{
			Secret:     getEnv("JWT_SECRET", ""),
			Issuer:     getEnv("JWT_ISSUER", "identity-service"),
			Audience:   getEnv("JWT_AUDIENCE", "pos-clients"),
			AccessTTL:  getEnvDuration("JWT_ACCESS_TTL", 24*time.Hour),
			RefreshTTL: getEnvDuration("JWT_REFRESH_TTL", 7*24*time.Hour),
		},
		Session: SessionConfig{
			TTL:              getEnvDuration("SESSION_TTL", 24*time.Hour),
			SealPayloads:     getEnvBool("SESSION_SEAL_PAYLOADS", false),
			PinMaxAttempts:   getEnvInt("PIN_MAX_ATTEMPTS", 5),
			PinAttemptTTL:    getEnvDuration("PIN_ATTEMPT_TTL", 15*time.Minute),
			PinLockout:       getEnvDuration("PIN_LOCKOUT", 15*time.Minute),
			OperationTimeout: getEnvDuration("SESSION_OPERATION_TIMEOUT", 5*time.Second),
		},
	}

	if cfg.JWT.Secret == "" && !cfg.IsProduction() {
		cfg.JWT.Secret = "dev-only-jwt-secret-change-me"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings that would otherwise fail at first use.
func (c *Config) Validate() error {
	var errs []error
	if c.JWT.Secret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	} else if c.IsProduction() && len(c.JWT.Secret) < 32 {
		errs = append(errs, errors.New("JWT_SECRET must be at least 32 bytes in production"))
	}
	if c.Session.TTL <= 0 {
		errs = append(errs, fmt.Errorf("SESSION_TTL must be positive, got %s", c.Session.TTL))
	}
	if c.Session.PinMaxAttempts < 0 {
		errs = append(errs, errors.New("PIN_MAX_ATTEMPTS must not be negative"))
	}
	if c.Bucketing.EmployerBuckets <= 0 {
		errs = append(errs, errors.New("EMPLOYER_BUCKETS must be positive"))
	}
	if c.Session.SealPayloads && c.KMS.Enabled && c.KMS.KeyID == "" {
		errs = append(errs, errors.New("KMS_KEY_ID is required when KMS is enabled"))
	}
	if len(c.Scylla.Nodes) == 0 {
		errs = append(errs, errors.New("SCYLLA_NODES is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// GetServerAddress returns the listen address for the active scheme.
func (c *Config) GetServerAddress() string {
	if c.Server.EnableTLS {
		return ":" + c.Server.TLSPort
	}
	return ":" + c.Server.Port
}

func getEnv(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return v
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if v, err := strconv.ParseBool(getEnv(key, "")); err == nil {
		return v
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if v, err := time.ParseDuration(getEnv(key, "")); err == nil {
		return v
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
