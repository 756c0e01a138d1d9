// config/config.go
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type ServerConfig struct {
	Addr           string
	AllowedOrigins string
	APIToken       string // optional bearer token; empty disables the check
}

type DatabaseConfig struct {
	DSN string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type LedgerConfig struct {
	RPCURL          string
	ContractAddress string
	ConfirmTimeout  time.Duration
	PollInterval    time.Duration
	ReadsPerSecond  float64
	SyncInterval    time.Duration
}

type BlobConfig struct {
	Provider string // "pinata" or "s3"

	PinataBaseURL   string
	PinataJWT       string
	PinataAPIKey    string
	PinataAPISecret string

	S3Endpoint        string
	S3Region          string
	S3Bucket          string
	S3AccessKeyID     string
	S3AccessKeySecret string
}

type AccessConfig struct {
	ReadTimeout       time.Duration
	ReadAttempts      int
	MaxReads          int
	OwnerWorkers      int
	ReconcileInterval time.Duration
}

type RecordsConfig struct {
	StrictAmounts bool
}

type LogConfig struct {
	Level  string
	Format string
}

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Ledger   LedgerConfig
	Blob     BlobConfig
	Access   AccessConfig
	Records  RecordsConfig
	Log      LogConfig
}

// LoadDotEnv loads a .env file into the process environment. A missing file
// is not an error; it reports whether one was found.
func LoadDotEnv() bool {
	return godotenv.Load() == nil
}

// Load reads the configuration from the environment, applying defaults.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Addr:           getEnv("LISTEN_ADDR", ":5000"),
			AllowedOrigins: getEnv("ALLOWED_ORIGINS", "http://localhost:3000"),
			APIToken:       os.Getenv("API_TOKEN"),
		},
		Database: DatabaseConfig{
			DSN: os.Getenv("DATABASE_URL"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       getInt("REDIS_DB", 0),
		},
		Ledger: LedgerConfig{
			RPCURL:          os.Getenv("LEDGER_RPC_URL"),
			ContractAddress: os.Getenv("LEDGER_CONTRACT_ADDRESS"),
			ConfirmTimeout:  getDuration("LEDGER_CONFIRM_TIMEOUT", 2*time.Minute),
			PollInterval:    getDuration("LEDGER_POLL_INTERVAL", 2*time.Second),
			ReadsPerSecond:  getFloat("LEDGER_READS_PER_SECOND", 20),
			SyncInterval:    getDuration("LEDGER_SYNC_INTERVAL", 30*time.Second),
		},
		Blob: BlobConfig{
			Provider:          strings.ToLower(getEnv("BLOB_PROVIDER", "pinata")),
			PinataBaseURL:     getEnv("PINATA_BASE_URL", "https://api.pinata.cloud"),
			PinataJWT:         os.Getenv("PINATA_JWT"),
			PinataAPIKey:      os.Getenv("PINATA_API_KEY"),
			PinataAPISecret:   os.Getenv("PINATA_SECRET_API_KEY"),
			S3Endpoint:        os.Getenv("S3_ENDPOINT"),
			S3Region:          getEnv("S3_REGION", "auto"),
			S3Bucket:          os.Getenv("S3_BUCKET_NAME"),
			S3AccessKeyID:     os.Getenv("S3_ACCESS_KEY_ID"),
			S3AccessKeySecret: os.Getenv("S3_ACCESS_KEY_SECRET"),
		},
		Access: AccessConfig{
			ReadTimeout:       getDuration("RECONCILE_READ_TIMEOUT", 3*time.Second),
			ReadAttempts:      getInt("RECONCILE_READ_ATTEMPTS", 3),
			MaxReads:          getInt("RECONCILE_MAX_CONCURRENT_READS", 8),
			OwnerWorkers:      getInt("RECONCILE_OWNER_WORKERS", 4),
			ReconcileInterval: getDuration("RECONCILE_INTERVAL", 5*time.Minute),
		},
		Records: RecordsConfig{
			StrictAmounts: getBool("RECORDS_STRICT_AMOUNTS", false),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}
	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	var errs []error
	if c.Database.DSN == "" {
		errs = append(errs, errors.New("DATABASE_URL environment variable not set"))
	}
	if c.Ledger.RPCURL == "" {
		errs = append(errs, errors.New("LEDGER_RPC_URL environment variable not set"))
	}
	if c.Ledger.ContractAddress == "" {
		errs = append(errs, errors.New("LEDGER_CONTRACT_ADDRESS environment variable not set"))
	}
	switch c.Blob.Provider {
	case "pinata", "s3":
	default:
		errs = append(errs, errors.New("BLOB_PROVIDER must be pinata or s3"))
	}
	return errors.Join(errs...)
}

// Origins splits AllowedOrigins and trims each entry.
func (s ServerConfig) Origins() string {
	parts := strings.Split(s.AllowedOrigins, ",")
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return strings.Join(parts, ",")
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}

func getFloat(key string, fallback float64) float64 {
	if v, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return v
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	if v, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(key)); err == nil && v > 0 {
		return v
	}
	return fallback
}
