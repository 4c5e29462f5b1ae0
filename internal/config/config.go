package config

import (
	"fmt"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"ovotrack/server/internal/models"
)

// Store drivers
const (
	StoreBadger   = "badger"
	StorePostgres = "postgres"
)

type Config struct {
	ServerPort  string
	GRPCPort    string
	Environment string
	LogLevel    string

	StoreDriver     string
	BadgerPath      string
	BadgerInMemory  bool
	DatabaseURL     string
	StoreMaxRetries int

	RedisURL           string
	RedisSentinelAddrs []string
	RedisMasterName    string

	KafkaBrokers  []string
	KafkaTopic    string
	KafkaUsername string
	KafkaPassword string
	KafkaCACert   string

	JWTSecret string

	// Plant time zone; voucher dates and daily sequences follow it
	PlantTimezone  string
	GramsPerUnit   decimal.Decimal
	WasteRounding  models.WasteRounding
	DirtySkus      []string
	Skus           []models.SkuDefinition
	ReconBatchSize int
}

// Load reads .env (when present), the optional CONFIG_FILE and the environment.
// Environment variables win over the file.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if file := os.Getenv("CONFIG_FILE"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", file, err)
		}
	}

	cfg, err := fromViper(v)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", "8080")
	v.SetDefault("GRPC_PORT", "9090")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("STORE_DRIVER", StoreBadger)
	v.SetDefault("BADGER_PATH", "./data/badger")
	v.SetDefault("BADGER_IN_MEMORY", false)
	v.SetDefault("STORE_MAX_RETRIES", 5)
	v.SetDefault("REDIS_MASTER_NAME", "mymaster")
	v.SetDefault("KAFKA_TOPIC", "ovotrack-stock-events")
	v.SetDefault("JWT_SECRET", "your-secret-key-change-in-production")
	v.SetDefault("PLANT_TIMEZONE", "America/Lima")
	v.SetDefault("GRAMS_PER_UNIT", "60")
	v.SetDefault("WASTE_ROUNDING", string(models.WasteRoundNearest))
	v.SetDefault("DIRTY_SKUS", "BLA MAN,COL MAN")
	v.SetDefault("RECON_BATCH_SIZE", 400)
}

func fromViper(v *viper.Viper) (*Config, error) {
	grams, err := decimal.NewFromString(v.GetString("GRAMS_PER_UNIT"))
	if err != nil {
		return nil, fmt.Errorf("invalid GRAMS_PER_UNIT: %w", err)
	}
	rounding, err := models.ParseWasteRounding(v.GetString("WASTE_ROUNDING"))
	if err != nil {
		return nil, fmt.Errorf("invalid WASTE_ROUNDING: %w", err)
	}

	var skus []models.SkuDefinition
	if v.IsSet("skus") {
		if err := v.UnmarshalKey("skus", &skus); err != nil {
			return nil, fmt.Errorf("invalid skus section: %w", err)
		}
	}

	return &Config{
		ServerPort:         v.GetString("PORT"),
		GRPCPort:           v.GetString("GRPC_PORT"),
		Environment:        v.GetString("ENV"),
		LogLevel:           v.GetString("LOG_LEVEL"),
		StoreDriver:        strings.ToLower(v.GetString("STORE_DRIVER")),
		BadgerPath:         v.GetString("BADGER_PATH"),
		BadgerInMemory:     v.GetBool("BADGER_IN_MEMORY"),
		DatabaseURL:        resolveDatabaseURL(v),
		StoreMaxRetries:    v.GetInt("STORE_MAX_RETRIES"),
		RedisURL:           firstNonEmpty(v.GetString("REDIS_URL"), v.GetString("REDISCLOUD_URL")),
		RedisSentinelAddrs: splitList(v.GetString("REDIS_SENTINEL_ADDRS")),
		RedisMasterName:    v.GetString("REDIS_MASTER_NAME"),
		KafkaBrokers:       splitList(v.GetString("KAFKA_BROKERS")),
		KafkaTopic:         v.GetString("KAFKA_TOPIC"),
		KafkaUsername:      v.GetString("KAFKA_USERNAME"),
		KafkaPassword:      v.GetString("KAFKA_PASSWORD"),
		KafkaCACert:        v.GetString("KAFKA_CA_CERT"),
		JWTSecret:          v.GetString("JWT_SECRET"),
		PlantTimezone:      v.GetString("PLANT_TIMEZONE"),
		GramsPerUnit:       grams,
		WasteRounding:      rounding,
		DirtySkus:          splitList(v.GetString("DIRTY_SKUS")),
		Skus:               skus,
		ReconBatchSize:     v.GetInt("RECON_BATCH_SIZE"),
	}, nil
}

// resolveDatabaseURL checks DATABASE_URL, POSTGRES_URL, then builds a URL from PG* parts
func resolveDatabaseURL(v *viper.Viper) string {
	if url := firstNonEmpty(v.GetString("DATABASE_URL"), v.GetString("POSTGRES_URL")); url != "" {
		return url
	}
	host := v.GetString("PGHOST")
	if host == "" {
		return ""
	}
	port := firstNonEmpty(v.GetString("PGPORT"), "5432")
	user := firstNonEmpty(v.GetString("PGUSER"), "postgres")
	name := firstNonEmpty(v.GetString("PGDATABASE"), "ovotrack")
	if password := v.GetString("PGPASSWORD"); password != "" {
		return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", user, password, host, port, name)
	}
	return fmt.Sprintf("postgres://%s@%s:%s/%s?sslmode=disable", user, host, port, name)
}

// Validate checks the combinations Load cannot default
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case StoreBadger:
		if !c.BadgerInMemory && c.BadgerPath == "" {
			return fmt.Errorf("BADGER_PATH is required when BADGER_IN_MEMORY is false")
		}
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres store")
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	if _, err := time.LoadLocation(c.PlantTimezone); err != nil {
		return fmt.Errorf("invalid PLANT_TIMEZONE: %w", err)
	}
	if !c.GramsPerUnit.IsPositive() {
		return fmt.Errorf("GRAMS_PER_UNIT must be positive")
	}
	if c.ReconBatchSize <= 0 {
		return fmt.Errorf("RECON_BATCH_SIZE must be positive")
	}
	if len(c.KafkaBrokers) > 0 && c.KafkaTopic == "" {
		return fmt.Errorf("KAFKA_TOPIC is required when KAFKA_BROKERS is set")
	}
	return nil
}

// Location returns the plant time zone
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.PlantTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// IsProduction reports whether ENV is production
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
