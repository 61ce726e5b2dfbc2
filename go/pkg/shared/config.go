package shared

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// KafkaConfig holds broker and topic details.
type KafkaConfig struct {
	Brokers      string `envconfig:"KAFKA_BROKER" default:"localhost:9092"`
	GroupID      string `envconfig:"KAFKA_GROUP" default:"basis-tracker"`
	ProducerAcks string `envconfig:"KAFKA_ACKS" default:"one"`
	LingerMS     int    `envconfig:"KAFKA_LINGER_MS" default:"5"`
	BatchBytes   int    `envconfig:"KAFKA_BATCH_BYTES" default:"1048576"` // 1MB
	StartOffset  string `envconfig:"KAFKA_START_OFFSET" default:"latest"`
	ClientID     string `envconfig:"KAFKA_CLIENT_ID" default:"basis-tracker"`
}

func (k KafkaConfig) BrokerList() []string {
	parts := strings.Split(k.Brokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{"localhost:9092"}
	}
	return out
}

// PostgresConfig holds DB connection details. Enabled gates every storage path.
type PostgresConfig struct {
	Enabled  bool   `envconfig:"USE_TIMESCALE" default:"false"`
	Host     string `envconfig:"POSTGRES_HOST" default:"localhost"`
	Port     int    `envconfig:"POSTGRES_PORT" default:"5432"`
	Database string `envconfig:"POSTGRES_DB" default:"basis"`
	User     string `envconfig:"POSTGRES_USER" default:"postgres"`
	Password string `envconfig:"POSTGRES_PASSWORD" default:"postgres"`
	PoolMax  int    `envconfig:"PG_POOL_MAX" default:"8"`
}

// MetricsConfig controls Prometheus listener.
type MetricsConfig struct {
	Port int `envconfig:"METRICS_PORT" default:"9000"`
}

// LogConfig controls the zap logger and optional file rotation.
type LogConfig struct {
	Level      string `envconfig:"LOG_LEVEL" default:"info"`
	File       string `envconfig:"LOG_FILE"`
	MaxSizeMB  int    `envconfig:"LOG_MAX_SIZE_MB" default:"100"`
	MaxAgeDays int    `envconfig:"LOG_MAX_AGE_DAYS" default:"7"`
}

// BinanceConfig selects mainnet or testnet endpoints. Explicit URLs win over Testnet.
type BinanceConfig struct {
	Testnet       bool   `envconfig:"BINANCE_TESTNET" default:"false"`
	SpotREST      string `envconfig:"BINANCE_SPOT_REST"`
	FuturesREST   string `envconfig:"BINANCE_FUTURES_REST"`
	SpotStream    string `envconfig:"BINANCE_SPOT_WS"`
	FuturesStream string `envconfig:"BINANCE_FUTURES_WS"`
}

// BatchConfig holds the persistence flush thresholds.
type BatchConfig struct {
	Size       int           `envconfig:"BATCH_SIZE" default:"200"`
	FlushEvery time.Duration `envconfig:"BATCH_FLUSH_EVERY" default:"250ms"`
}

// Load fills the given struct from environment, reading .env first when present.
func Load[T any](prefix string) (T, error) {
	var cfg T
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return cfg, err
	}
	err := envconfig.Process(prefix, &cfg)
	return cfg, err
}
