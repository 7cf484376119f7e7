// Package config builds the gateway's runtime configuration from environment
// variables, once, at startup. Components receive the typed struct (or the
// fields they need) instead of reading the environment themselves.
package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strconv"
)

// Version is reported by /status and /health; override with GATEWAY_VERSION.
const Version = "1.4.0"

const defaultIngestMaxBytes = 500 << 20 // 500 MiB

// Config is the full gateway configuration. All durations are carried in
// milliseconds as read from the environment; consumers convert once.
type Config struct {
	Port           int
	Region         string
	PublicEndpoint string
	AddrHRP        string
	Version        string
	AllowedOrigins string

	KuboAPIBase     string
	IPFSGatewayBase string
	IndexerBaseURL  string
	ChainRESTBase   string

	WalletDBPath        string
	UsageDBPath         string
	SQLiteBusyTimeoutMS int

	IngestTmpDir   string
	IngestMaxBytes int64

	KuboRequestTimeoutMS int
	KuboImportTimeoutMS  int

	KyberKeyPath string

	ViewMinBalanceULMN *big.Int // nil when unset
	WebhookURL         string
}

// Load reads the environment and validates required fields. It returns an
// error rather than exiting so main can log fatally with context.
func Load() (*Config, error) {
	cfg := &Config{
		Port:           envInt("PORT", 8787),
		Region:         envOr("REGION", "local"),
		PublicEndpoint: os.Getenv("PUBLIC_ENDPOINT"),
		AddrHRP:        envOr("ADDR_HRP", "lmn"),
		Version:        envOr("GATEWAY_VERSION", Version),
		AllowedOrigins: os.Getenv("ALLOWED_ORIGINS"),

		KuboAPIBase:     envOr("KUBO_API_BASE", "http://127.0.0.1:5001"),
		IPFSGatewayBase: envOr("IPFS_GATEWAY_BASE", "http://127.0.0.1:8080"),
		IndexerBaseURL:  envOr("INDEXER_BASE_URL", "http://127.0.0.1:7700"),
		ChainRESTBase:   envOr("CHAIN_REST_BASE_URL", "http://127.0.0.1:1317"),

		WalletDBPath:        envOr("NODE_API_WALLET_DB_PATH", "./data/wallets.db"),
		UsageDBPath:         envOr("NODE_API_USAGE_DB_PATH", "./data/usage.db"),
		SQLiteBusyTimeoutMS: envInt("NODE_API_SQLITE_BUSY_TIMEOUT_MS", 5000),

		IngestTmpDir:   envOr("INGEST_TMP_DIR", filepath.Join(os.TempDir(), "lumen-ingest")),
		IngestMaxBytes: envInt64("INGEST_MAX_BYTES", defaultIngestMaxBytes),

		KuboRequestTimeoutMS: envInt("KUBO_REQUEST_TIMEOUT_MS", 15000),
		KuboImportTimeoutMS:  envInt("KUBO_IMPORT_TIMEOUT_MS", 300000),

		KyberKeyPath: os.Getenv("KYBER_KEY_PATH"),
		WebhookURL:   os.Getenv("WEBHOOK_URL"),
	}

	if cfg.KyberKeyPath == "" {
		return nil, fmt.Errorf("required environment variable KYBER_KEY_PATH is not set")
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("PORT out of range: %d", cfg.Port)
	}
	if cfg.IngestMaxBytes <= 0 {
		return nil, fmt.Errorf("INGEST_MAX_BYTES must be positive")
	}

	if raw := os.Getenv("VIEW_MIN_BALANCE_ULMN"); raw != "" {
		v, ok := new(big.Int).SetString(raw, 10)
		if !ok || v.Sign() < 0 {
			return nil, fmt.Errorf("VIEW_MIN_BALANCE_ULMN is not a non-negative integer: %q", raw)
		}
		cfg.ViewMinBalanceULMN = v
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}
