package xledger

import (
	"fmt"
	"os"
	"time"
)

// Mode is the operating mode for backing-store availability.
type Mode string

const (
	// ModeRequired treats any backing-store connectivity failure at startup
	// as fatal. The production default.
	ModeRequired Mode = "required"
	// ModeDegraded (development/CI only) lets the process come up without
	// the backing store; publishing and subscribing are disabled with a
	// loud warning.
	ModeDegraded Mode = "degraded"
)

// Config is the environment-driven configuration for bus binaries.
type Config struct {
	Mode        Mode   // XLEDGER_MODE ("required" default, or "degraded")
	DatabaseURL string // XLEDGER_DATABASE_URL (required unless degraded)
	RedisAddr   string // XLEDGER_REDIS_ADDR (optional; empty = no redis broker)
	RedisDB     int    // XLEDGER_REDIS_DB (default 0)
	NATSURL     string // XLEDGER_NATS_URL (optional; empty = no nats broker)
	Producer    string // XLEDGER_PRODUCER (default hostname)

	// Dedup retention for TTL cleanup (XLEDGER_DEDUP_RETENTION, default
	// 720h; values below 720h are rejected).
	DedupRetention time.Duration

	// Backup settings for migration snapshots.
	BackupS3Bucket   string // XLEDGER_BACKUP_S3_BUCKET (enables S3 when set)
	BackupS3Endpoint string // XLEDGER_BACKUP_S3_ENDPOINT (custom endpoint for MinIO)
	BackupS3Region   string // XLEDGER_BACKUP_S3_REGION (default "us-east-1")
	BackupS3Key      string // XLEDGER_BACKUP_S3_KEY (default "xledger/backup.jsonl")
}

// LoadConfig reads configuration from the environment.
func LoadConfig() (*Config, error) {
	c := &Config{
		Mode:             Mode(envOrDefault("XLEDGER_MODE", string(ModeRequired))),
		DatabaseURL:      os.Getenv("XLEDGER_DATABASE_URL"),
		RedisAddr:        os.Getenv("XLEDGER_REDIS_ADDR"),
		NATSURL:          os.Getenv("XLEDGER_NATS_URL"),
		Producer:         envOrDefault("XLEDGER_PRODUCER", defaultProducer()),
		BackupS3Bucket:   os.Getenv("XLEDGER_BACKUP_S3_BUCKET"),
		BackupS3Endpoint: os.Getenv("XLEDGER_BACKUP_S3_ENDPOINT"),
		BackupS3Region:   envOrDefault("XLEDGER_BACKUP_S3_REGION", "us-east-1"),
		BackupS3Key:      envOrDefault("XLEDGER_BACKUP_S3_KEY", "xledger/backup.jsonl"),
	}

	switch c.Mode {
	case ModeRequired, ModeDegraded:
	default:
		return nil, fmt.Errorf("XLEDGER_MODE must be %q or %q, got %q", ModeRequired, ModeDegraded, c.Mode)
	}
	if c.Mode == ModeRequired && c.DatabaseURL == "" {
		return nil, fmt.Errorf("XLEDGER_DATABASE_URL is required (set XLEDGER_MODE=degraded for store-less development)")
	}

	if v := os.Getenv("XLEDGER_REDIS_DB"); v != "" {
		if _, err := fmt.Sscanf(v, "%d", &c.RedisDB); err != nil {
			return nil, fmt.Errorf("XLEDGER_REDIS_DB: %w", err)
		}
	}

	retentionStr := envOrDefault("XLEDGER_DEDUP_RETENTION", "720h")
	d, err := time.ParseDuration(retentionStr)
	if err != nil {
		return nil, fmt.Errorf("XLEDGER_DEDUP_RETENTION: %w", err)
	}
	if d < DefaultDedupRetention {
		return nil, fmt.Errorf("XLEDGER_DEDUP_RETENTION must be at least %s", DefaultDedupRetention)
	}
	c.DedupRetention = d

	return c, nil
}

func defaultProducer() string {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		return "xledger"
	}
	return hostname
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
