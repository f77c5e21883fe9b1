package cfg

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

func applyEnvOverrides(cfg *Config) error {
	setStr(&cfg.Input.Path, "ROUNDTRIP_INPUT_PATH")
	setStr(&cfg.Input.Format, "ROUNDTRIP_INPUT_FORMAT")
	setStr(&cfg.Output.Path, "ROUNDTRIP_OUTPUT_PATH")
	setStr(&cfg.DuckDB.DSN, "ROUNDTRIP_DUCKDB_DSN")
	setBool(&cfg.DuckDB.Store, "ROUNDTRIP_DUCKDB_STORE")
	setStr(&cfg.Postgres.Host, "ROUNDTRIP_PG_HOST")
	setStr(&cfg.Postgres.Port, "ROUNDTRIP_PG_PORT")
	setStr(&cfg.Postgres.User, "ROUNDTRIP_PG_USER")
	setStr(&cfg.Postgres.Password, "ROUNDTRIP_PG_PASSWORD")
	setStr(&cfg.Postgres.Database, "ROUNDTRIP_PG_DATABASE")
	setStr(&cfg.Postgres.SSLMode, "ROUNDTRIP_PG_SSLMODE")
	setInt(&cfg.Matching.Workers, "ROUNDTRIP_WORKERS")
	setBool(&cfg.Matching.Strict, "ROUNDTRIP_STRICT")
	setStringSlice(&cfg.Matching.Accounts, "ROUNDTRIP_ACCOUNTS")
	setStr(&cfg.Log.Mode, "ROUNDTRIP_LOG_MODE")
	setBool(&cfg.Log.Monitor, "ROUNDTRIP_LOG_MONITOR")
	setStr(&cfg.Log.Textfile, "ROUNDTRIP_METRICS_TEXTFILE")

	if v := os.Getenv("ROUNDTRIP_CLOSE_POLICY"); v != "" {
		if err := cfg.Matching.ClosePolicy.UnmarshalText([]byte(v)); err != nil {
			return fmt.Errorf("%w: ROUNDTRIP_CLOSE_POLICY: %w", ErrInvalidConfig, err)
		}
	}
	return nil
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
