package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// parseEnv loads envFile (when it exists) into the process environment
// without overriding variables already set, then applies VAULT_* variables.
func parseEnv(config *Config, envFile string) error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	var errs []error
	num := func(key string, dst *int) {
		if v, ok := os.LookupEnv(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}

	str("VAULT_DATABASE_DSN", &config.DatabaseDSN)
	str("VAULT_STORAGE", &config.Storage)
	str("VAULT_LOCAL_STORAGE_DIR", &config.LocalStorageDir)
	str("VAULT_S3_USER", &config.S3User)
	str("VAULT_S3_PASSWORD", &config.S3Password)
	str("VAULT_S3_BUCKET", &config.S3Bucket)
	str("VAULT_S3_REGION", &config.S3Region)
	str("VAULT_S3_ENDPOINT", &config.S3Endpoint)
	str("VAULT_MASTER_KEY", &config.MasterKeyHex)
	str("VAULT_CIPHER", &config.Cipher)
	str("VAULT_REDIS_ADDR", &config.RedisAddr)
	str("VAULT_REDIS_PASSWORD", &config.RedisPassword)
	num("VAULT_REDIS_DB", &config.RedisDB)
	num("VAULT_TOKEN_BYTES", &config.TokenBytes)
	num("VAULT_VALIDATE_BURST", &config.ValidateBurst)
	str("VAULT_LOG_FORMAT", &config.LogFormat)
	str("VAULT_LOG_LEVEL", &config.LogLevel)
	str("VAULT_METRICS_ADDR", &config.MetricsAddr)

	if v, ok := os.LookupEnv("VAULT_S3_USE_PATH_STYLE"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("VAULT_S3_USE_PATH_STYLE: %w", err))
		} else {
			config.S3UsePathStyle = b
		}
	}
	if v, ok := os.LookupEnv("VAULT_LOCK_TTL"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("VAULT_LOCK_TTL: %w", err))
		} else {
			config.LockTTL = d
		}
	}
	if v, ok := os.LookupEnv("VAULT_VALIDATE_RATE"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("VAULT_VALIDATE_RATE: %w", err))
		} else {
			config.ValidateRate = f
		}
	}

	return errors.Join(errs...)
}
