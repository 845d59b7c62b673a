package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"
)

// Duration accepts both "10s" style strings and integer nanoseconds.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		d.Duration = time.Duration(value)
		return nil
	case string:
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		d.Duration = parsed
		return nil
	default:
		return errors.New("invalid duration")
	}
}

// JsonConfig mirrors Config for JSON files. Pointer fields distinguish
// "absent" from zero, so a file only overrides what it names.
type JsonConfig struct {
	DatabaseDSN     *string   `json:"database_dsn"`
	Storage         *string   `json:"storage"`
	LocalStorageDir *string   `json:"local_storage_dir"`
	S3User          *string   `json:"s3_user"`
	S3Password      *string   `json:"s3_password"`
	S3Bucket        *string   `json:"s3_bucket"`
	S3Region        *string   `json:"s3_region"`
	S3Endpoint      *string   `json:"s3_endpoint"`
	S3UsePathStyle  *bool     `json:"s3_use_path_style"`
	MasterKeyHex    *string   `json:"master_key"`
	Cipher          *string   `json:"cipher"`
	RedisAddr       *string   `json:"redis_addr"`
	RedisPassword   *string   `json:"redis_password"`
	RedisDB         *int      `json:"redis_db"`
	LockTTL         *Duration `json:"lock_ttl"`
	TokenBytes      *int      `json:"token_bytes"`
	ValidateRate    *float64  `json:"validate_rate"`
	ValidateBurst   *int      `json:"validate_burst"`
	LogFormat       *string   `json:"log_format"`
	LogLevel        *string   `json:"log_level"`
	MetricsAddr     *string   `json:"metrics_addr"`
}

func set[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

// parseJson overlays the file at path onto config. An empty path loads nothing.
func parseJson(config *Config, path string) error {
	if path == "" {
		return nil
	}

	file, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	set(&config.DatabaseDSN, c.DatabaseDSN)
	set(&config.Storage, c.Storage)
	set(&config.LocalStorageDir, c.LocalStorageDir)
	set(&config.S3User, c.S3User)
	set(&config.S3Password, c.S3Password)
	set(&config.S3Bucket, c.S3Bucket)
	set(&config.S3Region, c.S3Region)
	set(&config.S3Endpoint, c.S3Endpoint)
	set(&config.S3UsePathStyle, c.S3UsePathStyle)
	set(&config.MasterKeyHex, c.MasterKeyHex)
	set(&config.Cipher, c.Cipher)
	set(&config.RedisAddr, c.RedisAddr)
	set(&config.RedisPassword, c.RedisPassword)
	set(&config.RedisDB, c.RedisDB)
	if c.LockTTL != nil {
		config.LockTTL = c.LockTTL.Duration
	}
	set(&config.TokenBytes, c.TokenBytes)
	set(&config.ValidateRate, c.ValidateRate)
	set(&config.ValidateBurst, c.ValidateBurst)
	set(&config.LogFormat, c.LogFormat)
	set(&config.LogLevel, c.LogLevel)
	set(&config.MetricsAddr, c.MetricsAddr)
	return nil
}
