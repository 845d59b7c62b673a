package config

import (
	"github.com/spf13/pflag"
)

// Flag names shared by every vault command.
const (
	FlagConfig          = "config"
	FlagEnvFile         = "env-file"
	FlagDatabaseDSN     = "database-dsn"
	FlagStorage         = "storage"
	FlagLocalStorageDir = "storage-dir"
	FlagS3Bucket        = "s3-bucket"
	FlagS3Region        = "s3-region"
	FlagS3Endpoint      = "s3-endpoint"
	FlagMasterKey       = "master-key"
	FlagCipher          = "cipher"
	FlagRedisAddr       = "redis-addr"
	FlagLogFormat       = "log-format"
	FlagLogLevel        = "log-level"
	FlagMetricsAddr     = "metrics-addr"
)

// RegisterFlags adds the configuration flags to fs. Defaults are left
// empty: only flags the user actually sets override the lower layers.
//
//	-c, --config string     JSON config file
//	    --env-file string   dotenv file (default ".env")
//	-d, --database-dsn      PostgreSQL DSN or "memory"
//	    --storage           local or s3
//	    --master-key        KEK as 64 hex characters (prefer VAULT_MASTER_KEY)
func RegisterFlags(fs *pflag.FlagSet) {
	fs.StringP(FlagConfig, "c", "", "path to JSON config file")
	fs.String(FlagEnvFile, ".env", "path to dotenv file")
	fs.StringP(FlagDatabaseDSN, "d", "", "database DSN, or \"memory\"")
	fs.String(FlagStorage, "", "blob storage backend (local|s3)")
	fs.String(FlagLocalStorageDir, "", "local blob storage directory")
	fs.String(FlagS3Bucket, "", "S3 bucket")
	fs.String(FlagS3Region, "", "S3 region")
	fs.String(FlagS3Endpoint, "", "S3 endpoint")
	fs.String(FlagMasterKey, "", "master key, 64 hex characters")
	fs.String(FlagCipher, "", "document cipher (aes-gcm|chacha20-poly1305)")
	fs.String(FlagRedisAddr, "", "redis address for distributed ledger locks")
	fs.String(FlagLogFormat, "", "log format (json|text|zap)")
	fs.String(FlagLogLevel, "", "log level (debug|info|warn|error)")
	fs.String(FlagMetricsAddr, "", "metrics listen address")
}

func stringFlag(fs *pflag.FlagSet, name string) string {
	if fs == nil {
		return ""
	}
	v, err := fs.GetString(name)
	if err != nil {
		return ""
	}
	return v
}

// applyFlags copies every flag the user changed onto config.
func applyFlags(config *Config, fs *pflag.FlagSet) error {
	if fs == nil {
		return nil
	}

	targets := map[string]*string{
		FlagDatabaseDSN:     &config.DatabaseDSN,
		FlagStorage:         &config.Storage,
		FlagLocalStorageDir: &config.LocalStorageDir,
		FlagS3Bucket:        &config.S3Bucket,
		FlagS3Region:        &config.S3Region,
		FlagS3Endpoint:      &config.S3Endpoint,
		FlagMasterKey:       &config.MasterKeyHex,
		FlagCipher:          &config.Cipher,
		FlagRedisAddr:       &config.RedisAddr,
		FlagLogFormat:       &config.LogFormat,
		FlagLogLevel:        &config.LogLevel,
		FlagMetricsAddr:     &config.MetricsAddr,
	}

	var err error
	fs.Visit(func(f *pflag.Flag) {
		dst, ok := targets[f.Name]
		if !ok || err != nil {
			return
		}
		*dst, err = fs.GetString(f.Name)
	})
	return err
}
