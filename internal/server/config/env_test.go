package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_parseEnv(t *testing.T) {
	t.Setenv("VAULT_STORAGE", "s3")
	t.Setenv("VAULT_REDIS_DB", "3")
	t.Setenv("VAULT_LOCK_TTL", "250ms")
	t.Setenv("VAULT_VALIDATE_RATE", "0.5")
	t.Setenv("VAULT_S3_USE_PATH_STYLE", "false")

	var cfg Config
	cfg.LoadDefaults()
	require.NoError(t, parseEnv(&cfg, ""))

	assert.Equal(t, "s3", cfg.Storage)
	assert.Equal(t, 3, cfg.RedisDB)
	assert.Equal(t, 250*time.Millisecond, cfg.LockTTL)
	assert.Equal(t, 0.5, cfg.ValidateRate)
	assert.False(t, cfg.S3UsePathStyle)
}

func Test_parseEnv_DotenvDoesNotOverride(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("VAULT_S3_BUCKET=from-file\nVAULT_S3_REGION=from-file\n"), 0o600))

	t.Setenv("VAULT_S3_REGION", "from-env")
	// registered for cleanup; godotenv sets it for real
	t.Setenv("VAULT_S3_BUCKET", "")
	require.NoError(t, os.Unsetenv("VAULT_S3_BUCKET"))

	var cfg Config
	require.NoError(t, parseEnv(&cfg, envFile))
	assert.Equal(t, "from-file", cfg.S3Bucket)
	assert.Equal(t, "from-env", cfg.S3Region)
}

func Test_parseEnv_MissingFileAndBadValues(t *testing.T) {
	var cfg Config
	require.NoError(t, parseEnv(&cfg, filepath.Join(t.TempDir(), "absent.env")))

	t.Setenv("VAULT_TOKEN_BYTES", "many")
	t.Setenv("VAULT_LOCK_TTL", "forever")
	err := parseEnv(&cfg, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "VAULT_TOKEN_BYTES")
	assert.Contains(t, err.Error(), "VAULT_LOCK_TTL")
}
