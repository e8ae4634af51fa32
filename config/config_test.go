package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse([]string{"-token-secret", "s3cr3t"})
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:80", cfg.Addr)
	assert.Equal(t, "qforms.sqlite", cfg.DBUrl)
	assert.Equal(t, 120*time.Second, cfg.TokenTTL)
	assert.Equal(t, "s3cr3t", cfg.SessionSecret)
	assert.Equal(t, int64(32<<20), cfg.MaxUploadSize)
	assert.Equal(t, StorageFS, cfg.Storage.Backend)
	assert.Equal(t, "http://localhost:80", cfg.Url())
}

func TestParseEnvironment(t *testing.T) {
	t.Setenv("QFORMS_TOKEN_SECRET", "from-env")
	t.Setenv("QFORMS_PORT", "8080")
	t.Setenv("QFORMS_STORAGE", "s3")
	t.Setenv("QFORMS_S3_SSL", "true")

	cfg, err := Parse(nil)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.TokenSecret)
	assert.Equal(t, "0.0.0.0:8080", cfg.Addr)
	assert.Equal(t, StorageS3, cfg.Storage.Backend)
	assert.True(t, cfg.Storage.UseSSL)
	assert.Equal(t, "local-bucket-form", cfg.Storage.Bucket)
}

func TestParseFlagsOverrideEnvironment(t *testing.T) {
	t.Setenv("QFORMS_PORT", "8080")

	cfg, err := Parse([]string{"-token-secret", "x", "-port", "9090"})
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9090", cfg.Addr)
}

func TestParseErrors(t *testing.T) {
	_, err := Parse(nil)
	assert.EqualError(t, err, "missing parameter -token-secret")

	_, err = Parse([]string{"-token-secret", "x", "-storage", "ftp"})
	assert.Error(t, err)

	_, err = Parse([]string{"-token-secret", "x", "-admin-user", "root"})
	assert.Error(t, err)
}
