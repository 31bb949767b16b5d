package config

import (
	"os"
	"path/filepath"
	"testing"

	"file-service/internal/security"

	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, contents string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "storage.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	t.Setenv("CONFIG_PATH", path)
}

func TestLoadAppliesDefaults(t *testing.T) {
	writeConfigFile(t, "storage:\n  provider: local\n")

	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, ProviderLocal, cfg.Storage.Provider)
	require.Equal(t, "./uploads", cfg.Storage.Local.UploadDir)
	require.Equal(t, "/static/uploads", cfg.Storage.Local.BaseURL)
	require.Equal(t, int64(DefaultMaxFileSize), cfg.MaxFileSizeBytes)
	require.Equal(t, 80, cfg.Processing.CompressionQuality)
	require.Equal(t, 1920, cfg.Processing.MaxWidth)
	require.Equal(t, 1080, cfg.Processing.MaxHeight)
	require.Equal(t, 200, cfg.Processing.ThumbnailWidth)
	require.Equal(t, 200, cfg.Processing.ThumbnailHeight)
	require.NotEmpty(t, cfg.Processing.WatermarkText)
	require.Equal(t, security.AlgorithmAES256GCM, cfg.Security.EncryptionAlgorithm)
}

func TestLoadDefaultsProviderToLocal(t *testing.T) {
	writeConfigFile(t, "validation:\n  max_file_size: 10MB\n")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ProviderLocal, cfg.Storage.Provider)
	require.Equal(t, int64(10*1024*1024), cfg.MaxFileSizeBytes)
}

func TestLoadReadsMinioSettings(t *testing.T) {
	writeConfigFile(t, `
storage:
  provider: minio
  minio:
    endpoint: localhost:9000
    access_key: minioadmin
    secret_key: minioadmin
    bucket: files
    use_ssl: false
    server_side_encryption: true
`)

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ProviderMinio, cfg.Storage.Provider)
	require.Equal(t, "localhost:9000", cfg.Storage.Minio.Endpoint)
	require.Equal(t, "files", cfg.Storage.Minio.Bucket)
	require.False(t, cfg.Storage.Minio.UseSSL)
	require.True(t, cfg.Storage.Minio.ServerSideEncryption)
}

func TestLoadRejectsUnknownProvider(t *testing.T) {
	writeConfigFile(t, "storage:\n  provider: tape\n")

	_, err := Load()
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown storage provider")
}

func TestLoadRejectsUnknownAlgorithm(t *testing.T) {
	writeConfigFile(t, "security:\n  encryption_algorithm: rot13\n")

	_, err := Load()
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown encryption algorithm")
}

func TestLoadRejectsBadMaxFileSize(t *testing.T) {
	writeConfigFile(t, "validation:\n  max_file_size: huge\n")

	_, err := Load()
	require.Error(t, err)
	require.Contains(t, err.Error(), "max_file_size")
}

func TestLoadBringsDotenvIntoEnvironment(t *testing.T) {
	writeConfigFile(t, "storage:\n  provider: local\n")

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("DB_HOST=registry.internal\n"), 0o644))
	t.Chdir(dir)

	// Register a restore for the variable, then clear it so the value can
	// only come from the .env file
	t.Setenv("DB_HOST", "")
	os.Unsetenv("DB_HOST")

	_, err := Load()
	require.NoError(t, err)
	require.Equal(t, "registry.internal", os.Getenv("DB_HOST"))
}

func TestEncryptionKeyEnvOverride(t *testing.T) {
	writeConfigFile(t, "security:\n  encryption_key: from-file\n")
	t.Setenv("FILE_ENCRYPTION_KEY", "from-env")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "from-env", cfg.Security.EncryptionKey)
}

func TestLoadMissingConfigFile(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))

	_, err := Load()
	require.Error(t, err)
}
