package config

import (
	"fmt"
	"log"
	"os"

	"file-service/internal/security"
	"file-service/internal/utils"

	"github.com/joho/godotenv"
	pkgConfig "github.com/kerimovok/go-pkg-utils/config"
	"gopkg.in/yaml.v3"
)

// Storage provider identifiers. The backend is selected exactly once at
// startup; there is no runtime re-detection or fallback between providers.
const (
	ProviderLocal = "local"
	ProviderMinio = "minio"
)

// DefaultMaxFileSize is applied when validation.max_file_size is unset (50 MiB).
const DefaultMaxFileSize = 50 * 1024 * 1024

// LocalStorageConfig holds local filesystem storage settings
type LocalStorageConfig struct {
	UploadDir string `yaml:"upload_dir"`
	BaseURL   string `yaml:"base_url"`
}

// MinioStorageConfig holds S3-compatible object storage settings
type MinioStorageConfig struct {
	Endpoint             string `yaml:"endpoint"`
	Region               string `yaml:"region"`
	AccessKey            string `yaml:"access_key"`
	SecretKey            string `yaml:"secret_key"`
	Bucket               string `yaml:"bucket"`
	UseSSL               bool   `yaml:"use_ssl"`
	ServerSideEncryption bool   `yaml:"server_side_encryption"`
	PublicBase           string `yaml:"public_base"`
}

// StorageConfig selects and configures the physical storage backend
type StorageConfig struct {
	Provider string             `yaml:"provider"`
	Local    LocalStorageConfig `yaml:"local"`
	Minio    MinioStorageConfig `yaml:"minio"`
}

// ValidationConfig holds upload validation policy
type ValidationConfig struct {
	// MaxFileSize accepts either raw bytes ("52428800") or a
	// human-readable size ("50MB")
	MaxFileSize       string   `yaml:"max_file_size"`
	AllowedMimeTypes  []string `yaml:"allowed_mime_types"`
	AllowedExtensions []string `yaml:"allowed_extensions"`
	BlockedExtensions []string `yaml:"blocked_extensions"`
}

// ProcessingConfig holds image processing settings
type ProcessingConfig struct {
	CompressImages     bool   `yaml:"compress_images"`
	CompressionQuality int    `yaml:"compression_quality"`
	MaxWidth           int    `yaml:"max_width"`
	MaxHeight          int    `yaml:"max_height"`
	GenerateThumbnails bool   `yaml:"generate_thumbnails"`
	ThumbnailWidth     int    `yaml:"thumbnail_width"`
	ThumbnailHeight    int    `yaml:"thumbnail_height"`
	Watermark          bool   `yaml:"watermark"`
	WatermarkText      string `yaml:"watermark_text"`
}

// SecurityConfig holds scanning and encryption settings
type SecurityConfig struct {
	VirusScanning       bool   `yaml:"virus_scanning"`
	ContentValidation   bool   `yaml:"content_validation"`
	Encryption          bool   `yaml:"encryption"`
	EncryptionAlgorithm string `yaml:"encryption_algorithm"`
	// EncryptionKey is overridden by FILE_ENCRYPTION_KEY when set, so the
	// passphrase never has to live in the config file
	EncryptionKey string `yaml:"encryption_key"`
}

// Config is the complete, immutable service configuration. It is built once
// by Load and handed to each component's constructor; nothing mutates it
// afterwards.
type Config struct {
	Storage    StorageConfig    `yaml:"storage"`
	Validation ValidationConfig `yaml:"validation"`
	Processing ProcessingConfig `yaml:"processing"`
	Security   SecurityConfig   `yaml:"security"`

	// MaxFileSizeBytes is the parsed form of Validation.MaxFileSize
	MaxFileSizeBytes int64 `yaml:"-"`
}

// Load reads the configuration from config/storage.yaml (or CONFIG_PATH) and
// resolves defaults. A .env file, if present, is loaded first so environment
// overrides are visible.
func Load() (*Config, error) {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		if pkgConfig.GetEnv("GO_ENV") != "production" {
			log.Println("Warning: Failed to load .env file")
		}
	}

	path := pkgConfig.GetEnv("CONFIG_PATH")
	if path == "" {
		path = "config/storage.yaml"
	}

	// Read config file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse YAML
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}

	log.Printf("Configuration loaded successfully from %s", path)
	return &cfg, nil
}

// applyDefaults fills unset fields and resolves derived values.
func (c *Config) applyDefaults() error {
	if c.Storage.Provider == "" {
		c.Storage.Provider = ProviderLocal
	}
	if c.Storage.Provider != ProviderLocal && c.Storage.Provider != ProviderMinio {
		return fmt.Errorf("unknown storage provider: %s", c.Storage.Provider)
	}
	if c.Storage.Local.UploadDir == "" {
		c.Storage.Local.UploadDir = "./uploads"
	}
	if c.Storage.Local.BaseURL == "" {
		c.Storage.Local.BaseURL = "/static/uploads"
	}

	if c.Validation.MaxFileSize == "" {
		c.MaxFileSizeBytes = DefaultMaxFileSize
	} else {
		size, err := utils.ParseSizeString(c.Validation.MaxFileSize)
		if err != nil {
			return fmt.Errorf("invalid validation.max_file_size: %w", err)
		}
		c.MaxFileSizeBytes = size
	}

	if c.Processing.CompressionQuality <= 0 || c.Processing.CompressionQuality > 100 {
		c.Processing.CompressionQuality = 80
	}
	if c.Processing.MaxWidth <= 0 {
		c.Processing.MaxWidth = 1920
	}
	if c.Processing.MaxHeight <= 0 {
		c.Processing.MaxHeight = 1080
	}
	if c.Processing.ThumbnailWidth <= 0 {
		c.Processing.ThumbnailWidth = 200
	}
	if c.Processing.ThumbnailHeight <= 0 {
		c.Processing.ThumbnailHeight = 200
	}
	if c.Processing.WatermarkText == "" {
		c.Processing.WatermarkText = "Processed by file-service"
	}

	if c.Security.EncryptionAlgorithm == "" {
		c.Security.EncryptionAlgorithm = security.AlgorithmAES256GCM
	}
	if c.Security.EncryptionAlgorithm != security.AlgorithmAES256GCM && c.Security.EncryptionAlgorithm != security.AlgorithmAES256CBC {
		return fmt.Errorf("unknown encryption algorithm: %s", c.Security.EncryptionAlgorithm)
	}
	if key := pkgConfig.GetEnv("FILE_ENCRYPTION_KEY"); key != "" {
		c.Security.EncryptionKey = key
	}

	return nil
}
