package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for docvault.
type Config struct {
	BaseDir    string           `toml:"base_dir"`
	LogDir     string           `toml:"log_dir"`
	Store      StoreConfig      `toml:"store"`
	BlobStore  BlobStoreConfig  `toml:"blobstore"`
	Encryption EncryptionConfig `toml:"encryption"`
	Scanner    ScannerConfig    `toml:"scanner"`
	Extract    ExtractConfig    `toml:"extract"`
	Preview    PreviewConfig    `toml:"preview"`
	Pipeline   PipelineConfig   `toml:"pipeline"`
}

// StoreConfig represents configuration for the metadata store.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type StoreConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// BlobStoreConfig represents configuration for the encrypted content store.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type BlobStoreConfig struct {
	Type string `toml:"type"` // "memory", "s3", or "filesystem"

	// S3-specific fields (only used when Type == "s3")
	S3Bucket string `toml:"s3_bucket,omitempty"`
	S3Prefix string `toml:"s3_prefix,omitempty"`
	S3Region string `toml:"s3_region,omitempty"`

	// Filesystem-specific fields (only used when Type == "filesystem")
	FSRoot string `toml:"fs_root,omitempty"`
}

// EncryptionConfig holds the master key location.
type EncryptionConfig struct {
	MasterKeyPath string `toml:"master_key_path"`
}

// ScannerConfig represents configuration for the virus scanner backend.
type ScannerConfig struct {
	Type           string `toml:"type"` // "exec" or "stub"
	Binary         string `toml:"binary,omitempty"`
	TimeoutSeconds int    `toml:"timeout_seconds,omitempty"`
}

// ExtractConfig holds the external binaries for text extraction and OCR.
type ExtractConfig struct {
	PDFToTextBinary string `toml:"pdftotext_binary,omitempty"`
	OCRBinary       string `toml:"ocr_binary,omitempty"`
}

// PreviewConfig holds the external binaries for preview rendering.
type PreviewConfig struct {
	ConvertBinary string `toml:"convert_binary,omitempty"`
	OfficeBinary  string `toml:"office_binary,omitempty"`
}

// PipelineConfig holds retry and timeout tuning for document processing.
type PipelineConfig struct {
	MaxRetries          int `toml:"max_retries"`           // per transient-failure stage, defaults to 3
	StageTimeoutSeconds int `toml:"stage_timeout_seconds"` // per-stage deadline, defaults to 120
	QuarantineDays      int `toml:"quarantine_days"`       // retention before secure delete, defaults to 30
	MaxUploadMB         int `toml:"max_upload_mb"`         // upload size ceiling, defaults to 100
}

// NewConfig creates a new Config with the provided base directory and
// defaults for everything else.
func NewConfig(baseDir string) *Config {
	return &Config{
		BaseDir: baseDir,
		LogDir:  filepath.Join(baseDir, "log"),
		Store: StoreConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(baseDir, "data"),
		},
		BlobStore: BlobStoreConfig{
			Type:   "filesystem",
			FSRoot: filepath.Join(baseDir, "blobs"),
		},
		Encryption: EncryptionConfig{
			MasterKeyPath: filepath.Join(baseDir, "keys", "master.key"),
		},
		Scanner: ScannerConfig{
			Type:   "exec",
			Binary: "clamdscan",
		},
		Extract: ExtractConfig{
			PDFToTextBinary: "pdftotext",
			OCRBinary:       "tesseract",
		},
		Preview: PreviewConfig{
			ConvertBinary: "convert",
			OfficeBinary:  "soffice",
		},
		Pipeline: PipelineConfig{
			MaxRetries:          3,
			StageTimeoutSeconds: 120,
			QuarantineDays:      30,
			MaxUploadMB:         100,
		},
	}
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// writeToFile writes a Config to the specified file path.
// This is an internal helper and should not be exported.
func writeToFile(path string, cfg *Config) error {
	// Ensure the directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	// Check if config already exists
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
