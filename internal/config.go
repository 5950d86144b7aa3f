package internal

import (
	"fmt"

	"github.com/hbomb79/Iris/internal/api"
	"github.com/hbomb79/Iris/internal/database"
	"github.com/hbomb79/Iris/internal/download"
	"github.com/hbomb79/Iris/internal/storage"
	"github.com/ilyakaznacheev/cleanenv"
)

// IrisConfig is the struct used to contain the various user config
// supplied by file or environment.
type IrisConfig struct {
	Download    download.Config         `yaml:"download"`
	Storage     StorageConfig           `yaml:"storage"`
	ObjectStore storage.MinioConfig     `yaml:"object_store"`
	Database    database.DatabaseConfig `yaml:"database"`
	API         api.RestConfig          `yaml:"api"`
}

// StorageConfig focuses on where completed artefacts end up when the
// object store is disabled or unreachable.
type StorageConfig struct {
	// DownloadDir is the local artefact directory. Empty derives a
	// default under the users home directory.
	DownloadDir string `yaml:"download_dir" env:"DOWNLOAD_DIR"`

	// LocalFallback permits falling back to DownloadDir when an object
	// store upload fails.
	LocalFallback bool `yaml:"local_fallback" env:"STORAGE_LOCAL_FALLBACK" env-default:"true"`
}

// LoadFromFile loads a YAML configuration file in to an IrisConfig,
// with environment variables taking precedence over file values.
func (config *IrisConfig) LoadFromFile(configPath string) error {
	if err := cleanenv.ReadConfig(configPath, config); err != nil {
		return fmt.Errorf("failed to load configuration from %s - %v", configPath, err.Error())
	}

	return nil
}

// LoadFromEnv populates the config from environment variables alone, used
// when no config file is present.
func (config *IrisConfig) LoadFromEnv() error {
	if err := cleanenv.ReadEnv(config); err != nil {
		return fmt.Errorf("failed to load configuration from environment - %v", err.Error())
	}

	return nil
}
