// Package config loads DeviceSettings with viper, in the
// manner of bennypowers-cem's cmd/root.go initConfig: a config file
// located by flag or well-known name, overlaid with environment
// variables, unmarshalled into a typed struct the rest of the service
// consumes.
package config

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// StorageConfig describes one configured storage endpoint, one entry of
// DeviceSettings.storages[].
type StorageConfig struct {
	ID                  string `mapstructure:"id"`
	Kind                string `mapstructure:"kind"` // "localfs" | "smb" | "objectstore"
	WatchFolder         bool   `mapstructure:"watchFolder"`
	WatchFolderTargetID string `mapstructure:"watchFolderTargetId"`
	MediaPath           string `mapstructure:"mediaPath"`

	// Kind-specific settings; only the block matching Kind is consulted.
	LocalFS     LocalFSConfig     `mapstructure:"localfs"`
	SMB         SMBConfig         `mapstructure:"smb"`
	ObjectStore ObjectStoreConfig `mapstructure:"objectstore"`
}

type LocalFSConfig struct {
	Root string `mapstructure:"root"`
}

type SMBConfig struct {
	Address  string `mapstructure:"address"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Domain   string `mapstructure:"domain"`
	Share    string `mapstructure:"share"`
	Prefix   string `mapstructure:"prefix"`
}

type ObjectStoreConfig struct {
	Bucket   string `mapstructure:"bucket"`
	Prefix   string `mapstructure:"prefix"`
	Region   string `mapstructure:"region"`
	Endpoint string `mapstructure:"endpoint"`
}

// MediaScannerConfig is the mediaScanner.host/port block.
type MediaScannerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// DeviceSettings is the top-level configuration document.
type DeviceSettings struct {
	WorkerPoolSize int                `mapstructure:"workerPoolSize"`
	MediaScanner   MediaScannerConfig `mapstructure:"mediaScanner"`
	Storages       []StorageConfig    `mapstructure:"storages"`
}

// defaultWorkerPoolSize is used when workerPoolSize is absent or zero.
const defaultWorkerPoolSize = 4

// Load reads configuration from path (if non-empty) or the well-known
// name/locations below, overlaid with MEDIAMGR_-prefixed environment
// variables, and unmarshals it into a DeviceSettings.
func Load(path string) (*DeviceSettings, error) {
	v := viper.New()
	v.SetEnvPrefix("MEDIAMGR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("mediamgr")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/mediamgr")
	}
	v.SetDefault("workerPoolSize", defaultWorkerPoolSize)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, errors.Wrap(err, "config: read")
		}
	}

	var settings DeviceSettings
	if err := v.Unmarshal(&settings); err != nil {
		return nil, errors.Wrap(err, "config: unmarshal")
	}
	if settings.WorkerPoolSize <= 0 {
		settings.WorkerPoolSize = defaultWorkerPoolSize
	}
	return &settings, nil
}
