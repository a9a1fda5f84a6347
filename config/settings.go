package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type ServerSettings struct {
	Port           string   `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type StoreSettings struct {
	// badger, redis, file or memory
	BlobBackend  string `mapstructure:"blob_backend"`
	BlobKey      string `mapstructure:"blob_key"`
	BadgerPath   string `mapstructure:"badger_path"`
	FilePath     string `mapstructure:"file_path"`
	RedisAddress string `mapstructure:"redis_address"`
	LogSql       bool   `mapstructure:"log_sql"`
}

type ImportSettings struct {
	SheetName string `mapstructure:"sheet_name"`
	Timezone  string `mapstructure:"timezone"`
}

// Location is the zone spreadsheet dates and times are recorded in.
func (s ImportSettings) Location() (*time.Location, error) {
	if s.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(s.Timezone)
}

type LogSettings struct {
	Level string `mapstructure:"level"`
}

type Settings struct {
	Server ServerSettings `mapstructure:"server"`
	Store  StoreSettings  `mapstructure:"store"`
	Import ImportSettings `mapstructure:"import"`
	Log    LogSettings    `mapstructure:"log"`
}

const (
	BlobBackendBadger = "badger"
	BlobBackendRedis  = "redis"
	BlobBackendFile   = "file"
	BlobBackendMemory = "memory"
)

var (
	settings     *Settings
	settingsErr  error
	settingsOnce sync.Once
)

// DefaultSettings returns the settings used when nothing is configured.
func DefaultSettings() *Settings {
	return &Settings{
		Server: ServerSettings{
			Port:           "8080",
			AllowedOrigins: []string{"*"},
		},
		Store: StoreSettings{
			BlobBackend:  BlobBackendBadger,
			BlobKey:      "purchase_tracker_db",
			BadgerPath:   "./data/badger",
			FilePath:     "./data/purchase_tracker_db.b64",
			RedisAddress: "localhost:6379",
		},
		Import: ImportSettings{
			SheetName: "Nectar Card Transactions",
			Timezone:  "UTC",
		},
		Log: LogSettings{
			Level: "info",
		},
	}
}

// LoadSettings reads .env, an optional config file and TRACKER_* environment overrides.
// Only the first call does any work.
func LoadSettings(path string) (*Settings, error) {
	settingsOnce.Do(func() {
		// Load env from .env
		_ = godotenv.Load()

		v := viper.New()
		def := DefaultSettings()
		v.SetDefault("server.port", def.Server.Port)
		v.SetDefault("server.allowed_origins", def.Server.AllowedOrigins)
		v.SetDefault("store.blob_backend", def.Store.BlobBackend)
		v.SetDefault("store.blob_key", def.Store.BlobKey)
		v.SetDefault("store.badger_path", def.Store.BadgerPath)
		v.SetDefault("store.file_path", def.Store.FilePath)
		v.SetDefault("store.redis_address", def.Store.RedisAddress)
		v.SetDefault("store.log_sql", def.Store.LogSql)
		v.SetDefault("import.sheet_name", def.Import.SheetName)
		v.SetDefault("import.timezone", def.Import.Timezone)
		v.SetDefault("log.level", def.Log.Level)

		if path == "" {
			v.SetConfigName("config")
			v.SetConfigType("yaml")
			v.AddConfigPath(".")
		} else {
			v.SetConfigFile(path)
		}

		// e.g. TRACKER_STORE_BLOB_BACKEND=redis
		v.SetEnvPrefix("TRACKER")
		v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		v.AutomaticEnv()

		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if path != "" || !errors.As(err, &notFound) {
				settingsErr = fmt.Errorf("read config: %w", err)
				return
			}
		}

		var s Settings
		if err := v.Unmarshal(&s); err != nil {
			settingsErr = fmt.Errorf("unmarshal config: %w", err)
			return
		}
		settings = &s
	})

	if settingsErr != nil {
		return nil, settingsErr
	}
	return settings, nil
}
