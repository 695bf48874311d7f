package main

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds all daemon configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Recognizer RecognizerConfig `mapstructure:"recognizer"`
	Gallery    GalleryConfig    `mapstructure:"gallery"`
	Mongo      MongoConfig      `mapstructure:"mongo"`
	Camera     CameraConfig     `mapstructure:"camera"`
	Log        LogConfig        `mapstructure:"log"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Address returns the server address in host:port format.
func (c ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// RecognizerConfig holds dlib recognizer configuration.
type RecognizerConfig struct {
	// ModelsDir must contain the go-face model files.
	ModelsDir string `mapstructure:"models_dir"`

	// Tolerance is the maximum descriptor distance still considered a
	// match. Lower is stricter.
	Tolerance float64 `mapstructure:"tolerance"`
}

// GalleryConfig holds known-face corpus configuration.
type GalleryConfig struct {
	// Dir is scanned for reference images, one person per file.
	Dir string `mapstructure:"dir"`

	// Store selects the descriptor store: "file" or "mongo".
	Store string `mapstructure:"store"`

	// CacheFile is the JSON file used by the file store.
	CacheFile string `mapstructure:"cache_file"`
}

// MongoConfig holds MongoDB configuration for the mongo store.
type MongoConfig struct {
	URL      string `mapstructure:"url"`
	Database string `mapstructure:"database"`
}

// CameraConfig holds the optional local V4L2 capture configuration.
// An empty device disables capture.
type CameraConfig struct {
	Device string `mapstructure:"device"`
	Width  uint32 `mapstructure:"width"`
	Height uint32 `mapstructure:"height"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// LoadConfig loads configuration from file and environment.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 5001)
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("recognizer.models_dir", "models")
	v.SetDefault("recognizer.tolerance", 0.55)
	v.SetDefault("gallery.dir", "known_faces")
	v.SetDefault("gallery.store", "file")
	v.SetDefault("gallery.cache_file", "faces.json")
	v.SetDefault("mongo.url", "")
	v.SetDefault("mongo.database", "faceapi")
	v.SetDefault("camera.device", "")
	v.SetDefault("camera.width", 1280)
	v.SetDefault("camera.height", 720)
	v.SetDefault("log.level", "info")

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			// Only a missing file falls back to defaults; an explicitly
			// configured path that is unreadable or malformed is fatal.
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	v.SetEnvPrefix("FACEAPI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Deployments configure the listen port with a bare PORT variable.
	if err := v.BindEnv("server.port", "FACEAPI_SERVER_PORT", "PORT"); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// SetupLogger creates a production zap logger at the configured level.
func SetupLogger(cfg *Config) (*zap.Logger, error) {
	var level zapcore.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = zapcore.DebugLevel
	case "warn", "warning":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(level)

	return zcfg.Build()
}
