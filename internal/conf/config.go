// conf/config.go
package conf

import (
	"embed"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"

	"github.com/driftsound/driftsound/internal/logger"
)

//go:embed config.yaml
var configFiles embed.FS

// Settings holds the full runtime configuration of driftsoundd.
type Settings struct {
	Debug bool // true to enable debug-level logging across all modules

	Main struct {
		Name      string // server name, reported in the proplist of every connection
		TimeAs24h bool   // true for 24-hour timestamps in human-facing logs
		Log       LogConfig
	}

	Server struct {
		// DefaultSampleFormat/Rate/Channels make up the sample spec new sinks
		// and sources are created with when a module doesn't request otherwise.
		DefaultSampleFormat string // "u8", "s16le", "s32le", "float32le"
		DefaultSampleRate   uint32
		DefaultChannels     uint8

		DefaultSink   string // name of the sink new playback streams attach to
		DefaultSource string // name of the source new record streams attach to

		Modules []string // modules loaded at startup, e.g. "module-native-protocol-unix"
	}

	Resample struct {
		Method  string // "linear" or "trivial" (sample-and-hold, no interpolation)
		Quality int    // 0 (fastest) .. 10 (highest quality), meaning is method-specific
	}

	Memblockq struct {
		// Default buffer attrs applied when a client doesn't specify its own;
		// expressed as durations and converted to bytes against the stream's
		// negotiated sample spec.
		DefaultMaxLength time.Duration
		DefaultTLength   time.Duration
		DefaultPrebuf    time.Duration
		DefaultMinReq    time.Duration
	}

	Sockets struct {
		Unix struct {
			Enabled bool
			Path    string
			Mode    uint32 // permission bits applied to the socket file
		}
		TCP struct {
			Enabled bool
			Listen  string // host:port
		}
	}

	Auth struct {
		CookiePath       string        // path to the 256-byte authentication cookie
		AllowAnonymous   bool          // accept AUTH without a matching cookie
		TrustedSubnets   []string      // CIDRs allowed to skip cookie auth (local network bypass)
		HandshakeTimeout time.Duration // time allowed between connect and a successful AUTH
	}

	Connection struct {
		MaxClients          int
		MaxStreamsPerClient int
	}

	Telemetry struct {
		Enabled bool   // expose a Prometheus-compatible metrics endpoint
		Listen  string // host:port for the metrics endpoint
	}

	Sentry struct {
		Enabled    bool
		DSN        string
		SampleRate float64
		Debug      bool
	}

	// Logging configures the central slog-based logger (internal/logger),
	// binding config.yaml's "logging:" block.
	Logging logger.LoggingConfig
}

// LogConfig defines the configuration for a log file.
type LogConfig struct {
	Enabled     bool         // true to enable this log
	Path        string       // Path to the log file
	Rotation    RotationType // Type of log rotation
	MaxSize     int64        // Max size in bytes for RotationSize
	RotationDay time.Weekday // Day of the week for RotationWeekly
}

// RotationType defines different types of log rotations.
type RotationType string

const (
	RotationDaily  RotationType = "daily"
	RotationWeekly RotationType = "weekly"
	RotationSize   RotationType = "size"
)

// buildDate is the time when the binary was built.
var buildDate string

// settingsInstance is the current settings instance
var (
	settingsInstance *Settings
	once             sync.Once
	settingsMutex    sync.RWMutex
)

// Load reads the configuration file and environment variables into the
// global Settings instance.
func Load() (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	settings := &Settings{}

	if err := initViper(); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	if err := configureEnvironmentVariables(); err != nil {
		return nil, fmt.Errorf("error configuring environment variables: %w", err)
	}

	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}

	settingsInstance = settings
	return settings, nil
}

// initViper initializes viper with default values and reads the configuration file.
func initViper() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}

	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	setDefaultConfig()

	err = viper.ReadInConfig()
	if err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return createDefaultConfig()
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}

	fmt.Printf("driftsoundd build date: %s, using config file: %s\n", buildDate, viper.ConfigFileUsed())

	return nil
}

// createDefaultConfig creates a default config file and writes it to the default config path.
func createDefaultConfig() error {
	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	configPath := filepath.Join(configPaths[0], "config.yaml")
	defaultConfig := getDefaultConfig()

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("error creating directories for config file: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(defaultConfig), 0o644); err != nil {
		return fmt.Errorf("error writing default config file: %w", err)
	}

	fmt.Println("Created default config file at:", configPath)
	return viper.ReadInConfig()
}

// getDefaultConfig reads the default configuration from the embedded config.yaml file.
func getDefaultConfig() string {
	data, err := fs.ReadFile(configFiles, "config.yaml")
	if err != nil {
		log.Fatalf("Error reading config file: %v", err)
	}
	return string(data)
}

// GetSettings returns the current settings instance.
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// SaveSettings saves the current settings to the YAML file.
func SaveSettings() error {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()

	settingsMap, err := structToMap(settingsInstance)
	if err != nil {
		return fmt.Errorf("error converting settings to map: %w", err)
	}

	if err := viper.MergeConfigMap(settingsMap); err != nil {
		return fmt.Errorf("error merging settings with viper: %w", err)
	}

	return viper.WriteConfig()
}

// UpdateSettings updates the settings in memory and persists them to the YAML file.
func UpdateSettings(newSettings *Settings) error {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	if err := ValidateSettings(newSettings); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}

	settingsInstance = newSettings

	settingsMap, err := structToMap(newSettings)
	if err != nil {
		return fmt.Errorf("error converting settings to map: %w", err)
	}

	if err := viper.MergeConfigMap(settingsMap); err != nil {
		return fmt.Errorf("error merging settings with viper: %w", err)
	}

	return viper.WriteConfig()
}

// Setting returns the current settings instance, initializing it if necessary.
func Setting() *Settings {
	once.Do(func() {
		if settingsInstance == nil {
			if _, err := Load(); err != nil {
				log.Fatalf("Error loading settings: %v", err)
			}
		}
	})
	return GetSettings()
}
