// env.go - Environment variable configuration and validation for driftsoundd
package conf

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// envBinding holds metadata for environment variable bindings (internal use)
type envBinding struct {
	ConfigKey string             // Viper config key
	EnvVar    string             // Environment variable name
	Validate  func(string) error // Optional validation function
}

// getEnvBindings returns all environment variable bindings with validation
func getEnvBindings() []envBinding {
	return []envBinding{
		// Default sample spec
		{"server.defaultsampleformat", "DRIFTSOUND_SAMPLE_FORMAT", validateEnvSampleFormat},
		{"server.defaultsamplerate", "DRIFTSOUND_SAMPLE_RATE", validateEnvSampleRate},
		{"server.defaultchannels", "DRIFTSOUND_CHANNELS", validateEnvChannels},
		{"server.defaultsink", "DRIFTSOUND_DEFAULT_SINK", nil},
		{"server.defaultsource", "DRIFTSOUND_DEFAULT_SOURCE", nil},

		// Resampler
		{"resample.method", "DRIFTSOUND_RESAMPLE_METHOD", validateEnvResampleMethod},
		{"resample.quality", "DRIFTSOUND_RESAMPLE_QUALITY", validateEnvResampleQuality},

		// Sockets
		{"sockets.unix.enabled", "DRIFTSOUND_UNIX_ENABLED", nil}, // Bool validation handled by viper
		{"sockets.unix.path", "DRIFTSOUND_UNIX_PATH", validateEnvPath},
		{"sockets.tcp.enabled", "DRIFTSOUND_TCP_ENABLED", nil}, // Bool validation handled by viper
		{"sockets.tcp.listen", "DRIFTSOUND_TCP_LISTEN", validateEnvHostPort},

		// Auth
		{"auth.cookiepath", "DRIFTSOUND_COOKIE_PATH", validateEnvPath},
		{"auth.allowanonymous", "DRIFTSOUND_ALLOW_ANONYMOUS", nil}, // Bool validation handled by viper

		// Connection limits
		{"connection.maxclients", "DRIFTSOUND_MAX_CLIENTS", validateEnvPositiveInt},
		{"connection.maxstreamsperclient", "DRIFTSOUND_MAX_STREAMS_PER_CLIENT", validateEnvPositiveInt},
	}
}

// bindEnvVars sets up environment variable bindings with validation (internal)
func bindEnvVars() error {
	bindings := getEnvBindings()
	var warnings []string

	for _, binding := range bindings {
		if err := viper.BindEnv(binding.ConfigKey, binding.EnvVar); err != nil {
			warnings = append(warnings, fmt.Sprintf("Failed to bind %s: %v", binding.EnvVar, err))
			continue
		}

		if binding.Validate != nil {
			if envValue := os.Getenv(binding.EnvVar); envValue != "" {
				if err := binding.Validate(envValue); err != nil {
					warnings = append(warnings, fmt.Sprintf("Invalid %s value '%s': %v", binding.EnvVar, envValue, err))
				}
			}
		}
	}

	if len(warnings) > 0 {
		return fmt.Errorf("environment variable issues:\n  - %s", strings.Join(warnings, "\n  - "))
	}

	return nil
}

// Environment variable validation functions

func validateEnvSampleFormat(value string) error {
	switch value {
	case "u8", "s16le", "s16be", "s32le", "s32be", "float32le", "float32be":
		return nil
	default:
		return fmt.Errorf("unsupported sample format %q", value)
	}
}

func validateEnvSampleRate(value string) error {
	rate, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid sample rate: %w", err)
	}
	if rate < 1000 || rate > 384000 {
		return fmt.Errorf("sample rate must be between 1000 and 384000, got %d", rate)
	}
	return nil
}

func validateEnvChannels(value string) error {
	channels, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid channel count: %w", err)
	}
	if channels < 1 || channels > 32 {
		return fmt.Errorf("channel count must be between 1 and 32, got %d", channels)
	}
	return nil
}

func validateEnvResampleMethod(value string) error {
	switch value {
	case "linear", "trivial":
		return nil
	default:
		return fmt.Errorf("must be one of: linear, trivial")
	}
}

func validateEnvResampleQuality(value string) error {
	quality, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid resample quality: %w", err)
	}
	if quality < 0 || quality > 10 {
		return fmt.Errorf("resample quality must be between 0 and 10, got %d", quality)
	}
	return nil
}

func validateEnvPositiveInt(value string) error {
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid integer: %w", err)
	}
	if n <= 0 {
		return fmt.Errorf("must be positive, got %d", n)
	}
	return nil
}

func validateEnvHostPort(value string) error {
	if _, _, err := splitHostPort(value); err != nil {
		return fmt.Errorf("invalid host:port: %w", err)
	}
	return nil
}

func validateEnvPath(value string) error {
	// Basic path traversal protection
	if strings.Contains(value, "..") {
		return fmt.Errorf("path traversal not allowed")
	}
	return nil
}

// configureEnvironmentVariables sets up environment variable support for Viper
func configureEnvironmentVariables() error {
	viper.AutomaticEnv()
	viper.SetEnvPrefix("DRIFTSOUND")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := bindEnvVars(); err != nil {
		// Log warnings but don't fail startup; the application continues with
		// config file/default values.
		log.Printf("Environment variable validation warnings: %v", err)
	}

	return nil
}
