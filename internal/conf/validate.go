// conf/validate.go
package conf

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("validation errors: %v", ve.Errors)
}

// ValidateSettings validates the entire Settings struct.
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	if err := validateServerSettings(settings); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}
	if err := validateResampleSettings(settings); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}
	if err := validateMemblockqSettings(settings); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}
	if err := validateSocketSettings(settings); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}
	if err := validateAuthSettings(settings); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}
	if err := validateConnectionSettings(settings); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}
	if err := validateTelemetrySettings(settings); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

// validateServerSettings validates the default sample spec and endpoint names.
func validateServerSettings(settings *Settings) error {
	var errs []string

	switch settings.Server.DefaultSampleFormat {
	case "u8", "s16le", "s16be", "s32le", "s32be", "float32le", "float32be":
	default:
		errs = append(errs, fmt.Sprintf("unsupported default sample format %q", settings.Server.DefaultSampleFormat))
	}

	if settings.Server.DefaultSampleRate < 1000 || settings.Server.DefaultSampleRate > 384000 {
		errs = append(errs, "server.defaultsamplerate must be between 1000 and 384000")
	}

	if settings.Server.DefaultChannels < 1 || settings.Server.DefaultChannels > 32 {
		errs = append(errs, "server.defaultchannels must be between 1 and 32")
	}

	if settings.Server.DefaultSink == "" {
		errs = append(errs, "server.defaultsink must not be empty")
	}
	if settings.Server.DefaultSource == "" {
		errs = append(errs, "server.defaultsource must not be empty")
	}

	if len(errs) > 0 {
		return fmt.Errorf("server settings errors: %v", errs)
	}
	return nil
}

// validateResampleSettings validates the resampler configuration.
func validateResampleSettings(settings *Settings) error {
	switch settings.Resample.Method {
	case "linear", "trivial":
	default:
		return fmt.Errorf("resample.method must be one of: linear, trivial")
	}

	if settings.Resample.Quality < 0 || settings.Resample.Quality > 10 {
		return fmt.Errorf("resample.quality must be between 0 and 10")
	}

	return nil
}

// validateMemblockqSettings checks that the default buffer attrs form a coherent
// ordering: prebuf and tlength must fit within maxlength, and minreq must be
// no larger than tlength or requests would never be satisfiable.
func validateMemblockqSettings(settings *Settings) error {
	m := settings.Memblockq

	if m.DefaultMaxLength <= 0 {
		return errors.New("memblockq.defaultmaxlength must be positive")
	}
	if m.DefaultTLength <= 0 || m.DefaultTLength > m.DefaultMaxLength {
		return errors.New("memblockq.defaulttlength must be positive and at most defaultmaxlength")
	}
	if m.DefaultPrebuf < 0 || m.DefaultPrebuf > m.DefaultMaxLength {
		return errors.New("memblockq.defaultprebuf must be non-negative and at most defaultmaxlength")
	}
	if m.DefaultMinReq <= 0 || m.DefaultMinReq > m.DefaultTLength {
		return errors.New("memblockq.defaultminreq must be positive and at most defaulttlength")
	}

	return nil
}

// validateSocketSettings validates the unix and TCP listener configuration.
func validateSocketSettings(settings *Settings) error {
	s := settings.Sockets

	if !s.Unix.Enabled && !s.TCP.Enabled {
		return errors.New("at least one of sockets.unix.enabled or sockets.tcp.enabled must be true")
	}

	if s.Unix.Enabled && s.Unix.Path == "" {
		return errors.New("sockets.unix.path is required when sockets.unix.enabled is true")
	}

	if s.TCP.Enabled {
		if _, _, err := splitHostPort(s.TCP.Listen); err != nil {
			return fmt.Errorf("sockets.tcp.listen is invalid: %w", err)
		}
	}

	return nil
}

// validateAuthSettings validates authentication configuration, including the
// trusted-subnet bypass list (equivalent to the upstream auth-ip-acl mechanism).
func validateAuthSettings(settings *Settings) error {
	a := settings.Auth

	if !a.AllowAnonymous && a.CookiePath == "" {
		return errors.New("auth.cookiepath must be set unless auth.allowanonymous is true")
	}

	for _, subnet := range a.TrustedSubnets {
		subnet = strings.TrimSpace(subnet)
		if subnet == "" {
			continue
		}
		if _, _, err := net.ParseCIDR(subnet); err != nil {
			return fmt.Errorf("invalid entry in auth.trustedsubnets %q: %w", subnet, err)
		}
	}

	if a.HandshakeTimeout <= 0 {
		return errors.New("auth.handshaketimeout must be a positive duration")
	}

	return nil
}

// validateConnectionSettings validates connection and per-client stream limits.
func validateConnectionSettings(settings *Settings) error {
	if settings.Connection.MaxClients <= 0 {
		return errors.New("connection.maxclients must be positive")
	}
	if settings.Connection.MaxStreamsPerClient <= 0 {
		return errors.New("connection.maxstreamsperclient must be positive")
	}
	return nil
}

// validateTelemetrySettings validates the metrics endpoint configuration.
func validateTelemetrySettings(settings *Settings) error {
	if settings.Telemetry.Enabled {
		if _, _, err := splitHostPort(settings.Telemetry.Listen); err != nil {
			return fmt.Errorf("telemetry.listen is invalid: %w", err)
		}
	}
	return nil
}

// splitHostPort validates a "host:port" string, shared by socket and telemetry validation.
func splitHostPort(hostPort string) (host, port string, err error) {
	return net.SplitHostPort(hostPort)
}
