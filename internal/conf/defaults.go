// conf/defaults.go default values for settings
package conf

import "github.com/spf13/viper"

// Sets default values for the configuration.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	// Logging configuration
	viper.SetDefault("logging.default_level", "info")
	viper.SetDefault("logging.timezone", "Local")

	// Console logging
	viper.SetDefault("logging.console.enabled", true)
	viper.SetDefault("logging.console.level", "info")

	// Main application log file
	viper.SetDefault("logging.file_output.enabled", true)
	viper.SetDefault("logging.file_output.path", "logs/driftsoundd.log")
	viper.SetDefault("logging.file_output.level", "info")
	viper.SetDefault("logging.file_output.max_size", 100)
	viper.SetDefault("logging.file_output.max_age", 30)
	viper.SetDefault("logging.file_output.max_backups", 10)
	viper.SetDefault("logging.file_output.compress", true)

	// Per-module log files, mirroring the subsystems implemented in internal/
	setModuleLogDefaults("mem", true)        // memblock/memchunk/mempool allocation
	setModuleLogDefaults("memblockq", true)  // per-stream buffer queue
	setModuleLogDefaults("sink", true)       // sink mixing engine
	setModuleLogDefaults("source", true)     // source capture fan-out
	setModuleLogDefaults("resampler", true)  // sample-rate conversion
	setModuleLogDefaults("mainloop", true)   // event loop
	setModuleLogDefaults("protocol", true)   // native protocol command dispatch
	setModuleLogDefaults("pstream", true)    // packet framing layer
	setModuleLogDefaults("pdispatch", true)  // tag dispatch layer
	setModuleLogDefaults("tagstruct", false) // wire codec (very chatty, off by default)
	setModuleLogDefaults("auth", true)       // AUTH handling, cookie/peer-credential checks
	setModuleLogDefaults("config", true)     // configuration management
	setModuleLogDefaults("events", true)     // internal event bus
	setModuleLogDefaults("telemetry", true)  // metrics/telemetry
	setModuleLogDefaults("monitor", true)    // connection/resource monitoring

	// Main configuration
	viper.SetDefault("main.name", "driftsoundd")
	viper.SetDefault("main.timeas24h", true)

	// Server / default endpoint configuration
	viper.SetDefault("server.defaultsampleformat", "s16le")
	viper.SetDefault("server.defaultsamplerate", 44100)
	viper.SetDefault("server.defaultchannels", 2)
	viper.SetDefault("server.defaultsink", "default")
	viper.SetDefault("server.defaultsource", "default.monitor")
	viper.SetDefault("server.modules", []string{
		"module-native-protocol-unix",
	})

	// Resampler configuration
	viper.SetDefault("resample.method", "linear")
	viper.SetDefault("resample.quality", 5)

	// Memblockq defaults, applied when a client doesn't set its own buffer attrs
	viper.SetDefault("memblockq.defaultmaxlength", "4s")
	viper.SetDefault("memblockq.defaulttlength", "1s")
	viper.SetDefault("memblockq.defaultprebuf", "500ms")
	viper.SetDefault("memblockq.defaultminreq", "20ms")

	// Socket configuration
	viper.SetDefault("sockets.unix.enabled", true)
	viper.SetDefault("sockets.unix.path", "/run/driftsoundd/native")
	viper.SetDefault("sockets.unix.mode", DefaultUnixSocketMode)
	viper.SetDefault("sockets.tcp.enabled", false)
	viper.SetDefault("sockets.tcp.listen", "127.0.0.1:4713")

	// Authentication configuration
	viper.SetDefault("auth.cookiepath", "~/.config/driftsoundd/cookie")
	viper.SetDefault("auth.allowanonymous", false)
	viper.SetDefault("auth.trustedsubnets", []string{"127.0.0.1/32", "::1/128"})
	viper.SetDefault("auth.handshaketimeout", "5s")

	// Connection limits
	viper.SetDefault("connection.maxclients", 64)
	viper.SetDefault("connection.maxstreamsperclient", 16)

	// Telemetry configuration
	viper.SetDefault("telemetry.enabled", false)
	viper.SetDefault("telemetry.listen", "127.0.0.1:9090")

	// Sentry configuration
	viper.SetDefault("sentry.enabled", false)
	viper.SetDefault("sentry.dsn", "")
	viper.SetDefault("sentry.samplerate", 1.0)
	viper.SetDefault("sentry.debug", false)
}

// setModuleLogDefaults sets default values for a module log configuration
func setModuleLogDefaults(module string, enabled bool) {
	prefix := "logging.modules." + module
	viper.SetDefault(prefix+".enabled", enabled)
	viper.SetDefault(prefix+".file_path", "logs/"+module+".log")
	viper.SetDefault(prefix+".level", "debug")
	viper.SetDefault(prefix+".console_also", false)
}
