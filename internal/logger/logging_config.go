package logger

// moduleKey is the slog attribute key carrying a logger's module path
// (e.g. "protocol.connection"); textHandler pulls it out of the attribute
// list to render as a "[module]" prefix instead of a trailing key=value pair.
const moduleKey = "module"

// traceIDKey is the Field key used when WithContext finds a trace ID on the
// context (set via WithTraceID).
const traceIDKey = "trace_id"

// LoggingConfig is the root of the logging section of the on-disk config
// (config.yaml's top-level "logging:" block), consumed by NewCentralLogger.
// Unlike the rest of conf.Settings (bare, case-insensitive field-name
// matching), this section's keys are snake_case, mirroring
// internal/conf/defaults.go's pre-existing "logging.file_output.max_size"
// style viper.SetDefault calls — so every field here carries an explicit
// mapstructure/yaml tag rather than relying on name matching.
type LoggingConfig struct {
	DefaultLevel  string                   `yaml:"default_level" mapstructure:"default_level"`
	Timezone      string                   `yaml:"timezone" mapstructure:"timezone"`
	Console       *ConsoleOutput           `yaml:"console" mapstructure:"console"`
	FileOutput    *FileOutput              `yaml:"file_output" mapstructure:"file_output"`
	ModuleLevels  map[string]string        `yaml:"module_levels" mapstructure:"module_levels"`
	ModuleOutputs map[string]ModuleOutput  `yaml:"modules" mapstructure:"modules"`
}

// ConsoleOutput configures the human-readable stdout handler.
type ConsoleOutput struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Level   string `yaml:"level" mapstructure:"level"`
}

// FileOutput configures the main JSON log file and its rotation policy.
type FileOutput struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Path    string `yaml:"path" mapstructure:"path"`
	Level   string `yaml:"level" mapstructure:"level"`

	// MaxSize is in megabytes; converted to bytes by RotationConfigFromFileOutput.
	MaxSize         int  `yaml:"max_size" mapstructure:"max_size"`
	MaxAge          int  `yaml:"max_age" mapstructure:"max_age"`
	MaxRotatedFiles int  `yaml:"max_backups" mapstructure:"max_backups"`
	Compress        bool `yaml:"compress" mapstructure:"compress"`
}

// ModuleOutput routes one module's logs to its own file, optionally also
// echoing to the console. Any zero numeric rotation field falls back to the
// main FileOutput's setting; Compress is always the module's own
// (RotationConfigFromModuleOutput).
type ModuleOutput struct {
	Enabled     bool   `yaml:"enabled" mapstructure:"enabled"`
	FilePath    string `yaml:"file_path" mapstructure:"file_path"`
	Level       string `yaml:"level" mapstructure:"level"`
	ConsoleAlso bool   `yaml:"console_also" mapstructure:"console_also"`

	MaxSize         int  `yaml:"max_size" mapstructure:"max_size"`
	MaxAge          int  `yaml:"max_age" mapstructure:"max_age"`
	MaxRotatedFiles int  `yaml:"max_backups" mapstructure:"max_backups"`
	Compress        bool `yaml:"compress" mapstructure:"compress"`
}

// applyConfigDefaults fills a LoggingConfig with sensible defaults wherever
// a section was left nil, so a config file that only sets DefaultLevel still
// gets console output rather than going silent.
func applyConfigDefaults(cfg *LoggingConfig) {
	if cfg.DefaultLevel == "" {
		cfg.DefaultLevel = "info"
	}
	if cfg.Timezone == "" {
		cfg.Timezone = "Local"
	}
	if cfg.Console == nil {
		cfg.Console = &ConsoleOutput{Enabled: true, Level: cfg.DefaultLevel}
	}
	if cfg.Console.Level == "" {
		cfg.Console.Level = cfg.DefaultLevel
	}
	if cfg.FileOutput != nil && cfg.FileOutput.Level == "" {
		cfg.FileOutput.Level = cfg.DefaultLevel
	}
}

// bytesPerMB converts the megabyte sizes used in on-disk config to the
// bytes RotationConfig operates on.
const bytesPerMB = 1024 * 1024

// RotationConfig parameterizes a RotationManager: size-based rotation plus
// age- and count-based cleanup of the rotated files it leaves behind.
type RotationConfig struct {
	MaxSize         int64 // bytes; 0 disables rotation entirely
	MaxAge          int   // days; 0 disables age-based cleanup
	MaxRotatedFiles int   // 0 disables count-based cleanup
	Compress        bool
}

// IsEnabled reports whether rotation should run at all.
func (c RotationConfig) IsEnabled() bool {
	return c.MaxSize > 0
}

// RotationConfigFromFileOutput converts a FileOutput's MB-denominated
// MaxSize into bytes.
func RotationConfigFromFileOutput(fo *FileOutput) RotationConfig {
	if fo == nil {
		return RotationConfig{}
	}
	return RotationConfig{
		MaxSize:         int64(fo.MaxSize) * bytesPerMB,
		MaxAge:          fo.MaxAge,
		MaxRotatedFiles: fo.MaxRotatedFiles,
		Compress:        fo.Compress,
	}
}

// RotationConfigFromModuleOutput is RotationConfigFromFileOutput with a
// per-module override: any zero-valued numeric field in mo falls back to
// defaultFo's setting, but Compress is always taken from mo since false is
// a meaningful explicit choice there.
func RotationConfigFromModuleOutput(mo *ModuleOutput, defaultFo *FileOutput) RotationConfig {
	base := RotationConfigFromFileOutput(defaultFo)
	if mo == nil {
		return base
	}

	cfg := base
	if mo.MaxSize > 0 {
		cfg.MaxSize = int64(mo.MaxSize) * bytesPerMB
	}
	if mo.MaxAge > 0 {
		cfg.MaxAge = mo.MaxAge
	}
	if mo.MaxRotatedFiles > 0 {
		cfg.MaxRotatedFiles = mo.MaxRotatedFiles
	}
	cfg.Compress = mo.Compress
	return cfg
}
