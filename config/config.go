// Package config loads the linter configuration from TOML files, the
// environment and editor settings, and turns it into an analyzer.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/juan-carlos/juancarlos/analysis"
	"github.com/juan-carlos/juancarlos/helpers"
	"github.com/juan-carlos/juancarlos/markup"
	"github.com/spf13/viper"
	lsp "go.lsp.dev/protocol"
	"golang.org/x/exp/slices"
)

const (
	EnvPrefix         = "JUANCARLOS"
	ProjectConfigName = ".juancarlos.toml"
	UserConfigName    = "config.toml"

	// SettingsSection is the key editors nest our settings under in
	// workspace/didChangeConfiguration.
	SettingsSection = "juancarlos"

	DefaultServerName = "juancarlos"
)

type RuleConfig struct {
	Enabled  *bool  `mapstructure:"enabled"`
	Severity string `mapstructure:"severity"`
	Message  string `mapstructure:"message"`
	Code     *int   `mapstructure:"code"`
}

// IsEnabled treats a missing value as enabled.
func (rc RuleConfig) IsEnabled() bool {
	return rc.Enabled == nil || *rc.Enabled
}

type ParserConfig struct {
	Timeout         time.Duration `mapstructure:"timeout"`
	MaxDocumentSize int           `mapstructure:"max_document_size"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

type HistoryConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Path of the sqlite database. Empty means logs.db in the data
	// directory.
	Path      string `mapstructure:"path"`
	Snapshots bool   `mapstructure:"snapshots"`
}

type ServerConfig struct {
	Name string `mapstructure:"name"`
}

type Config struct {
	Rules   map[string]RuleConfig `mapstructure:"rules"`
	Parser  ParserConfig          `mapstructure:"parser"`
	Log     LogConfig             `mapstructure:"log"`
	History HistoryConfig         `mapstructure:"history"`
	Server  ServerConfig          `mapstructure:"server"`

	// Files lists the configuration files that were merged, lowest
	// precedence first.
	Files []string `mapstructure:"-"`

	v *viper.Viper
}

type LoadOptions struct {
	// ConfigFile is merged last and must exist when set.
	ConfigFile string
	// WorkDir is where the search for a project config starts. Defaults to
	// the current directory.
	WorkDir string
	// SkipUserConfig ignores the config file in the data directory.
	SkipUserConfig bool
}

func SetDefaults(v *viper.Viper) {
	v.SetDefault("rules."+analysis.ClassAttributeRuleName+".enabled", true)
	v.SetDefault("rules."+analysis.ClassAttributeRuleName+".severity", "error")
	v.SetDefault("rules."+analysis.ClassAttributeRuleName+".message", analysis.DefaultClassAttributeMessage)
	v.SetDefault("rules."+analysis.ClassAttributeRuleName+".code", analysis.ClassAttributeCode)

	v.SetDefault("rules."+analysis.DuplicateIDRuleName+".enabled", true)
	v.SetDefault("rules."+analysis.DuplicateIDRuleName+".severity", "")
	v.SetDefault("rules."+analysis.DuplicateIDRuleName+".message", analysis.DefaultDuplicateIDMessage)

	v.SetDefault("parser.timeout", markup.DefaultTimeout)
	v.SetDefault("parser.max_document_size", markup.DefaultMaxSize)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)

	v.SetDefault("history.enabled", false)
	v.SetDefault("history.path", "")
	v.SetDefault("history.snapshots", true)

	v.SetDefault("server.name", DefaultServerName)
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	return v
}

// Default returns the configuration with every built-in default and no
// files or environment applied.
func Default() *Config {
	v := viper.New()
	SetDefaults(v)

	cfg, err := decode(v)
	if err != nil {
		// defaults are static
		panic(err)
	}
	return cfg
}

// Load merges, lowest precedence first, the user config in the data
// directory, the nearest project config and opts.ConfigFile. Environment
// variables prefixed with JUANCARLOS_ override all files.
func Load(opts LoadOptions) (*Config, error) {
	v := newViper()

	var files []string
	if !opts.SkipUserConfig {
		userConfig := filepath.Join(helpers.GetDataDirPath(), UserConfigName)
		if _, err := os.Stat(userConfig); err == nil {
			files = append(files, userConfig)
		}
	}

	workDir := opts.WorkDir
	if len(workDir) == 0 {
		workDir, _ = os.Getwd()
	}

	if projectConfig := FindProjectConfig(workDir); len(projectConfig) != 0 {
		files = append(files, projectConfig)
	}

	if len(opts.ConfigFile) != 0 {
		if _, err := os.Stat(opts.ConfigFile); err != nil {
			return nil, errors.Wrapf(err, "config file %s", opts.ConfigFile)
		}
		files = append(files, opts.ConfigFile)
	}

	for _, path := range files {
		if err := mergeFile(v, path); err != nil {
			return nil, err
		}
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}

	cfg.Files = files
	return cfg, nil
}

func mergeFile(v *viper.Viper, path string) error {
	fileViper := viper.New()
	fileViper.SetConfigFile(path)
	fileViper.SetConfigType("toml")

	if err := fileViper.ReadInConfig(); err != nil {
		return errors.Wrapf(err, "reading config file %s", path)
	}

	if err := v.MergeConfigMap(fileViper.AllSettings()); err != nil {
		return errors.Wrapf(err, "merging config file %s", path)
	}
	return nil
}

// FindProjectConfig walks up from dir and returns the first project config
// file found, or an empty string.
func FindProjectConfig(dir string) string {
	if len(dir) == 0 {
		return ""
	}

	dir, err := filepath.Abs(dir)
	if err != nil {
		return ""
	}

	for {
		path := filepath.Join(dir, ProjectConfigName)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "decoding configuration")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cfg.v = v
	return &cfg, nil
}

// Merge returns a copy of cfg with editor settings applied on top. settings
// is the raw value sent by workspace/didChangeConfiguration; only the
// juancarlos section is read and anything else is ignored.
func (cfg *Config) Merge(settings any) (*Config, error) {
	section, ok := settingsSection(settings)
	if !ok {
		return cfg, nil
	}

	v := newViper()
	if cfg.v != nil {
		if err := v.MergeConfigMap(cfg.v.AllSettings()); err != nil {
			return nil, errors.Wrap(err, "copying configuration")
		}
	}

	if err := v.MergeConfigMap(section); err != nil {
		return nil, errors.Wrap(err, "merging editor settings")
	}

	merged, err := decode(v)
	if err != nil {
		return nil, err
	}

	merged.Files = cfg.Files
	return merged, nil
}

func settingsSection(settings any) (map[string]any, bool) {
	root, ok := settings.(map[string]any)
	if !ok {
		return nil, false
	}

	section, ok := root[SettingsSection].(map[string]any)
	return section, ok
}

// Validate rejects unknown rule names and severities.
func (cfg *Config) Validate() error {
	names := make([]string, 0, len(cfg.Rules))
	for name := range cfg.Rules {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, name := range names {
		if !IsKnownRule(name) {
			return newUnknownRuleError(name)
		}

		if _, err := ParseSeverity(cfg.Rules[name].Severity); err != nil {
			return errors.Wrapf(err, "rules.%s.severity", name)
		}
	}

	if cfg.Parser.Timeout < 0 {
		return errors.Newf("parser.timeout must not be negative, got %s", cfg.Parser.Timeout)
	}

	if cfg.Parser.MaxDocumentSize < 0 {
		return errors.Newf("parser.max_document_size must not be negative, got %d", cfg.Parser.MaxDocumentSize)
	}

	return nil
}

var severityNames = map[string]lsp.DiagnosticSeverity{
	"":            0,
	"none":        0,
	"error":       lsp.DiagnosticSeverityError,
	"warning":     lsp.DiagnosticSeverityWarning,
	"warn":        lsp.DiagnosticSeverityWarning,
	"information": lsp.DiagnosticSeverityInformation,
	"info":        lsp.DiagnosticSeverityInformation,
	"hint":        lsp.DiagnosticSeverityHint,
}

// ParseSeverity maps a severity name to its LSP value. Empty and "none"
// leave the severity unset.
func ParseSeverity(name string) (lsp.DiagnosticSeverity, error) {
	severity, ok := severityNames[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return 0, errors.WithHint(
			errors.Newf("unknown severity %q", name),
			"use one of error, warning, information, hint or none",
		)
	}
	return severity, nil
}

// SeverityName is the inverse of ParseSeverity.
func SeverityName(severity lsp.DiagnosticSeverity) string {
	switch severity {
	case lsp.DiagnosticSeverityError:
		return "error"
	case lsp.DiagnosticSeverityWarning:
		return "warning"
	case lsp.DiagnosticSeverityInformation:
		return "information"
	case lsp.DiagnosticSeverityHint:
		return "hint"
	default:
		return "none"
	}
}
