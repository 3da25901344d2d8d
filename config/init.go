package config

import (
	"bytes"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/cockroachdb/errors"
	"github.com/juan-carlos/juancarlos/analysis"
	"github.com/juan-carlos/juancarlos/markup"
)

var ErrConfigExists = errors.New("config file already exists")

type fileRule struct {
	Enabled  bool   `toml:"enabled"`
	Severity string `toml:"severity"`
	Message  string `toml:"message"`
	Code     int    `toml:"code,omitempty"`
}

type fileParser struct {
	Timeout         string `toml:"timeout"`
	MaxDocumentSize int    `toml:"max_document_size"`
}

type fileLog struct {
	Level string `toml:"level"`
	JSON  bool   `toml:"json"`
}

type fileHistory struct {
	Enabled   bool   `toml:"enabled"`
	Path      string `toml:"path"`
	Snapshots bool   `toml:"snapshots"`
}

type fileServer struct {
	Name string `toml:"name"`
}

type file struct {
	Rules   map[string]fileRule `toml:"rules"`
	Parser  fileParser          `toml:"parser"`
	Log     fileLog             `toml:"log"`
	History fileHistory         `toml:"history"`
	Server  fileServer          `toml:"server"`
}

func defaultFile() file {
	return file{
		Rules: map[string]fileRule{
			analysis.ClassAttributeRuleName: {
				Enabled:  true,
				Severity: "error",
				Message:  analysis.DefaultClassAttributeMessage,
				Code:     analysis.ClassAttributeCode,
			},
			analysis.DuplicateIDRuleName: {
				Enabled:  true,
				Severity: "none",
				Message:  analysis.DefaultDuplicateIDMessage,
			},
		},
		Parser: fileParser{
			Timeout:         markup.DefaultTimeout.String(),
			MaxDocumentSize: markup.DefaultMaxSize,
		},
		Log: fileLog{Level: "info"},
		History: fileHistory{
			Snapshots: true,
		},
		Server: fileServer{Name: DefaultServerName},
	}
}

// DefaultTOML renders the default configuration as a TOML document.
func DefaultTOML() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString("# juancarlos configuration\n\n")

	enc := toml.NewEncoder(&buf)
	if err := enc.Encode(defaultFile()); err != nil {
		return nil, errors.Wrap(err, "encoding default configuration")
	}
	return buf.Bytes(), nil
}

// WriteDefault writes the default configuration to path. An existing file
// is only replaced when force is set.
func WriteDefault(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return errors.WithHint(
			errors.Wrapf(ErrConfigExists, "%s", path),
			"pass --force to overwrite it",
		)
	}

	content, err := DefaultTOML()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "creating %s", filepath.Dir(path))
	}

	if err := os.WriteFile(path, content, 0o644); err != nil {
		return errors.Wrapf(err, "writing %s", path)
	}
	return nil
}
