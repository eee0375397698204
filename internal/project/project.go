// Package project reads the project metadata file (package.json or an
// equivalent YAML document) that jadewatch loads once at start.
//
// Metadata is informational. It is logged and exposed to templates but never
// changes what the compile or watch tasks do.
package project

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"
)

// EngineKey is the entry under "engines" holding a jadewatch version
// constraint.
const EngineKey = "jadewatch"

// Metadata wraps the fields jadewatch reads from the project file.
type Metadata struct {
	Name        string            `json:"name" yaml:"name"`
	Version     string            `json:"version" yaml:"version"`
	Description string            `json:"description" yaml:"description"`
	Engines     map[string]string `json:"engines" yaml:"engines"`

	// Path is the file the metadata was read from; empty when none was found.
	Path string `json:"-" yaml:"-"`
}

// Load reads path. A missing file yields empty metadata and no error.
// ".json" files are decoded as JSON, anything else as YAML.
func Load(path string) (*Metadata, error) {
	if path == "" {
		return &Metadata{}, nil
	}

	data, err := os.ReadFile(path) //nolint:gosec // user-supplied project file
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &Metadata{}, nil
		}

		return nil, fmt.Errorf("reading project metadata %s: %w", path, err)
	}

	var meta Metadata
	if err := decode(path, data, &meta); err != nil {
		return nil, fmt.Errorf("parsing project metadata %s: %w", path, err)
	}

	meta.Path = path

	return &meta, nil
}

func decode(path string, data []byte, meta *Metadata) error {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return json.Unmarshal(data, meta)
	}

	return yaml.Unmarshal(data, meta)
}

// Found reports whether metadata came from a file.
func (m *Metadata) Found() bool {
	return m.Path != ""
}

// SemVer parses Version. It fails when Version is empty or not a semantic
// version.
func (m *Metadata) SemVer() (*semver.Version, error) {
	if m.Version == "" {
		return nil, errors.New("no version declared")
	}

	v, err := semver.NewVersion(m.Version)
	if err != nil {
		return nil, fmt.Errorf("invalid project version %q: %w", m.Version, err)
	}

	return v, nil
}

// SupportsTool checks the engines.jadewatch constraint against toolVersion.
// Projects without a constraint, and development builds whose version is not
// semantic, are always supported.
func (m *Metadata) SupportsTool(toolVersion string) (bool, error) {
	constraint, ok := m.Engines[EngineKey]
	if !ok || constraint == "" {
		return true, nil
	}

	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return false, fmt.Errorf("invalid engines.%s constraint %q: %w", EngineKey, constraint, err)
	}

	v, err := semver.NewVersion(toolVersion)
	if err != nil {
		return true, nil //nolint:nilerr // dev builds skip the check
	}

	return c.Check(v), nil
}

// TemplateData is the value handed to compiled templates.
func (m *Metadata) TemplateData() map[string]string {
	return map[string]string{
		"Name":        m.Name,
		"Version":     m.Version,
		"Description": m.Description,
	}
}

// Log reports the metadata and any problems with it. Nothing here is fatal.
func (m *Metadata) Log(logger *slog.Logger, toolVersion string) {
	if !m.Found() {
		logger.Debug("no project metadata file found")
		return
	}

	logger.Info("project metadata loaded",
		slog.String("path", m.Path),
		slog.String("name", m.Name),
		slog.String("version", m.Version),
	)

	if m.Version != "" {
		if _, err := m.SemVer(); err != nil {
			logger.Warn("project version is not semantic", slog.String("error", err.Error()))
		}
	}

	ok, err := m.SupportsTool(toolVersion)
	switch {
	case err != nil:
		logger.Warn("ignoring engines constraint", slog.String("error", err.Error()))
	case !ok:
		logger.Warn("project requests a different jadewatch version",
			slog.String("constraint", m.Engines[EngineKey]),
			slog.String("running", toolVersion),
		)
	}
}
