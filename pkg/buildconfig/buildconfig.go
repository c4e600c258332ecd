// Package buildconfig reads and writes the product metadata file
// (wire.json) that the packaging tools consume.
//
// A build loads the file, merges environment overrides into it, writes
// the result, runs the packager, and then puts the original bytes back.
// WithActive wraps that lifecycle.
package buildconfig

import (
	"context"
	"encoding/json"
	"os"

	"github.com/Masterminds/semver"
	"github.com/go-kit/kit/log/level"
	"github.com/pkg/errors"
	"github.com/wireapp/desktop-release/pkg/contexts/ctxlog"
	"go.opencensus.io/trace"
)

const (
	fileMode = 0644

	defaultBuildNumber = "0"
)

var ErrInvalidConfig = errors.New("invalid build configuration")

// Config is the product metadata shared by every platform build.
type Config struct {
	Name               string `json:"name"`
	Version            string `json:"version"`
	BuildNumber        string `json:"buildNumber"`
	Copyright          string `json:"copyright"`
	ElectronDirectory  string `json:"electronDirectory"`
	CustomProtocolName string `json:"customProtocolName"`

	// fields this package doesn't know about, written back untouched
	extra map[string]json.RawMessage
}

// Snapshot is the configuration file exactly as it was on disk.
type Snapshot struct {
	Path string
	raw  []byte
	mode os.FileMode
}

// Load reads the configuration at path and applies the overrides found
// in env. It returns the merged configuration and a snapshot of the
// file contents to restore later.
func Load(path string, env map[string]string) (*Config, *Snapshot, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "reading build configuration %s", path)
	}

	mode := os.FileMode(fileMode)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}

	cfg, err := parse(raw)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "parsing %s", path)
	}

	cfg.applyEnv(env)

	if err := cfg.validate(); err != nil {
		return nil, nil, err
	}

	return cfg, &Snapshot{Path: path, raw: raw, mode: mode}, nil
}

func parse(raw []byte) (*Config, error) {
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, &cfg.extra); err != nil {
		return nil, err
	}
	for _, k := range knownKeys {
		delete(cfg.extra, k)
	}
	return &cfg, nil
}

var knownKeys = []string{"name", "version", "buildNumber", "copyright", "electronDirectory", "customProtocolName"}

func (c *Config) applyEnv(env map[string]string) {
	if v := env["BUILD_NUMBER"]; v != "" {
		c.BuildNumber = v
	}
	if c.BuildNumber == "" {
		c.BuildNumber = defaultBuildNumber
	}
}

func (c *Config) validate() error {
	if c.Name == "" {
		return errors.Wrap(ErrInvalidConfig, "name is empty")
	}
	if _, err := semver.NewVersion(c.Version); err != nil {
		return errors.Wrapf(ErrInvalidConfig, "version %q: %s", c.Version, err)
	}
	return nil
}

// MarshalJSON writes the known fields over whatever else was in the
// original file.
func (c Config) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(c.extra)+len(knownKeys))
	for k, v := range c.extra {
		out[k] = v
	}
	out["name"] = c.Name
	out["version"] = c.Version
	out["buildNumber"] = c.BuildNumber
	out["copyright"] = c.Copyright
	out["electronDirectory"] = c.ElectronDirectory
	out["customProtocolName"] = c.CustomProtocolName
	return json.Marshal(out)
}

// Write persists cfg to path as indented JSON.
func Write(path string, cfg *Config) error {
	b, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshalling build configuration")
	}
	b = append(b, '\n')
	return errors.Wrapf(os.WriteFile(path, b, fileMode), "writing %s", path)
}

// Restore puts the snapshotted bytes back on disk.
func (s *Snapshot) Restore() error {
	return errors.Wrapf(os.WriteFile(s.Path, s.raw, s.mode), "restoring %s", s.Path)
}

// WithActive writes active to the snapshot's path, runs fn, and restores
// the snapshot however fn returns. An error from fn takes precedence
// over a restore error.
func WithActive(ctx context.Context, s *Snapshot, active *Config, fn func(context.Context) error) (err error) {
	ctx, span := trace.StartSpan(ctx, "buildconfig.WithActive")
	defer span.End()

	logger := ctxlog.FromContext(ctx)

	defer func() {
		if restoreErr := s.Restore(); restoreErr != nil {
			level.Error(logger).Log(
				"msg", "could not restore build configuration",
				"path", s.Path,
				"err", restoreErr,
			)
			if err == nil {
				err = restoreErr
			}
			return
		}
		level.Debug(logger).Log("msg", "restored build configuration", "path", s.Path)
	}()

	if err := Write(s.Path, active); err != nil {
		return err
	}

	return fn(ctx)
}
