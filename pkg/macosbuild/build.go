// Package macosbuild produces the Mac App Store build of the desktop
// client.
//
// A build reads wire.json, merges in the environment, writes the merged
// file for the packager, runs electron-packager, and puts wire.json back
// the way it found it whatever happens. When an installer certificate is
// configured the app is then wrapped in a signed .pkg, and optionally
// submitted for notarization.
package macosbuild

import (
	"context"
	"path/filepath"
	"time"

	"github.com/go-kit/kit/log/level"
	"github.com/pkg/errors"
	"github.com/wireapp/desktop-release/pkg/buildconfig"
	"github.com/wireapp/desktop-release/pkg/contexts/ctxlog"
	"github.com/wireapp/desktop-release/pkg/packager"
	"github.com/wireapp/desktop-release/pkg/packager/applenotarization"
	"go.opencensus.io/trace"
)

var ErrConfigurationMissing = errors.New("configuration file not specified")

type Packager interface {
	Package(ctx context.Context, po packager.Options) (string, error)
	Productbuild(ctx context.Context, appPath, identity, outPath string) error
}

type Notarizer interface {
	Submit(ctx context.Context, filePath string) (string, error)
	Wait(ctx context.Context, id string, interval time.Duration) error
}

// Result describes what a build produced. InstallerPath and
// SubmissionID are empty when those steps didn't run. Notarized is
// only set when the build waited for Apple to accept the installer.
type Result struct {
	BuildDir      string
	InstallerPath string
	SubmissionID  string
	Notarized     bool
}

type Builder struct {
	packager     Packager
	workDir      string
	newNotarizer func(appleID, password, teamID string) Notarizer
	notarizeWait time.Duration
}

type Option func(*Builder)

// WithWorkDir sets the directory resource paths and the packager's
// output resolve against. Defaults to the current directory.
func WithWorkDir(dir string) Option {
	return func(b *Builder) {
		b.workDir = dir
	}
}

func WithNotarizer(fn func(appleID, password, teamID string) Notarizer) Option {
	return func(b *Builder) {
		b.newNotarizer = fn
	}
}

// WithNotarizationWait makes the build wait for the notarization
// result, checking every interval. Zero, the default, submits and
// moves on.
func WithNotarizationWait(interval time.Duration) Option {
	return func(b *Builder) {
		b.notarizeWait = interval
	}
}

func New(p Packager, opts ...Option) *Builder {
	b := Builder{
		packager: p,
		workDir:  ".",
		newNotarizer: func(appleID, password, teamID string) Notarizer {
			return applenotarization.New(appleID, password, teamID)
		},
	}

	for _, opt := range opts {
		opt(&b)
	}

	return &b
}

// Build runs a full macOS build using the configuration at configPath
// and the variables in env.
func (b *Builder) Build(ctx context.Context, configPath string, env map[string]string) (*Result, error) {
	ctx, span := trace.StartSpan(ctx, "macosbuild.Build")
	defer span.End()

	logger := ctxlog.FromContext(ctx)

	if configPath == "" {
		return nil, ErrConfigurationMissing
	}

	resolved, err := filepath.Abs(configPath)
	if err != nil {
		return nil, errors.Wrapf(err, "resolving %s", configPath)
	}

	cfg, snapshot, err := buildconfig.Load(resolved, env)
	if err != nil {
		return nil, err
	}

	mac := ResolveMacOSConfig(env, DefaultMacOSConfig())
	po := PackagerOptions(cfg, mac)
	po.WorkDir = b.workDir

	if err := preflight(b.workDir, po); err != nil {
		return nil, err
	}

	level.Debug(logger).Log(
		"msg", "build configuration",
		"name", cfg.Name,
		"version", cfg.Version,
		"build_number", cfg.BuildNumber,
		"bundle_id", mac.BundleID,
		"sign", po.Sign != nil,
		"notarize", po.Notarize != nil,
		"installer", mac.CertNameInstaller != "",
	)

	level.Info(logger).Log(
		"msg", "building for macOS",
		"name", cfg.Name,
		"version", cfg.Version,
	)

	result := &Result{}
	err = buildconfig.WithActive(ctx, snapshot, cfg, func(ctx context.Context) error {
		buildDir, err := b.packager.Package(ctx, po)
		if err != nil {
			return err
		}
		result.BuildDir = b.resolve(buildDir)
		return nil
	})
	if err != nil {
		return nil, err
	}

	level.Info(logger).Log(
		"msg", "built package",
		"build_dir", result.BuildDir,
	)

	if mac.CertNameInstaller == "" {
		return result, nil
	}

	if err := b.buildInstaller(ctx, cfg, mac, result); err != nil {
		return nil, err
	}

	return result, nil
}

func (b *Builder) buildInstaller(ctx context.Context, cfg *buildconfig.Config, mac MacOSConfig, result *Result) error {
	ctx, span := trace.StartSpan(ctx, "macosbuild.buildInstaller")
	defer span.End()

	logger := ctxlog.FromContext(ctx)

	appPath := filepath.Join(result.BuildDir, cfg.Name+".app")
	installerPath := b.resolve(filepath.Join(outputDir, cfg.Name+".pkg"))

	if err := b.packager.Productbuild(ctx, appPath, mac.CertNameInstaller, installerPath); err != nil {
		return err
	}
	result.InstallerPath = installerPath

	level.Info(logger).Log(
		"msg", "built installer",
		"path", installerPath,
	)

	if mac.NotarizeAppleID == "" || mac.NotarizeApplePassword == "" || mac.NotarizeTeamID == "" {
		return nil
	}

	notarizer := b.newNotarizer(mac.NotarizeAppleID, mac.NotarizeApplePassword, mac.NotarizeTeamID)

	id, err := notarizer.Submit(ctx, installerPath)
	if err != nil {
		return errors.Wrap(err, "submitting installer for notarization")
	}
	result.SubmissionID = id

	level.Info(logger).Log(
		"msg", "submitted installer for notarization",
		"submission_id", id,
	)

	if b.notarizeWait <= 0 {
		return nil
	}

	if err := notarizer.Wait(ctx, id, b.notarizeWait); err != nil {
		return errors.Wrap(err, "waiting for notarization")
	}
	result.Notarized = true

	return nil
}

func (b *Builder) resolve(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(b.workDir, p)
}
