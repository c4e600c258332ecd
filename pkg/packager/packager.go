// Package packager drives the external tools that turn the electron
// app into a macOS bundle and installer: electron-packager for the
// .app, and productbuild for the flat .pkg.
package packager

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/go-kit/kit/log/level"
	"github.com/pkg/errors"
	"github.com/wireapp/desktop-release/pkg/contexts/ctxlog"
	"go.opencensus.io/trace"
)

var ErrPackagingFailed = errors.New("packaging failed")

// electron-packager logs where it wrote the app on stderr, in one of
// two forms:
//
//	Wrote new app to <path>
//	Wrote new apps to:
//	<path>
//	<path>
const (
	wroteAppPrefix  = "Wrote new app to"
	wroteAppsPrefix = "Wrote new apps to"
)

// Protocol is a custom URL scheme registered by the app bundle.
type Protocol struct {
	Name    string
	Schemes []string
}

type SigningOptions struct {
	Identity            string
	Entitlements        string
	EntitlementsInherit string
}

type NotarizationOptions struct {
	AppleID         string
	AppleIDPassword string
}

// Options mirrors the electron-packager options we use. Sign and
// Notarize are only passed on when set.
type Options struct {
	WorkDir  string // directory the packager runs in, relative paths below resolve against it
	Dir      string
	Name     string
	Platform string
	Out      string

	AppBundleID     string
	HelperBundleID  string
	AppCategoryType string
	AppCopyright    string
	AppVersion      string
	BuildVersion    string

	ExtendInfo string
	Icon       string
	Ignore     string
	Protocols  []Protocol

	Asar                  bool
	Overwrite             bool
	DarwinDarkModeSupport bool

	Sign     *SigningOptions
	Notarize *NotarizationOptions
}

type Packager struct {
	electronPackager string
	productbuild     string

	execCC func(context.Context, string, ...string) *exec.Cmd
}

type Option func(*Packager)

// WithElectronPackager sets the electron-packager executable.
func WithElectronPackager(path string) Option {
	return func(p *Packager) {
		p.electronPackager = path
	}
}

func WithProductbuild(path string) Option {
	return func(p *Packager) {
		p.productbuild = path
	}
}

func New(opts ...Option) *Packager {
	p := Packager{
		electronPackager: "electron-packager",
		productbuild:     "productbuild",
		execCC:           exec.CommandContext,
	}

	for _, opt := range opts {
		opt(&p)
	}

	return &p
}

// Package runs electron-packager and returns the directory it wrote the
// app to.
func (p *Packager) Package(ctx context.Context, po Options) (string, error) {
	ctx, span := trace.StartSpan(ctx, "packager.Package")
	defer span.End()

	logger := ctxlog.FromContext(ctx)

	args := packagerArgs(po)

	level.Debug(logger).Log(
		"msg", "Running electron-packager",
		"args", strings.Join(redact(args), " "),
	)

	cmd := p.execCC(ctx, p.electronPackager, args...)
	cmd.Dir = po.WorkDir
	output := new(bytes.Buffer)
	cmd.Stdout, cmd.Stderr = output, output
	if err := cmd.Run(); err != nil {
		return "", errors.Wrapf(ErrPackagingFailed, "electron-packager: %s: %s", err, output)
	}

	buildDir := outputDir(output.String())
	if buildDir == "" {
		return "", errors.Wrapf(ErrPackagingFailed, "electron-packager did not report an output directory, output=%s", output)
	}

	return buildDir, nil
}

// Productbuild wraps appPath in a flat installer package at outPath,
// signed with identity.
func (p *Packager) Productbuild(ctx context.Context, appPath, identity, outPath string) error {
	ctx, span := trace.StartSpan(ctx, "packager.Productbuild")
	defer span.End()

	args := []string{"--component", appPath, "/Applications"}
	if identity != "" {
		args = append(args, "--sign", identity)
	}
	args = append(args, outPath)

	level.Debug(ctxlog.FromContext(ctx)).Log(
		"msg", "Running productbuild",
		"args", fmt.Sprintf("%v", args),
	)

	cmd := p.execCC(ctx, p.productbuild, args...)
	stderr := new(bytes.Buffer)
	cmd.Stderr = stderr
	if err := cmd.Run(); err != nil {
		return errors.Wrapf(ErrPackagingFailed, "productbuild: %s: %s", err, stderr)
	}

	return nil
}

func packagerArgs(po Options) []string {
	args := []string{po.Dir, po.Name}

	flag := func(name, value string) {
		if value != "" {
			args = append(args, fmt.Sprintf("--%s=%s", name, value))
		}
	}
	boolFlag := func(name string, set bool) {
		if set {
			args = append(args, "--"+name)
		}
	}

	flag("platform", po.Platform)
	flag("out", po.Out)
	flag("app-bundle-id", po.AppBundleID)
	flag("helper-bundle-id", po.HelperBundleID)
	flag("app-category-type", po.AppCategoryType)
	flag("app-copyright", po.AppCopyright)
	flag("app-version", po.AppVersion)
	flag("build-version", po.BuildVersion)
	flag("extend-info", po.ExtendInfo)
	flag("icon", po.Icon)
	flag("ignore", po.Ignore)

	for _, proto := range po.Protocols {
		for _, scheme := range proto.Schemes {
			flag("protocol", scheme)
			flag("protocol-name", proto.Name)
		}
	}

	boolFlag("asar", po.Asar)
	boolFlag("overwrite", po.Overwrite)
	boolFlag("darwin-dark-mode-support", po.DarwinDarkModeSupport)

	if po.Sign != nil {
		flag("osx-sign.identity", po.Sign.Identity)
		flag("osx-sign.entitlements", po.Sign.Entitlements)
		flag("osx-sign.entitlements-inherit", po.Sign.EntitlementsInherit)
	}

	if po.Notarize != nil {
		flag("osx-notarize.appleId", po.Notarize.AppleID)
		flag("osx-notarize.appleIdPassword", po.Notarize.AppleIDPassword)
	}

	return args
}

// outputDir finds the path electron-packager reports it wrote the app
// to. When several are reported, the last one wins.
func outputDir(output string) string {
	var (
		dir    string
		inList bool
	)
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case strings.HasPrefix(line, wroteAppsPrefix):
			inList = true
			if rest := trimReported(line, wroteAppsPrefix); rest != "" {
				dir = rest
			}
		case strings.HasPrefix(line, wroteAppPrefix):
			inList = false
			dir = trimReported(line, wroteAppPrefix)
		case inList && line != "":
			dir = line
		default:
			inList = false
		}
	}
	return dir
}

func trimReported(line, prefix string) string {
	return strings.TrimSpace(strings.TrimPrefix(strings.TrimPrefix(line, prefix), ":"))
}

func redact(args []string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		if strings.HasPrefix(a, "--osx-notarize.appleIdPassword=") {
			a = "--osx-notarize.appleIdPassword=REDACTED"
		}
		out[i] = a
	}
	return out
}
