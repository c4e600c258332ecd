package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-kit/kit/log/level"
	"github.com/kolide/kit/logutil"
	"github.com/kolide/kit/version"
	"github.com/wireapp/desktop-release/pkg/contexts/ctxlog"
	"github.com/wireapp/desktop-release/pkg/macosbuild"
	"github.com/wireapp/desktop-release/pkg/packager"
)

func main() {
	opts, fs, err := parseOptions(os.Args[1:])
	if err != nil {
		logger := logutil.NewCLILogger(true)
		logutil.Fatal(logger, "msg", "Error parsing flags", "err", err)
	}

	if opts.printVersion {
		version.PrintFull()
		return
	}

	logger := logutil.NewCLILogger(opts.debug)

	// An interrupted build cancels the packager, and wire.json is
	// restored before we exit.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = ctxlog.NewContext(ctx, logger)

	if opts.wireJSON == "" {
		fs.Usage()
		level.Error(logger).Log("msg", "Missing required flag", "flag", "wire-json", "err", macosbuild.ErrConfigurationMissing)
		os.Exit(1)
	}

	p := packager.New(
		packager.WithElectronPackager(opts.packager),
		packager.WithProductbuild(opts.productbuild),
	)

	env := macosbuild.EnvFromEnviron(os.Environ())

	b := macosbuild.New(p, macosbuild.WithNotarizationWait(opts.notarizeWait))

	result, err := b.Build(ctx, opts.wireJSON, env)
	if err != nil {
		level.Error(logger).Log("msg", "Build failed", "err", err)
		stop()
		os.Exit(1)
	}

	level.Info(logger).Log(
		"msg", "Build complete",
		"build_dir", result.BuildDir,
		"installer", result.InstallerPath,
		"notarization_submission", result.SubmissionID,
		"notarized", result.Notarized,
	)
}
