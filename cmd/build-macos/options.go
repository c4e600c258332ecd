package main

import (
	"flag"
	"time"

	"github.com/peterbourgon/ff/v3"
)

type options struct {
	wireJSON     string
	debug        bool
	packager     string
	productbuild string
	notarizeWait time.Duration
	printVersion bool
}

// parseOptions reads flags from args, then WIRE_BUILD_* environment
// variables, then the file named by --config.
func parseOptions(args []string) (*options, *flag.FlagSet, error) {
	fs := flag.NewFlagSet("wire-build-macos", flag.ContinueOnError)

	var (
		flWireJSON     = fs.String("wire-json", "", "Path to wire.json")
		flDebug        = fs.Bool("debug", false, "use a debug logger")
		flPackager     = fs.String("packager", "electron-packager", "Path to the electron-packager executable")
		flProductbuild = fs.String("productbuild", "productbuild", "Path to the productbuild executable")
		flNotarizeWait = fs.Duration("notarize-wait", 0, "Poll interval while waiting for installer notarization. 0 submits without waiting")
		flVersion      = fs.Bool("version", false, "Print version and exit")
		_              = fs.String("config", "", "Path to a config file with one flag per line")
	)

	ffOpts := []ff.Option{
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ff.PlainParser),
		ff.WithEnvVarPrefix("WIRE_BUILD"),
	}

	if err := ff.Parse(fs, args, ffOpts...); err != nil {
		return nil, fs, err
	}

	return &options{
		wireJSON:     *flWireJSON,
		debug:        *flDebug,
		packager:     *flPackager,
		productbuild: *flProductbuild,
		notarizeWait: *flNotarizeWait,
		printVersion: *flVersion,
	}, fs, nil
}
