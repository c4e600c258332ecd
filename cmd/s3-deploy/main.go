package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/kolide/kit/logutil"
	"github.com/kolide/kit/version"
	"github.com/wireapp/desktop-release/pkg/contexts/ctxlog"
)

func runVersion(_ context.Context, _ []string) error {
	version.PrintFull()
	return nil
}

func usageFor(fs *flag.FlagSet, short string) func() {
	return func() {
		fmt.Fprintf(os.Stderr, "USAGE\n")
		fmt.Fprintf(os.Stderr, "  %s\n", short)
		fmt.Fprintf(os.Stderr, "\n")
		fmt.Fprintf(os.Stderr, "FLAGS\n")
		w := tabwriter.NewWriter(os.Stderr, 0, 2, 2, ' ', 0)
		fs.VisitAll(func(f *flag.Flag) {
			fmt.Fprintf(w, "\t-%s %s\t%s\n", f.Name, f.DefValue, f.Usage)
		})
		w.Flush()
		fmt.Fprintf(os.Stderr, "\n")
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "USAGE\n")
	fmt.Fprintf(os.Stderr, "  %s <mode> --help\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "MODES\n")
	fmt.Fprintf(os.Stderr, "  upload       Find the build artifacts for a platform and upload them\n")
	fmt.Fprintf(os.Stderr, "  delete       Delete an object\n")
	fmt.Fprintf(os.Stderr, "  copy         Copy an object within a bucket\n")
	fmt.Fprintf(os.Stderr, "  version      Print full version information\n")
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "VERSION\n")
	fmt.Fprintf(os.Stderr, "  %s\n", version.Version().Version)
	fmt.Fprintf(os.Stderr, "\n")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	var run func(context.Context, []string) error
	switch strings.ToLower(os.Args[1]) {
	case "version":
		run = runVersion
	case "upload":
		run = runUpload
	case "delete":
		run = runDelete
	case "copy":
		run = runCopy
	default:
		usage()
		os.Exit(1)
	}

	// Subcommands replace this once they've parsed --debug.
	logger := logutil.NewCLILogger(false)
	ctx := ctxlog.NewContext(context.Background(), logger)

	if err := run(ctx, os.Args[2:]); err != nil {
		level.Error(ctxlog.FromContext(ctx)).Log("msg", "deploy failed", "mode", os.Args[1], "err", err)
		os.Exit(1)
	}
}

// withLogger swaps in a debug logger when asked to.
func withLogger(ctx context.Context, debug bool) (context.Context, log.Logger) {
	logger := logutil.NewCLILogger(debug)
	return ctxlog.NewContext(ctx, logger), logger
}
