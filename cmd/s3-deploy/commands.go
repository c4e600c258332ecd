package main

import (
	"context"
	"flag"
	"strings"

	"github.com/go-kit/kit/log/level"
	"github.com/kolide/kit/env"
	"github.com/peterbourgon/ff/v3"
	"github.com/pkg/errors"
	"github.com/wireapp/desktop-release/pkg/s3deploy"
)

// deployerFlags are shared by every mode that talks to S3.
type deployerFlags struct {
	accessKeyID     *string
	secretAccessKey *string
	region          *string
	endpoint        *string
	dryRun          *bool
	debug           *bool
}

func addDeployerFlags(fs *flag.FlagSet) deployerFlags {
	return deployerFlags{
		accessKeyID: fs.String(
			"access-key-id",
			env.String("AWS_ACCESS_KEY_ID", ""),
			"AWS access key id",
		),
		secretAccessKey: fs.String(
			"secret-access-key",
			env.String("AWS_SECRET_ACCESS_KEY", ""),
			"AWS secret access key",
		),
		region: fs.String(
			"region",
			env.String("AWS_REGION", ""),
			"AWS region (default eu-west-1)",
		),
		endpoint: fs.String(
			"endpoint",
			"",
			"custom S3 endpoint, for MinIO or LocalStack",
		),
		dryRun: fs.Bool(
			"dry-run",
			env.Bool("DRY_RUN", false),
			"log what would be sent to S3 without sending it",
		),
		debug: fs.Bool(
			"debug",
			false,
			"enable debug logging",
		),
	}
}

func parse(fs *flag.FlagSet, args []string) error {
	return ff.Parse(fs, args, ff.WithEnvVarPrefix("WIRE_DEPLOY"))
}

func (f deployerFlags) deployer(ctx context.Context) (*s3deploy.Deployer, error) {
	if !*f.dryRun && (*f.accessKeyID == "" || *f.secretAccessKey == "") {
		return nil, errors.New("access-key-id and secret-access-key are required")
	}

	return s3deploy.New(ctx, s3deploy.Options{
		AccessKeyID:     *f.accessKeyID,
		SecretAccessKey: *f.secretAccessKey,
		DryRun:          *f.dryRun,
		Region:          *f.region,
		Endpoint:        *f.endpoint,
	})
}

type requiredFlag struct {
	name  string
	value string
}

func required(flags ...requiredFlag) error {
	for _, f := range flags {
		if f.value == "" {
			return errors.Errorf("flag --%s is required", f.name)
		}
	}
	return nil
}

// uploadRequired checks the upload flags. Only windows installers are
// named after the version, so the other platforms don't need one.
func uploadRequired(platform, path, version, bucket string) error {
	flags := []requiredFlag{
		{"platform", platform},
		{"path", path},
	}
	if strings.Contains(platform, "windows") {
		flags = append(flags, requiredFlag{"version", version})
	}
	flags = append(flags, requiredFlag{"bucket", bucket})

	return required(flags...)
}

func runUpload(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("upload", flag.ExitOnError)
	var (
		flPlatform = fs.String("platform", "", "platform to deploy: linux, windows or macos")
		flPath     = fs.String("path", "", "directory holding the build artifacts")
		flVersion  = fs.String("version", "", "release version, used to name windows installers")
		flBucket   = fs.String("bucket", "", "destination bucket")
		flS3Path   = fs.String("s3-path", "", "key prefix the artifacts are uploaded under")
	)
	df := addDeployerFlags(fs)

	fs.Usage = usageFor(fs, "s3-deploy upload [flags]")
	if err := parse(fs, args); err != nil {
		return err
	}

	if err := uploadRequired(*flPlatform, *flPath, *flVersion, *flBucket); err != nil {
		return err
	}

	ctx, logger := withLogger(ctx, *df.debug)

	d, err := df.deployer(ctx)
	if err != nil {
		return err
	}

	keys, err := d.Publish(ctx, s3deploy.PublishOptions{
		Platform: *flPlatform,
		BasePath: *flPath,
		Version:  *flVersion,
		Bucket:   *flBucket,
		S3Path:   *flS3Path,
	})
	if err != nil {
		return err
	}

	level.Info(logger).Log(
		"msg", "upload complete",
		"bucket", *flBucket,
		"count", len(keys),
		"dry_run", *df.dryRun,
	)

	return nil
}

func runDelete(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	var (
		flBucket = fs.String("bucket", "", "bucket holding the object")
		flS3Path = fs.String("s3-path", "", "key of the object to delete")
	)
	df := addDeployerFlags(fs)

	fs.Usage = usageFor(fs, "s3-deploy delete [flags]")
	if err := parse(fs, args); err != nil {
		return err
	}

	if err := required(requiredFlag{"bucket", *flBucket}, requiredFlag{"s3-path", *flS3Path}); err != nil {
		return err
	}

	ctx, _ = withLogger(ctx, *df.debug)

	d, err := df.deployer(ctx)
	if err != nil {
		return err
	}

	return d.DeleteFromS3(ctx, s3deploy.DeleteOptions{Bucket: *flBucket, S3Path: *flS3Path})
}

func runCopy(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("copy", flag.ExitOnError)
	var (
		flBucket = fs.String("bucket", "", "bucket holding both objects")
		flFrom   = fs.String("from", "", "source key")
		flTo     = fs.String("to", "", "destination key")
	)
	df := addDeployerFlags(fs)

	fs.Usage = usageFor(fs, "s3-deploy copy [flags]")
	if err := parse(fs, args); err != nil {
		return err
	}

	if err := required(requiredFlag{"bucket", *flBucket}, requiredFlag{"from", *flFrom}, requiredFlag{"to", *flTo}); err != nil {
		return err
	}

	ctx, _ = withLogger(ctx, *df.debug)

	d, err := df.deployer(ctx)
	if err != nil {
		return err
	}

	return d.CopyOnS3(ctx, s3deploy.CopyOptions{Bucket: *flBucket, S3FromPath: *flFrom, S3ToPath: *flTo})
}
