// Package s3deploy stages desktop build artifacts in an S3 bucket.
//
// Every mutating operation honors the deployer's dry run setting. When
// it is enabled, the request is logged with dry_run=true and nothing is
// sent.
package s3deploy

import (
	"context"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/pkg/errors"
	"github.com/wireapp/desktop-release/pkg/contexts/ctxlog"
	"go.opencensus.io/trace"
)

const defaultRegion = "eu-west-1"

var ErrFileNotFound = errors.New("file not found")

// ObjectStore is the subset of *s3.Client the deployer calls. Uploads
// go through the managed uploader, which switches to a multipart upload
// for files larger than one part.
type ObjectStore interface {
	manager.UploadAPIClient
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	CopyObject(ctx context.Context, params *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
}

type Options struct {
	AccessKeyID     string
	SecretAccessKey string
	DryRun          bool
	Region          string // defaults to eu-west-1
	Endpoint        string // optional, for MinIO, LocalStack, etc.
}

type UploadOptions struct {
	Bucket   string
	FilePath string
	S3Path   string
}

type DeleteOptions struct {
	Bucket string
	S3Path string
}

type CopyOptions struct {
	Bucket     string
	S3FromPath string
	S3ToPath   string
}

type Deployer struct {
	client   ObjectStore
	uploader *manager.Uploader
	dryRun   bool
}

// New creates a Deployer talking to S3 with the static credentials in
// opts.
func New(ctx context.Context, opts Options) (*Deployer, error) {
	region := opts.Region
	if region == "" {
		region = defaultRegion
	}

	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, "")),
	)
	if err != nil {
		return nil, errors.Wrap(err, "loading aws config")
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})

	return NewWithClient(client, opts.DryRun), nil
}

// NewWithClient creates a Deployer on top of an existing client.
func NewWithClient(client ObjectStore, dryRun bool) *Deployer {
	return &Deployer{
		client:   client,
		uploader: manager.NewUploader(client),
		dryRun:   dryRun,
	}
}

// UploadToS3 streams the regular file at FilePath to Bucket/S3Path as a
// public-read object.
func (d *Deployer) UploadToS3(ctx context.Context, o UploadOptions) error {
	ctx, span := trace.StartSpan(ctx, "s3deploy.UploadToS3")
	defer span.End()

	info, err := os.Lstat(o.FilePath)
	if err != nil || !info.Mode().IsRegular() {
		return errors.Wrapf(ErrFileNotFound, "file %q", o.FilePath)
	}

	if d.dryRun {
		logDry(ctx, "uploadToS3",
			"bucket", o.Bucket,
			"key", o.S3Path,
			"acl", string(types.ObjectCannedACLPublicRead),
			"file", o.FilePath,
		)
		return nil
	}

	file, err := os.Open(o.FilePath)
	if err != nil {
		return errors.Wrapf(err, "opening %s", o.FilePath)
	}
	defer file.Close()

	level.Debug(ctxlog.FromContext(ctx)).Log(
		"msg", "uploading",
		"bucket", o.Bucket,
		"key", o.S3Path,
		"size", info.Size(),
	)

	_, err = d.uploader.Upload(ctx, &s3.PutObjectInput{
		ACL:           types.ObjectCannedACLPublicRead,
		Body:          file,
		Bucket:        aws.String(o.Bucket),
		ContentLength: aws.Int64(info.Size()),
		Key:           aws.String(o.S3Path),
	})
	return err
}

// DeleteFromS3 removes Bucket/S3Path. A missing key is left to S3 to
// report, or not.
func (d *Deployer) DeleteFromS3(ctx context.Context, o DeleteOptions) error {
	ctx, span := trace.StartSpan(ctx, "s3deploy.DeleteFromS3")
	defer span.End()

	if d.dryRun {
		logDry(ctx, "deleteFromS3",
			"bucket", o.Bucket,
			"key", o.S3Path,
		)
		return nil
	}

	_, err := d.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(o.Bucket),
		Key:    aws.String(o.S3Path),
	})
	return err
}

// CopyOnS3 copies S3FromPath to S3ToPath within Bucket. The copy is
// public-read.
func (d *Deployer) CopyOnS3(ctx context.Context, o CopyOptions) error {
	ctx, span := trace.StartSpan(ctx, "s3deploy.CopyOnS3")
	defer span.End()

	copySource := copySourceFor(o.Bucket, o.S3FromPath)

	if d.dryRun {
		logDry(ctx, "copyOnS3",
			"bucket", o.Bucket,
			"copy_source", copySource,
			"key", o.S3ToPath,
			"acl", string(types.ObjectCannedACLPublicRead),
		)
		return nil
	}

	_, err := d.client.CopyObject(ctx, &s3.CopyObjectInput{
		ACL:        types.ObjectCannedACLPublicRead,
		Bucket:     aws.String(o.Bucket),
		CopySource: aws.String(copySource),
		Key:        aws.String(o.S3ToPath),
	})
	return err
}

func logDry(ctx context.Context, operation string, keyvals ...interface{}) {
	logger := log.With(ctxlog.FromContext(ctx),
		"dry_run", true,
		"operation", operation,
	)
	level.Info(logger).Log(append([]interface{}{"msg", "dry run, skipping request"}, keyvals...)...)
}
