package s3deploy

import (
	"context"
	"path"

	"github.com/go-kit/kit/log/level"
	"github.com/wireapp/desktop-release/pkg/contexts/ctxlog"
	"go.opencensus.io/trace"
)

type PublishOptions struct {
	Platform string
	BasePath string
	Version  string
	Bucket   string
	S3Path   string // key prefix, each artifact lands at S3Path/FileName
}

// Publish finds the artifacts for a platform and uploads them one after
// the other, stopping at the first failure. It returns the keys written.
func (d *Deployer) Publish(ctx context.Context, o PublishOptions) ([]string, error) {
	ctx, span := trace.StartSpan(ctx, "s3deploy.Publish")
	defer span.End()

	logger := ctxlog.FromContext(ctx)

	files, err := d.FindUploadFiles(ctx, o.Platform, o.BasePath, o.Version)
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(files))
	for _, f := range files {
		key := path.Join(o.S3Path, f.FileName)

		level.Info(logger).Log(
			"msg", "uploading artifact",
			"file", f.FilePath,
			"bucket", o.Bucket,
			"key", key,
		)

		if err := d.UploadToS3(ctx, UploadOptions{
			Bucket:   o.Bucket,
			FilePath: f.FilePath,
			S3Path:   key,
		}); err != nil {
			return keys, err
		}
		keys = append(keys, key)
	}

	return keys, nil
}
