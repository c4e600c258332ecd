package s3deploy

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"github.com/wireapp/desktop-release/pkg/contexts/ctxlog"
)

type putCall struct {
	input *s3.PutObjectInput
	body  []byte
}

type partCall struct {
	input *s3.UploadPartInput
	body  []byte
}

// fakeStore records every request. The managed uploader sends parts
// concurrently, so it is safe for concurrent use.
type fakeStore struct {
	mu        sync.Mutex
	puts      []putCall
	creates   []*s3.CreateMultipartUploadInput
	parts     []partCall
	completes []*s3.CompleteMultipartUploadInput
	aborts    []*s3.AbortMultipartUploadInput
	deletes   []*s3.DeleteObjectInput
	copies    []*s3.CopyObjectInput
	err       error
}

func (f *fakeStore) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts = append(f.puts, putCall{input: params, body: body})
	if f.err != nil {
		return nil, f.err
	}
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeStore) CreateMultipartUpload(ctx context.Context, params *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates = append(f.creates, params)
	if f.err != nil {
		return nil, f.err
	}
	return &s3.CreateMultipartUploadOutput{
		Bucket:   params.Bucket,
		Key:      params.Key,
		UploadId: aws.String("upload-1"),
	}, nil
}

func (f *fakeStore) UploadPart(ctx context.Context, params *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	body, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.parts = append(f.parts, partCall{input: params, body: body})
	return &s3.UploadPartOutput{
		ETag: aws.String(fmt.Sprintf("etag-%d", aws.ToInt32(params.PartNumber))),
	}, nil
}

func (f *fakeStore) CompleteMultipartUpload(ctx context.Context, params *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completes = append(f.completes, params)
	return &s3.CompleteMultipartUploadOutput{
		Bucket: params.Bucket,
		Key:    params.Key,
	}, nil
}

func (f *fakeStore) AbortMultipartUpload(ctx context.Context, params *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aborts = append(f.aborts, params)
	return &s3.AbortMultipartUploadOutput{}, nil
}

func (f *fakeStore) DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, params)
	if f.err != nil {
		return nil, f.err
	}
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeStore) CopyObject(ctx context.Context, params *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.copies = append(f.copies, params)
	if f.err != nil {
		return nil, f.err
	}
	return &s3.CopyObjectOutput{}, nil
}

func (f *fakeStore) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.puts) + len(f.creates) + len(f.parts) + len(f.completes) + len(f.aborts) + len(f.deletes) + len(f.copies)
}

func testContext() (context.Context, *bytes.Buffer) {
	var buf bytes.Buffer
	return ctxlog.NewContext(context.Background(), log.NewLogfmtLogger(&buf)), &buf
}

func writeFile(t *testing.T, dir, name, contents string) string {
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(contents), 0644))
	return p
}

func TestUploadToS3(t *testing.T) {
	t.Parallel()

	ctx, _ := testContext()
	store := &fakeStore{}
	d := NewWithClient(store, false)

	filePath := writeFile(t, t.TempDir(), "wire-3.20.1.exe", "installer bytes")

	require.NoError(t, d.UploadToS3(ctx, UploadOptions{
		Bucket:   "wire-taco",
		FilePath: filePath,
		S3Path:   "win/prod/wire-3.20.1.exe",
	}))

	require.Len(t, store.puts, 1)
	in := store.puts[0].input
	require.Equal(t, types.ObjectCannedACLPublicRead, in.ACL)
	require.Equal(t, "wire-taco", aws.ToString(in.Bucket))
	require.Equal(t, "win/prod/wire-3.20.1.exe", aws.ToString(in.Key))
	require.Equal(t, int64(len("installer bytes")), aws.ToInt64(in.ContentLength))
	require.Equal(t, "installer bytes", string(store.puts[0].body))
	require.Empty(t, store.creates)
}

func TestUploadToS3LargeFileIsMultipart(t *testing.T) {
	t.Parallel()

	ctx, _ := testContext()
	store := &fakeStore{}
	d := NewWithClient(store, false)

	// Just over two default parts, so three parts go out.
	contents := bytes.Repeat([]byte("0123456789abcdef"), int((2*manager.DefaultUploadPartSize+1024)/16))
	filePath := filepath.Join(t.TempDir(), "Wire.pkg")
	require.NoError(t, os.WriteFile(filePath, contents, 0644))

	require.NoError(t, d.UploadToS3(ctx, UploadOptions{
		Bucket:   "wire-taco",
		FilePath: filePath,
		S3Path:   "mac/Wire.pkg",
	}))

	require.Empty(t, store.puts)
	require.Len(t, store.creates, 1)
	require.Equal(t, types.ObjectCannedACLPublicRead, store.creates[0].ACL)
	require.Equal(t, "wire-taco", aws.ToString(store.creates[0].Bucket))
	require.Equal(t, "mac/Wire.pkg", aws.ToString(store.creates[0].Key))
	require.Len(t, store.parts, 3)
	require.Len(t, store.completes, 1)
	require.Empty(t, store.aborts)

	sort.Slice(store.parts, func(i, j int) bool {
		return aws.ToInt32(store.parts[i].input.PartNumber) < aws.ToInt32(store.parts[j].input.PartNumber)
	})
	var uploaded []byte
	for _, part := range store.parts {
		require.Equal(t, "upload-1", aws.ToString(part.input.UploadId))
		uploaded = append(uploaded, part.body...)
	}
	require.Equal(t, contents, uploaded)
}

func TestUploadToS3DryRun(t *testing.T) {
	t.Parallel()

	ctx, buf := testContext()
	store := &fakeStore{}
	d := NewWithClient(store, true)

	filePath := writeFile(t, t.TempDir(), "Wire.pkg", "pkg")

	require.NoError(t, d.UploadToS3(ctx, UploadOptions{
		Bucket:   "wire-taco",
		FilePath: filePath,
		S3Path:   "mac/Wire.pkg",
	}))

	require.Equal(t, 0, store.calls())
	logged := buf.String()
	require.Contains(t, logged, "dry_run=true")
	require.Contains(t, logged, "operation=uploadToS3")
	require.Contains(t, logged, "bucket=wire-taco")
	require.Contains(t, logged, "key=mac/Wire.pkg")
	require.Contains(t, logged, "acl=public-read")
}

func TestUploadToS3NotAFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	target := writeFile(t, dir, "real.deb", "deb")

	var tests = []struct {
		name string
		path func(t *testing.T) string
	}{
		{
			name: "directory",
			path: func(t *testing.T) string { return dir },
		},
		{
			name: "missing",
			path: func(t *testing.T) string { return filepath.Join(dir, "nope.deb") },
		},
		{
			name: "symlink",
			path: func(t *testing.T) string {
				if runtime.GOOS == "windows" {
					t.Skip("symlinks need privileges on windows")
				}
				link := filepath.Join(t.TempDir(), "link.deb")
				require.NoError(t, os.Symlink(target, link))
				return link
			},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			for _, dryRun := range []bool{false, true} {
				ctx, _ := testContext()
				store := &fakeStore{}
				d := NewWithClient(store, dryRun)

				err := d.UploadToS3(ctx, UploadOptions{Bucket: "b", FilePath: tt.path(t), S3Path: "k"})
				require.Error(t, err)
				require.True(t, errors.Is(err, ErrFileNotFound))
				require.Equal(t, 0, store.calls())
			}
		})
	}
}

func TestDeleteFromS3(t *testing.T) {
	t.Parallel()

	ctx, _ := testContext()
	store := &fakeStore{}
	d := NewWithClient(store, false)

	require.NoError(t, d.DeleteFromS3(ctx, DeleteOptions{Bucket: "wire-taco", S3Path: "linux/old.deb"}))

	require.Len(t, store.deletes, 1)
	require.Equal(t, "wire-taco", aws.ToString(store.deletes[0].Bucket))
	require.Equal(t, "linux/old.deb", aws.ToString(store.deletes[0].Key))
	require.Equal(t, 1, store.calls())
}

func TestCopyOnS3(t *testing.T) {
	t.Parallel()

	ctx, _ := testContext()
	store := &fakeStore{}
	d := NewWithClient(store, false)

	require.NoError(t, d.CopyOnS3(ctx, CopyOptions{
		Bucket:     "wire-taco",
		S3FromPath: "win/wire-3.20.1.exe",
		S3ToPath:   "win/wire-latest.exe",
	}))

	require.Len(t, store.copies, 1)
	in := store.copies[0]
	require.Equal(t, types.ObjectCannedACLPublicRead, in.ACL)
	require.Equal(t, "wire-taco", aws.ToString(in.Bucket))
	require.Equal(t, "wire-taco/win/wire-3.20.1.exe", aws.ToString(in.CopySource))
	require.Equal(t, "win/wire-latest.exe", aws.ToString(in.Key))
	require.Equal(t, 1, store.calls())
}

func TestDryRunSkipsDeleteAndCopy(t *testing.T) {
	t.Parallel()

	ctx, buf := testContext()
	store := &fakeStore{}
	d := NewWithClient(store, true)

	require.NoError(t, d.DeleteFromS3(ctx, DeleteOptions{Bucket: "b", S3Path: "k"}))
	require.NoError(t, d.CopyOnS3(ctx, CopyOptions{Bucket: "b", S3FromPath: "from", S3ToPath: "to"}))

	require.Equal(t, 0, store.calls())
	require.Contains(t, buf.String(), "operation=deleteFromS3")
	require.Contains(t, buf.String(), "operation=copyOnS3")
}

func TestProviderErrorsPassThrough(t *testing.T) {
	t.Parallel()

	apiErr := &smithy.GenericAPIError{Code: "NoSuchKey", Message: "The specified key does not exist."}
	filePath := writeFile(t, t.TempDir(), "f", "x")

	var tests = []struct {
		name string
		run  func(ctx context.Context, d *Deployer) error
	}{
		{
			name: "upload",
			run: func(ctx context.Context, d *Deployer) error {
				return d.UploadToS3(ctx, UploadOptions{Bucket: "b", FilePath: filePath, S3Path: "k"})
			},
		},
		{
			name: "delete",
			run: func(ctx context.Context, d *Deployer) error {
				return d.DeleteFromS3(ctx, DeleteOptions{Bucket: "b", S3Path: "k"})
			},
		},
		{
			name: "copy",
			run: func(ctx context.Context, d *Deployer) error {
				return d.CopyOnS3(ctx, CopyOptions{Bucket: "b", S3FromPath: "missing", S3ToPath: "k"})
			},
		},
	}

	for _, tt := range tests {
		ctx, _ := testContext()
		store := &fakeStore{err: apiErr}
		d := NewWithClient(store, false)

		err := tt.run(ctx, d)
		require.True(t, errors.Is(err, apiErr), tt.name)
		var ae smithy.APIError
		require.True(t, errors.As(err, &ae), tt.name)
		require.Equal(t, "NoSuchKey", ae.ErrorCode(), tt.name)
		require.Equal(t, 1, store.calls(), tt.name)
	}
}

func TestCopySourceFor(t *testing.T) {
	t.Parallel()

	require.Equal(t, "bucket/a/b.exe", copySourceFor("bucket", "a/b.exe"))
	require.Equal(t, "bucket/a/b.exe", copySourceFor("bucket", "/a/b.exe"))
	require.Equal(t, "bucket/a/Wire%20Setup.exe", copySourceFor("bucket", "a/Wire Setup.exe"))
}
