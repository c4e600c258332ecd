package s3deploy

import (
	"context"
	"fmt"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/go-kit/kit/log/level"
	"github.com/pkg/errors"
	"github.com/wireapp/desktop-release/pkg/artifact"
	"github.com/wireapp/desktop-release/pkg/contexts/ctxlog"
	"go.opencensus.io/trace"
)

var (
	ErrInvalidPlatform     = errors.New("invalid platform")
	ErrNamePatternMismatch = errors.New("app short name not found")
)

var nupkgNameRegex = regexp.MustCompile(`^(.+)-[\d.]+-full\.nupkg$`)

// linuxRepositoryFiles are the apt repository files published next to
// the AppImage and deb. Their presence on disk is not checked here, a
// missing file fails at upload time.
func linuxRepositoryFiles(debName string) []string {
	return []string{
		"debian/pool/main/" + debName,
		"debian/dists/stable/Contents-amd64",
		"debian/dists/stable/Contents-amd64.bz2",
		"debian/dists/stable/Contents-amd64.gz",
		"debian/dists/stable/InRelease",
		"debian/dists/stable/Release",
		"debian/dists/stable/Release.gpg",
		"debian/dists/stable/main/binary-amd64/Packages",
		"debian/dists/stable/main/binary-amd64/Packages.bz2",
		"debian/dists/stable/main/binary-amd64/Packages.gz",
	}
}

// FindUploadFiles returns the artifacts under basePath to publish for
// platform. The platform is matched by substring: linux, windows or
// macos. Windows installers are renamed after the app's short name and
// version.
func (d *Deployer) FindUploadFiles(ctx context.Context, platform, basePath, version string) ([]artifact.Descriptor, error) {
	ctx, span := trace.StartSpan(ctx, "s3deploy.FindUploadFiles")
	defer span.End()

	var (
		found []artifact.Descriptor
		err   error
	)

	switch {
	case strings.Contains(platform, "linux"):
		found, err = findLinux(basePath)
	case strings.Contains(platform, "windows"):
		found, err = findWindows(basePath, version)
	case strings.Contains(platform, "macos"):
		found, err = findMacOS(basePath)
	default:
		return nil, errors.Wrapf(ErrInvalidPlatform, "%q", platform)
	}
	if err != nil {
		return nil, err
	}

	level.Debug(ctxlog.FromContext(ctx)).Log(
		"msg", "found upload files",
		"platform", platform,
		"base_path", basePath,
		"count", len(found),
	)

	return found, nil
}

func findLinux(basePath string) ([]artifact.Descriptor, error) {
	appImage, err := artifact.Find("*.AppImage", basePath)
	if err != nil {
		return nil, err
	}
	debImage, err := artifact.Find("*.deb", basePath)
	if err != nil {
		return nil, err
	}

	repoFiles := linuxRepositoryFiles(debImage.FileName)
	found := make([]artifact.Descriptor, 0, len(repoFiles)+2)
	for _, name := range repoFiles {
		found = append(found, artifact.Descriptor{
			FileName: name,
			FilePath: filepath.Join(basePath, filepath.FromSlash(name)),
		})
	}

	return append(found, appImage, debImage), nil
}

func findWindows(basePath, version string) ([]artifact.Descriptor, error) {
	setupExe, err := artifact.Find("*-Setup.exe", basePath)
	if err != nil {
		return nil, err
	}
	nupkgFile, err := artifact.Find("*-full.nupkg", basePath)
	if err != nil {
		return nil, err
	}
	releasesFile, err := artifact.Find("RELEASES", basePath)
	if err != nil {
		return nil, err
	}

	shortName, err := appShortName(nupkgFile.FileName)
	if err != nil {
		return nil, err
	}

	return []artifact.Descriptor{
		nupkgFile,
		releasesFile.Renamed(fmt.Sprintf("%s-%s-RELEASES", shortName, version)),
		setupExe.Renamed(fmt.Sprintf("%s-%s.exe", shortName, version)),
	}, nil
}

func findMacOS(basePath string) ([]artifact.Descriptor, error) {
	setupPkg, err := artifact.Find("*.pkg", basePath)
	if err != nil {
		return nil, err
	}
	return []artifact.Descriptor{setupPkg}, nil
}

// appShortName extracts "wire" from "wire-3.20.1234-full.nupkg".
func appShortName(nupkgName string) (string, error) {
	m := nupkgNameRegex.FindStringSubmatch(nupkgName)
	if len(m) != 2 || m[1] == "" {
		return "", errors.Wrapf(ErrNamePatternMismatch, "in %q", nupkgName)
	}
	return m[1], nil
}

// copySourceFor builds the url encoded bucket/key value S3 expects as a
// copy source.
func copySourceFor(bucket, key string) string {
	u := url.URL{Path: bucket + "/" + strings.TrimPrefix(key, "/")}
	return u.EscapedPath()
}
