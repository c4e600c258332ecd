// Package artifact locates build outputs on local disk.
package artifact

import (
	"io/fs"
	"os"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/pkg/errors"
)

var (
	ErrArtifactNotFound  = errors.New("artifact not found")
	ErrArtifactAmbiguous = errors.New("artifact is ambiguous")
)

// Descriptor identifies a build output. FileName is the name it is
// published under, which may differ from the base name of FilePath.
type Descriptor struct {
	FileName string
	FilePath string
}

// Renamed returns a copy of d published under fileName. The file on
// disk is not touched.
func (d Descriptor) Renamed(fileName string) Descriptor {
	d.FileName = fileName
	return d
}

// Find returns the single file under root matching pattern. Directories
// are not considered. It is an error for the pattern to match nothing,
// or more than one file.
func Find(pattern, root string) (Descriptor, error) {
	fsys := os.DirFS(root)

	matches, err := doublestar.Glob(fsys, pattern)
	if err != nil {
		return Descriptor{}, errors.Wrapf(err, "globbing %s in %s", pattern, root)
	}

	var files []string
	for _, m := range matches {
		info, err := fs.Stat(fsys, m)
		if err != nil {
			return Descriptor{}, errors.Wrapf(err, "stat %s", m)
		}
		if info.IsDir() {
			continue
		}
		files = append(files, m)
	}

	switch len(files) {
	case 0:
		return Descriptor{}, errors.Wrapf(ErrArtifactNotFound, "no file matching %q in %s", pattern, root)
	case 1:
	default:
		return Descriptor{}, errors.Wrapf(ErrArtifactAmbiguous, "%d files matching %q in %s: %v", len(files), pattern, root, files)
	}

	return Descriptor{
		FileName: filepath.Base(files[0]),
		FilePath: filepath.Join(root, filepath.FromSlash(files[0])),
	}, nil
}
