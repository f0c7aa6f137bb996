// Package fileingest finds local media files for batch submission.
package fileingest

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"avtranscribe/internal/artifacts"

	log "github.com/sirupsen/logrus"
)

// FileMeta holds metadata about a file to be submitted.
type FileMeta struct {
	Path    string
	Name    string
	Size    int64
	ModTime time.Time
}

/*
DiscoverMediaFiles walks rootDir and returns every accepted audio or video
file, sorted by path. Hidden directories are skipped. Unreadable entries are
logged and skipped; only an unreadable rootDir is an error.
*/
func DiscoverMediaFiles(ctx context.Context, rootDir string) ([]FileMeta, error) {
	var files []FileMeta
	err := filepath.WalkDir(rootDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == rootDir {
				return err
			}
			log.WithError(err).WithField("path", path).Warn("Skipping unreadable path")
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			if path != rootDir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || !artifacts.IsMediaFile(d.Name()) {
			return nil
		}
		meta, metaErr := ExtractFileMeta(path)
		if metaErr != nil {
			log.WithError(metaErr).WithField("path", path).Warn("Skipping file")
			return nil
		}
		files = append(files, meta)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

// ExtractFileMeta stats path.
func ExtractFileMeta(path string) (FileMeta, error) {
	info, err := os.Stat(path)
	if err != nil {
		return FileMeta{}, err
	}
	return FileMeta{
		Path:    path,
		Name:    info.Name(),
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}, nil
}
