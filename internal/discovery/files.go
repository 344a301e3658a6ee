// internal/discovery/files.go
package discovery

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"
	"go.uber.org/zap"
)

// Finder lists the files in an upload directory that are eligible for attachment.
type Finder struct {
	dir        string
	extensions map[string]struct{}
	ignore     []glob.Glob
	logger     *zap.Logger
}

// NewFinder compiles the ignore patterns and normalizes the extension
// allow-list. Extensions compare case-insensitively and must include the dot.
func NewFinder(dir string, extensions, ignore []string, logger *zap.Logger) (*Finder, error) {
	f := &Finder{
		dir:        dir,
		extensions: make(map[string]struct{}, len(extensions)),
		logger:     logger.Named("discovery"),
	}
	for _, ext := range extensions {
		f.extensions[strings.ToLower(ext)] = struct{}{}
	}
	for _, pattern := range ignore {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid ignore pattern '%s': %w", pattern, err)
		}
		f.ignore = append(f.ignore, g)
	}
	return f, nil
}

// Dir returns the directory the finder scans.
func (f *Finder) Dir() string { return f.dir }

// Find returns the absolute paths of the regular files in the directory whose
// extension is allowed and whose name matches no ignore pattern, in directory
// listing order. A missing or unreadable directory is logged and yields an
// empty list.
func (f *Finder) Find() []string {
	files := []string{}

	dir, err := filepath.Abs(f.dir)
	if err != nil {
		f.logger.Error("Could not resolve upload directory.", zap.String("dir", f.dir), zap.Error(err))
		return files
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			f.logger.Error("Upload directory not found.", zap.String("dir", dir))
		} else {
			f.logger.Error("Failed to read upload directory.", zap.String("dir", dir), zap.Error(err))
		}
		return files
	}

	for _, entry := range entries {
		name := entry.Name()
		if f.ignored(name) {
			f.logger.Debug("Skipping ignored file.", zap.String("name", name))
			continue
		}
		if _, ok := f.extensions[strings.ToLower(filepath.Ext(name))]; !ok {
			continue
		}

		path := filepath.Join(dir, name)
		// Stat follows symlinks so a link to a regular file is accepted.
		info, err := os.Stat(path)
		if err != nil {
			f.logger.Warn("Skipping unreadable entry.", zap.String("path", path), zap.Error(err))
			continue
		}
		if !info.Mode().IsRegular() {
			continue
		}
		files = append(files, path)
	}

	f.logger.Info("Discovered upload files.", zap.String("dir", dir), zap.Int("count", len(files)))
	return files
}

func (f *Finder) ignored(name string) bool {
	for _, g := range f.ignore {
		if g.Match(name) {
			return true
		}
	}
	return false
}
