// Package fileutil provides case-insensitive access to game data over afero.
package fileutil

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"strings"

	"github.com/spf13/afero"
)

// FindFileCaseInsensitive searches dir for filename, ignoring case.
// The data files were authored on a case-insensitive file system, so
// "Scripts/Test0.INT" must find "scripts/test0.int".
//
// Example:
//
//	p, err := FindFileCaseInsensitive(fsys, "scripts", "Test0.INT")
//	// p == "scripts/test0.int"
func FindFileCaseInsensitive(fsys afero.Fs, dir, filename string) (string, error) {
	entries, err := afero.ReadDir(fsys, dir)
	if err != nil {
		return "", fmt.Errorf("failed to read directory %s: %w", dir, err)
	}
	for _, entry := range entries {
		if strings.EqualFold(entry.Name(), filename) {
			return path.Join(dir, entry.Name()), nil
		}
	}
	return "", fmt.Errorf("file not found: %s (searched in %s): %w", filename, dir, fs.ErrNotExist)
}

// Resolve returns the actual path of name, matching every path element
// case-insensitively. Both slash styles are accepted.
func Resolve(fsys afero.Fs, name string) (string, error) {
	clean := strings.TrimLeft(path.Clean("/"+strings.ReplaceAll(name, "\\", "/")), "/")
	if clean == "" {
		return ".", nil
	}
	if _, err := fsys.Stat(clean); err == nil {
		return clean, nil
	}
	dir := "."
	for _, elem := range strings.Split(clean, "/") {
		found, err := FindFileCaseInsensitive(fsys, dir, elem)
		if err != nil {
			return "", err
		}
		dir = found
	}
	return dir, nil
}

// ReadFile reads name, resolving it case-insensitively.
func ReadFile(fsys afero.Fs, name string) ([]byte, error) {
	p, err := Resolve(fsys, name)
	if err != nil {
		return nil, err
	}
	return afero.ReadFile(fsys, p)
}

// Open opens name, resolving it case-insensitively.
func Open(fsys afero.Fs, name string) (afero.File, error) {
	p, err := Resolve(fsys, name)
	if err != nil {
		return nil, err
	}
	return fsys.Open(p)
}

// OpenDataDir returns a read-only file system rooted at dir.
func OpenDataDir(dir string) (afero.Fs, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("data directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("data directory %s is not a directory", dir)
	}
	return FromFS(os.DirFS(dir), "")
}

// FromFS wraps an fs.FS, such as an embed.FS, rooted at sub.
func FromFS(fsys fs.FS, sub string) (afero.Fs, error) {
	if sub != "" && sub != "." {
		s, err := fs.Sub(fsys, sub)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", sub, err)
		}
		fsys = s
	}
	return afero.NewReadOnlyFs(afero.FromIOFS{FS: fsys}), nil
}
