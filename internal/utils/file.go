package utils

import (
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// extensions the processing package can decode
var imageExts = map[string]bool{"jpg": true, "jpeg": true, "png": true, "gif": true, "bmp": true, "webp": true}

// EnsureParentDir creates the directory that will hold p
func EnsureParentDir(p string) error {
	dir := filepath.Dir(p)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0755)
}

// GetFileExtension returns the lower-cased file extension without the dot
func GetFileExtension(filename string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
}

// AnnotatedPath names the PNG written for an input image, which may be a
// file path or an http(s) URL.
func AnnotatedPath(input, outputDir, suffix string) string {
	name := filepath.Base(input)
	if u, err := url.Parse(input); err == nil && (u.Scheme == "http" || u.Scheme == "https") {
		name = path.Base(u.Path)
	}
	name = strings.TrimSuffix(name, path.Ext(name))
	if name == "" || name == "." || name == "/" {
		name = "image"
	}
	return filepath.Join(outputDir, name+suffix+".png")
}

// ListImageFiles recursively lists the decodable images under dir, sorted by path
func ListImageFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && imageExts[GetFileExtension(p)] {
			files = append(files, p)
		}
		return nil
	})
	sort.Strings(files)
	return files, err
}

// FileExists reports whether name is an existing regular file
func FileExists(name string) bool {
	info, err := os.Stat(name)
	return err == nil && !info.IsDir()
}

// DirExists reports whether name is an existing directory
func DirExists(name string) bool {
	info, err := os.Stat(name)
	return err == nil && info.IsDir()
}

// FormatFileSize formats a byte count for logs
func FormatFileSize(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(size)/float64(div), "KMGTPE"[exp])
}
