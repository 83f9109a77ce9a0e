package utils

import (
	"os"
	"path/filepath"
	"testing"
)

func TestGetFileExtension(t *testing.T) {
	cases := map[string]string{
		"photo.JPG":       "jpg",
		"dir/out.webp":    "webp",
		"noext":           "",
		"archive.tar.gz":  "gz",
		"/abs/path/a.png": "png",
	}
	for in, want := range cases {
		if got := GetFileExtension(in); got != want {
			t.Errorf("GetFileExtension(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestAnnotatedPath(t *testing.T) {
	cases := []struct {
		input, want string
	}{
		{"/in/street.jpg", filepath.Join("out", "street_detected.png")},
		{"scene.webp", filepath.Join("out", "scene_detected.png")},
		{"https://example.com/img/cat.jpeg?size=large", filepath.Join("out", "cat_detected.png")},
		{"https://example.com/", filepath.Join("out", "image_detected.png")},
	}
	for _, c := range cases {
		if got := AnnotatedPath(c.input, "out", "_detected"); got != c.want {
			t.Errorf("AnnotatedPath(%q) = %q, want %q", c.input, got, c.want)
		}
	}
}

func TestListImageFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.jpg", "a.png", "notes.txt", filepath.Join("sub", "c.webp")} {
		path := filepath.Join(dir, name)
		if err := EnsureParentDir(path); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	files, err := ListImageFiles(dir)
	if err != nil {
		t.Fatalf("ListImageFiles failed: %v", err)
	}
	if len(files) != 3 {
		t.Fatalf("expected 3 image files, got %d: %v", len(files), files)
	}
	if filepath.Base(files[0]) != "a.png" {
		t.Errorf("expected sorted output starting with a.png, got %s", files[0])
	}
}

func TestFileAndDirExists(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "f.jpg")
	if err := os.WriteFile(file, nil, 0644); err != nil {
		t.Fatal(err)
	}

	if !FileExists(file) || FileExists(dir) {
		t.Error("FileExists misreported")
	}
	if !DirExists(dir) || DirExists(file) {
		t.Error("DirExists misreported")
	}
	if FileExists(filepath.Join(dir, "missing")) {
		t.Error("missing file reported as existing")
	}
}

func TestFormatFileSize(t *testing.T) {
	cases := map[int64]string{
		512:         "512 B",
		2048:        "2.0 KB",
		5 * 1 << 20: "5.0 MB",
	}
	for in, want := range cases {
		if got := FormatFileSize(in); got != want {
			t.Errorf("FormatFileSize(%d) = %q, want %q", in, got, want)
		}
	}
}
