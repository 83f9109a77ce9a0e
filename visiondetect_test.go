package visiondetect

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/menta2k/vision-detect/internal/config"
	"github.com/menta2k/vision-detect/pkg/detection"
	"github.com/menta2k/vision-detect/pkg/ollama"
	"github.com/menta2k/vision-detect/pkg/remote"
)

const reply = `{"choices":[{"message":{"role":"assistant","content":"{\"answer\":\"one square\",\"detections\":[{\"bbox_2d\":[100,100,400,400],\"label\":\"square\"}]}"}}]}`

// createTestImage creates a simple test image with a bright square in the center
func createTestImage(width, height int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if x > width/3 && x < 2*width/3 && y > height/3 && y < 2*height/3 {
				img.Set(x, y, color.RGBA{255, 255, 255, 255})
			} else {
				img.Set(x, y, color.RGBA{64, 64, 64, 255})
			}
		}
	}
	return img
}

func newAPIServer(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, reply)
	}))
	t.Cleanup(server.Close)
	return server
}

func testConfig(apiURL string) *config.Config {
	cfg := config.Default()
	cfg.API.BaseURL = apiURL
	cfg.Log.Level = "error"
	return cfg
}

func TestNewRemoteOnly(t *testing.T) {
	vd, err := New(context.Background(), testConfig(newAPIServer(t).URL))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if got := vd.Detector().Default(); got != remote.BackendName {
		t.Errorf("default backend = %q, want %q", got, remote.BackendName)
	}
	if err := vd.LoadLocal(context.Background()); err == nil {
		t.Error("expected LoadLocal to fail without a local backend")
	}
}

func TestNewInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Image.MinPixels = cfg.Image.MaxPixels + 1
	if _, err := New(context.Background(), cfg); err == nil {
		t.Error("expected error for invalid config")
	}
}

func TestNewLocalFallsBackWhenUnreachable(t *testing.T) {
	dead := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	deadURL := dead.URL
	dead.Close()

	cfg := testConfig(newAPIServer(t).URL)
	cfg.Model.UseLocal = true
	cfg.Local.Host = deadURL

	vd, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if got := vd.Detector().Default(); got != remote.BackendName {
		t.Errorf("default backend = %q, want fallback to %q", got, remote.BackendName)
	}
	if n := len(vd.Detector().Backends()); n != 1 {
		t.Errorf("expected only the remote backend, got %d", n)
	}
}

func TestNewLocalSelectedWhenAvailable(t *testing.T) {
	ollamaServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ollamaServer.Close()

	cfg := testConfig(newAPIServer(t).URL)
	cfg.Model.UseLocal = true
	cfg.Local.Host = ollamaServer.URL
	cfg.Local.MinMemoryGB = 0

	vd, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if got := vd.Detector().Default(); got != ollama.BackendName {
		t.Errorf("default backend = %q, want %q", got, ollama.BackendName)
	}
}

func TestDetect(t *testing.T) {
	vd, err := New(context.Background(), testConfig(newAPIServer(t).URL))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	answer, img, err := vd.Detect(context.Background(), createTestImage(784, 588), "find the square")
	if err != nil {
		t.Fatalf("Detect() error: %v", err)
	}
	if answer != "one square" {
		t.Errorf("answer = %q", answer)
	}
	if img == nil {
		t.Fatal("expected an annotated image")
	}
	if img.Bounds().Dx() != 784 || img.Bounds().Dy() != 588 {
		t.Errorf("annotated image has size %v", img.Bounds())
	}

	answer, img, err = vd.Detect(context.Background(), createTestImage(784, 588), "")
	if err != nil || answer != detection.MsgEmptyQuery || img != nil {
		t.Errorf("empty query: got (%q, %v, %v)", answer, img, err)
	}
}

func TestDetectWithSDKClient(t *testing.T) {
	cfg := testConfig(newAPIServer(t).URL)
	cfg.API.Client = config.ClientOpenAI

	vd, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	answer, _, err := vd.DetectWith(context.Background(), remote.BackendName, createTestImage(784, 588), "find the square")
	if err != nil {
		t.Fatalf("DetectWith() error: %v", err)
	}
	if answer != "one square" {
		t.Errorf("answer = %q", answer)
	}
}

func TestClear(t *testing.T) {
	vd, err := New(context.Background(), testConfig(newAPIServer(t).URL))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	in, query, answer, out := vd.Clear()
	if in != nil || query != "" || answer != detection.WelcomeMessage || out != nil {
		t.Errorf("Clear() = (%v, %q, %q, %v)", in, query, answer, out)
	}
}

func TestProcessImageFile(t *testing.T) {
	vd, err := New(context.Background(), testConfig(newAPIServer(t).URL))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	dir := t.TempDir()
	input := filepath.Join(dir, "scene.png")
	f, err := os.Create(input)
	if err != nil {
		t.Fatal(err)
	}
	if err := png.Encode(f, createTestImage(300, 200)); err != nil {
		t.Fatal(err)
	}
	f.Close()

	outDir := filepath.Join(dir, "out")
	answer, path, err := vd.ProcessImageFile(context.Background(), input, "find the square", outDir, "")
	if err != nil {
		t.Fatalf("ProcessImageFile() error: %v", err)
	}
	if answer != "one square" {
		t.Errorf("answer = %q", answer)
	}
	if path != filepath.Join(outDir, "scene_detected.png") {
		t.Errorf("unexpected output path %q", path)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("output not written: %v", err)
	}
}

func TestHandler(t *testing.T) {
	vd, err := New(context.Background(), testConfig(newAPIServer(t).URL))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	w := httptest.NewRecorder()
	vd.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Errorf("health status = %d", w.Code)
	}
}

func TestGetVersion(t *testing.T) {
	if GetVersion() != Version {
		t.Errorf("GetVersion() = %q, want %q", GetVersion(), Version)
	}
}
