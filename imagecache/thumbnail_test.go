package imagecache

import (
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

// TestWriteThumbnail tests downscaling a larger image.
func TestWriteThumbnail(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.png")
	dst := filepath.Join(dir, "src.thumb.png")

	f, err := os.Create(src)
	if err != nil {
		t.Fatalf("failed to create source: %v", err)
	}
	if err := png.Encode(f, image.NewRGBA(image.Rect(0, 0, 640, 480))); err != nil {
		t.Fatalf("failed to encode source: %v", err)
	}
	f.Close()

	if err := writeThumbnail(src, dst); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out, err := os.Open(dst)
	if err != nil {
		t.Fatalf("expected thumbnail file: %v", err)
	}
	defer out.Close()

	cfg, _, err := image.DecodeConfig(out)
	if err != nil {
		t.Fatalf("failed to decode thumbnail: %v", err)
	}
	if cfg.Width != thumbWidth {
		t.Errorf("expected width %d, got %d", thumbWidth, cfg.Width)
	}
	if cfg.Height != 192 {
		t.Errorf("expected height 192, got %d", cfg.Height)
	}
}

// TestWriteThumbnail_NeverUpscales tests that small images keep their size.
func TestWriteThumbnail_NeverUpscales(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "small.png")
	dst := filepath.Join(dir, "small.thumb.png")

	f, err := os.Create(src)
	if err != nil {
		t.Fatalf("failed to create source: %v", err)
	}
	if err := png.Encode(f, image.NewRGBA(image.Rect(0, 0, 32, 32))); err != nil {
		t.Fatalf("failed to encode source: %v", err)
	}
	f.Close()

	if err := writeThumbnail(src, dst); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out, err := os.Open(dst)
	if err != nil {
		t.Fatalf("expected thumbnail file: %v", err)
	}
	defer out.Close()

	cfg, _, err := image.DecodeConfig(out)
	if err != nil {
		t.Fatalf("failed to decode thumbnail: %v", err)
	}
	if cfg.Width != 32 || cfg.Height != 32 {
		t.Errorf("expected 32x32, got %dx%d", cfg.Width, cfg.Height)
	}
}

// TestWriteThumbnail_NotAnImage tests the decode error path.
func TestWriteThumbnail_NotAnImage(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "garbage.png")
	if err := os.WriteFile(src, []byte("not a png"), 0644); err != nil {
		t.Fatalf("failed to write garbage: %v", err)
	}

	if err := writeThumbnail(src, filepath.Join(dir, "out.png")); err == nil {
		t.Error("expected decode error")
	}
}
