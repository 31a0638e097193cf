package imagecache

import (
	"fmt"
	"image"
	"image/png"
	"os"

	"golang.org/x/image/draw"

	_ "image/jpeg" // Register JPEG decoding for cached .jpg images
)

// thumbWidth is the width of generated preview images. The UI gallery shows
// previews at roughly this size; full decode of multi-megabyte PNGs per
// gallery cell is wasteful.
const thumbWidth = 256

// writeThumbnail decodes the image at srcPath and writes a downscaled PNG
// preview to dstPath. Aspect ratio is preserved.
func writeThumbnail(srcPath, dstPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("imagecache: failed to open image for thumbnail: %w", err)
	}
	defer src.Close()

	img, _, err := image.Decode(src)
	if err != nil {
		return fmt.Errorf("imagecache: failed to decode image for thumbnail: %w", err)
	}

	bounds := img.Bounds()
	if bounds.Dx() <= 0 || bounds.Dy() <= 0 {
		return fmt.Errorf("imagecache: image has empty bounds")
	}

	width := thumbWidth
	if bounds.Dx() < width {
		width = bounds.Dx() // Never upscale
	}
	height := bounds.Dy() * width / bounds.Dx()
	if height < 1 {
		height = 1
	}

	thumb := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(thumb, thumb.Bounds(), img, bounds, draw.Over, nil)

	dst, err := os.Create(dstPath)
	if err != nil {
		return fmt.Errorf("imagecache: failed to create thumbnail file: %w", err)
	}
	defer dst.Close()

	if err := png.Encode(dst, thumb); err != nil {
		os.Remove(dstPath)
		return fmt.Errorf("imagecache: failed to encode thumbnail: %w", err)
	}
	return nil
}
