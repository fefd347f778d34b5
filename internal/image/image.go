// Package image provides the image registry, image decoding, and EXIF GPS extraction.
package image

import (
	"bytes"
	"fmt"
	"image"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// GPSCoords is a WGS84 position read from image metadata.
type GPSCoords struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
	Alt float64 `json:"alt"`
}

// Image is a photograph known to the project. Name is the identity key.
type Image struct {
	Name string     `json:"name"`
	Path string     `json:"path"`          // Content handle: file on disk
	GPS  *GPSCoords `json:"gps,omitempty"` // Cached metadata, nil until resolved
}

// FromFile builds an Image for a file, naming it by its base name.
func FromFile(path string) Image {
	return Image{Name: filepath.Base(path), Path: path}
}

// ContentURL returns a displayable file:// reference for the image content.
func (img Image) ContentURL() (string, bool) {
	if img.Path == "" {
		return "", false
	}
	abs, err := filepath.Abs(img.Path)
	if err != nil {
		abs = img.Path
	}
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}
	return u.String(), true
}

// ReadContent returns the raw bytes behind the content handle.
func (img Image) ReadContent() ([]byte, error) {
	if img.Path == "" {
		return nil, fmt.Errorf("image %q has no content", img.Name)
	}
	data, err := os.ReadFile(img.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	return data, nil
}

// DecodeBytes decodes an encoded image (JPEG, PNG, TIFF, WebP, or BMP),
// applying the EXIF orientation so pixel coordinates match what is displayed.
func DecodeBytes(data []byte) (image.Image, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return img, nil
}

// SupportedFormats returns the list of supported image file extensions.
func SupportedFormats() []string {
	return []string{".jpg", ".jpeg", ".png", ".tiff", ".tif", ".webp", ".bmp"}
}

// IsSupportedFormat checks if the given path has a supported image format.
func IsSupportedFormat(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, format := range SupportedFormats() {
		if ext == format {
			return true
		}
	}
	return false
}
