package image

import (
	"context"
	"os"

	"github.com/rwcarlsen/goexif/exif"
)

// Extractor reads GPS coordinates from image content. It never fails:
// missing or unreadable metadata is reported as ok == false.
type Extractor func(ctx context.Context, path string) (coords *GPSCoords, ok bool)

// ExifGPS extracts the GPS position from a file's EXIF block.
func ExifGPS(ctx context.Context, path string) (*GPSCoords, bool) {
	if ctx.Err() != nil {
		return nil, false
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, false
	}
	defer f.Close()

	x, err := exif.Decode(f)
	if err != nil {
		return nil, false
	}

	lat, lng, err := x.LatLong()
	if err != nil {
		return nil, false
	}

	coords := &GPSCoords{Lat: lat, Lng: lng}
	if tag, err := x.Get(exif.GPSAltitude); err == nil {
		if r, err := tag.Rat(0); err == nil {
			coords.Alt, _ = r.Float64()
		}
		// Ref 1 means below sea level
		if ref, err := x.Get(exif.GPSAltitudeRef); err == nil {
			if v, err := ref.Int(0); err == nil && v == 1 {
				coords.Alt = -coords.Alt
			}
		}
	}

	return coords, true
}
