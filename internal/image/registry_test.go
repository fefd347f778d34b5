package image

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gcp-tagger/internal/gcp"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingExtractor struct {
	calls  map[string]int
	coords map[string]*GPSCoords
}

func newCountingExtractor() *countingExtractor {
	return &countingExtractor{calls: map[string]int{}, coords: map[string]*GPSCoords{}}
}

func (c *countingExtractor) extract(_ context.Context, path string) (*GPSCoords, bool) {
	c.calls[path]++
	coords, ok := c.coords[path]
	return coords, ok
}

func TestUpsertUpdatesInPlace(t *testing.T) {
	r := NewRegistry(nil)

	r.Upsert(Image{Name: "a.jpg", Path: "/tmp/one/a.jpg"})
	r.Upsert(Image{Name: "b.jpg", Path: "/tmp/one/b.jpg"})
	stored := r.Upsert(Image{Name: "a.jpg", Path: "/tmp/two/a.jpg"})

	assert.Equal(t, "/tmp/two/a.jpg", stored.Path)
	list := r.List()
	require.Len(t, list, 2)
	assert.Equal(t, "a.jpg", list[0].Name)
	assert.Equal(t, "/tmp/two/a.jpg", list[0].Path)
	assert.Equal(t, "b.jpg", list[1].Name)
}

func TestRemove(t *testing.T) {
	r := NewRegistry(nil)
	r.Upsert(Image{Name: "a.jpg", Path: "a.jpg"})

	require.NoError(t, r.Remove("a.jpg"))
	assert.False(t, r.Has("a.jpg"))
	assert.Empty(t, r.List())

	err := r.Remove("a.jpg")
	assert.True(t, errors.Is(err, gcp.ErrNotFound))

	_, ok := r.ResolveContentURL("a.jpg")
	assert.False(t, ok)
}

func TestResolveContentURL(t *testing.T) {
	r := NewRegistry(nil)
	r.Upsert(Image{Name: "a.jpg", Path: "/data/flight 1/a.jpg"})

	u, ok := r.ResolveContentURL("a.jpg")
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(u, "file://"))
	assert.Contains(t, u, "flight%201/a.jpg")

	r.Upsert(Image{Name: "empty.jpg"})
	_, ok = r.ResolveContentURL("empty.jpg")
	assert.False(t, ok)
}

func TestGPSCoordsCachedAfterFirstCall(t *testing.T) {
	ex := newCountingExtractor()
	ex.coords["/img/a.jpg"] = &GPSCoords{Lat: 41.38, Lng: 2.17, Alt: 12}
	r := NewRegistry(ex.extract)
	r.Upsert(Image{Name: "a.jpg", Path: "/img/a.jpg"})
	r.Upsert(Image{Name: "b.jpg", Path: "/img/b.jpg"})

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		coords, ok := r.GPSCoords(ctx, "a.jpg")
		require.True(t, ok)
		assert.Equal(t, 41.38, coords.Lat)
	}
	assert.Equal(t, 1, ex.calls["/img/a.jpg"])

	// Absence is cached too.
	for i := 0; i < 2; i++ {
		_, ok := r.GPSCoords(ctx, "b.jpg")
		assert.False(t, ok)
	}
	assert.Equal(t, 1, ex.calls["/img/b.jpg"])

	_, ok := r.GPSCoords(ctx, "missing.jpg")
	assert.False(t, ok)
}

func TestGPSCoordsResetOnNewContent(t *testing.T) {
	ex := newCountingExtractor()
	ex.coords["/v2/a.jpg"] = &GPSCoords{Lat: 1, Lng: 2}
	r := NewRegistry(ex.extract)
	r.Upsert(Image{Name: "a.jpg", Path: "/v1/a.jpg"})

	_, ok := r.GPSCoords(context.Background(), "a.jpg")
	assert.False(t, ok)

	r.Upsert(Image{Name: "a.jpg", Path: "/v2/a.jpg"})
	coords, ok := r.GPSCoords(context.Background(), "a.jpg")
	require.True(t, ok)
	assert.Equal(t, 2.0, coords.Lng)
	assert.Equal(t, 1, ex.calls["/v2/a.jpg"])
}

func TestResetDuplicateDropsStaleGPS(t *testing.T) {
	ex := newCountingExtractor()
	ex.coords["/v2/a.jpg"] = &GPSCoords{Lat: 5, Lng: 6}
	r := NewRegistry(ex.extract)

	r.Reset([]Image{
		{Name: "a.jpg", Path: "/v1/a.jpg", GPS: &GPSCoords{Lat: 1, Lng: 2}},
		{Name: "b.jpg", Path: "/v1/b.jpg"},
		{Name: "a.jpg", Path: "/v2/a.jpg"},
	})

	assert.Equal(t, []Image{
		{Name: "a.jpg", Path: "/v2/a.jpg"},
		{Name: "b.jpg", Path: "/v1/b.jpg"},
	}, r.List())

	coords, ok := r.GPSCoords(context.Background(), "a.jpg")
	require.True(t, ok)
	assert.Equal(t, 5.0, coords.Lat)
	assert.Equal(t, 1, ex.calls["/v2/a.jpg"])
}

func TestGPSCoordsReturnsCopy(t *testing.T) {
	r := NewRegistry(nil)
	r.Upsert(Image{Name: "a.jpg", Path: "a.jpg", GPS: &GPSCoords{Lat: 5}})

	coords, ok := r.GPSCoords(context.Background(), "a.jpg")
	require.True(t, ok)
	coords.Lat = 99

	again, _ := r.GPSCoords(context.Background(), "a.jpg")
	assert.Equal(t, 5.0, again.Lat)
}

func writePNG(t *testing.T, dir, name string, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{uint8(x), uint8(y), 64, 255})
		}
	}
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
	return path
}

func TestDecode(t *testing.T) {
	dir := t.TempDir()
	path := writePNG(t, dir, "frame.png", 40, 20)

	r := NewRegistry(nil)
	r.Upsert(FromFile(path))

	img, err := r.Decode("frame.png")
	require.NoError(t, err)
	assert.Equal(t, 40, img.Bounds().Dx())
	assert.Equal(t, 20, img.Bounds().Dy())

	bad := filepath.Join(dir, "bad.png")
	require.NoError(t, os.WriteFile(bad, []byte("not an image"), 0o644))
	r.Upsert(FromFile(bad))
	_, err = r.Decode("bad.png")
	assert.Error(t, err)
}

func TestExifGPSWithoutMetadata(t *testing.T) {
	path := writePNG(t, t.TempDir(), "plain.png", 4, 4)

	_, ok := ExifGPS(context.Background(), path)
	assert.False(t, ok)

	_, ok = ExifGPS(context.Background(), filepath.Join(t.TempDir(), "missing.jpg"))
	assert.False(t, ok)
}

func TestIsSupportedFormat(t *testing.T) {
	assert.True(t, IsSupportedFormat("IMG_01.JPG"))
	assert.True(t, IsSupportedFormat("scan.tif"))
	assert.False(t, IsSupportedFormat("notes.txt"))
}
