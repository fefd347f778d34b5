package image

import (
	"context"
	"fmt"
	"image"
	"sync"

	"gcp-tagger/internal/gcp"
)

// Registry holds the set of images known to the process.
// Images keep their insertion order. Safe for concurrent use.
type Registry struct {
	mu      sync.Mutex
	order   []string
	entries map[string]*entry
	extract Extractor
}

type entry struct {
	img         Image
	gpsResolved bool
}

// NewRegistry creates an empty registry that resolves GPS metadata with extract.
// A nil extractor falls back to ExifGPS.
func NewRegistry(extract Extractor) *Registry {
	if extract == nil {
		extract = ExifGPS
	}
	return &Registry{
		entries: make(map[string]*entry),
		extract: extract,
	}
}

// Upsert inserts img, or updates the content handle of the image with the same
// name. It returns the stored record.
func (r *Registry) Upsert(img Image) Image {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[img.Name]; ok {
		if e.img.Path != img.Path {
			e.img.Path = img.Path
			e.img.GPS = nil
			e.gpsResolved = false
		}
		if img.GPS != nil {
			e.img.GPS = copyCoords(img.GPS)
			e.gpsResolved = true
		}
		return e.img.clone()
	}

	e := &entry{img: img.clone(), gpsResolved: img.GPS != nil}
	r.entries[img.Name] = e
	r.order = append(r.order, img.Name)
	return e.img.clone()
}

// Remove deletes an image. Associations referencing it are not touched here;
// the caller is responsible for cascading into the association store.
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[name]; !ok {
		return fmt.Errorf("image %q: %w", name, gcp.ErrNotFound)
	}
	delete(r.entries, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

// Get returns the image with the given name.
func (r *Registry) Get(name string) (Image, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[name]
	if !ok {
		return Image{}, fmt.Errorf("image %q: %w", name, gcp.ErrNotFound)
	}
	return e.img.clone(), nil
}

// Has reports whether an image with the given name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[name]
	return ok
}

// List returns all images in insertion order.
func (r *Registry) List() []Image {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Image, 0, len(r.order))
	for _, n := range r.order {
		out = append(out, r.entries[n].img.clone())
	}
	return out
}

// Reset replaces the registry content, e.g. when a project is loaded.
func (r *Registry) Reset(images []Image) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.order = r.order[:0]
	r.entries = make(map[string]*entry, len(images))
	for _, img := range images {
		if e, dup := r.entries[img.Name]; dup {
			if e.img.Path != img.Path {
				e.img.Path = img.Path
				e.img.GPS = nil
				e.gpsResolved = false
			}
			if img.GPS != nil {
				e.img.GPS = copyCoords(img.GPS)
				e.gpsResolved = true
			}
			continue
		}
		r.entries[img.Name] = &entry{img: img.clone(), gpsResolved: img.GPS != nil}
		r.order = append(r.order, img.Name)
	}
}

// ResolveContentURL returns a displayable reference to the image content.
func (r *Registry) ResolveContentURL(name string) (string, bool) {
	img, err := r.Get(name)
	if err != nil {
		return "", false
	}
	return img.ContentURL()
}

// Content reads the raw bytes of an image.
func (r *Registry) Content(name string) ([]byte, error) {
	img, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	return img.ReadContent()
}

// Decode reads and decodes an image into a pixel buffer.
func (r *Registry) Decode(name string) (image.Image, error) {
	data, err := r.Content(name)
	if err != nil {
		return nil, err
	}
	return DecodeBytes(data)
}

// GPSCoords returns the GPS position of an image. The value is extracted on
// first use and cached, absence included, until the content handle changes.
// Unknown images and unreadable metadata both report ok == false.
func (r *Registry) GPSCoords(ctx context.Context, name string) (*GPSCoords, bool) {
	r.mu.Lock()
	e, ok := r.entries[name]
	if !ok {
		r.mu.Unlock()
		return nil, false
	}
	if e.gpsResolved {
		coords := copyCoords(e.img.GPS)
		r.mu.Unlock()
		return coords, coords != nil
	}
	path := e.img.Path
	r.mu.Unlock()

	coords, found := r.extract(ctx, path)
	if !found {
		coords = nil
	}
	if ctx.Err() != nil {
		// Do not cache an answer produced under cancellation.
		return copyCoords(coords), coords != nil
	}

	r.mu.Lock()
	// The image may have been replaced or re-pointed while extracting.
	if cur, ok := r.entries[name]; ok && cur == e && cur.img.Path == path {
		cur.img.GPS = copyCoords(coords)
		cur.gpsResolved = true
	}
	r.mu.Unlock()

	return copyCoords(coords), coords != nil
}

func (img Image) clone() Image {
	img.GPS = copyCoords(img.GPS)
	return img
}

func copyCoords(c *GPSCoords) *GPSCoords {
	if c == nil {
		return nil
	}
	cp := *c
	return &cp
}
