// Package cv implements the detection backend on OpenCV cascade classifiers.
package cv

import (
	"fmt"
	"os"
	"path/filepath"

	"gcp-tagger/internal/detect"
	"gcp-tagger/pkg/geometry"

	"gocv.io/x/gocv"
)

// Backend decodes images and loads Haar/LBP cascade XML files from Dir.
type Backend struct {
	Dir string
}

// New creates a backend that resolves relative classifier ids under dir.
func New(dir string) *Backend {
	return &Backend{Dir: dir}
}

type frame struct {
	mat gocv.Mat
}

func (f *frame) Close() error {
	return f.mat.Close()
}

// Decode decodes an encoded image into a BGR matrix.
func (b *Backend) Decode(data []byte) (detect.Frame, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty image data")
	}
	mat, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	if mat.Empty() {
		mat.Close()
		return nil, fmt.Errorf("failed to decode image: unsupported or corrupt data")
	}
	return &frame{mat: mat}, nil
}

// Path resolves a classifier id to its XML file.
func (b *Backend) Path(id string) string {
	if filepath.IsAbs(id) || b.Dir == "" {
		return id
	}
	return filepath.Join(b.Dir, id)
}

// LoadClassifier loads a cascade definition.
func (b *Backend) LoadClassifier(id string) (detect.Classifier, error) {
	path := b.Path(id)
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("classifier file: %w", err)
	}

	c := gocv.NewCascadeClassifier()
	if !c.Load(path) {
		c.Close()
		return nil, fmt.Errorf("failed to load cascade %s", path)
	}
	return &classifier{cascade: c}, nil
}

type classifier struct {
	cascade gocv.CascadeClassifier
}

func (c *classifier) DetectMultiScale(f detect.Frame, p detect.Params) ([]geometry.RectInt, error) {
	fr, ok := f.(*frame)
	if !ok {
		return nil, fmt.Errorf("frame %T was not decoded by the OpenCV backend", f)
	}

	found := c.cascade.DetectMultiScaleWithParams(fr.mat, p.ScaleFactor, p.MinNeighbors, 0,
		p.MinSize.Point(), p.MaxSize.Point())

	rects := make([]geometry.RectInt, 0, len(found))
	for _, r := range found {
		rects = append(rects, geometry.FromRectangle(r))
	}
	return rects, nil
}

func (c *classifier) Close() error {
	return c.cascade.Close()
}
