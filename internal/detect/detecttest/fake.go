// Package detecttest provides a scripted detection backend for tests.
package detecttest

import (
	"errors"
	"sync"

	"gcp-tagger/internal/detect"
	"gcp-tagger/pkg/geometry"
)

// Backend returns scripted rectangles per classifier id and records every
// call so tests can assert evaluation order and resource release.
type Backend struct {
	mu sync.Mutex

	Rects      map[string][]geometry.RectInt // Per-classifier detections
	LoadErrs   map[string]error              // Per-classifier load failures
	EvalErrs   map[string]error              // Per-classifier evaluation failures
	DecodeErr  error                         // Returned by every Decode when set
	BadContent []byte                        // Content that fails to decode

	// Gate, when set, blocks DetectMultiScale until it is closed.
	Gate chan struct{}

	Decoded        int
	FramesClosed   int
	Loaded         []string
	Evaluated      []string
	ClassifiersOut int // Loaded but not yet closed
	LastParams     detect.Params
}

// New creates an empty scripted backend.
func New() *Backend {
	return &Backend{
		Rects:    make(map[string][]geometry.RectInt),
		LoadErrs: make(map[string]error),
		EvalErrs: make(map[string]error),
	}
}

// ErrBadContent is the decode error for BadContent.
var ErrBadContent = errors.New("corrupt image")

type frame struct {
	b *Backend
}

func (f *frame) Close() error {
	f.b.mu.Lock()
	f.b.FramesClosed++
	f.b.mu.Unlock()
	return nil
}

func (b *Backend) Decode(data []byte) (detect.Frame, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.DecodeErr != nil {
		return nil, b.DecodeErr
	}
	if b.BadContent != nil && string(data) == string(b.BadContent) {
		return nil, ErrBadContent
	}
	b.Decoded++
	return &frame{b: b}, nil
}

func (b *Backend) LoadClassifier(id string) (detect.Classifier, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Loaded = append(b.Loaded, id)
	if err := b.LoadErrs[id]; err != nil {
		return nil, err
	}
	b.ClassifiersOut++
	return &classifier{b: b, id: id}, nil
}

// FramesOpen returns decoded frames not yet closed.
func (b *Backend) FramesOpen() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.Decoded - b.FramesClosed
}

// Outstanding returns classifiers loaded but not yet closed.
func (b *Backend) Outstanding() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ClassifiersOut
}

// EvaluatedIDs returns the classifiers evaluated so far, in order.
func (b *Backend) EvaluatedIDs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.Evaluated...)
}

type classifier struct {
	b  *Backend
	id string
}

func (c *classifier) DetectMultiScale(_ detect.Frame, p detect.Params) ([]geometry.RectInt, error) {
	c.b.mu.Lock()
	gate := c.b.Gate
	c.b.mu.Unlock()
	if gate != nil {
		<-gate
	}

	c.b.mu.Lock()
	defer c.b.mu.Unlock()
	c.b.Evaluated = append(c.b.Evaluated, c.id)
	c.b.LastParams = p
	if err := c.b.EvalErrs[c.id]; err != nil {
		return nil, err
	}
	return append([]geometry.RectInt(nil), c.b.Rects[c.id]...), nil
}

func (c *classifier) Close() error {
	c.b.mu.Lock()
	c.b.ClassifiersOut--
	c.b.mu.Unlock()
	return nil
}
