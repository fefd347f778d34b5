package tagging

import (
	"context"
	"errors"
	"fmt"
	"log"

	"gcp-tagger/internal/gcp"
	"gcp-tagger/pkg/geometry"
)

// ErrNoDetector is returned by Detect when the session has no marker detector.
var ErrNoDetector = errors.New("no marker detector configured")

// Detection is the single-shot result of an automatic marker search.
type Detection struct {
	done   chan struct{}
	center geometry.Point2D
	found  bool
	err    error
}

func newDetection() *Detection {
	return &Detection{done: make(chan struct{})}
}

func (d *Detection) resolve(center geometry.Point2D, found bool, err error) {
	d.center, d.found, d.err = center, found, err
	close(d.done)
}

// Done is closed once the result is available.
func (d *Detection) Done() <-chan struct{} {
	return d.done
}

// Result returns the outcome. It must only be called after Done is closed.
func (d *Detection) Result() (center geometry.Point2D, found bool, err error) {
	return d.center, d.found, d.err
}

// Wait blocks until the detection resolves or ctx ends.
func (d *Detection) Wait(ctx context.Context) (geometry.Point2D, bool, error) {
	select {
	case <-d.done:
		return d.Result()
	case <-ctx.Done():
		return geometry.Point2D{}, false, ctx.Err()
	}
}

// Detect searches an image for the marker in the background. When a marker is
// found and the session is still open, the row is pinned at its center, the
// same as a manual pin. No detection leaves the row as it was. Failures are
// reported through the result and never change the session. A session closed
// before the search finishes drops the result and resolves with
// ErrSessionClosed; an image removed meanwhile, even if imported again under
// the same name, drops it with gcp.ErrNotFound.
func (s *Session) Detect(ctx context.Context, name string) *Detection {
	d := newDetection()

	var target *Row
	s.mu.Lock()
	err := s.checkEditable()
	if err == nil {
		target, err = s.rowLocked(name)
	}
	if err == nil && s.deps.Detector == nil {
		err = ErrNoDetector
	}
	life := s.life
	s.mu.Unlock()

	if err != nil {
		d.resolve(geometry.Point2D{}, false, err)
		return d
	}

	go func() {
		dctx, cancel := context.WithCancel(ctx)
		defer cancel()
		stop := context.AfterFunc(life, cancel)
		defer stop()

		center, found, err := s.runDetection(dctx, name)
		d.resolve(s.applyDetection(life, target, center, found, err))
	}()
	return d
}

func (s *Session) runDetection(ctx context.Context, name string) (geometry.Point2D, bool, error) {
	data, err := s.deps.Registry.Content(name)
	if err != nil {
		return geometry.Point2D{}, false, err
	}
	return s.deps.Detector.Detect(ctx, data)
}

// applyDetection pins target if the session that started the search is still
// open and target is still the row for its image.
func (s *Session) applyDetection(life context.Context, target *Row, center geometry.Point2D, found bool, err error) (geometry.Point2D, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := target.ImageName()

	if life.Err() != nil || s.checkEditable() != nil {
		return geometry.Point2D{}, false, ErrSessionClosed
	}
	if err != nil {
		log.Printf("Detect: %s failed: %v", name, err)
		return geometry.Point2D{}, false, err
	}
	if !found {
		return geometry.Point2D{}, false, nil
	}

	if row, ok := s.index[name]; !ok || row != target {
		return geometry.Point2D{}, false, fmt.Errorf("image %q removed during detection: %w", name, gcp.ErrNotFound)
	}
	if center.IsZero() {
		return geometry.Point2D{}, false, fmt.Errorf("detected marker at %v: %w", center, ErrSentinelPin)
	}
	target.pin(center)
	s.state = StateEditing
	return center, true, nil
}
