// Package detect locates ground-target markers in photographs using a
// prioritized list of trained cascade classifiers.
package detect

import (
	"context"
	"errors"
	"fmt"

	"gcp-tagger/pkg/geometry"
)

// Default classifier files, most specific first.
const (
	ClassifierSquareBase = "gcp-square-base.xml"
	ClassifierBWQuads    = "gcp-bw-quads.xml"
)

// DefaultClassifiers returns the built-in classifier priority order.
func DefaultClassifiers() []string {
	return []string{ClassifierSquareBase, ClassifierBWQuads}
}

// Params configures a multi-scale detection pass.
type Params struct {
	ScaleFactor  float64       // Search shrink per pass
	MinNeighbors int           // Overlapping candidates needed to accept a detection
	MinSize      geometry.Size // Smallest detectable marker
	MaxSize      geometry.Size // Zero means no cap
}

// DefaultParams returns the detection parameters tuned for printed ground targets.
func DefaultParams() Params {
	return Params{
		ScaleFactor:  1.05,
		MinNeighbors: 3,
		MinSize:      geometry.Size{Width: 30, Height: 30},
		MaxSize:      geometry.Size{},
	}
}

// Frame is a decoded image held by a detection backend.
type Frame interface {
	Close() error
}

// Classifier is a loaded, trained cascade.
type Classifier interface {
	// DetectMultiScale returns candidate marker rectangles in frame.
	DetectMultiScale(frame Frame, p Params) ([]geometry.RectInt, error)
	Close() error
}

// Backend provides decoding and classifier evaluation. Frames and classifiers
// hold native resources and must be closed by the caller.
type Backend interface {
	Decode(data []byte) (Frame, error)
	LoadClassifier(id string) (Classifier, error)
}

// Detector runs classifiers in priority order and reports the center of the
// first hit.
type Detector struct {
	backend     Backend
	classifiers []string
	params      Params
}

// New creates a Detector. The classifier order is kept as given.
func New(backend Backend, classifiers []string, params Params) *Detector {
	return &Detector{
		backend:     backend,
		classifiers: append([]string(nil), classifiers...),
		params:      params,
	}
}

// Classifiers returns the classifier priority order.
func (d *Detector) Classifiers() []string {
	return append([]string(nil), d.classifiers...)
}

// Params returns the detection parameters.
func (d *Detector) Params() Params {
	return d.params
}

// Detect decodes data and searches it for a marker. It returns the centroid of
// the first rectangle reported by the first classifier that detects anything.
// ok is false when no classifier finds a marker. Decode and classifier errors
// are returned as *DetectionFailure.
func (d *Detector) Detect(ctx context.Context, data []byte) (center geometry.Point2D, ok bool, err error) {
	if err := ctx.Err(); err != nil {
		return geometry.Point2D{}, false, err
	}

	frame, err := d.backend.Decode(data)
	if err != nil {
		return geometry.Point2D{}, false, &DetectionFailure{Stage: StageDecode, Err: err}
	}
	defer frame.Close()

	for _, id := range d.classifiers {
		if err := ctx.Err(); err != nil {
			return geometry.Point2D{}, false, err
		}

		rect, found, err := d.runClassifier(frame, id)
		if err != nil {
			return geometry.Point2D{}, false, err
		}
		if found {
			return rect.Center(), true, nil
		}
	}

	return geometry.Point2D{}, false, nil
}

// runClassifier loads one classifier, evaluates it, and releases it before
// returning on every path.
func (d *Detector) runClassifier(frame Frame, id string) (geometry.RectInt, bool, error) {
	cls, err := d.backend.LoadClassifier(id)
	if err != nil {
		return geometry.RectInt{}, false, &DetectionFailure{Stage: StageLoad, Classifier: id, Err: err}
	}
	defer cls.Close()

	rects, err := cls.DetectMultiScale(frame, d.params)
	if err != nil {
		return geometry.RectInt{}, false, &DetectionFailure{Stage: StageEvaluate, Classifier: id, Err: err}
	}
	if len(rects) == 0 {
		return geometry.RectInt{}, false, nil
	}
	return rects[0], true, nil
}

// ErrDetection matches every *DetectionFailure with errors.Is.
var ErrDetection = errors.New("marker detection failed")

// Stage names the detection step that failed.
type Stage string

const (
	StageDecode   Stage = "decode"
	StageLoad     Stage = "load classifier"
	StageEvaluate Stage = "evaluate"
)

// DetectionFailure reports an image decode or classifier error. The user may
// retry; nothing is retried automatically.
type DetectionFailure struct {
	Stage      Stage
	Classifier string
	Err        error
}

func (e *DetectionFailure) Error() string {
	if e.Classifier != "" {
		return fmt.Sprintf("detection %s %s: %v", e.Stage, e.Classifier, e.Err)
	}
	return fmt.Sprintf("detection %s: %v", e.Stage, e.Err)
}

func (e *DetectionFailure) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrDetection) true for any failure.
func (e *DetectionFailure) Is(target error) bool {
	return target == ErrDetection
}
