package detect_test

import (
	"context"
	"errors"
	"testing"

	"gcp-tagger/internal/detect"
	"gcp-tagger/internal/detect/detecttest"
	"gcp-tagger/pkg/geometry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var content = []byte("jpeg bytes")

func TestDefaultParams(t *testing.T) {
	p := detect.DefaultParams()
	assert.Equal(t, 1.05, p.ScaleFactor)
	assert.Equal(t, 3, p.MinNeighbors)
	assert.Equal(t, geometry.Size{Width: 30, Height: 30}, p.MinSize)
	assert.Equal(t, geometry.Size{}, p.MaxSize)
	assert.Equal(t, []string{"gcp-square-base.xml", "gcp-bw-quads.xml"}, detect.DefaultClassifiers())
}

func TestFallbackClassifierFirstRect(t *testing.T) {
	b := detecttest.New()
	b.Rects["B"] = []geometry.RectInt{
		{X: 100, Y: 60, Width: 40, Height: 40},
		{X: 500, Y: 500, Width: 40, Height: 40},
	}
	d := detect.New(b, []string{"A", "B"}, detect.DefaultParams())

	center, ok, err := d.Detect(context.Background(), content)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, geometry.Point2D{X: 120, Y: 80}, center)
	assert.Equal(t, []string{"A", "B"}, b.EvaluatedIDs())
	assert.Equal(t, detect.DefaultParams(), b.LastParams)
}

func TestFirstHitShortCircuits(t *testing.T) {
	b := detecttest.New()
	b.Rects["A"] = []geometry.RectInt{{X: 10, Y: 10, Width: 30, Height: 30}}
	b.Rects["B"] = []geometry.RectInt{{X: 900, Y: 900, Width: 30, Height: 30}}
	d := detect.New(b, []string{"A", "B"}, detect.DefaultParams())

	center, ok, err := d.Detect(context.Background(), content)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, geometry.Point2D{X: 25, Y: 25}, center)
	assert.Equal(t, []string{"A"}, b.EvaluatedIDs())
	assert.Equal(t, []string{"A"}, b.Loaded, "B must never be loaded")
}

func TestNoDetection(t *testing.T) {
	b := detecttest.New()
	d := detect.New(b, []string{"A", "B"}, detect.DefaultParams())

	_, ok, err := d.Detect(context.Background(), content)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, []string{"A", "B"}, b.EvaluatedIDs())
}

func TestResourcesReleasedOnEveryPath(t *testing.T) {
	hit := detecttest.New()
	hit.Rects["A"] = []geometry.RectInt{{X: 0, Y: 0, Width: 30, Height: 30}}

	miss := detecttest.New()

	loadFail := detecttest.New()
	loadFail.LoadErrs["B"] = errors.New("missing xml")

	evalFail := detecttest.New()
	evalFail.EvalErrs["A"] = errors.New("bad mat")

	for name, b := range map[string]*detecttest.Backend{
		"hit": hit, "miss": miss, "load failure": loadFail, "eval failure": evalFail,
	} {
		t.Run(name, func(t *testing.T) {
			d := detect.New(b, []string{"A", "B"}, detect.DefaultParams())
			_, _, _ = d.Detect(context.Background(), content)
			assert.Equal(t, 0, b.Outstanding(), "classifier handles leaked")
			assert.Equal(t, 0, b.FramesOpen(), "frame leaked")
		})
	}
}

func TestDecodeFailure(t *testing.T) {
	b := detecttest.New()
	b.DecodeErr = errors.New("truncated jpeg")
	d := detect.New(b, []string{"A"}, detect.DefaultParams())

	_, ok, err := d.Detect(context.Background(), content)
	assert.False(t, ok)
	require.Error(t, err)
	assert.True(t, errors.Is(err, detect.ErrDetection))
	assert.True(t, errors.Is(err, b.DecodeErr))

	var failure *detect.DetectionFailure
	require.True(t, errors.As(err, &failure))
	assert.Equal(t, detect.StageDecode, failure.Stage)
	assert.Empty(t, b.Loaded)
}

func TestClassifierLoadFailure(t *testing.T) {
	b := detecttest.New()
	cause := errors.New("no such file")
	b.LoadErrs["B"] = cause
	d := detect.New(b, []string{"A", "B", "C"}, detect.DefaultParams())

	_, _, err := d.Detect(context.Background(), content)
	require.Error(t, err)
	assert.True(t, errors.Is(err, cause))

	var failure *detect.DetectionFailure
	require.True(t, errors.As(err, &failure))
	assert.Equal(t, detect.StageLoad, failure.Stage)
	assert.Equal(t, "B", failure.Classifier)
	assert.Equal(t, []string{"A", "B"}, b.Loaded, "no retry and no further classifiers")
}

func TestCancelledContext(t *testing.T) {
	b := detecttest.New()
	d := detect.New(b, []string{"A"}, detect.DefaultParams())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := d.Detect(ctx, content)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 0, b.Decoded)
}

func TestClassifierOrderIsCopied(t *testing.T) {
	order := []string{"A", "B"}
	d := detect.New(detecttest.New(), order, detect.DefaultParams())
	order[0] = "Z"
	assert.Equal(t, []string{"A", "B"}, d.Classifiers())
}
