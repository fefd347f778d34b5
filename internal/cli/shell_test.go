package cli

import (
	"bytes"
	"context"
	stdimage "image"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gcp-tagger/internal/app"
	"gcp-tagger/internal/config"
	"gcp-tagger/internal/detect"
	"gcp-tagger/internal/detect/detecttest"
	"gcp-tagger/internal/gcp"
	"gcp-tagger/internal/image"
	"gcp-tagger/pkg/geometry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noGPS(context.Context, string) (*image.GPSCoords, bool) { return nil, false }

type fixture struct {
	dir     string
	state   *app.State
	backend *detecttest.Backend
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	backend := detecttest.New()
	state := app.NewState(detect.New(backend, []string{"square.xml"}, detect.DefaultParams()), nil)
	state.Registry = image.NewRegistry(noGPS)
	t.Cleanup(func() { state.Close() })

	write := func(name, content string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
	}
	write("gcps.txt", "EPSG:32631\nP1 500000 4500000 120\nP2 500050 4500030 118\n")
	write("IMG_01.jpg", "one")
	write("IMG_02.jpg", "two")

	return &fixture{dir: dir, state: state, backend: backend}
}

// run feeds script to a fresh shell and returns its output.
func (f *fixture) run(t *testing.T, script string) string {
	t.Helper()
	script = strings.ReplaceAll(script, "$DIR", f.dir)
	var out bytes.Buffer
	sh := New(f.state, config.Default(), nil, strings.NewReader(script), &out)
	require.NoError(t, sh.Run(context.Background()))
	return out.String()
}

func TestShellTaggingWorkflow(t *testing.T) {
	f := newFixture(t)
	f.backend.Rects["square.xml"] = []geometry.RectInt{{X: 100, Y: 60, Width: 40, Height: 40}}

	out := f.run(t, `
open $DIR/survey.gcpproj
load-gcps $DIR/gcps.txt
tag P1
import $DIR/IMG_01.jpg $DIR/IMG_02.jpg
pin IMG_01.jpg 12 34
detect IMG_02.jpg
ok
tag P2
pin IMG_02.jpg 200 100
ok
save
export $DIR/gcp_list.txt
quit
`)
	assert.NotContains(t, out, "error:")
	assert.Contains(t, out, "imported 2 images")
	assert.Contains(t, out, "IMG_02.jpg: marker at 120.0,80.0")
	assert.Contains(t, out, "committed P1")
	assert.Contains(t, out, "wrote 3 tags")

	assert.ElementsMatch(t, []gcp.Association{
		{GCPName: "P1", ImageName: "IMG_01.jpg", ImX: 12, ImY: 34},
		{GCPName: "P1", ImageName: "IMG_02.jpg", ImX: 120, ImY: 80},
		{GCPName: "P2", ImageName: "IMG_02.jpg", ImX: 200, ImY: 100},
	}, f.state.Store.All())
	assert.False(t, f.state.IsModified())
	assert.FileExists(t, filepath.Join(f.dir, "survey.gcpproj"))
	assert.FileExists(t, filepath.Join(f.dir, "gcp_list.txt"))
}

func TestShellRemoveSharedImage(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.state.ImportGCPs(filepath.Join(f.dir, "gcps.txt")))
	f.state.Registry.Upsert(image.FromFile(filepath.Join(f.dir, "IMG_02.jpg")))
	require.NoError(t, f.state.Store.Load([]gcp.Association{
		{GCPName: "P2", ImageName: "IMG_02.jpg", ImX: 200, ImY: 100},
	}))

	out := f.run(t, `
tag P1
rows
remove IMG_02.jpg
n
remove IMG_02.jpg
y
back
quit
y
`)
	assert.Contains(t, out, "IMG_02.jpg (P2)")
	assert.Contains(t, out, "also tagged for P2")
	assert.Contains(t, out, "kept IMG_02.jpg")
	assert.Contains(t, out, "removed IMG_02.jpg")
	assert.Empty(t, f.state.Store.All())
	assert.False(t, f.state.Registry.Has("IMG_02.jpg"))
}

func TestShellReportsErrors(t *testing.T) {
	f := newFixture(t)

	out := f.run(t, `
bogus
pin IMG_01.jpg 1 1
tag P1
save
`)
	assert.Contains(t, out, `unknown command "bogus"`)
	assert.Contains(t, out, "no tagging session")
	assert.Contains(t, out, "precondition failed")
	assert.Contains(t, out, "no project open")
}

func TestShellPinAtOriginRejected(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.state.ImportGCPs(filepath.Join(f.dir, "gcps.txt")))

	out := f.run(t, `
tag P1
import $DIR/IMG_01.jpg
pin IMG_01.jpg 0 0
pin IMG_01.jpg x 1
back
`)
	assert.Contains(t, out, "pin at image origin cannot be stored")
	assert.Contains(t, out, `invalid x "x"`)
	assert.Empty(t, f.state.Store.All())
}

func TestShellInfo(t *testing.T) {
	f := newFixture(t)
	path := filepath.Join(f.dir, "frame.png")
	out, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(out, stdimage.NewRGBA(stdimage.Rect(0, 0, 64, 48))))
	require.NoError(t, out.Close())

	f.state.Registry.Upsert(image.FromFile(path))
	require.NoError(t, f.state.Store.Load([]gcp.Association{
		{GCPName: "P1", ImageName: "frame.png", ImX: 10, ImY: 12},
		{GCPName: "P2", ImageName: "frame.png"},
	}))

	text := f.run(t, "info frame.png\ninfo nothing.png\n")
	assert.Contains(t, text, "frame.png: 64x48 px")
	assert.Contains(t, text, "P1 at 10.0,12.0")
	assert.NotContains(t, text, "P2 at")
	assert.Contains(t, text, "not found")
}
