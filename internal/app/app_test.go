package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"gcp-tagger/internal/config"
	"gcp-tagger/internal/gcp"
	"gcp-tagger/internal/image"
	"gcp-tagger/internal/project"
	"gcp-tagger/internal/storage/sqlite"
	"gcp-tagger/internal/tagging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const gcpList = `+proj=utm +zone=31 +datum=WGS84
P1 500000 4500000 120
P2 500050 4500030 118
`

func noGPS(context.Context, string) (*image.GPSCoords, bool) { return nil, false }

func newTestState(t *testing.T) *State {
	t.Helper()
	s := NewState(nil, nil)
	s.Registry = image.NewRegistry(noGPS)
	return s
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestImportGCPs(t *testing.T) {
	s := newTestState(t)
	path := writeFile(t, t.TempDir(), "gcps.txt", gcpList)

	var changed int
	s.On(EventGCPsChanged, func(data interface{}) { changed = data.(int) })

	require.NoError(t, s.ImportGCPs(path))
	assert.Equal(t, 2, changed)
	assert.True(t, s.IsModified())
	assert.Equal(t, "+proj=utm +zone=31 +datum=WGS84", s.Projection().Definition)
	assert.Len(t, s.GCPs(), 2)
}

func TestImportGCPsBadFile(t *testing.T) {
	s := newTestState(t)
	path := writeFile(t, t.TempDir(), "gcps.txt", "EPSG:4326\nP1 1 2\n")

	err := s.ImportGCPs(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gcps.txt")
	assert.Nil(t, s.Projection())
}

func TestOpenSessionRequiresGCPs(t *testing.T) {
	s := newTestState(t)
	_, err := s.OpenSession("P1")
	assert.ErrorIs(t, err, gcp.ErrPreconditionFailed)
	assert.Nil(t, s.Session())
}

func TestSessionCommitAndSave(t *testing.T) {
	dir := t.TempDir()
	s := newTestState(t)

	projPath := filepath.Join(dir, "survey"+project.Extension)
	backend, closeFn, err := OpenBackend(projPath, config.Default().Storage)
	require.NoError(t, err)
	require.NoError(t, s.LoadProject(context.Background(), projPath, backend, closeFn))
	require.NoError(t, s.ImportGCPs(writeFile(t, dir, "gcps.txt", gcpList)))

	var layouts int
	s.On(EventLayoutChanged, func(interface{}) { layouts++ })

	sess, err := s.OpenSession("P1")
	require.NoError(t, err)
	require.NoError(t, sess.Import(image.FromFile(writeFile(t, dir, "IMG_01.jpg", "jpeg"))))
	require.NoError(t, sess.Pin("IMG_01.jpg", 120, 80))
	assert.Equal(t, 1, layouts)

	require.NoError(t, s.CommitSession())
	assert.Nil(t, s.Session())
	assert.Equal(t, tagging.StateCommitted, sess.State())

	require.NoError(t, s.SaveProject(context.Background()))
	assert.False(t, s.IsModified())

	// Reload into a fresh state.
	other := newTestState(t)
	backend, closeFn, err = OpenBackend(projPath, config.Default().Storage)
	require.NoError(t, err)
	require.NoError(t, other.LoadProject(context.Background(), projPath, backend, closeFn))
	assert.Len(t, other.GCPs(), 2)
	assert.Equal(t, []gcp.Association{{GCPName: "P1", ImageName: "IMG_01.jpg", ImX: 120, ImY: 80}}, other.Store.All())
	img, err := other.Registry.Get("IMG_01.jpg")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "IMG_01.jpg"), img.Path)
}

func TestOpenSessionAbandonsPrevious(t *testing.T) {
	s := newTestState(t)
	require.NoError(t, s.ImportGCPs(writeFile(t, t.TempDir(), "gcps.txt", gcpList)))

	first, err := s.OpenSession("P1")
	require.NoError(t, err)
	second, err := s.OpenSession("P2")
	require.NoError(t, err)

	assert.Equal(t, tagging.StateAbandoned, first.State())
	assert.Same(t, second, s.Session())

	s.CloseSession()
	assert.Equal(t, tagging.StateAbandoned, second.State())
	assert.ErrorIs(t, s.CommitSession(), tagging.ErrSessionClosed)
}

func TestModifiedFlagConcurrentAccess(t *testing.T) {
	s := newTestState(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(v bool) {
			defer wg.Done()
			s.SetModified(v)
		}(i%2 == 0)
		go func() {
			defer wg.Done()
			_ = s.IsModified()
			_ = s.CurrentPath()
		}()
	}
	wg.Wait()

	s.SetModified(true)
	assert.True(t, s.IsModified())
	s.SetModified(false)
	assert.False(t, s.IsModified())
}

func TestSaveWithoutProject(t *testing.T) {
	s := newTestState(t)
	assert.ErrorIs(t, s.SaveProject(context.Background()), ErrNoProject)
}

func TestExportBundler(t *testing.T) {
	dir := t.TempDir()
	s := newTestState(t)

	_, err := s.ExportBundler(filepath.Join(dir, "gcp_list.txt"))
	assert.ErrorIs(t, err, gcp.ErrPreconditionFailed)

	require.NoError(t, s.ImportGCPs(writeFile(t, dir, "gcps.txt", gcpList)))
	s.Registry.Upsert(image.Image{Name: "IMG_01.jpg", Path: filepath.Join(dir, "IMG_01.jpg")})
	s.Registry.Upsert(image.Image{Name: "IMG_02.jpg", Path: filepath.Join(dir, "IMG_02.jpg")})
	require.NoError(t, s.Store.Load([]gcp.Association{
		{GCPName: "P2", ImageName: "IMG_02.jpg", ImX: 10, ImY: 20},
		{GCPName: "P1", ImageName: "IMG_01.jpg"},
		{GCPName: "P1", ImageName: "IMG_07.jpg", ImX: 3, ImY: 4},
	}))

	out := filepath.Join(dir, "gcp_list.txt")
	n, err := s.ExportBundler(out)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "+proj=utm +zone=31 +datum=WGS84", lines[0])
	assert.Equal(t, "500050\t4500030\t118\t10\t20\tIMG_02.jpg\tP2", lines[1])
}

func TestOpenBackendSelection(t *testing.T) {
	dir := t.TempDir()

	b, closeFn, err := OpenBackend(filepath.Join(dir, "a"+project.Extension), config.StorageConfig{Backend: config.BackendSQLite})
	require.NoError(t, err)
	assert.IsType(t, &project.Backend{}, b)
	require.NoError(t, closeFn())

	b, closeFn, err = OpenBackend(filepath.Join(dir, "a.db"), config.StorageConfig{Backend: config.BackendJSON})
	require.NoError(t, err)
	assert.IsType(t, &sqlite.Store{}, b)
	require.NoError(t, closeFn())

	_, _, err = OpenBackend(filepath.Join(dir, "b.db"), config.StorageConfig{LogLevel: "chatty"})
	assert.Error(t, err)
}
