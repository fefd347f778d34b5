package project

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"gcp-tagger/internal/gcp"
	"gcp-tagger/internal/image"
	"gcp-tagger/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackendRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "survey"+Extension)
	b := NewBackend(path)

	snap := &storage.Snapshot{
		GCPs:       []gcp.GCP{{Name: "P1", Easting: 500000, Northing: 4500000, Elevation: 120}},
		Projection: &gcp.Projection{Definition: "EPSG:32631"},
		Images: []image.Image{
			{Name: "IMG_01.jpg", Path: filepath.Join(dir, "photos", "IMG_01.jpg"), GPS: &image.GPSCoords{Lat: 41, Lng: 2}},
			{Name: "far.jpg", Path: "/elsewhere/far.jpg"},
		},
		Associations: []gcp.Association{{GCPName: "P1", ImageName: "IMG_01.jpg", ImX: 120, ImY: 80}},
	}
	require.NoError(t, b.Save(context.Background(), snap))

	raw, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "survey", raw.Name)
	assert.Equal(t, filepath.Join("photos", "IMG_01.jpg"), raw.Images[0].Path)

	loaded, err := b.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, snap.GCPs, loaded.GCPs)
	assert.Equal(t, snap.Projection, loaded.Projection)
	assert.Equal(t, snap.Associations, loaded.Associations)
	assert.Equal(t, snap.Images[0].Path, loaded.Images[0].Path)
	assert.Equal(t, 41.0, loaded.Images[0].GPS.Lat)
}

func TestSavePreservesCreated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "p"+Extension)
	b := NewBackend(path)
	require.NoError(t, b.Save(context.Background(), &storage.Snapshot{}))
	first, err := Load(path)
	require.NoError(t, err)

	require.NoError(t, b.Save(context.Background(), &storage.Snapshot{GCPs: []gcp.GCP{{Name: "P1"}}}))
	second, err := Load(path)
	require.NoError(t, err)
	assert.True(t, first.Created.Equal(second.Created))
	assert.Len(t, second.GCPs, 1)
}

func TestLoadMissingIsEmpty(t *testing.T) {
	b := NewBackend(filepath.Join(t.TempDir(), "none"+Extension))
	snap, err := b.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, snap.GCPs)
	assert.Nil(t, snap.Projection)
}

func TestLoadRejectsNewerVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "future"+Extension)
	require.NoError(t, os.WriteFile(path, []byte(`{"version": 99}`), 0o644))
	_, err := Load(path)
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte(`{not json`), 0o644))
	_, err = Load(path)
	assert.Error(t, err)
}
