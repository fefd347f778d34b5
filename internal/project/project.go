// Package project provides project file handling and persistence.
package project

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gcp-tagger/internal/gcp"
	"gcp-tagger/internal/image"
	"gcp-tagger/internal/storage"
)

// Extension is the project file extension.
const Extension = ".gcpproj"

// currentVersion is written by Save; older files are upgraded on load.
const currentVersion = 1

// File represents a GCP tagging project file (.gcpproj).
type File struct {
	Version  int       `json:"version"`
	Name     string    `json:"name"`
	Created  time.Time `json:"created"`
	Modified time.Time `json:"modified"`

	Projection   *gcp.Projection   `json:"projection,omitempty"`
	GCPs         []gcp.GCP         `json:"gcps"`
	Images       []ImageRef        `json:"images"`
	Associations []gcp.Association `json:"image_gcps"`
}

// ImageRef is an image entry; Path is relative to the project file when possible.
type ImageRef struct {
	Name string           `json:"name"`
	Path string           `json:"path"`
	GPS  *image.GPSCoords `json:"gps,omitempty"`
}

// New creates an empty project file.
func New(name string) *File {
	now := time.Now()
	return &File{
		Version:  currentVersion,
		Name:     name,
		Created:  now,
		Modified: now,
	}
}

// Load loads a project from a .gcpproj file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var proj File
	if err := json.Unmarshal(data, &proj); err != nil {
		return nil, fmt.Errorf("failed to parse project: %w", err)
	}
	if proj.Version > currentVersion {
		return nil, fmt.Errorf("project version %d is newer than supported version %d", proj.Version, currentVersion)
	}

	return &proj, nil
}

// Save saves the project to a file.
func (p *File) Save(path string) error {
	p.Modified = time.Now()
	p.Version = currentVersion

	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create project directory: %w", err)
	}

	// Write through a temp file so a failed save never truncates the project.
	tmp, err := os.CreateTemp(dir, ".gcpproj-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Snapshot converts the file into storage form, resolving image paths
// against the project location.
func (p *File) Snapshot(projectPath string) *storage.Snapshot {
	snap := &storage.Snapshot{
		GCPs:         append([]gcp.GCP(nil), p.GCPs...),
		Projection:   p.Projection,
		Associations: append([]gcp.Association(nil), p.Associations...),
	}
	for _, ref := range p.Images {
		snap.Images = append(snap.Images, image.Image{
			Name: ref.Name,
			Path: resolvePath(projectPath, ref.Path),
			GPS:  ref.GPS,
		})
	}
	return snap
}

// Apply replaces the file content with snap, storing image paths relative to
// the project location.
func (p *File) Apply(projectPath string, snap *storage.Snapshot) {
	p.GCPs = append([]gcp.GCP(nil), snap.GCPs...)
	p.Projection = snap.Projection
	p.Associations = append([]gcp.Association(nil), snap.Associations...)
	p.Images = p.Images[:0]
	for _, img := range snap.Images {
		p.Images = append(p.Images, ImageRef{
			Name: img.Name,
			Path: relativePath(projectPath, img.Path),
			GPS:  img.GPS,
		})
	}
}

func relativePath(projectPath, path string) string {
	if path == "" {
		return ""
	}
	rel, err := filepath.Rel(filepath.Dir(projectPath), path)
	if err != nil {
		return path
	}
	return rel
}

func resolvePath(projectPath, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(filepath.Dir(projectPath), path)
}

// Backend stores a project in a single JSON file.
type Backend struct {
	Path string
}

// NewBackend creates a JSON backend for path.
func NewBackend(path string) *Backend {
	return &Backend{Path: path}
}

// Load reads the project. A missing file yields an empty snapshot.
func (b *Backend) Load(ctx context.Context) (*storage.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	proj, err := Load(b.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return &storage.Snapshot{}, nil
		}
		return nil, err
	}
	return proj.Snapshot(b.Path), nil
}

// Save writes snap, preserving the project name and creation time of an
// existing file.
func (b *Backend) Save(ctx context.Context, snap *storage.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	proj, err := Load(b.Path)
	if err != nil {
		if !os.IsNotExist(err) {
			return err
		}
		name := filepath.Base(b.Path)
		proj = New(name[:len(name)-len(filepath.Ext(name))])
	}
	proj.Apply(b.Path, snap)
	return proj.Save(b.Path)
}
