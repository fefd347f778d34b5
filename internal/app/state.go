// Package app provides application lifecycle management, project state, and events.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gcp-tagger/internal/association"
	"gcp-tagger/internal/config"
	"gcp-tagger/internal/gcp"
	"gcp-tagger/internal/image"
	"gcp-tagger/internal/license"
	"gcp-tagger/internal/project"
	"gcp-tagger/internal/storage"
	"gcp-tagger/internal/storage/sqlite"
	"gcp-tagger/internal/tagging"
)

// State holds the process-wide application state: the GCP list, the image
// registry, the association store, and the current tagging session.
type State struct {
	mu sync.RWMutex

	// Project
	ProjectPath string
	Modified    bool
	backend     storage.Backend
	closeFn     func() error

	gcps       []gcp.GCP
	projection *gcp.Projection

	Registry *image.Registry
	Store    *association.Store
	Detector tagging.MarkerDetector
	License  license.Checker

	session *tagging.Session

	// Event listeners
	listeners map[EventType][]EventListener
}

// EventType identifies different application events.
type EventType int

const (
	EventProjectLoaded EventType = iota
	EventProjectSaved
	EventGCPsChanged
	EventLayoutChanged
	EventAssociationsChanged
	EventModified
	EventSessionOpened
	EventSessionClosed
)

// EventListener is called when an event occurs.
type EventListener func(data interface{})

// NewState creates a new application state.
func NewState(detector tagging.MarkerDetector, checker license.Checker) *State {
	if checker == nil {
		checker = license.Dev{}
	}
	return &State{
		Registry:  image.NewRegistry(image.ExifGPS),
		Store:     association.NewStore(),
		Detector:  detector,
		License:   checker,
		listeners: make(map[EventType][]EventListener),
	}
}

// On registers an event listener for the specified event type.
func (s *State) On(event EventType, listener EventListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners[event] = append(s.listeners[event], listener)
}

// Emit triggers all listeners for the specified event type.
func (s *State) Emit(event EventType, data interface{}) {
	s.mu.RLock()
	listeners := s.listeners[event]
	s.mu.RUnlock()

	for _, listener := range listeners {
		listener(data)
	}
}

// SetModified marks the project as modified and emits an event.
func (s *State) SetModified(modified bool) {
	s.mu.Lock()
	s.Modified = modified
	s.mu.Unlock()
	s.Emit(EventModified, modified)
}

// IsModified reports whether the project has unsaved changes.
func (s *State) IsModified() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Modified
}

// CurrentPath returns the path of the open project, or "".
func (s *State) CurrentPath() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ProjectPath
}

// IsLicensed queries the license checker.
func (s *State) IsLicensed() bool {
	return s.License.IsLicensed()
}

// GCPs returns a copy of the GCP list.
func (s *State) GCPs() []gcp.GCP {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]gcp.GCP(nil), s.gcps...)
}

// Projection returns the configured projection, or nil.
func (s *State) Projection() *gcp.Projection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.projection == nil {
		return nil
	}
	p := *s.projection
	return &p
}

// SetGCPs replaces the GCP list and projection. Associations of GCPs that
// disappear are left in place and dropped when the project is next saved.
func (s *State) SetGCPs(proj gcp.Projection, gcps []gcp.GCP) {
	s.mu.Lock()
	s.projection = &proj
	s.gcps = append([]gcp.GCP(nil), gcps...)
	s.mu.Unlock()

	s.SetModified(true)
	s.Emit(EventGCPsChanged, len(gcps))
}

// ImportGCPs loads the GCP list and projection from a descriptor file.
func (s *State) ImportGCPs(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	proj, gcps, err := gcp.ParseList(f)
	if err != nil {
		return fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	s.SetGCPs(proj, gcps)
	log.Printf("Imported %d GCPs from %s (%s)", len(gcps), path, proj.Definition)
	return nil
}

// OpenBackend selects a storage backend for a project path. Files ending in
// .db or .sqlite, or any path when the configured backend is sqlite, use the
// SQLite store; everything else is a JSON project file. The returned close
// function releases the backend.
func OpenBackend(path string, cfg config.StorageConfig) (storage.Backend, func() error, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".db" || ext == ".sqlite" || (cfg.Backend == config.BackendSQLite && ext != project.Extension) {
		level, err := config.ParseLogLevel(cfg.LogLevel)
		if err != nil {
			return nil, nil, err
		}
		store, err := sqlite.Open(path, sqlite.Options{LogLevel: level})
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	}
	return project.NewBackend(path), func() error { return nil }, nil
}

// LoadProject loads a project through backend and makes it current.
func (s *State) LoadProject(ctx context.Context, path string, backend storage.Backend, closeFn func() error) error {
	snap, err := backend.Load(ctx)
	if err != nil {
		return err
	}
	if dropped := storage.Validate(snap); dropped > 0 {
		log.Printf("Project %s: dropped %d invalid associations", path, dropped)
	}
	if err := s.Store.Load(snap.Associations); err != nil {
		return err
	}
	s.Registry.Reset(snap.Images)

	s.CloseSession()

	s.mu.Lock()
	prevClose := s.closeFn
	s.ProjectPath = path
	s.backend = backend
	s.closeFn = closeFn
	s.gcps = snap.GCPs
	s.projection = snap.Projection
	s.Modified = false
	s.mu.Unlock()

	if prevClose != nil {
		if err := prevClose(); err != nil {
			log.Printf("Project: closing previous backend: %v", err)
		}
	}

	s.Emit(EventProjectLoaded, path)
	return nil
}

// Snapshot captures the current project state.
func (s *State) Snapshot() *storage.Snapshot {
	s.mu.RLock()
	snap := &storage.Snapshot{
		GCPs: append([]gcp.GCP(nil), s.gcps...),
	}
	if s.projection != nil {
		p := *s.projection
		snap.Projection = &p
	}
	s.mu.RUnlock()

	snap.Images = s.Registry.List()
	snap.Associations = s.Store.All()
	return snap
}

// ErrNoProject is returned when saving before a project location is known.
var ErrNoProject = errors.New("no project open")

// SaveProject writes the current state to the project backend.
func (s *State) SaveProject(ctx context.Context) error {
	s.mu.RLock()
	backend, path := s.backend, s.ProjectPath
	s.mu.RUnlock()
	if backend == nil {
		return ErrNoProject
	}

	snap := s.Snapshot()
	if dropped := storage.Validate(snap); dropped > 0 {
		log.Printf("Project %s: not saving %d dangling associations", path, dropped)
	}
	if err := backend.Save(ctx, snap); err != nil {
		return err
	}

	s.SetModified(false)
	s.Emit(EventProjectSaved, path)
	return nil
}

// Close releases the project backend.
func (s *State) Close() error {
	s.CloseSession()

	s.mu.Lock()
	closeFn := s.closeFn
	s.closeFn = nil
	s.backend = nil
	s.mu.Unlock()

	if closeFn != nil {
		return closeFn()
	}
	return nil
}

// ExportBundler writes the tagged associations as a gcp_list.txt file.
func (s *State) ExportBundler(path string) (int, error) {
	proj := s.Projection()
	if proj == nil {
		return 0, fmt.Errorf("export: %w", gcp.ErrPreconditionFailed)
	}

	f, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	images := s.Registry.List()
	names := make([]string, 0, len(images))
	for _, img := range images {
		names = append(names, img.Name)
	}
	n, err := gcp.WriteBundlerList(f, *proj, s.GCPs(), names, s.Store.All())
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return n, err
}
