// Package tagging implements the per-GCP image tagging workflow.
//
// A Session works on a private copy of the rows for one GCP. Pins and
// detections only touch that copy; Commit writes the tagged rows back to the
// association store in a single replace. Image imports and removals are the
// exception: image content is process-wide, so those reach the registry (and,
// for removals, the association store) immediately.
package tagging

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"

	"gcp-tagger/internal/gcp"
	"gcp-tagger/internal/image"
	"gcp-tagger/pkg/geometry"

	"github.com/google/uuid"
)

var (
	// ErrSessionClosed is returned for operations on a committed or abandoned session.
	ErrSessionClosed = errors.New("tagging session closed")

	// ErrSentinelPin is returned for a pin at (0,0), which is indistinguishable
	// from an untagged association once stored.
	ErrSentinelPin = errors.New("pin at image origin cannot be stored")

	// ErrNotLoaded is returned when editing a session that was never loaded.
	ErrNotLoaded = errors.New("tagging session not loaded")
)

// State is the lifecycle state of a session.
type State int

const (
	StateUninitialized State = iota
	StateLoaded
	StateEditing
	StateCommitted
	StateAbandoned
)

func (s State) String() string {
	switch s {
	case StateLoaded:
		return "loaded"
	case StateEditing:
		return "editing"
	case StateCommitted:
		return "committed"
	case StateAbandoned:
		return "abandoned"
	default:
		return "uninitialized"
	}
}

// AssociationStore is the store a session reads from and commits to.
type AssociationStore interface {
	ListForImage(imgName string) []gcp.Association
	ReplaceForGCP(gcpName string, list []gcp.Association) error
	RemoveImage(imgName string) int
}

// ImageRegistry is the process-wide set of images.
type ImageRegistry interface {
	List() []image.Image
	Upsert(img image.Image) image.Image
	Remove(name string) error
	Content(name string) ([]byte, error)
	ResolveContentURL(name string) (string, bool)
}

// MarkerDetector proposes a marker location in encoded image content.
type MarkerDetector interface {
	Detect(ctx context.Context, data []byte) (geometry.Point2D, bool, error)
}

// Deps are the collaborators of a session.
type Deps struct {
	GCPs       []gcp.GCP
	Projection *gcp.Projection
	Registry   ImageRegistry
	Store      AssociationStore
	Detector   MarkerDetector // Optional; Detect fails without it
}

// ConfirmFunc asks the user to approve removing an image tagged for other GCPs.
type ConfirmFunc func(row Row) bool

// Session is one "tag images for GCP" activity.
type Session struct {
	mu    sync.Mutex
	id    string
	deps  Deps
	state State
	gcp   gcp.GCP

	rows  []*Row
	index map[string]*Row

	life context.Context // Cancelled when the session closes
	end  context.CancelFunc

	listeners []func()
}

// New creates an uninitialized session.
func New(deps Deps) *Session {
	life, end := context.WithCancel(context.Background())
	return &Session{
		id:    uuid.NewString(),
		deps:  deps,
		index: make(map[string]*Row),
		life:  life,
		end:   end,
	}
}

// Open creates a session and loads it for gcpName.
func Open(deps Deps, gcpName string) (*Session, error) {
	s := New(deps)
	if err := s.Load(gcpName); err != nil {
		s.end()
		return nil, err
	}
	return s, nil
}

// ID identifies the session in logs.
func (s *Session) ID() string {
	return s.id
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// GCP returns the active control point.
func (s *Session) GCP() gcp.GCP {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gcp
}

// OnLayoutChanged registers a listener called whenever the image set changes.
func (s *Session) OnLayoutChanged(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

func (s *Session) emitLayoutChanged() {
	s.mu.Lock()
	listeners := append([]func(){}, s.listeners...)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn()
	}
}

// Load selects the active GCP and builds the working rows from the registry
// and the association store.
func (s *Session) Load(gcpName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateUninitialized {
		return fmt.Errorf("load in state %s: %w", s.state, ErrSessionClosed)
	}
	if len(s.deps.GCPs) == 0 || s.deps.Projection == nil {
		return fmt.Errorf("no gcps or projection configured: %w", gcp.ErrPreconditionFailed)
	}

	active, err := gcp.Find(s.deps.GCPs, gcpName)
	if err != nil {
		return err
	}
	s.gcp = active

	for _, img := range s.deps.Registry.List() {
		row := s.newRow(img.Name)
		for _, a := range s.deps.Store.ListForImage(img.Name) {
			if a.GCPName != active.Name {
				continue
			}
			if a.IsTagged() {
				row.pin(a.Pixel())
			}
		}
		s.addRow(row)
	}

	s.state = StateLoaded
	log.Printf("Tagging: session %s opened for %s with %d images", s.id, active.Name, len(s.rows))
	return nil
}

// newRow builds an untagged row. Caller holds s.mu.
func (s *Session) newRow(imgName string) *Row {
	row := &Row{
		Association: gcp.Association{GCPName: s.gcp.Name, ImageName: imgName},
		OtherGCPs:   s.otherGCPs(imgName),
	}
	row.ContentURL, _ = s.deps.Registry.ResolveContentURL(imgName)
	return row
}

func (s *Session) otherGCPs(imgName string) []string {
	others := []string{}
	for _, a := range s.deps.Store.ListForImage(imgName) {
		if a.GCPName != s.gcp.Name && a.IsTagged() {
			others = append(others, a.GCPName)
		}
	}
	sort.Strings(others)
	return others
}

func (s *Session) addRow(row *Row) {
	s.rows = append(s.rows, row)
	s.index[row.ImageName()] = row
}

// checkEditable reports whether edits are allowed. Caller holds s.mu.
func (s *Session) checkEditable() error {
	switch s.state {
	case StateLoaded, StateEditing:
		return nil
	case StateUninitialized:
		return ErrNotLoaded
	default:
		return ErrSessionClosed
	}
}

func (s *Session) rowLocked(name string) (*Row, error) {
	row, ok := s.index[name]
	if !ok {
		return nil, fmt.Errorf("image %q in session: %w", name, gcp.ErrNotFound)
	}
	return row, nil
}

// Rows returns a copy of the working rows in display order.
func (s *Session) Rows() []Row {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Row, 0, len(s.rows))
	for _, r := range s.rows {
		out = append(out, r.clone())
	}
	return out
}

// Row returns a copy of the row for an image.
func (s *Session) Row(name string) (Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, err := s.rowLocked(name)
	if err != nil {
		return Row{}, err
	}
	return row.clone(), nil
}

// Import registers images and adds them to the working set. An image already
// in the working set keeps its row and tag; only its content is refreshed.
func (s *Session) Import(images ...image.Image) error {
	s.mu.Lock()
	if err := s.checkEditable(); err != nil {
		s.mu.Unlock()
		return err
	}
	for _, img := range images {
		if img.Name == "" {
			s.mu.Unlock()
			return fmt.Errorf("import of unnamed image %q", img.Path)
		}
	}

	for _, img := range images {
		stored := s.deps.Registry.Upsert(img)
		if row, ok := s.index[stored.Name]; ok {
			row.ContentURL, _ = s.deps.Registry.ResolveContentURL(stored.Name)
			continue
		}
		s.addRow(s.newRow(stored.Name))
	}
	s.state = StateEditing
	s.mu.Unlock()

	s.emitLayoutChanged()
	return nil
}

// Remove drops an image from the session, the registry, and the association
// store. When other GCPs are tagged on the image, confirm is consulted first;
// a nil confirm or a negative answer leaves everything untouched and returns
// false.
func (s *Session) Remove(name string, confirm ConfirmFunc) (bool, error) {
	s.mu.Lock()
	if err := s.checkEditable(); err != nil {
		s.mu.Unlock()
		return false, err
	}
	row, err := s.rowLocked(name)
	if err != nil {
		s.mu.Unlock()
		return false, err
	}
	snapshot := row.clone()
	s.mu.Unlock()

	// The prompt may block on the user, so it runs without the lock held.
	if len(snapshot.OtherGCPs) > 0 {
		if confirm == nil || !confirm(snapshot) {
			return false, nil
		}
	}

	s.mu.Lock()
	if err := s.checkEditable(); err != nil {
		s.mu.Unlock()
		return false, err
	}
	if _, err := s.rowLocked(name); err != nil {
		s.mu.Unlock()
		return false, err
	}
	if err := s.deps.Registry.Remove(name); err != nil && !errors.Is(err, gcp.ErrNotFound) {
		s.mu.Unlock()
		return false, err
	}
	removed := s.deps.Store.RemoveImage(name)

	delete(s.index, name)
	for i, r := range s.rows {
		if r.ImageName() == name {
			s.rows = append(s.rows[:i], s.rows[i+1:]...)
			break
		}
	}
	s.state = StateEditing
	s.mu.Unlock()

	log.Printf("Tagging: removed %s and %d associations", name, removed)
	s.emitLayoutChanged()
	return true, nil
}

// Pin places the active GCP at pixel (x, y) in an image.
func (s *Session) Pin(name string, x, y float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkEditable(); err != nil {
		return err
	}
	if x == 0 && y == 0 {
		return ErrSentinelPin
	}
	row, err := s.rowLocked(name)
	if err != nil {
		return err
	}
	row.pin(geometry.NewPoint2D(x, y))
	s.state = StateEditing
	return nil
}

// Commit replaces the stored associations of the active GCP with the tagged
// rows and closes the session. Untagged rows are not persisted.
func (s *Session) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkEditable(); err != nil {
		return err
	}

	list := make([]gcp.Association, 0, len(s.rows))
	for _, r := range s.rows {
		if r.IsTagged {
			list = append(list, r.Association)
		}
	}
	if err := s.deps.Store.ReplaceForGCP(s.gcp.Name, list); err != nil {
		return err
	}

	s.state = StateCommitted
	s.closeLocked()
	log.Printf("Tagging: session %s committed %d tags for %s", s.id, len(list), s.gcp.Name)
	return nil
}

// Abandon discards the working rows without touching the store. It is a no-op
// on a closed session.
func (s *Session) Abandon() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateCommitted || s.state == StateAbandoned {
		return
	}
	s.state = StateAbandoned
	s.closeLocked()
}

// closeLocked discards working rows and invalidates in-flight detections.
func (s *Session) closeLocked() {
	s.rows = nil
	s.index = make(map[string]*Row)
	s.end()
}
