package app

import (
	"gcp-tagger/internal/tagging"
)

// OpenSession starts tagging for gcpName. Any session still open is abandoned.
func (s *State) OpenSession(gcpName string) (*tagging.Session, error) {
	s.CloseSession()

	s.mu.RLock()
	deps := tagging.Deps{
		GCPs:       append(s.gcps[:0:0], s.gcps...),
		Projection: s.projection,
		Registry:   s.Registry,
		Store:      s.Store,
		Detector:   s.Detector,
	}
	s.mu.RUnlock()

	sess, err := tagging.Open(deps, gcpName)
	if err != nil {
		return nil, err
	}
	sess.OnLayoutChanged(func() {
		s.SetModified(true)
		s.Emit(EventLayoutChanged, sess.ID())
	})

	s.mu.Lock()
	s.session = sess
	s.mu.Unlock()

	s.Emit(EventSessionOpened, gcpName)
	return sess, nil
}

// Session returns the open tagging session, or nil.
func (s *State) Session() *tagging.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session
}

// CommitSession commits the open session, if any.
func (s *State) CommitSession() error {
	s.mu.Lock()
	sess := s.session
	s.mu.Unlock()
	if sess == nil {
		return tagging.ErrSessionClosed
	}

	if err := sess.Commit(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.session == sess {
		s.session = nil
	}
	s.mu.Unlock()

	s.SetModified(true)
	s.Emit(EventAssociationsChanged, sess.GCP().Name)
	s.Emit(EventSessionClosed, sess.State())
	return nil
}

// CloseSession abandons the open session, if any.
func (s *State) CloseSession() {
	s.mu.Lock()
	sess := s.session
	s.session = nil
	s.mu.Unlock()

	if sess == nil {
		return
	}
	sess.Abandon()
	s.Emit(EventSessionClosed, sess.State())
}
