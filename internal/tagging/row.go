package tagging

import (
	"strings"

	"gcp-tagger/internal/gcp"
	"gcp-tagger/pkg/geometry"
)

// Row is the working state of one image in a tagging session.
type Row struct {
	Association gcp.Association   // Tag for the active GCP; ImX/ImY are zero while untagged
	IsTagged    bool              // True once a pin has been placed
	Pin         *geometry.Point2D // Pin location, nil while untagged
	ContentURL  string            // Displayable reference, empty if the content is missing
	OtherGCPs   []string          // Other GCPs already tagged on this image
}

// ImageName returns the name of the image the row refers to.
func (r Row) ImageName() string {
	return r.Association.ImageName
}

// RowStatus summarizes a row for display.
type RowStatus int

const (
	StatusUntagged        RowStatus = iota
	StatusTagged                    // Pinned for the active GCP
	StatusTaggedElsewhere           // Not pinned here, but tagged for other GCPs
	StatusMissingContent            // No displayable content
)

func (s RowStatus) String() string {
	switch s {
	case StatusTagged:
		return "tagged"
	case StatusTaggedElsewhere:
		return "tagged elsewhere"
	case StatusMissingContent:
		return "missing content"
	default:
		return "untagged"
	}
}

// Status classifies the row.
func (r Row) Status() RowStatus {
	switch {
	case r.ContentURL == "":
		return StatusMissingContent
	case r.IsTagged:
		return StatusTagged
	case len(r.OtherGCPs) > 0:
		return StatusTaggedElsewhere
	default:
		return StatusUntagged
	}
}

// Label is the image name followed by the other GCPs tagged on it.
func (r Row) Label() string {
	if len(r.OtherGCPs) == 0 {
		return r.ImageName()
	}
	return r.ImageName() + " (" + strings.Join(r.OtherGCPs, ", ") + ")"
}

func (r *Row) pin(p geometry.Point2D) {
	r.IsTagged = true
	r.Association.ImX = p.X
	r.Association.ImY = p.Y
	pt := p
	r.Pin = &pt
}

func (r *Row) clone() Row {
	cp := *r
	if r.Pin != nil {
		pt := *r.Pin
		cp.Pin = &pt
	}
	cp.OtherGCPs = append([]string(nil), r.OtherGCPs...)
	return cp
}
