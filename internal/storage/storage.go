// Package storage defines the persisted form of a tagging project and the
// backends that load and save it.
package storage

import (
	"context"
	"log"

	"gcp-tagger/internal/gcp"
	"gcp-tagger/internal/image"
)

// Snapshot is the complete persisted state of a project.
type Snapshot struct {
	GCPs         []gcp.GCP         `json:"gcps"`
	Projection   *gcp.Projection   `json:"projection,omitempty"`
	Images       []image.Image     `json:"images"`
	Associations []gcp.Association `json:"associations"`
}

// Backend loads and saves project snapshots.
type Backend interface {
	Load(ctx context.Context) (*Snapshot, error)
	Save(ctx context.Context, snap *Snapshot) error
}

// Validate enforces the referential invariants of a snapshot in place:
// duplicate GCPs and images collapse to their last occurrence, associations
// referencing unknown GCPs or images are dropped, and duplicate
// (gcp, image) pairs keep their last occurrence. It returns the number of
// associations dropped.
func Validate(snap *Snapshot) int {
	snap.GCPs = dedupe(snap.GCPs, func(g gcp.GCP) string { return g.Name })
	snap.Images = dedupe(snap.Images, func(img image.Image) string { return img.Name })

	gcps := make(map[string]bool, len(snap.GCPs))
	for _, g := range snap.GCPs {
		gcps[g.Name] = true
	}
	images := make(map[string]bool, len(snap.Images))
	for _, img := range snap.Images {
		images[img.Name] = true
	}

	before := len(snap.Associations)
	valid := make([]gcp.Association, 0, before)
	for _, a := range snap.Associations {
		if !gcps[a.GCPName] || !images[a.ImageName] {
			log.Printf("Storage: dropping dangling association %s/%s", a.GCPName, a.ImageName)
			continue
		}
		valid = append(valid, a)
	}
	snap.Associations = dedupe(valid, func(a gcp.Association) gcp.Key { return a.Key() })
	return before - len(snap.Associations)
}

// dedupe keeps the last element for every key, in first-seen order.
func dedupe[T any, K comparable](list []T, key func(T) K) []T {
	pos := make(map[K]int, len(list))
	out := make([]T, 0, len(list))
	for _, item := range list {
		k := key(item)
		if i, ok := pos[k]; ok {
			out[i] = item
			continue
		}
		pos[k] = len(out)
		out = append(out, item)
	}
	return out
}
