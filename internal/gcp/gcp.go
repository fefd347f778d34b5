// Package gcp defines ground control points, map projections, and the
// image associations that tie a control point to a pixel location.
package gcp

import (
	"fmt"
	"sort"

	"gcp-tagger/pkg/geometry"
)

// GCP is a ground control point with known world coordinates.
type GCP struct {
	Name      string  `json:"name"`
	Easting   float64 `json:"easting"`
	Northing  float64 `json:"northing"`
	Elevation float64 `json:"elevation"`
}

// Projection is the coordinate reference system the GCP coordinates are expressed in.
// Definition is kept verbatim: a proj4 string, "EPSG:nnnn", or "WGS84 UTM 32N".
type Projection struct {
	Definition string `json:"definition"`
}

// Association records that a GCP is located at pixel (ImX, ImY) in an image.
type Association struct {
	GCPName   string  `json:"gcpName"`
	ImageName string  `json:"imgName"`
	ImX       float64 `json:"imX"`
	ImY       float64 `json:"imY"`
}

// IsTagged reports whether the association carries a pixel location.
// (0,0) is the untagged sentinel, so a real tag at the origin cannot be stored.
func (a Association) IsTagged() bool {
	return !(a.ImX == 0 && a.ImY == 0)
}

// Pixel returns the tagged pixel location.
func (a Association) Pixel() geometry.Point2D {
	return geometry.Point2D{X: a.ImX, Y: a.ImY}
}

// Key identifies the (gcp, image) pair an association belongs to.
type Key struct {
	GCPName   string
	ImageName string
}

// Key returns the association's identity.
func (a Association) Key() Key {
	return Key{GCPName: a.GCPName, ImageName: a.ImageName}
}

// Find returns the GCP with the given name.
func Find(gcps []GCP, name string) (GCP, error) {
	for _, g := range gcps {
		if g.Name == name {
			return g, nil
		}
	}
	return GCP{}, fmt.Errorf("gcp %q: %w", name, ErrNotFound)
}

// SortAssociations orders associations by GCP name, then image name.
func SortAssociations(list []Association) {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].GCPName != list[j].GCPName {
			return list[i].GCPName < list[j].GCPName
		}
		return list[i].ImageName < list[j].ImageName
	})
}
