package gcp

import "errors"

// Error taxonomy shared by the store, registry, and tagging layers.
var (
	// ErrNotFound is returned when a referenced GCP, image, or association is absent.
	ErrNotFound = errors.New("not found")

	// ErrPreconditionFailed is returned when tagging is attempted before GCPs
	// and a projection have been configured.
	ErrPreconditionFailed = errors.New("precondition failed")
)
