// Package model contains the records shared by the duplicate engine, its
// stores, and the HTTP/worker surfaces.
package model

import (
	"time"
)

// Document is one ingested artifact. ContentHash stays nil until the
// fingerprint worker (or a synchronous upload) attaches it; a nil hash keeps
// the document out of every corpus scan.
type Document struct {
	ID          string  `json:"id"`
	OwnerID     string  `json:"ownerId"`
	ContentHash *string `json:"contentHash,omitempty"`
	Name        string  `json:"name"`
	Size        int64   `json:"size"`
	ContentType string  `json:"contentType,omitempty"`
	// ObjectKey locates the raw bytes in the object store; it is never
	// returned to clients.
	ObjectKey string     `json:"-"`
	CreatedAt time.Time  `json:"createdAt"`
	HashedAt  *time.Time `json:"hashedAt,omitempty"`
}

// Hash returns the content hash or "" when it has not been attached yet.
func (d *Document) Hash() string {
	if d == nil || d.ContentHash == nil {
		return ""
	}
	return *d.ContentHash
}

// Hashed reports whether the fingerprint has been attached.
func (d *Document) Hashed() bool {
	return d != nil && d.ContentHash != nil
}

// StringPtr is a small helper for populating nullable string fields.
func StringPtr(s string) *string {
	return &s
}
