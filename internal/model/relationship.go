package model

import "time"

// RelationshipStatus tracks the review lifecycle of a detected duplicate.
type RelationshipStatus string

const (
	// Initial states, set by detection.
	StatusExact   RelationshipStatus = "exact"
	StatusSimilar RelationshipStatus = "similar"
	// Terminal states, set by a reviewer.
	StatusReviewed  RelationshipStatus = "reviewed"
	StatusDismissed RelationshipStatus = "dismissed"
)

// Valid reports whether s is one of the known statuses.
func (s RelationshipStatus) Valid() bool {
	switch s {
	case StatusExact, StatusSimilar, StatusReviewed, StatusDismissed:
		return true
	}
	return false
}

// Initial reports whether s is a detection-time status.
func (s RelationshipStatus) Initial() bool {
	return s == StatusExact || s == StatusSimilar
}

// Terminal reports whether s is a reviewer-assigned status.
func (s RelationshipStatus) Terminal() bool {
	return s == StatusReviewed || s == StatusDismissed
}

// Relationship links two specific documents found to be duplicates.
type Relationship struct {
	ID                   string             `json:"id"`
	SourceDocumentID     string             `json:"sourceDocumentId"`
	DuplicateDocumentID  string             `json:"duplicateDocumentId"`
	SimilarityPercentage int                `json:"similarityPercentage"`
	Status               RelationshipStatus `json:"status"`
	ReviewedBy           *string            `json:"reviewedBy,omitempty"`
	ReviewedAt           *time.Time         `json:"reviewedAt,omitempty"`
	CreatedAt            time.Time          `json:"createdAt"`
}
