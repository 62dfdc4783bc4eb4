package model

import "time"

// Event actions emitted by the engine.
const (
	ActionScan          = "duplicate.scan"
	ActionScanFailed    = "duplicate.scan_failed"
	ActionHashUpdated   = "document.hash_updated"
	ActionDeleted       = "duplicate.deleted"
	ActionStatusChanged = "relationship.status_changed"
	ActionIngested      = "document.ingested"
)

// Event is one append-only activity record.
type Event struct {
	ID                string         `json:"id"`
	OwnerID           string         `json:"ownerId"`
	Action            string         `json:"action"`
	SubjectDocumentID string         `json:"subjectDocumentId,omitempty"`
	Payload           map[string]any `json:"payload,omitempty"`
	CreatedAt         time.Time      `json:"createdAt"`
}
