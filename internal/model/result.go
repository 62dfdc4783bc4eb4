package model

import "time"

// Match is one corpus document reported by a scan.
type Match struct {
	DocumentID      string    `json:"documentId"`
	ContentHash     string    `json:"contentHash"`
	Name            string    `json:"name"`
	Size            int64     `json:"size"`
	CreatedAt       time.Time `json:"createdAt"`
	MatchPercentage int       `json:"matchPercentage"`
}

// DuplicateResult holds both independent passes of a scan. A document may
// appear in Exact and Similar at the same time.
type DuplicateResult struct {
	Exact   []Match `json:"exact"`
	Similar []Match `json:"similar"`
}

// EmptyResult returns a result with non-nil, empty lists so it encodes as
// {"exact":[],"similar":[]}.
func EmptyResult() DuplicateResult {
	return DuplicateResult{Exact: []Match{}, Similar: []Match{}}
}

// Empty reports whether neither list has entries.
func (r DuplicateResult) Empty() bool {
	return len(r.Exact) == 0 && len(r.Similar) == 0
}
