// Package dedupe is the duplicate-detection and suppression engine.
//
// A scan compares a newly hashed document against the owner's corpus:
//
//	ledger := dedupe.NewLedger(store)
//	detector := dedupe.NewDetector(store, ledger, dedupe.DetectorConfig{Events: sink})
//	result := detector.Detect(ctx, ownerID, hash, documentID)
//
// Candidates whose hash forms a suppressed pair with the new hash are dropped
// first. The remaining set is partitioned into exact matches (equal hash) and,
// independently, scored for similarity by comparing hash characters position
// by position. Deleting a duplicate through the Registry records its hash pair
// in the Ledger so the pair never resurfaces for that owner.
//
// Every component receives its stores through its constructor; nothing in
// this package holds global state and nothing is cached between calls.
package dedupe
