package dedupe

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/dharsanguruparan/dupeguard/internal/model"
)

const (
	DefaultCandidateLimit      = 100
	DefaultSimilarityThreshold = 70
	DefaultSimilarLimit        = 5
)

// DetectorConfig tunes a Detector. Zero values select the defaults.
type DetectorConfig struct {
	CandidateLimit      int
	SimilarityThreshold int
	SimilarLimit        int
	Events              EventSink
	Logger              *slog.Logger
	Now                 func() time.Time
}

// Detector finds exact and similar documents for a freshly hashed upload.
type Detector struct {
	corpus CorpusIndex
	ledger *Ledger
	cfg    DetectorConfig
	logger *slog.Logger
	events Emitter
}

// NewDetector wires a Detector to its corpus and suppression ledger.
func NewDetector(corpus CorpusIndex, ledger *Ledger, cfg DetectorConfig) *Detector {
	if cfg.CandidateLimit <= 0 {
		cfg.CandidateLimit = DefaultCandidateLimit
	}
	if cfg.SimilarityThreshold <= 0 || cfg.SimilarityThreshold > 100 {
		cfg.SimilarityThreshold = DefaultSimilarityThreshold
	}
	if cfg.SimilarLimit <= 0 {
		cfg.SimilarLimit = DefaultSimilarLimit
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{
		corpus: corpus,
		ledger: ledger,
		cfg:    cfg,
		logger: logger,
		events: NewEmitter(cfg.Events, logger, cfg.Now),
	}
}

// Detect runs Scan and never fails: any error is logged, reported to the
// event sink as a failed scan, and turned into an empty result. Duplicate
// detection must not block the ingestion that triggered it, so callers that
// need the error should use Scan.
func (d *Detector) Detect(ctx context.Context, ownerID, newHash, newDocumentID string) model.DuplicateResult {
	result, err := d.Scan(ctx, ownerID, newHash, newDocumentID)
	if err != nil {
		d.logger.Error("duplicate scan failed", "owner_id", ownerID, "document_id", newDocumentID, "error", err)
		d.events.Emit(ctx, ownerID, model.ActionScanFailed, newDocumentID, map[string]any{
			"error": err.Error(),
		})
		return model.EmptyResult()
	}
	return result
}

// Scan compares newHash against the owner's corpus.
//
// Both passes run over the same suppression-filtered candidate set: Exact
// holds every candidate with an identical hash at 100%, Similar holds the top
// SimilarLimit candidates scoring at least SimilarityThreshold, sorted by
// score descending. Ties keep corpus order (newest first, then id), so an
// exact match usually appears in Similar as well.
func (d *Detector) Scan(ctx context.Context, ownerID, newHash, newDocumentID string) (model.DuplicateResult, error) {
	if ownerID == "" {
		return model.EmptyResult(), invalid("owner id is required")
	}
	if newHash == "" {
		return model.EmptyResult(), invalid("content hash is required")
	}
	candidates, err := d.corpus.Candidates(ctx, ownerID, newDocumentID, d.cfg.CandidateLimit)
	if err != nil {
		return model.EmptyResult(), storageErr("list candidates", err)
	}
	suppressed, err := d.ledger.Pairs(ctx, ownerID)
	if err != nil {
		return model.EmptyResult(), err
	}

	filtered := make([]model.Document, 0, len(candidates))
	skipped := 0
	for _, c := range candidates {
		if !c.Hashed() {
			d.logger.Warn("unhashed candidate reached detector", "owner_id", ownerID, "candidate_id", c.ID)
			continue
		}
		if c.ID == newDocumentID {
			continue
		}
		if suppressed.Contains(newHash, c.Hash()) {
			skipped++
			continue
		}
		filtered = append(filtered, c)
	}

	result := model.EmptyResult()
	for _, c := range filtered {
		if c.Hash() == newHash {
			result.Exact = append(result.Exact, toMatch(c, 100))
		}
	}

	scored := make([]model.Match, 0, len(filtered))
	for _, c := range filtered {
		if s := Similarity(newHash, c.Hash()); s >= d.cfg.SimilarityThreshold {
			scored = append(scored, toMatch(c, s))
		}
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].MatchPercentage > scored[j].MatchPercentage
	})
	if len(scored) > d.cfg.SimilarLimit {
		scored = scored[:d.cfg.SimilarLimit]
	}
	result.Similar = scored

	d.events.Emit(ctx, ownerID, model.ActionScan, newDocumentID, map[string]any{
		"content_hash": newHash,
		"candidates":   len(candidates),
		"suppressed":   skipped,
		"exact":        len(result.Exact),
		"similar":      len(result.Similar),
	})
	return result, nil
}

func toMatch(doc model.Document, pct int) model.Match {
	return model.Match{
		DocumentID:      doc.ID,
		ContentHash:     doc.Hash(),
		Name:            doc.Name,
		Size:            doc.Size,
		CreatedAt:       doc.CreatedAt,
		MatchPercentage: pct,
	}
}
