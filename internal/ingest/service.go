// Package ingest connects uploads to the duplicate engine: it registers
// documents, attaches content hashes, runs detection, and records the
// relationships a scan finds.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dharsanguruparan/dupeguard/internal/dedupe"
	"github.com/dharsanguruparan/dupeguard/internal/fingerprint"
	"github.com/dharsanguruparan/dupeguard/internal/model"
)

// ObjectReader opens raw uploaded bytes. s3storage.Storage and
// storage.BlobStore implement it.
type ObjectReader interface {
	OpenRaw(ctx context.Context, objectKey string) (io.ReadCloser, error)
}

// Config wires a Service.
type Config struct {
	Store       dedupe.Store
	Objects     ObjectReader
	Fingerprint fingerprint.Fingerprinter
	Detector    *dedupe.Detector
	Registry    *dedupe.Registry
	// Lock, when set, serializes fingerprint and detection per owner.
	Lock    dedupe.OwnerLock
	LockTTL time.Duration
	Events  dedupe.EventSink
	Logger  *slog.Logger
}

// Service runs the ingestion side of duplicate detection.
type Service struct {
	store    dedupe.Store
	objects  ObjectReader
	fp       fingerprint.Fingerprinter
	detector *dedupe.Detector
	registry *dedupe.Registry
	lock     dedupe.OwnerLock
	lockTTL  time.Duration
	events   dedupe.Emitter
	logger   *slog.Logger
	now      func() time.Time
}

// NewService constructs a Service.
func NewService(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ttl := cfg.LockTTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	now := func() time.Time { return time.Now().UTC() }
	return &Service{
		store:    cfg.Store,
		objects:  cfg.Objects,
		fp:       cfg.Fingerprint,
		detector: cfg.Detector,
		registry: cfg.Registry,
		lock:     cfg.Lock,
		lockTTL:  ttl,
		events:   dedupe.NewEmitter(cfg.Events, logger, now),
		logger:   logger,
		now:      now,
	}
}

// NewDocument describes an upload being registered.
type NewDocument struct {
	ID          string
	OwnerID     string
	Name        string
	Size        int64
	ContentType string
	ObjectKey   string
}

// Outcome is the result of hashing and scanning one document.
type Outcome struct {
	Document      *model.Document       `json:"document"`
	Result        model.DuplicateResult `json:"duplicates"`
	Relationships []model.Relationship  `json:"relationships"`
}

// Register creates a document without a hash. It stays invisible to scans
// until Fingerprint attaches the hash.
func (s *Service) Register(ctx context.Context, in NewDocument) (*model.Document, error) {
	doc, err := s.newDocument(in)
	if err != nil {
		return nil, err
	}
	if err := s.store.CreateDocument(ctx, doc); err != nil {
		return nil, fmt.Errorf("create document: %w", err)
	}
	s.events.Emit(ctx, doc.OwnerID, model.ActionIngested, doc.ID, map[string]any{
		"name": doc.Name,
		"size": doc.Size,
	})
	return doc, nil
}

// Ingest creates a document whose hash was computed while the upload
// streamed, then scans it. There is no window in which the document exists
// without its hash.
func (s *Service) Ingest(ctx context.Context, in NewDocument, hash string) (*Outcome, error) {
	if hash == "" {
		return nil, fmt.Errorf("%w: content hash is required", dedupe.ErrInvalidInput)
	}
	if in.Size == 0 {
		return nil, fmt.Errorf("%w: empty content", dedupe.ErrInvalidInput)
	}
	doc, err := s.newDocument(in)
	if err != nil {
		return nil, err
	}
	at := s.now()
	doc.ContentHash = model.StringPtr(hash)
	doc.HashedAt = &at

	var out *Outcome
	err = s.withOwnerLock(ctx, doc.OwnerID, func() error {
		if err := s.store.CreateDocument(ctx, doc); err != nil {
			return fmt.Errorf("create document: %w", err)
		}
		s.events.Emit(ctx, doc.OwnerID, model.ActionIngested, doc.ID, map[string]any{
			"name": doc.Name,
			"size": doc.Size,
		})
		s.emitHashUpdated(ctx, doc)
		out = s.analyze(ctx, doc)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Fingerprint hashes the stored bytes of documentID, attaches the hash, and
// scans the document. Running it again for a hashed document skips straight
// to the scan, so retried tasks are harmless.
func (s *Service) Fingerprint(ctx context.Context, documentID string) (*Outcome, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	var out *Outcome
	err = s.withOwnerLock(ctx, doc.OwnerID, func() error {
		// Another task may have hashed it while we waited for the lock.
		doc, err = s.store.GetDocument(ctx, documentID)
		if err != nil {
			return fmt.Errorf("get document: %w", err)
		}
		if !doc.Hashed() {
			hash, err := s.hashObject(ctx, doc)
			if err != nil {
				return err
			}
			at := s.now()
			if err := s.store.AttachHash(ctx, doc.ID, hash, at); err != nil {
				return fmt.Errorf("attach hash: %w", err)
			}
			doc.ContentHash = model.StringPtr(hash)
			doc.HashedAt = &at
			s.emitHashUpdated(ctx, doc)
		}
		out = s.analyze(ctx, doc)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) hashObject(ctx context.Context, doc *model.Document) (string, error) {
	if s.objects == nil {
		return "", fmt.Errorf("no object store configured for %s", doc.ID)
	}
	rc, err := s.objects.OpenRaw(ctx, doc.ObjectKey)
	if err != nil {
		return "", fmt.Errorf("open object: %w", err)
	}
	defer rc.Close()
	hash, n, err := s.fp.SumReader(rc)
	if err != nil {
		return "", err
	}
	if n == 0 {
		return "", fmt.Errorf("%w: document %s has empty content", dedupe.ErrInvalidInput, doc.ID)
	}
	return hash, nil
}

// analyze runs detection and records every match as a relationship with the
// matched corpus document as the source. Pairs already recorded, including
// dismissed ones, are left alone.
func (s *Service) analyze(ctx context.Context, doc *model.Document) *Outcome {
	result := s.detector.Detect(ctx, doc.OwnerID, doc.Hash(), doc.ID)
	out := &Outcome{Document: doc, Result: result}
	if s.registry == nil {
		return out
	}
	exact := make(map[string]bool, len(result.Exact))
	record := func(m model.Match, status model.RelationshipStatus) {
		rel, err := s.registry.RecordRelationship(ctx, m.DocumentID, doc.ID, m.MatchPercentage, status)
		switch {
		case err == nil:
			out.Relationships = append(out.Relationships, *rel)
		case errors.Is(err, dedupe.ErrAlreadyExists):
		default:
			s.logger.Warn("record relationship failed", "source_id", m.DocumentID, "duplicate_id", doc.ID, "error", err)
		}
	}
	for _, m := range result.Exact {
		exact[m.DocumentID] = true
		record(m, model.StatusExact)
	}
	for _, m := range result.Similar {
		if exact[m.DocumentID] {
			continue
		}
		record(m, model.StatusSimilar)
	}
	return out
}

func (s *Service) emitHashUpdated(ctx context.Context, doc *model.Document) {
	s.events.Emit(ctx, doc.OwnerID, model.ActionHashUpdated, doc.ID, map[string]any{
		"content_hash": doc.Hash(),
		"mode":         string(s.fp.Mode()),
	})
}

func (s *Service) withOwnerLock(ctx context.Context, ownerID string, fn func() error) error {
	if s.lock == nil {
		return fn()
	}
	name := "owner:" + ownerID
	ok, err := s.lock.Acquire(ctx, name, s.lockTTL)
	if err != nil {
		return fmt.Errorf("acquire owner lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", dedupe.ErrOwnerBusy, ownerID)
	}
	defer func() {
		if err := s.lock.Release(context.WithoutCancel(ctx), name); err != nil {
			s.logger.Warn("release owner lock failed", "owner_id", ownerID, "error", err)
		}
	}()
	return fn()
}

func (s *Service) newDocument(in NewDocument) (*model.Document, error) {
	if in.OwnerID == "" {
		return nil, fmt.Errorf("%w: owner id is required", dedupe.ErrInvalidInput)
	}
	id := in.ID
	if id == "" {
		id = uuid.NewString()
	}
	name := in.Name
	if name == "" {
		name = "upload-" + id
	}
	return &model.Document{
		ID:          id,
		OwnerID:     in.OwnerID,
		Name:        name,
		Size:        in.Size,
		ContentType: in.ContentType,
		ObjectKey:   in.ObjectKey,
		CreatedAt:   s.now(),
	}, nil
}
