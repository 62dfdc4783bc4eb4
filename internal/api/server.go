// Package api exposes the duplicate engine over HTTP: uploads, scans,
// relationship review and duplicate deletion.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dharsanguruparan/dupeguard/internal/config"
	"github.com/dharsanguruparan/dupeguard/internal/dedupe"
	"github.com/dharsanguruparan/dupeguard/internal/fingerprint"
	"github.com/dharsanguruparan/dupeguard/internal/ingest"
	"github.com/dharsanguruparan/dupeguard/internal/model"
	"github.com/dharsanguruparan/dupeguard/internal/processing"
	"github.com/dharsanguruparan/dupeguard/internal/queue"
)

// OwnerHeader carries the caller's owner id on every request.
const OwnerHeader = "X-Owner-ID"

// ObjectStore is the object storage the API writes uploads to.
// s3storage.Storage and storage.BlobStore implement it.
type ObjectStore interface {
	UploadRaw(ctx context.Context, objectKey string, reader io.Reader, size int64, contentType string) error
	RemoveRaw(ctx context.Context, objectKey string) error
}

// Deps are the collaborators a Server needs.
type Deps struct {
	Config      *config.Config
	Store       dedupe.Store
	Objects     ObjectStore
	Fingerprint fingerprint.Fingerprinter
	Ingest      *ingest.Service
	Detector    *dedupe.Detector
	Registry    *dedupe.Registry
	Ledger      *dedupe.Ledger
	// Dispatcher receives fingerprint work when uploads are not hashed
	// inline. It may be nil when Config.SyncHash is set.
	Dispatcher queue.Dispatcher
}

// Server exposes HTTP endpoints for uploads and duplicate management.
type Server struct {
	Deps
	server *http.Server
	once   sync.Once
}

// New constructs a Server.
func New(deps Deps) *Server {
	return &Server{Deps: deps}
}

// Handler returns the routed handler wrapped in the middleware stack.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/documents", s.handleDocuments)
	mux.HandleFunc("/documents/", s.handleDocumentRoute)
	mux.HandleFunc("/relationships/", s.handleRelationshipRoute)
	mux.HandleFunc("/owners/", s.handleOwnerRoute)
	return corsMiddleware(loggingMiddleware(mux))
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.once.Do(func() {
		s.server = &http.Server{
			Addr:              s.Config.Address,
			Handler:           s.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
	})
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()
	log.Printf("api listening on %s", s.Config.Address)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleDocuments(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleUpload(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleDocumentRoute dispatches /documents/{id}[/duplicates[/{dup}]|/relationships].
func (s *Server) handleDocumentRoute(w http.ResponseWriter, r *http.Request) {
	parts := splitPath(r.URL.Path, "/documents/")
	if len(parts) == 0 {
		http.NotFound(w, r)
		return
	}
	id := parts[0]
	switch {
	case len(parts) == 1:
		s.handleDocument(w, r, id)
	case len(parts) == 2 && parts[1] == "duplicates":
		s.handleDuplicates(w, r, id)
	case len(parts) == 2 && parts[1] == "relationships":
		s.handleRelationships(w, r, id)
	case len(parts) == 3 && parts[1] == "duplicates":
		s.handleDeleteDuplicate(w, r, id, parts[2])
	default:
		http.NotFound(w, r)
	}
}

// handleRelationshipRoute dispatches /relationships/{id}/status.
func (s *Server) handleRelationshipRoute(w http.ResponseWriter, r *http.Request) {
	parts := splitPath(r.URL.Path, "/relationships/")
	if len(parts) != 2 || parts[1] != "status" {
		http.NotFound(w, r)
		return
	}
	s.handleStatus(w, r, parts[0])
}

// handleOwnerRoute dispatches /owners/{owner}/suppressions/count.
func (s *Server) handleOwnerRoute(w http.ResponseWriter, r *http.Request) {
	parts := splitPath(r.URL.Path, "/owners/")
	if len(parts) != 3 || parts[1] != "suppressions" || parts[2] != "count" {
		http.NotFound(w, r)
		return
	}
	s.handleSuppressionCount(w, r, parts[0])
}

func (s *Server) handleDocument(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	doc, ok := s.ownedDocument(w, r, id)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, doc)
}

// handleDuplicates runs a scan for a stored document. An unhashed document
// answers 202 so clients poll again after the fingerprint task ran.
func (s *Server) handleDuplicates(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	doc, ok := s.ownedDocument(w, r, id)
	if !ok {
		return
	}
	if !doc.Hashed() {
		respondJSON(w, http.StatusAccepted, map[string]string{"id": doc.ID, "status": "pending"})
		return
	}
	result := s.Detector.Detect(r.Context(), doc.OwnerID, doc.Hash(), doc.ID)
	respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleRelationships(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if _, ok := s.ownedDocument(w, r, id); !ok {
		return
	}
	rels, err := s.Registry.Relationships(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	if rels == nil {
		rels = []model.Relationship{}
	}
	respondJSON(w, http.StatusOK, rels)
}

type statusRequest struct {
	Status string `json:"status"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request, relationshipID string) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	owner := r.Header.Get(OwnerHeader)
	if owner == "" {
		http.Error(w, "missing "+OwnerHeader, http.StatusUnauthorized)
		return
	}
	var req statusRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 4096)).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	ctx := r.Context()
	rel, err := s.Store.GetRelationship(ctx, relationshipID)
	if err != nil {
		respondError(w, err)
		return
	}
	if _, err := s.ownerDocument(ctx, rel.SourceDocumentID, owner); err != nil {
		respondError(w, err)
		return
	}
	updated, err := s.Registry.TransitionStatus(ctx, relationshipID, model.RelationshipStatus(req.Status), owner)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, updated)
}

// handleDeleteDuplicate deletes dupID as a duplicate of sourceID, then
// removes its stored bytes. Object removal is best effort: the record is
// already gone and a leftover object is harmless.
func (s *Server) handleDeleteDuplicate(w http.ResponseWriter, r *http.Request, sourceID, dupID string) {
	if r.Method != http.MethodDelete {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	owner := r.Header.Get(OwnerHeader)
	if owner == "" {
		http.Error(w, "missing "+OwnerHeader, http.StatusUnauthorized)
		return
	}
	ctx := r.Context()
	out, err := s.Registry.DeleteDuplicate(ctx, sourceID, dupID, owner)
	if err != nil {
		respondError(w, err)
		return
	}
	if key := out.Deleted.ObjectKey; key != "" && s.Objects != nil {
		if err := s.Objects.RemoveRaw(ctx, key); err != nil {
			log.Printf("remove object %s failed: %v", key, err)
		}
	}
	resp := map[string]any{
		"deleted":    out.Deleted.ID,
		"source":     out.Source.ID,
		"suppressed": out.Suppression != nil,
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSuppressionCount(w http.ResponseWriter, r *http.Request, owner string) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if caller := r.Header.Get(OwnerHeader); caller != owner {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	n, err := s.Ledger.Count(r.Context(), owner)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"ownerId": owner, "count": n})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	owner := r.Header.Get(OwnerHeader)
	if owner == "" {
		http.Error(w, "missing "+OwnerHeader, http.StatusUnauthorized)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.Config.MaxFileSize+1024)
	mr, err := r.MultipartReader()
	if err != nil {
		http.Error(w, "expecting multipart form", http.StatusBadRequest)
		return
	}
	part, err := nextFilePart(mr)
	if err != nil {
		http.Error(w, "missing file part", http.StatusBadRequest)
		return
	}
	defer part.Close()
	tmp, err := s.persistTemp(part)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer os.Remove(tmp.path)
	defer tmp.f.Close()

	docID := uuid.NewString()
	objectKey := fmt.Sprintf("uploads/%s/%s/%s", owner, docID, filepath.Base(tmp.filename))
	if err := s.uploadToStorage(ctx, objectKey, tmp); err != nil {
		log.Printf("upload to storage failed: %v", err)
		http.Error(w, "failed to store file", http.StatusInternalServerError)
		return
	}
	in := ingest.NewDocument{
		ID:          docID,
		OwnerID:     owner,
		Name:        tmp.filename,
		Size:        tmp.size,
		ContentType: tmp.contentType,
		ObjectKey:   objectKey,
	}

	if s.Config.SyncHash {
		out, err := s.Ingest.Ingest(ctx, in, tmp.hash)
		if err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusCreated, out)
		return
	}

	doc, err := s.Ingest.Register(ctx, in)
	if err != nil {
		respondError(w, err)
		return
	}
	payload := queue.FingerprintPayload{DocumentID: doc.ID, OwnerID: owner, ObjectKey: objectKey}
	if err := s.Dispatcher.Dispatch(ctx, payload); err != nil {
		log.Printf("dispatch fingerprint for %s failed: %v", doc.ID, err)
		s.discardUpload(ctx, doc.ID, objectKey)
		status := http.StatusInternalServerError
		if errors.Is(err, processing.ErrQueueFull) {
			status = http.StatusServiceUnavailable
		}
		http.Error(w, "failed to queue job", status)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{
		"id":     doc.ID,
		"status": "pending",
	})
}

// discardUpload removes a registered document whose fingerprint job could
// not be queued, so no unhashed record is left behind. Nothing would ever
// hash it, and unhashed documents never take part in a scan.
func (s *Server) discardUpload(ctx context.Context, docID, objectKey string) {
	ctx = context.WithoutCancel(ctx)
	if err := s.Store.DeleteDocument(ctx, docID); err != nil {
		log.Printf("discard document %s failed: %v", docID, err)
	}
	if s.Objects != nil {
		if err := s.Objects.RemoveRaw(ctx, objectKey); err != nil {
			log.Printf("remove object %s failed: %v", objectKey, err)
		}
	}
}

type tempUpload struct {
	f           *os.File
	path        string
	size        int64
	contentType string
	filename    string
	hash        string
}

// persistTemp spools the part to disk, enforcing the size limit and
// sniffing the content type. With SyncHash the fingerprint is computed on
// the same pass.
func (s *Server) persistTemp(part *multipart.Part) (*tempUpload, error) {
	tmpFile, err := os.CreateTemp("", "dupeguard-*")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	fail := func(err error) (*tempUpload, error) {
		tmpFile.Close()
		os.Remove(tmpFile.Name())
		return nil, err
	}
	var dst io.Writer = tmpFile
	var fp *fingerprint.Writer
	if s.Config.SyncHash {
		fp = s.Fingerprint.Writer()
		dst = io.MultiWriter(tmpFile, fp)
	}
	var sniff []byte
	buf := make([]byte, 32*1024)
	var written int64
	for {
		n, readErr := part.Read(buf)
		if n > 0 {
			written += int64(n)
			if written > s.Config.MaxFileSize {
				return fail(fmt.Errorf("file exceeds limit (%d bytes)", s.Config.MaxFileSize))
			}
			if len(sniff) < 512 {
				chunk := n
				if remain := 512 - len(sniff); chunk > remain {
					chunk = remain
				}
				sniff = append(sniff, buf[:chunk]...)
			}
			if _, err := dst.Write(buf[:n]); err != nil {
				return fail(fmt.Errorf("write temp file: %w", err))
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}
			return fail(fmt.Errorf("read file: %w", readErr))
		}
	}
	if written == 0 {
		return fail(errors.New("empty file"))
	}
	contentType := part.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(sniff)
	}
	filename := part.FileName()
	if filename == "" {
		filename = "upload.bin"
	}
	tmp := &tempUpload{
		f:           tmpFile,
		path:        tmpFile.Name(),
		size:        written,
		contentType: contentType,
		filename:    filename,
	}
	if fp != nil {
		tmp.hash = fp.Sum()
	}
	return tmp, nil
}

func (s *Server) uploadToStorage(ctx context.Context, objectKey string, tmp *tempUpload) error {
	if _, err := tmp.f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	return s.Objects.UploadRaw(ctx, objectKey, tmp.f, tmp.size, tmp.contentType)
}

// ownedDocument loads id for the caller named in the owner header, writing
// the error response itself when it returns false.
func (s *Server) ownedDocument(w http.ResponseWriter, r *http.Request, id string) (*model.Document, bool) {
	owner := r.Header.Get(OwnerHeader)
	if owner == "" {
		http.Error(w, "missing "+OwnerHeader, http.StatusUnauthorized)
		return nil, false
	}
	doc, err := s.ownerDocument(r.Context(), id, owner)
	if err != nil {
		respondError(w, err)
		return nil, false
	}
	return doc, true
}

// ownerDocument hides other owners' documents behind ErrNotFound.
func (s *Server) ownerDocument(ctx context.Context, id, owner string) (*model.Document, error) {
	doc, err := s.Store.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc.OwnerID != owner {
		return nil, fmt.Errorf("document %s: %w", id, dedupe.ErrNotFound)
	}
	return doc, nil
}

func nextFilePart(mr *multipart.Reader) (*multipart.Part, error) {
	for {
		part, err := mr.NextPart()
		if err != nil {
			return nil, err
		}
		if part.FormName() == "file" {
			return part, nil
		}
		part.Close()
	}
}

func splitPath(path, prefix string) []string {
	rest := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	if rest == "" {
		return nil
	}
	return strings.Split(rest, "/")
}

// statusFor maps engine errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, dedupe.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, dedupe.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, dedupe.ErrInvalidTransition), errors.Is(err, dedupe.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, dedupe.ErrOwnerBusy):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func respondError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := http.StatusText(status)
	if status == http.StatusInternalServerError {
		log.Printf("request failed: %v", err)
	} else {
		msg = err.Error()
	}
	respondJSON(w, status, map[string]string{"error": msg})
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode response: %v", err)
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,DELETE,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization,"+OwnerHeader)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s (%s)", r.Method, r.URL.Path, time.Since(start))
	})
}
