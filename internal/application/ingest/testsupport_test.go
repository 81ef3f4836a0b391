package ingest

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/turtacn/MedRecord-Ingest/internal/domain/document"
	"github.com/turtacn/MedRecord-Ingest/internal/domain/identity"
	"github.com/turtacn/MedRecord-Ingest/internal/domain/registry"
	"github.com/turtacn/MedRecord-Ingest/internal/domain/session"
	"github.com/turtacn/MedRecord-Ingest/pkg/errors"
	"github.com/turtacn/MedRecord-Ingest/pkg/types/common"
)

// memSessionRepo is an in-memory session.Repository with the same atomicity
// guarantees the PostgreSQL implementation provides.
type memSessionRepo struct {
	mu       sync.Mutex
	sessions map[common.SessionID]*session.BatchSession
	files    map[common.SessionID]map[common.ID]*session.BatchFileRecord
}

func newMemSessionRepo() *memSessionRepo {
	return &memSessionRepo{
		sessions: make(map[common.SessionID]*session.BatchSession),
		files:    make(map[common.SessionID]map[common.ID]*session.BatchFileRecord),
	}
}

func (r *memSessionRepo) CreateSession(_ context.Context, s *session.BatchSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *s
	r.sessions[s.ID] = &cp
	r.files[s.ID] = make(map[common.ID]*session.BatchFileRecord)
	return nil
}

func (r *memSessionRepo) GetSession(_ context.Context, id common.SessionID) (*session.BatchSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, errors.Newf(errors.ErrCodeSessionNotFound, "session %s not found", id)
	}
	cp := *s
	return &cp, nil
}

func (r *memSessionRepo) UpdateSession(_ context.Context, s *session.BatchSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.sessions[s.ID]
	if !ok {
		return errors.Newf(errors.ErrCodeSessionNotFound, "session %s not found", s.ID)
	}
	// Counters are owned by IncrementCounters; everything else follows the
	// caller's copy.
	processed, failed := stored.ProcessedFiles, stored.FailedFiles
	cp := *s
	cp.ProcessedFiles, cp.FailedFiles = processed, failed
	r.sessions[s.ID] = &cp
	return nil
}

func (r *memSessionRepo) IncrementCounters(_ context.Context, id common.SessionID, processedDelta, failedDelta int) (int, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return 0, 0, errors.Newf(errors.ErrCodeSessionNotFound, "session %s not found", id)
	}
	s.ProcessedFiles += processedDelta
	s.FailedFiles += failedDelta
	return s.ProcessedFiles, s.FailedFiles, nil
}

func (r *memSessionRepo) AddFiles(_ context.Context, files []*session.BatchFileRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, f := range files {
		byID, ok := r.files[f.SessionID]
		if !ok {
			return errors.Newf(errors.ErrCodeSessionNotFound, "session %s not found", f.SessionID)
		}
		cp := *f
		byID[f.ID] = &cp
	}
	return nil
}

func (r *memSessionRepo) ClaimFile(_ context.Context, sessionID common.SessionID, fileID common.ID, from session.FileStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.files[sessionID][fileID]
	if !ok {
		return false, errors.Newf(errors.ErrCodeSessionFileNotFound, "file %s not found", fileID)
	}
	if f.ProcessingStatus != from {
		return false, nil
	}
	f.ProcessingStatus = session.FileProcessing
	return true, nil
}

func (r *memSessionRepo) GetFile(_ context.Context, sessionID common.SessionID, fileID common.ID) (*session.BatchFileRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.files[sessionID][fileID]
	if !ok {
		return nil, errors.Newf(errors.ErrCodeSessionFileNotFound, "file %s not found", fileID)
	}
	cp := *f
	return &cp, nil
}

func (r *memSessionRepo) ListFiles(_ context.Context, sessionID common.SessionID) ([]*session.BatchFileRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*session.BatchFileRecord
	for _, f := range r.files[sessionID] {
		cp := *f
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OriginalFilename < out[j].OriginalFilename })
	return out, nil
}

func (r *memSessionRepo) ListReviewPending(_ context.Context, sessionID common.SessionID) ([]*session.BatchFileRecord, error) {
	all, _ := r.ListFiles(nil, sessionID)
	var out []*session.BatchFileRecord
	for _, f := range all {
		if f.ReviewRequired {
			out = append(out, f)
		}
	}
	return out, nil
}

func (r *memSessionRepo) UpdateFile(_ context.Context, f *session.BatchFileRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.files[f.SessionID][f.ID]; !ok {
		return errors.Newf(errors.ErrCodeSessionFileNotFound, "file %s not found", f.ID)
	}
	cp := *f
	r.files[f.SessionID][f.ID] = &cp
	return nil
}

func (r *memSessionRepo) DeleteSession(_ context.Context, id common.SessionID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; !ok {
		return errors.Newf(errors.ErrCodeSessionNotFound, "session %s not found", id)
	}
	delete(r.sessions, id)
	delete(r.files, id)
	return nil
}

// memRegistry is an in-memory registry.ReadWriter.
type memRegistry struct {
	mu          sync.Mutex
	patients    []*registry.Patient
	createCalls int
	creates     int
	fail        error
}

func (r *memRegistry) FindByRecordNumber(_ context.Context, recordNumber string) (*registry.Patient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return nil, r.fail
	}
	for _, p := range r.patients {
		if p.RecordNumber == recordNumber {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *memRegistry) FindCandidates(_ context.Context, _ string) ([]*registry.Patient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return nil, r.fail
	}
	out := make([]*registry.Patient, 0, len(r.patients))
	for _, p := range r.patients {
		cp := *p
		out = append(out, &cp)
	}
	return out, nil
}

func (r *memRegistry) CreateFromIdentity(_ context.Context, id *identity.PatientIdentity) (common.PatientID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.createCalls++
	if r.fail != nil {
		return "", r.fail
	}
	for _, p := range r.patients {
		if p.RecordNumber == id.ExternalRecordID {
			return p.ID, nil
		}
	}
	r.creates++
	p := &registry.Patient{
		ID:             common.PatientID(common.NewID()),
		RecordNumber:   id.ExternalRecordID,
		FullName:       id.FullName,
		NormalizedName: identity.NormalizeName(id.FullName),
	}
	r.patients = append(r.patients, p)
	return p.ID, nil
}

// memBlobStore is an in-memory BlobStore counting writes.
type memBlobStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    int
}

func newMemBlobStore() *memBlobStore {
	return &memBlobStore{objects: make(map[string][]byte)}
}

func (b *memBlobStore) Put(_ context.Context, path string, data []byte, _ string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[path] = append([]byte(nil), data...)
	b.puts++
	return nil
}

func (b *memBlobStore) Get(_ context.Context, path string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[path]
	if !ok {
		return nil, errors.Newf(errors.ErrCodeProcStorage, "blob %s not found", path)
	}
	return append([]byte(nil), data...), nil
}

func (b *memBlobStore) RemovePrefix(_ context.Context, prefix string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for path := range b.objects {
		if strings.HasPrefix(path, prefix) {
			delete(b.objects, path)
		}
	}
	return nil
}

// memDocRepo is an in-memory document.Repository.
type memDocRepo struct {
	mu   sync.Mutex
	docs map[common.DocumentID]*document.Document
}

func newMemDocRepo() *memDocRepo {
	return &memDocRepo{docs: make(map[common.DocumentID]*document.Document)}
}

func (r *memDocRepo) Create(_ context.Context, d *document.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.docs {
		if existing.PatientID == d.PatientID && existing.ContentHash == d.ContentHash {
			return errors.New(errors.ErrCodeConflict, "duplicate content hash for patient")
		}
	}
	cp := *d
	r.docs[d.ID] = &cp
	return nil
}

func (r *memDocRepo) Update(_ context.Context, d *document.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.docs[d.ID]; !ok {
		return errors.Newf(errors.ErrCodeNotFound, "document %s not found", d.ID)
	}
	cp := *d
	r.docs[d.ID] = &cp
	return nil
}

func (r *memDocRepo) Get(_ context.Context, id common.DocumentID) (*document.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.docs[id]
	if !ok {
		return nil, errors.Newf(errors.ErrCodeNotFound, "document %s not found", id)
	}
	cp := *d
	return &cp, nil
}

func (r *memDocRepo) FindByContentHash(_ context.Context, patientID common.PatientID, hash string) (*document.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.docs {
		if d.PatientID == patientID && d.ContentHash == hash {
			cp := *d
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *memDocRepo) ListByPatient(_ context.Context, patientID common.PatientID, _ common.Pagination) ([]*document.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*document.Document
	for _, d := range r.docs {
		if d.PatientID == patientID {
			cp := *d
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memDocRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.docs)
}

// memCreationCache is an in-memory CreationCache.
type memCreationCache struct {
	mu       sync.Mutex
	bindings map[string]common.PatientID
}

func newMemCreationCache() *memCreationCache {
	return &memCreationCache{bindings: make(map[string]common.PatientID)}
}

func (c *memCreationCache) LookupPatient(_ context.Context, sessionID common.SessionID, externalRecordID string) (common.PatientID, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.bindings[string(sessionID)+":"+externalRecordID]
	return id, ok, nil
}

func (c *memCreationCache) RememberPatient(_ context.Context, sessionID common.SessionID, externalRecordID string, patientID common.PatientID) (common.PatientID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := string(sessionID) + ":" + externalRecordID
	if existing, ok := c.bindings[key]; ok {
		return existing, nil
	}
	c.bindings[key] = patientID
	return patientID, nil
}

func (c *memCreationCache) PurgeSession(_ context.Context, sessionID common.SessionID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	prefix := string(sessionID) + ":"
	for key := range c.bindings {
		if strings.HasPrefix(key, prefix) {
			delete(c.bindings, key)
		}
	}
	return nil
}

// capturePublisher records published events.
type capturePublisher struct {
	mu     sync.Mutex
	events []common.EventMessage
}

func (p *capturePublisher) Publish(_ context.Context, event common.EventMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *capturePublisher) countKind(kind string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

func (p *capturePublisher) kinds() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Kind)
	}
	return out
}

// fakeExtractor returns canned text, optionally failing the first N calls
// for a given filename.
type fakeExtractor struct {
	mu       sync.Mutex
	text     string
	failures map[string]int
	calls    int
}

func (e *fakeExtractor) ExtractText(_ context.Context, _ []byte, filename string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if n, ok := e.failures[filename]; ok && n > 0 {
		e.failures[filename] = n - 1
		return "", errors.New(errors.ErrCodeProcExtraction, "extraction service unreachable")
	}
	if e.text == "" {
		return "texto extraido de " + filename, nil
	}
	return e.text, nil
}

// fakeIndexer counts indexed documents, optionally failing.
type fakeIndexer struct {
	mu      sync.Mutex
	chunks  int
	fail    error
	indexed []common.DocumentID
}

func (ix *fakeIndexer) IndexContent(_ context.Context, docID common.DocumentID, _ string, _ common.Metadata) (int, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.fail != nil {
		return 0, ix.fail
	}
	ix.indexed = append(ix.indexed, docID)
	if ix.chunks == 0 {
		return 3, nil
	}
	return ix.chunks, nil
}

func (ix *fakeIndexer) DeleteByDocument(_ context.Context, _ common.DocumentID) error {
	return nil
}

func (ix *fakeIndexer) indexedCount() int {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return len(ix.indexed)
}
