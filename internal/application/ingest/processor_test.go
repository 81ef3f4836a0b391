package ingest

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/MedRecord-Ingest/internal/domain/identity"
	"github.com/turtacn/MedRecord-Ingest/internal/domain/session"
	"github.com/turtacn/MedRecord-Ingest/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/MedRecord-Ingest/pkg/errors"
)

func newTestProcessor(ext *fakeExtractor, ix *fakeIndexer, blobs *memBlobStore, docs *memDocRepo) *Processor {
	return NewProcessor(ext, ix, blobs, docs, logging.NewNop())
}

func baseRequest(mode session.ProcessingMode) ProcessRequest {
	return ProcessRequest{
		PatientID:    "patient-1",
		Filename:     "3000003799_GARZA TIJERINA, MARIA ESTHER_CONS.pdf",
		Data:         []byte("%PDF-1.4 consulta"),
		Mode:         mode,
		DocumentType: identity.DocumentType("CONSULTATION"),
	}
}

func TestProcessBothStoresAndIndexes(t *testing.T) {
	ext := &fakeExtractor{text: "paciente presenta cuadro estable"}
	ix := &fakeIndexer{chunks: 4}
	blobs := newMemBlobStore()
	docs := newMemDocRepo()
	p := newTestProcessor(ext, ix, blobs, docs)

	result, err := p.Process(context.Background(), baseRequest(session.ModeBoth))
	require.NoError(t, err)
	assert.True(t, result.ContentStored)
	assert.True(t, result.Indexed)
	assert.Equal(t, 4, result.ChunkCount)
	assert.False(t, result.Duplicate)
	assert.NotEmpty(t, result.ContentHash)

	stored, err := blobs.Get(context.Background(), fmt.Sprintf("documents/%s/content.txt", result.DocumentID))
	require.NoError(t, err)
	assert.Equal(t, "paciente presenta cuadro estable", string(stored))

	doc, err := docs.Get(context.Background(), result.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, result.ContentHash, doc.ContentHash)
	assert.True(t, doc.ContentStored)
	assert.True(t, doc.Indexed)
}

func TestProcessIndexOnlySkipsStorage(t *testing.T) {
	ext := &fakeExtractor{}
	ix := &fakeIndexer{}
	blobs := newMemBlobStore()
	docs := newMemDocRepo()
	p := newTestProcessor(ext, ix, blobs, docs)

	result, err := p.Process(context.Background(), baseRequest(session.ModeIndexOnly))
	require.NoError(t, err)
	assert.True(t, result.Indexed)
	assert.False(t, result.ContentStored)
	assert.Zero(t, blobs.puts)
}

func TestProcessStoreOnlySkipsIndexing(t *testing.T) {
	ext := &fakeExtractor{}
	ix := &fakeIndexer{}
	blobs := newMemBlobStore()
	docs := newMemDocRepo()
	p := newTestProcessor(ext, ix, blobs, docs)

	result, err := p.Process(context.Background(), baseRequest(session.ModeStoreOnly))
	require.NoError(t, err)
	assert.True(t, result.ContentStored)
	assert.False(t, result.Indexed)
	assert.Zero(t, ix.indexedCount())
}

func TestProcessSameContentTwiceIsIdempotent(t *testing.T) {
	ext := &fakeExtractor{}
	ix := &fakeIndexer{}
	blobs := newMemBlobStore()
	docs := newMemDocRepo()
	p := newTestProcessor(ext, ix, blobs, docs)

	first, err := p.Process(context.Background(), baseRequest(session.ModeBoth))
	require.NoError(t, err)

	second, err := p.Process(context.Background(), baseRequest(session.ModeBoth))
	require.NoError(t, err)

	assert.True(t, second.Duplicate)
	assert.Equal(t, first.DocumentID, second.DocumentID)
	assert.Equal(t, first.ContentHash, second.ContentHash)
	assert.Equal(t, 1, docs.count(), "no second document row")
	assert.Equal(t, 1, ix.indexedCount(), "content never double-indexed")
	assert.Equal(t, 1, blobs.puts, "content never re-stored")
}

func TestProcessSameContentDifferentPatientIsNotDuplicate(t *testing.T) {
	ext := &fakeExtractor{}
	ix := &fakeIndexer{}
	blobs := newMemBlobStore()
	docs := newMemDocRepo()
	p := newTestProcessor(ext, ix, blobs, docs)

	_, err := p.Process(context.Background(), baseRequest(session.ModeBoth))
	require.NoError(t, err)

	other := baseRequest(session.ModeBoth)
	other.PatientID = "patient-2"
	result, err := p.Process(context.Background(), other)
	require.NoError(t, err)
	assert.False(t, result.Duplicate)
	assert.Equal(t, 2, docs.count())
}

func TestProcessIndexFailureKeepsStoredContent(t *testing.T) {
	ext := &fakeExtractor{}
	ix := &fakeIndexer{fail: errors.New(errors.ErrCodeProcIndexing, "collection unavailable")}
	blobs := newMemBlobStore()
	docs := newMemDocRepo()
	p := newTestProcessor(ext, ix, blobs, docs)

	result, err := p.Process(context.Background(), baseRequest(session.ModeBoth))
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeProcIndexing))
	require.NotNil(t, result)
	assert.True(t, result.ContentStored)
	assert.False(t, result.Indexed)

	// Partial progress is on the row, not rolled back.
	doc, derr := docs.Get(context.Background(), result.DocumentID)
	require.NoError(t, derr)
	assert.True(t, doc.ContentStored)
	assert.False(t, doc.Indexed)

	// A later attempt completes only the missing sub-step.
	ix.fail = nil
	retry, err := p.Process(context.Background(), baseRequest(session.ModeBoth))
	require.NoError(t, err)
	assert.Equal(t, result.DocumentID, retry.DocumentID)
	assert.True(t, retry.Indexed)
	assert.Equal(t, 1, blobs.puts, "storage sub-step not repeated")
	assert.Equal(t, 1, ix.indexedCount())
}

func TestProcessExtractionFailure(t *testing.T) {
	ext := &fakeExtractor{failures: map[string]int{"3000003799_GARZA TIJERINA, MARIA ESTHER_CONS.pdf": 1}}
	ix := &fakeIndexer{}
	blobs := newMemBlobStore()
	docs := newMemDocRepo()
	p := newTestProcessor(ext, ix, blobs, docs)

	result, err := p.Process(context.Background(), baseRequest(session.ModeBoth))
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeProcExtraction))
	assert.True(t, errors.IsRetryable(err))
	assert.Nil(t, result)
	assert.Zero(t, docs.count(), "no document row before extraction succeeds")
}

func TestProcessRejectsInvalidInput(t *testing.T) {
	p := newTestProcessor(&fakeExtractor{}, &fakeIndexer{}, newMemBlobStore(), newMemDocRepo())

	req := baseRequest("FULL_TEXT")
	_, err := p.Process(context.Background(), req)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeValidation))

	req = baseRequest(session.ModeBoth)
	req.PatientID = ""
	_, err = p.Process(context.Background(), req)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeValidation))
}
