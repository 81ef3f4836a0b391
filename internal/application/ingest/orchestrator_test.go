package ingest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/MedRecord-Ingest/internal/config"
	"github.com/turtacn/MedRecord-Ingest/internal/domain/identity"
	"github.com/turtacn/MedRecord-Ingest/internal/domain/matching"
	"github.com/turtacn/MedRecord-Ingest/internal/domain/registry"
	"github.com/turtacn/MedRecord-Ingest/internal/domain/session"
	"github.com/turtacn/MedRecord-Ingest/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/MedRecord-Ingest/pkg/errors"
	"github.com/turtacn/MedRecord-Ingest/pkg/types/common"
)

type orchFixture struct {
	repo  *memSessionRepo
	reg   *memRegistry
	blobs *memBlobStore
	docs  *memDocRepo
	ext   *fakeExtractor
	ix    *fakeIndexer
	cache *memCreationCache
	pub   *capturePublisher
	orch  *Orchestrator
}

func newOrchFixture(t *testing.T, opts ...func(*orchFixture)) *orchFixture {
	t.Helper()
	fx := &orchFixture{
		repo:  newMemSessionRepo(),
		reg:   &memRegistry{},
		blobs: newMemBlobStore(),
		docs:  newMemDocRepo(),
		ext:   &fakeExtractor{},
		ix:    &fakeIndexer{},
		cache: newMemCreationCache(),
		pub:   &capturePublisher{},
	}
	for _, opt := range opts {
		opt(fx)
	}
	matcher := matching.NewMatcher(fx.reg, matching.Config{})
	processor := NewProcessor(fx.ext, fx.ix, fx.blobs, fx.docs, logging.NewNop())
	fx.orch = NewOrchestrator(
		fx.repo, fx.reg, matcher, processor, fx.blobs, fx.cache, fx.pub, nil,
		config.PipelineConfig{
			ProcessConcurrency: 2,
			ParseConcurrency:   4,
			MaxRetries:         3,
			RetryBackoff:       time.Millisecond,
			FileTimeout:        5 * time.Second,
		},
		logging.NewNop(),
	)
	return fx
}

func (fx *orchFixture) addFiles(t *testing.T, sessionID common.SessionID, names ...string) []ParseSummary {
	t.Helper()
	uploads := make([]FileUpload, 0, len(names))
	for i, name := range names {
		uploads = append(uploads, FileUpload{Name: name, Data: []byte(fmt.Sprintf("%%PDF contenido %d %s", i, name))})
	}
	summaries, err := fx.orch.AddFiles(context.Background(), sessionID, uploads)
	require.NoError(t, err)
	return summaries
}

func (fx *orchFixture) runToTerminal(t *testing.T, sessionID common.SessionID) *session.BatchSession {
	t.Helper()
	require.NoError(t, fx.orch.StartProcessing(context.Background(), sessionID))
	fx.orch.Wait()
	sess, err := fx.repo.GetSession(context.Background(), sessionID)
	require.NoError(t, err)
	return sess
}

func consFilename(recordID int, surname string, given string) string {
	return fmt.Sprintf("%d_%s, %s_CONS.pdf", recordID, surname, given)
}

func TestSessionCompletesWhenEveryFileSucceeds(t *testing.T) {
	fx := newOrchFixture(t)
	sess, err := fx.orch.CreateSession(context.Background(), session.ModeBoth, "admin")
	require.NoError(t, err)

	fx.addFiles(t, sess.ID,
		consFilename(1001, "GARZA TIJERINA", "MARIA ESTHER"),
		consFilename(1002, "PEREZ SOTO", "CARLOS"),
		consFilename(1003, "LOPEZ RUIZ", "ANA MARIA"),
	)

	final := fx.runToTerminal(t, sess.ID)
	assert.Equal(t, session.StatusCompleted, final.Status)
	assert.Equal(t, 3, final.TotalFiles)
	assert.Equal(t, 3, final.ProcessedFiles)
	assert.Zero(t, final.FailedFiles)
	assert.NotNil(t, final.CompletedAt)

	files, err := fx.repo.ListFiles(context.Background(), sess.ID)
	require.NoError(t, err)
	for _, f := range files {
		assert.Equal(t, session.FileCompleted, f.ProcessingStatus)
		assert.NotNil(t, f.ProducedDocument)
		assert.NotNil(t, f.ResolvedPatient)
	}
	assert.Equal(t, 3, fx.reg.creates, "one registry patient per distinct record id")
	assert.Equal(t, 3, fx.docs.count())
	assert.Equal(t, 3, fx.pub.countKind("file.accepted"), "one acceptance event per uploaded file")
	assert.Contains(t, fx.pub.kinds(), "session.terminal")
}

func TestSessionPartiallyFailedWhenOneFileExhaustsRetries(t *testing.T) {
	badName := consFilename(2007, "RAMIREZ VEGA", "PEDRO")
	fx := newOrchFixture(t, func(fx *orchFixture) {
		fx.ext.failures = map[string]int{badName: 10}
	})
	sess, err := fx.orch.CreateSession(context.Background(), session.ModeBoth, "admin")
	require.NoError(t, err)

	names := make([]string, 0, 10)
	for i := 0; i < 10; i++ {
		if i == 6 {
			names = append(names, badName)
			continue
		}
		names = append(names, consFilename(2001+i, "MORALES CANTU", fmt.Sprintf("PACIENTE %c", 'A'+i)))
	}
	fx.addFiles(t, sess.ID, names...)

	final := fx.runToTerminal(t, sess.ID)
	assert.Equal(t, session.StatusPartiallyFailed, final.Status)
	assert.Equal(t, 9, final.ProcessedFiles)
	assert.Equal(t, 1, final.FailedFiles)
	assert.Equal(t, final.TotalFiles, final.ProcessedFiles+final.FailedFiles)

	files, err := fx.repo.ListFiles(context.Background(), sess.ID)
	require.NoError(t, err)
	var failed *session.BatchFileRecord
	completed := 0
	for _, f := range files {
		switch f.ProcessingStatus {
		case session.FileFailed:
			failed = f
		case session.FileCompleted:
			completed++
		}
	}
	require.NotNil(t, failed)
	assert.Equal(t, badName, failed.OriginalFilename)
	assert.Equal(t, 3, failed.Attempts, "bounded retries, then terminal failure")
	assert.NotEmpty(t, failed.ErrorMessage)
	assert.Equal(t, 9, completed)

	kinds := fx.pub.kinds()
	assert.Contains(t, kinds, "file.failed")
	assert.Contains(t, kinds, "session.terminal")
}

func TestTwoFilesForSamePersonCreateOnePatient(t *testing.T) {
	fx := newOrchFixture(t)
	sess, err := fx.orch.CreateSession(context.Background(), session.ModeIndexOnly, "admin")
	require.NoError(t, err)

	fx.addFiles(t, sess.ID,
		"3001_TREVINO SADA, LAURA_CONS.pdf",
		"3001_TREVINO SADA, LAURA_LAB.pdf",
	)

	final := fx.runToTerminal(t, sess.ID)
	assert.Equal(t, session.StatusCompleted, final.Status)
	assert.Equal(t, 1, fx.reg.createCalls, "patient creation serialized per record id")
	assert.Equal(t, 1, fx.reg.creates)

	files, err := fx.repo.ListFiles(context.Background(), sess.ID)
	require.NoError(t, err)
	require.Len(t, files, 2)
	require.NotNil(t, files[0].ResolvedPatient)
	require.NotNil(t, files[1].ResolvedPatient)
	assert.Equal(t, *files[0].ResolvedPatient, *files[1].ResolvedPatient)
}

func TestUnparseableFileFailsWithoutBlockingSession(t *testing.T) {
	fx := newOrchFixture(t)
	sess, err := fx.orch.CreateSession(context.Background(), session.ModeBoth, "admin")
	require.NoError(t, err)

	summaries := fx.addFiles(t, sess.ID,
		consFilename(4001, "VALDEZ MORA", "RAUL"),
		"consulta_sin_formato.pdf",
	)
	require.Len(t, summaries, 2)
	assert.True(t, summaries[0].Parsed)
	assert.False(t, summaries[1].Parsed)
	assert.Equal(t, identity.ReasonUnrecognizedStructure, summaries[1].Reason)
	assert.NotEmpty(t, summaries[1].Suggestion)

	final := fx.runToTerminal(t, sess.ID)
	assert.Equal(t, session.StatusPartiallyFailed, final.Status)
	assert.Equal(t, 1, final.ProcessedFiles)
	assert.Equal(t, 1, final.FailedFiles)

	files, err := fx.repo.ListFiles(context.Background(), sess.ID)
	require.NoError(t, err)
	for _, f := range files {
		if f.OriginalFilename == "consulta_sin_formato.pdf" {
			assert.Equal(t, session.ParseFailed, f.ParseStatus)
			assert.Equal(t, session.FileFailed, f.ProcessingStatus)
		} else {
			assert.Equal(t, session.FileCompleted, f.ProcessingStatus)
		}
	}
}

func TestAmbiguousMatchPausesSessionForReview(t *testing.T) {
	fx := newOrchFixture(t, func(fx *orchFixture) {
		fx.reg.patients = []*registry.Patient{{
			ID:             "p-existing",
			RecordNumber:   "999",
			FullName:       "Juan Carlos Garcia Lopez",
			NormalizedName: "juan carlos garcia lopez",
		}}
	})
	sess, err := fx.orch.CreateSession(context.Background(), session.ModeBoth, "admin")
	require.NoError(t, err)

	fx.addFiles(t, sess.ID, "123_GARCIA LOPEZ, JUAN_CONS.pdf")

	require.NoError(t, fx.orch.StartProcessing(context.Background(), sess.ID))
	fx.orch.Wait()

	paused, err := fx.repo.GetSession(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusAwaitingReview, paused.Status)
	assert.Contains(t, fx.pub.kinds(), "session.awaiting_review")

	pending, err := fx.repo.ListReviewPending(context.Background(), sess.ID)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.NotNil(t, pending[0].Decision)
	assert.Equal(t, matching.ActionReviewRequired, pending[0].Decision.Action)

	// Adjudicate to the existing patient and resume.
	f := pending[0]
	chosen := common.PatientID("p-existing")
	require.NoError(t, f.Resolve(&chosen))
	require.NoError(t, fx.repo.UpdateFile(context.Background(), f))
	require.NoError(t, fx.orch.ResumeProcessing(context.Background(), sess.ID))
	fx.orch.Wait()

	final, err := fx.repo.GetSession(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusCompleted, final.Status)
	assert.Zero(t, fx.reg.createCalls, "assignment to an existing patient creates nothing")

	done, err := fx.repo.GetFile(context.Background(), sess.ID, f.ID)
	require.NoError(t, err)
	assert.Equal(t, session.FileCompleted, done.ProcessingStatus)
	require.NotNil(t, done.ResolvedPatient)
	assert.Equal(t, chosen, *done.ResolvedPatient)
}

func TestStartProcessingRequiresUploadedFiles(t *testing.T) {
	fx := newOrchFixture(t)
	sess, err := fx.orch.CreateSession(context.Background(), session.ModeBoth, "admin")
	require.NoError(t, err)

	err = fx.orch.StartProcessing(context.Background(), sess.ID)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeSessionInvalidState))
}

func TestCancelledSessionRejectsStart(t *testing.T) {
	fx := newOrchFixture(t)
	sess, err := fx.orch.CreateSession(context.Background(), session.ModeBoth, "admin")
	require.NoError(t, err)
	fx.addFiles(t, sess.ID, consFilename(5001, "CASTRO PENA", "HUGO"))

	require.NoError(t, fx.orch.CancelSession(context.Background(), sess.ID))
	err = fx.orch.StartProcessing(context.Background(), sess.ID)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeSessionInvalidState))

	final, err := fx.repo.GetSession(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusCancelled, final.Status)
}

func TestCancellationStopsDispatchingNewFiles(t *testing.T) {
	fx := newOrchFixture(t)
	started := make(chan string, 8)
	release := make(chan struct{})
	fx.orch.processor = &gateProcessor{
		inner:   fx.orch.processor,
		started: started,
		release: release,
	}
	fx.orch.cfg.ProcessConcurrency = 1

	sess, err := fx.orch.CreateSession(context.Background(), session.ModeIndexOnly, "admin")
	require.NoError(t, err)
	fx.addFiles(t, sess.ID,
		consFilename(6001, "AGUIRRE LEAL", "SOFIA"),
		consFilename(6002, "BENAVIDES RIOS", "DIEGO"),
		consFilename(6003, "CARDENAS LUNA", "ELENA"),
	)

	require.NoError(t, fx.orch.StartProcessing(context.Background(), sess.ID))
	<-started
	require.NoError(t, fx.orch.CancelSession(context.Background(), sess.ID))
	close(release)
	fx.orch.Wait()

	final, err := fx.repo.GetSession(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusCancelled, final.Status, "cancellation is sticky through finalize")

	files, err := fx.repo.ListFiles(context.Background(), sess.ID)
	require.NoError(t, err)
	byName := map[string]*session.BatchFileRecord{}
	for _, f := range files {
		byName[f.OriginalFilename] = f
	}
	// In-flight work completes; the last file was never dispatched.
	assert.Equal(t, session.FileCompleted, byName[consFilename(6001, "AGUIRRE LEAL", "SOFIA")].ProcessingStatus)
	assert.Equal(t, session.FilePending, byName[consFilename(6003, "CARDENAS LUNA", "ELENA")].ProcessingStatus)
	assert.LessOrEqual(t, final.ProcessedFiles+final.FailedFiles, final.TotalFiles)
}

func TestRetryFileFlipsPartialFailureToCompleted(t *testing.T) {
	badName := consFilename(7002, "DUARTE SOLIS", "IRMA")
	fx := newOrchFixture(t, func(fx *orchFixture) {
		fx.ext.failures = map[string]int{badName: 3}
	})
	sess, err := fx.orch.CreateSession(context.Background(), session.ModeBoth, "admin")
	require.NoError(t, err)
	fx.addFiles(t, sess.ID,
		consFilename(7001, "ESTRADA NAVA", "OMAR"),
		badName,
	)

	final := fx.runToTerminal(t, sess.ID)
	require.Equal(t, session.StatusPartiallyFailed, final.Status)

	files, err := fx.repo.ListFiles(context.Background(), sess.ID)
	require.NoError(t, err)
	var failedID common.ID
	for _, f := range files {
		if f.ProcessingStatus == session.FileFailed {
			failedID = f.ID
		}
	}
	require.NotEmpty(t, failedID)

	// The extraction service recovered; a manual retry should finish the file
	// and correct the session outcome.
	require.NoError(t, fx.orch.RetryFile(context.Background(), sess.ID, failedID))

	fixed, err := fx.repo.GetSession(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusCompleted, fixed.Status)
	assert.Equal(t, 2, fixed.ProcessedFiles)
	assert.Zero(t, fixed.FailedFiles)

	f, err := fx.repo.GetFile(context.Background(), sess.ID, failedID)
	require.NoError(t, err)
	assert.Equal(t, session.FileCompleted, f.ProcessingStatus)
	assert.Empty(t, f.ErrorMessage)
}

func TestRetryFileRejectsNonFailedFiles(t *testing.T) {
	fx := newOrchFixture(t)
	sess, err := fx.orch.CreateSession(context.Background(), session.ModeBoth, "admin")
	require.NoError(t, err)
	fx.addFiles(t, sess.ID, consFilename(8001, "FLORES CHAPA", "NORA"))
	final := fx.runToTerminal(t, sess.ID)
	require.Equal(t, session.StatusCompleted, final.Status)

	files, err := fx.repo.ListFiles(context.Background(), sess.ID)
	require.NoError(t, err)
	err = fx.orch.RetryFile(context.Background(), sess.ID, files[0].ID)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeSessionInvalidState))
}

func TestReviewResumeDoesNotRedispatchQueuedFile(t *testing.T) {
	fx := newOrchFixture(t, func(fx *orchFixture) {
		fx.reg.patients = []*registry.Patient{{
			ID:             "p-existing",
			RecordNumber:   "999",
			FullName:       "Juan Carlos Garcia Lopez",
			NormalizedName: "juan carlos garcia lopez",
		}}
	})
	started := make(chan string, 8)
	release := make(chan struct{})
	counter := &countingProcessor{inner: fx.orch.processor, calls: map[string]int{}}
	fx.orch.processor = &gateProcessor{inner: counter, started: started, release: release}
	fx.orch.cfg.ProcessConcurrency = 1

	fileA := consFilename(9001, "GOMEZ LIRA", "HECTOR")
	fileB := consFilename(9002, "HERRERA PONCE", "IVAN")
	reviewFile := "123_GARCIA LOPEZ, JUAN_CONS.pdf"

	sess, err := fx.orch.CreateSession(context.Background(), session.ModeIndexOnly, "admin")
	require.NoError(t, err)
	fx.addFiles(t, sess.ID, fileA, fileB, reviewFile)

	require.NoError(t, fx.orch.StartProcessing(context.Background(), sess.ID))
	// The first worker holds fileA inside the processor; fileB sits queued
	// behind it at concurrency 1, still PENDING in the store.
	assert.Equal(t, fileA, <-started)

	// Resolving the review item mid-batch starts a second dispatch pool that
	// re-lists the session while fileB is still queued in the first.
	pending, err := fx.repo.ListReviewPending(context.Background(), sess.ID)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	chosen := common.PatientID("p-existing")
	require.NoError(t, pending[0].Resolve(&chosen))
	require.NoError(t, fx.repo.UpdateFile(context.Background(), pending[0]))
	require.NoError(t, fx.orch.ResumeProcessing(context.Background(), sess.ID))
	<-started

	close(release)
	fx.orch.Wait()

	final, err := fx.repo.GetSession(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusCompleted, final.Status)
	assert.Equal(t, 3, final.TotalFiles)
	assert.Equal(t, 3, final.ProcessedFiles)
	assert.Zero(t, final.FailedFiles)
	assert.Equal(t, final.TotalFiles, final.ProcessedFiles+final.FailedFiles,
		"counters never exceed the file total")

	for _, name := range []string{fileA, fileB, reviewFile} {
		assert.Equal(t, 1, counter.count(name), "%s processed exactly once", name)
	}
	assert.Equal(t, 3, fx.docs.count())
}

// gateProcessor signals when a file enters processing and holds it until
// released, making cancellation timing deterministic in tests.
type gateProcessor struct {
	inner   FileProcessor
	started chan string
	release chan struct{}
}

func (g *gateProcessor) Process(ctx context.Context, req ProcessRequest) (*ProcessResult, error) {
	g.started <- req.Filename
	<-g.release
	return g.inner.Process(ctx, req)
}

// countingProcessor tallies Process invocations per filename.
type countingProcessor struct {
	inner FileProcessor
	mu    sync.Mutex
	calls map[string]int
}

func (c *countingProcessor) Process(ctx context.Context, req ProcessRequest) (*ProcessResult, error) {
	c.mu.Lock()
	c.calls[req.Filename]++
	c.mu.Unlock()
	return c.inner.Process(ctx, req)
}

func (c *countingProcessor) count(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[name]
}
