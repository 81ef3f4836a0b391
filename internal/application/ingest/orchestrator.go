package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/turtacn/MedRecord-Ingest/internal/config"
	"github.com/turtacn/MedRecord-Ingest/internal/domain/identity"
	"github.com/turtacn/MedRecord-Ingest/internal/domain/matching"
	"github.com/turtacn/MedRecord-Ingest/internal/domain/registry"
	"github.com/turtacn/MedRecord-Ingest/internal/domain/session"
	"github.com/turtacn/MedRecord-Ingest/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/MedRecord-Ingest/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/MedRecord-Ingest/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/MedRecord-Ingest/pkg/errors"
	"github.com/turtacn/MedRecord-Ingest/pkg/types/common"
)

// FileUpload is one file accepted into a session.
type FileUpload struct {
	Name string
	Data []byte
}

// ParseSummary is the per-file outcome returned by AddFiles.
type ParseSummary struct {
	Filename   string                    `json:"filename"`
	FileID     common.ID                 `json:"file_id"`
	Parsed     bool                      `json:"parsed"`
	Identity   *identity.PatientIdentity `json:"identity,omitempty"`
	Reason     identity.ParseReason      `json:"reason,omitempty"`
	Suggestion string                    `json:"suggestion,omitempty"`
}

// Orchestrator owns the batch state machine: it drives parsing, matching,
// review gating, and bounded-parallel content processing for every file in
// a session.
type Orchestrator struct {
	sessions  session.Repository
	registry  registry.ReadWriter
	matcher   *matching.Matcher
	processor FileProcessor
	blobs     BlobStore
	cache     CreationCache
	events    EventPublisher
	metrics   *prometheus.Metrics
	logger    logging.Logger
	cfg       config.PipelineConfig

	// creating serializes patient creation per session:externalRecordId in
	// this process; the creation cache extends the guard across processes.
	creating singleflight.Group

	mu        sync.Mutex
	cancelled map[common.SessionID]bool
	running   sync.WaitGroup
}

// NewOrchestrator wires the pipeline.  Zero config fields fall back to the
// institutional defaults.
func NewOrchestrator(
	sessions session.Repository,
	reg registry.ReadWriter,
	matcher *matching.Matcher,
	processor FileProcessor,
	blobs BlobStore,
	cache CreationCache,
	events EventPublisher,
	metrics *prometheus.Metrics,
	cfg config.PipelineConfig,
	log logging.Logger,
) *Orchestrator {
	if cfg.ProcessConcurrency <= 0 {
		cfg.ProcessConcurrency = config.DefaultProcessConcurrency
	}
	if cfg.ParseConcurrency <= 0 {
		cfg.ParseConcurrency = config.DefaultParseConcurrency
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = config.DefaultMaxRetries
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = config.DefaultRetryBackoff
	}
	if cfg.FileTimeout <= 0 {
		cfg.FileTimeout = config.DefaultFileTimeout
	}
	if events == nil {
		events = kafka.NopPublisher{}
	}
	if metrics == nil {
		metrics = prometheus.NewMetrics()
	}
	return &Orchestrator{
		sessions:  sessions,
		registry:  reg,
		matcher:   matcher,
		processor: processor,
		blobs:     blobs,
		cache:     cache,
		events:    events,
		metrics:   metrics,
		logger:    log.Named("orchestrator"),
		cfg:       cfg,
		cancelled: make(map[common.SessionID]bool),
	}
}

// CreateSession opens a new batch session.
func (o *Orchestrator) CreateSession(ctx context.Context, mode session.ProcessingMode, createdBy common.UserID) (*session.BatchSession, error) {
	sess, err := session.NewBatchSession(mode, createdBy)
	if err != nil {
		return nil, err
	}
	if err := o.sessions.CreateSession(ctx, sess); err != nil {
		return nil, err
	}
	o.metrics.SessionsByState.WithLabelValues(string(sess.Status)).Inc()
	o.logger.Info("session created",
		logging.String("session_id", string(sess.ID)),
		logging.String("mode", string(mode)),
	)
	return sess, nil
}

// AddFiles accepts file bytes into the session, stores the raw blobs, and
// returns a per-file parse summary.  Parse failures are accepted too; they
// surface in the summary and are routed to manual handling when processing
// starts.
func (o *Orchestrator) AddFiles(ctx context.Context, sessionID common.SessionID, uploads []FileUpload) ([]ParseSummary, error) {
	if len(uploads) == 0 {
		return nil, errors.New(errors.ErrCodeValidation, "no files provided")
	}
	sess, err := o.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status == session.StatusInitiated {
		if err := o.transition(ctx, sess, session.StatusUploading); err != nil {
			return nil, err
		}
	} else if sess.Status != session.StatusUploading {
		return nil, errors.Newf(errors.ErrCodeSessionInvalidState,
			"cannot add files to session in state %s", sess.Status)
	}

	summaries := make([]ParseSummary, 0, len(uploads))
	records := make([]*session.BatchFileRecord, 0, len(uploads))
	for _, up := range uploads {
		blobPath := fmt.Sprintf("sessions/%s/%s", sessionID, up.Name)
		if err := o.blobs.Put(ctx, blobPath, up.Data, "application/octet-stream"); err != nil {
			return nil, err
		}
		rec := session.NewBatchFileRecord(sessionID, up.Name, blobPath)
		records = append(records, rec)

		summary := ParseSummary{Filename: up.Name, FileID: rec.ID}
		if id, perr := identity.Parse(up.Name); perr != nil {
			summary.Reason = perr.Reason
			summary.Suggestion = perr.Suggestion
		} else {
			summary.Parsed = true
			summary.Identity = id
		}
		summaries = append(summaries, summary)
	}
	if err := o.sessions.AddFiles(ctx, records); err != nil {
		return nil, err
	}

	sess.TotalFiles += len(records)
	if err := o.sessions.UpdateSession(ctx, sess); err != nil {
		return nil, err
	}
	for _, rec := range records {
		o.publishFileEvent(ctx, kafka.EventFileAccepted, rec, nil)
	}
	return summaries, nil
}

// StartProcessing triggers the state machine: the session moves to PARSING
// and the pipeline runs in the background.
func (o *Orchestrator) StartProcessing(ctx context.Context, sessionID common.SessionID) error {
	sess, err := o.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if err := o.transition(ctx, sess, session.StatusParsing); err != nil {
		return err
	}

	o.running.Add(1)
	go func() {
		defer o.running.Done()
		// Detached from the request context: the pipeline outlives the
		// start request.
		o.runSession(context.Background(), sess.ID)
	}()
	return nil
}

// Wait blocks until every background session run has finished.  Used by
// shutdown and tests.
func (o *Orchestrator) Wait() {
	o.running.Wait()
}

// CancelSession stops dispatching new files; in-flight files complete and
// completed files are retained.
func (o *Orchestrator) CancelSession(ctx context.Context, sessionID common.SessionID) error {
	sess, err := o.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if err := o.transition(ctx, sess, session.StatusCancelled); err != nil {
		return err
	}
	o.mu.Lock()
	o.cancelled[sessionID] = true
	o.mu.Unlock()
	o.logger.Info("session cancelled", logging.String("session_id", string(sessionID)))
	return nil
}

func (o *Orchestrator) isCancelled(sessionID common.SessionID) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cancelled[sessionID]
}

// runSession executes parse/match and then content processing.
func (o *Orchestrator) runSession(ctx context.Context, sessionID common.SessionID) {
	sess, err := o.sessions.GetSession(ctx, sessionID)
	if err != nil {
		o.logger.Error("failed to load session for run",
			logging.String("session_id", string(sessionID)), logging.Err(err))
		return
	}
	files, err := o.sessions.ListFiles(ctx, sessionID)
	if err != nil {
		o.logger.Error("failed to list session files",
			logging.String("session_id", string(sessionID)), logging.Err(err))
		return
	}

	o.parseAndMatch(ctx, files)

	reviewCount := 0
	for _, f := range files {
		if f.ReviewRequired {
			reviewCount++
		}
	}
	if reviewCount > 0 {
		if err := o.transition(ctx, sess, session.StatusAwaitingReview); err != nil {
			o.logger.Error("failed to enter review state", logging.Err(err))
			return
		}
		o.metrics.ReviewQueueDepth.Set(float64(reviewCount))
		o.publish(ctx, common.EventMessage{
			Kind:      kafka.EventSessionAwaitingReview,
			SessionID: sessionID,
		})
	} else {
		if err := o.transition(ctx, sess, session.StatusProcessing); err != nil {
			o.logger.Error("failed to enter processing state", logging.Err(err))
			return
		}
	}

	// Review-blocking is per-file: unblocked files proceed while siblings
	// wait for adjudication.
	o.processFiles(ctx, sess, files)
	o.finalize(ctx, sessionID)
}

// ResumeProcessing dispatches files unblocked by review resolution.  Called
// by the review gateway once a session has no review-pending files left.
func (o *Orchestrator) ResumeProcessing(ctx context.Context, sessionID common.SessionID) error {
	sess, err := o.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.Status == session.StatusAwaitingReview {
		if err := o.transition(ctx, sess, session.StatusProcessing); err != nil {
			return err
		}
	}
	o.metrics.ReviewQueueDepth.Set(0)

	o.running.Add(1)
	go func() {
		defer o.running.Done()
		bg := context.Background()
		files, err := o.sessions.ListFiles(bg, sessionID)
		if err != nil {
			o.logger.Error("failed to list files for resume", logging.Err(err))
			return
		}
		var pending []*session.BatchFileRecord
		for _, f := range files {
			if f.Processable() && f.ProcessingStatus == session.FilePending {
				pending = append(pending, f)
			}
		}
		o.processFiles(bg, sess, pending)
		o.finalize(bg, sessionID)
	}()
	return nil
}

// DispatchResolved processes review-resolved files in the background while
// sibling files stay blocked on review.  The session keeps AWAITING_REVIEW
// until its last review item resolves; the claim in processOne keeps a later
// full resume from re-dispatching these files.
func (o *Orchestrator) DispatchResolved(ctx context.Context, sessionID common.SessionID, fileIDs []common.ID) {
	o.running.Add(1)
	go func() {
		defer o.running.Done()
		bg := context.Background()
		sess, err := o.sessions.GetSession(bg, sessionID)
		if err != nil {
			o.logger.Error("failed to load session for dispatch", logging.Err(err))
			return
		}
		var files []*session.BatchFileRecord
		for _, id := range fileIDs {
			f, err := o.sessions.GetFile(bg, sessionID, id)
			if err != nil {
				o.logger.Error("failed to load resolved file", logging.Err(err))
				continue
			}
			files = append(files, f)
		}
		o.processFiles(bg, sess, files)
		if pending, err := o.sessions.ListReviewPending(bg, sessionID); err == nil {
			o.metrics.ReviewQueueDepth.Set(float64(len(pending)))
		}
		o.finalize(bg, sessionID)
	}()
}

// RetryFile re-submits one FAILED file to content processing.  Parse and
// match results cached on the record are reused; parse failures stay manual.
// A session already in PARTIALLY_FAILED or FAILED has its terminal status
// recomputed from the new outcome.
func (o *Orchestrator) RetryFile(ctx context.Context, sessionID common.SessionID, fileID common.ID) error {
	sess, err := o.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	f, err := o.sessions.GetFile(ctx, sessionID, fileID)
	if err != nil {
		return err
	}
	if f.ProcessingStatus != session.FileFailed {
		return errors.Newf(errors.ErrCodeSessionInvalidState,
			"file %s is %s, only failed files can be retried", fileID, f.ProcessingStatus)
	}
	if f.ParseStatus != session.ParseOK {
		return errors.Newf(errors.ErrCodeSessionInvalidState,
			"file %s failed parsing and needs manual handling", fileID)
	}

	claimed, err := o.sessions.ClaimFile(ctx, sessionID, fileID, session.FileFailed)
	if err != nil {
		return err
	}
	if !claimed {
		return errors.Newf(errors.ErrCodeSessionInvalidState,
			"file %s was already claimed by another dispatcher", fileID)
	}
	f.ProcessingStatus = session.FileProcessing

	// The file is currently counted as failed; hand the count back before
	// reprocessing so the aggregate invariant holds throughout.
	o.bumpCounters(ctx, sessionID, 0, -1)
	o.processClaimed(ctx, sess, f)

	// Recompute the terminal status in place when the session had already
	// finished; the state machine admits no transition out of a terminal
	// state, so this is a correction, not a transition.
	fresh, err := o.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if fresh.Status.IsTerminal() && fresh.Status != session.StatusCancelled &&
		fresh.ProcessedFiles+fresh.FailedFiles == fresh.TotalFiles {
		recomputed := fresh.TerminalStatus()
		if recomputed != fresh.Status {
			o.metrics.SessionsByState.WithLabelValues(string(fresh.Status)).Dec()
			o.metrics.SessionsByState.WithLabelValues(string(recomputed)).Inc()
			fresh.Status = recomputed
			if err := o.sessions.UpdateSession(ctx, fresh); err != nil {
				return err
			}
		}
	}
	return nil
}

// parseAndMatch runs the cheap CPU-bound stage with its own, higher
// concurrency bound.
func (o *Orchestrator) parseAndMatch(ctx context.Context, files []*session.BatchFileRecord) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.ParseConcurrency)
	for _, f := range files {
		if f.ParseStatus != session.ParsePending {
			continue
		}
		f := f
		g.Go(func() error {
			o.parseAndMatchOne(gctx, f)
			return nil
		})
	}
	g.Wait() //nolint:errcheck
}

func (o *Orchestrator) parseAndMatchOne(ctx context.Context, f *session.BatchFileRecord) {
	id, perr := identity.Parse(f.OriginalFilename)
	if perr != nil {
		f.MarkParseFailed(perr)
		o.metrics.ParseResultsTotal.WithLabelValues("failed", string(perr.Reason)).Inc()
		if err := o.sessions.UpdateFile(ctx, f); err != nil {
			o.logger.Error("failed to record parse failure", logging.Err(err))
			return
		}
		// A parse failure is a terminal file failure; count it now so the
		// session aggregate stays correct.
		o.bumpCounters(ctx, f.SessionID, 0, 1)
		return
	}
	o.metrics.ParseResultsTotal.WithLabelValues("parsed", "").Inc()

	decision, err := o.matcher.FindMatches(ctx, id)
	if err != nil {
		// Registry outage: keep the parse result, mark the file failed and
		// retryable; RetryFile will re-run matching.
		f.Identity = id
		f.ParseStatus = session.ParseOK
		f.MarkFailed(err)
		if uerr := o.sessions.UpdateFile(ctx, f); uerr != nil {
			o.logger.Error("failed to record match failure", logging.Err(uerr))
		}
		o.bumpCounters(ctx, f.SessionID, 0, 1)
		return
	}
	o.metrics.MatchDecisionsTotal.WithLabelValues(string(decision.Action)).Inc()
	f.MarkParsed(id, decision)
	if err := o.sessions.UpdateFile(ctx, f); err != nil {
		o.logger.Error("failed to record match decision", logging.Err(err))
	}
}

// processFiles runs content processing over the processable files with the
// bounded worker pool.
func (o *Orchestrator) processFiles(ctx context.Context, sess *session.BatchSession, files []*session.BatchFileRecord) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.ProcessConcurrency)
	for _, f := range files {
		if !f.Processable() || f.ProcessingStatus != session.FilePending {
			continue
		}
		if o.isCancelled(sess.ID) {
			break
		}
		f := f
		g.Go(func() error {
			o.processOne(gctx, sess, f)
			return nil
		})
	}
	g.Wait() //nolint:errcheck
}

// processOne claims the file, resolves the patient, then runs the processor
// under the retry policy and the per-file timeout.  A lost claim means
// another dispatcher (initial run, review resume, retry) owns the file; the
// loser walks away without touching the record or the counters.
func (o *Orchestrator) processOne(ctx context.Context, sess *session.BatchSession, f *session.BatchFileRecord) {
	claimed, err := o.sessions.ClaimFile(ctx, sess.ID, f.ID, session.FilePending)
	if err != nil {
		o.logger.Error("failed to claim file",
			logging.String("session_id", string(sess.ID)),
			logging.String("filename", f.OriginalFilename),
			logging.Err(err),
		)
		return
	}
	if !claimed {
		return
	}
	f.ProcessingStatus = session.FileProcessing
	o.processClaimed(ctx, sess, f)
}

func (o *Orchestrator) processClaimed(ctx context.Context, sess *session.BatchSession, f *session.BatchFileRecord) {
	started := time.Now()
	patientID, err := o.resolvePatient(ctx, sess, f)
	if err != nil {
		o.failFile(ctx, sess, f, err)
		return
	}

	data, err := o.blobs.Get(ctx, f.BlobPath)
	if err != nil {
		o.failFile(ctx, sess, f, err)
		return
	}

	req := ProcessRequest{
		PatientID:    patientID,
		Filename:     f.OriginalFilename,
		Data:         data,
		Mode:         sess.ProcessingMode,
		DocumentType: f.Identity.DocumentType,
	}

	var result *ProcessResult
	backoff := o.cfg.RetryBackoff
	for attempt := 1; ; attempt++ {
		f.MarkProcessing()
		if err := o.sessions.UpdateFile(ctx, f); err != nil {
			o.logger.Error("failed to record processing attempt", logging.Err(err))
		}

		result, err = o.processAttempt(ctx, req)
		if err == nil {
			break
		}
		o.logger.Warn("file processing attempt failed",
			logging.String("session_id", string(sess.ID)),
			logging.String("filename", f.OriginalFilename),
			logging.Int("attempt", attempt),
			logging.Err(err),
		)
		if attempt >= o.cfg.MaxRetries || !errors.IsRetryable(err) {
			o.failFile(ctx, sess, f, err)
			o.metrics.ObserveProcessing(string(sess.ProcessingMode), "failed", time.Since(started))
			return
		}
		o.metrics.ProcessingRetries.Inc()
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			o.failFile(ctx, sess, f, errors.Wrap(ctx.Err(), errors.ErrCodeSessionCancelled, "processing interrupted"))
			return
		}
		backoff *= 2
	}

	f.MarkCompleted(result.DocumentID, result.ContentStored, result.Indexed, result.ChunkCount, result.ContentHash)
	if err := o.sessions.UpdateFile(ctx, f); err != nil {
		o.logger.Error("failed to record completion", logging.Err(err))
	}
	o.bumpCounters(ctx, sess.ID, 1, 0)
	o.metrics.ObserveProcessing(string(sess.ProcessingMode), "completed", time.Since(started))
	o.publishFileEvent(ctx, kafka.EventFileCompleted, f, result)
}

// processAttempt applies the per-file timeout: an operation exceeding it is
// a failure, not a hang.
func (o *Orchestrator) processAttempt(ctx context.Context, req ProcessRequest) (*ProcessResult, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, o.cfg.FileTimeout)
	defer cancel()
	result, err := o.processor.Process(attemptCtx, req)
	if err != nil && attemptCtx.Err() == context.DeadlineExceeded {
		return nil, errors.Wrap(err, errors.ErrCodeProcTimeout, "file processing timed out")
	}
	return result, err
}

// resolvePatient turns the cached match decision into a concrete patient id,
// creating a registry patient when the decision calls for it.  Creation is
// serialized per session:externalRecordId so two files for the same person
// in one batch converge on a single registry record.
func (o *Orchestrator) resolvePatient(ctx context.Context, sess *session.BatchSession, f *session.BatchFileRecord) (common.PatientID, error) {
	if f.ResolvedPatient != nil {
		return *f.ResolvedPatient, nil
	}
	if f.Decision == nil {
		// Matching failed earlier; re-run it now.
		decision, err := o.matcher.FindMatches(ctx, f.Identity)
		if err != nil {
			return "", err
		}
		f.MarkParsed(f.Identity, decision)
		if f.ReviewRequired {
			return "", errors.Newf(errors.ErrCodeSessionInvalidState,
				"file %s requires review before processing", f.OriginalFilename)
		}
	}

	switch f.Decision.Action {
	case matching.ActionAutoAssign:
		if f.Decision.ChosenPatientID == nil {
			return "", errors.New(errors.ErrCodeInternal, "auto-assign decision carries no patient")
		}
		f.ResolvedPatient = f.Decision.ChosenPatientID
	case matching.ActionCreateNew:
		patientID, err := o.createPatientOnce(ctx, sess.ID, f.Identity)
		if err != nil {
			return "", err
		}
		f.ResolvedPatient = &patientID
	default:
		return "", errors.Newf(errors.ErrCodeSessionInvalidState,
			"file %s requires review before processing", f.OriginalFilename)
	}

	if err := o.sessions.UpdateFile(ctx, f); err != nil {
		return "", err
	}
	return *f.ResolvedPatient, nil
}

func (o *Orchestrator) createPatientOnce(ctx context.Context, sessionID common.SessionID, id *identity.PatientIdentity) (common.PatientID, error) {
	key := string(sessionID) + ":" + id.ExternalRecordID
	v, err, _ := o.creating.Do(key, func() (interface{}, error) {
		if cached, ok, err := o.cache.LookupPatient(ctx, sessionID, id.ExternalRecordID); err != nil {
			return nil, err
		} else if ok {
			return cached, nil
		}
		created, err := o.registry.CreateFromIdentity(ctx, id)
		if err != nil {
			return nil, err
		}
		// RememberPatient returns the authoritative binding: if another
		// process won the race, its patient wins here too.
		bound, err := o.cache.RememberPatient(ctx, sessionID, id.ExternalRecordID, created)
		if err != nil {
			return nil, err
		}
		return bound, nil
	})
	if err != nil {
		return "", err
	}
	return v.(common.PatientID), nil
}

func (o *Orchestrator) failFile(ctx context.Context, sess *session.BatchSession, f *session.BatchFileRecord, cause error) {
	f.MarkFailed(cause)
	if err := o.sessions.UpdateFile(ctx, f); err != nil {
		o.logger.Error("failed to record file failure", logging.Err(err))
	}
	o.bumpCounters(ctx, sess.ID, 0, 1)
	o.publishFileEvent(ctx, kafka.EventFileFailed, f, nil)
}

// bumpCounters atomically updates the session aggregates in the store.
func (o *Orchestrator) bumpCounters(ctx context.Context, sessionID common.SessionID, processed, failed int) {
	if _, _, err := o.sessions.IncrementCounters(ctx, sessionID, processed, failed); err != nil {
		o.logger.Error("failed to update session counters",
			logging.String("session_id", string(sessionID)), logging.Err(err))
	}
}

// finalize moves the session to its terminal state once every file has a
// terminal outcome.  A cancelled session keeps its CANCELLED status.
func (o *Orchestrator) finalize(ctx context.Context, sessionID common.SessionID) {
	sess, err := o.sessions.GetSession(ctx, sessionID)
	if err != nil {
		o.logger.Error("failed to load session for finalize", logging.Err(err))
		return
	}
	if sess.Status.IsTerminal() {
		return
	}
	if sess.ProcessedFiles+sess.FailedFiles < sess.TotalFiles {
		// Files are still blocked on review or pending dispatch.
		return
	}
	terminal := sess.TerminalStatus()
	if err := o.transition(ctx, sess, terminal); err != nil {
		o.logger.Error("failed to finalize session", logging.Err(err))
		return
	}
	o.logger.Info("session finished",
		logging.String("session_id", string(sessionID)),
		logging.String("status", string(terminal)),
		logging.Int("processed", sess.ProcessedFiles),
		logging.Int("failed", sess.FailedFiles),
	)
	o.publish(ctx, common.EventMessage{
		Kind:      kafka.EventSessionTerminal,
		SessionID: sessionID,
		Payload:   mustJSON(map[string]interface{}{"status": terminal, "processed": sess.ProcessedFiles, "failed": sess.FailedFiles}),
	})
}

// transition applies a state change, persists it, and keeps the state gauge
// in step.
func (o *Orchestrator) transition(ctx context.Context, sess *session.BatchSession, next session.Status) error {
	prev := sess.Status
	if err := sess.Transition(next); err != nil {
		return err
	}
	if err := o.sessions.UpdateSession(ctx, sess); err != nil {
		return err
	}
	o.metrics.SessionsByState.WithLabelValues(string(prev)).Dec()
	o.metrics.SessionsByState.WithLabelValues(string(next)).Inc()
	return nil
}

func (o *Orchestrator) publishFileEvent(ctx context.Context, kind string, f *session.BatchFileRecord, result *ProcessResult) {
	event := common.EventMessage{
		Kind:      kind,
		SessionID: f.SessionID,
		Filename:  f.OriginalFilename,
	}
	if result != nil {
		event.Payload = mustJSON(map[string]interface{}{
			"document_id": result.DocumentID,
			"chunk_count": result.ChunkCount,
			"duplicate":   result.Duplicate,
		})
	} else if f.ErrorMessage != "" {
		event.Payload = mustJSON(map[string]interface{}{"error": f.ErrorMessage})
	}
	o.publish(ctx, event)
}

func (o *Orchestrator) publish(ctx context.Context, event common.EventMessage) {
	if err := o.events.Publish(ctx, event); err != nil {
		o.logger.Warn("failed to publish event",
			logging.String("kind", event.Kind),
			logging.String("session_id", string(event.SessionID)),
			logging.Err(err),
		)
	}
}

func mustJSON(v interface{}) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}
