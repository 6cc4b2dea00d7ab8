// Package uploader drives one user submission through
// upload -> remote processing -> interpretation -> completion or error,
// exposing cancel and retry. Jobs are ephemeral: they live in the active
// set until dismissed and are never persisted.
package uploader

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/careloop/medvault/internal/blobstore"
	"github.com/careloop/medvault/internal/cache"
	"github.com/careloop/medvault/internal/domain/record"
	"github.com/careloop/medvault/internal/domain/upload"
	"github.com/careloop/medvault/internal/extract"
	"github.com/careloop/medvault/internal/interpret"
)

// Persister is the record backend operation the controller needs: metadata
// creation after a successful interpretation.
type Persister interface {
	Create(ctx context.Context, rec *record.MedicalRecord) error
}

// Notifier receives best-effort notifications about records whose
// interpretation raised attention indicators. Implementations own their
// error handling; the job never fails on notification problems.
type Notifier interface {
	RecordFlagged(ctx context.Context, rec *record.MedicalRecord)
}

// Config tunes the controller.
type Config struct {
	// AllowedMimeTypes accepted for upload; empty means the default set.
	AllowedMimeTypes []string
	// MaxFileSize in bytes; zero disables the limit.
	MaxFileSize int64
	// AutoDismissDelay before a successful job leaves the active set.
	AutoDismissDelay time.Duration
	// ProcessingTick is the cadence of the simulated processing progress.
	ProcessingTick time.Duration
}

var defaultAllowedTypes = []string{
	"application/pdf",
	"image/png",
	"image/jpeg",
	"text/plain",
}

func (c Config) allowed(mimeType string) bool {
	types := c.AllowedMimeTypes
	if len(types) == 0 {
		types = defaultAllowedTypes
	}
	for _, t := range types {
		if t == mimeType {
			return true
		}
	}
	return false
}

// jobState is the controller's bookkeeping for one active job.
type jobState struct {
	job     upload.Job
	machine *upload.Machine
	cancel  context.CancelFunc
	dismiss *time.Timer

	// Retained so retry can re-enter the pipeline with the original input.
	file  *SubmittedFile
	draft Draft
}

// Controller owns the active set of one owner's upload jobs.
type Controller struct {
	ownerID   string
	config    Config
	blobs     blobstore.Store
	completer interpret.Completer
	prompts   *interpret.PromptConfig
	repo      Persister
	cache     *cache.Cache
	notifier  Notifier
	logger    *zap.Logger

	// extractText is swappable in tests.
	extractText func(mimeType string, data []byte) (string, error)

	mu    sync.Mutex
	jobs  map[string]*jobState
	order []string
	wg    sync.WaitGroup
}

// New creates a controller for one owner. notifier may be nil.
func New(
	ownerID string,
	cfg Config,
	blobs blobstore.Store,
	completer interpret.Completer,
	prompts *interpret.PromptConfig,
	repo Persister,
	recordCache *cache.Cache,
	notifier Notifier,
	logger *zap.Logger,
) *Controller {
	if prompts == nil {
		prompts = interpret.DefaultPrompts()
	}
	if cfg.AutoDismissDelay <= 0 {
		cfg.AutoDismissDelay = 5 * time.Second
	}
	if cfg.ProcessingTick <= 0 {
		cfg.ProcessingTick = 200 * time.Millisecond
	}
	return &Controller{
		ownerID:     ownerID,
		config:      cfg,
		blobs:       blobs,
		completer:   completer,
		prompts:     prompts,
		repo:        repo,
		cache:       recordCache,
		notifier:    notifier,
		logger:      logger,
		extractText: extract.FromDocument,
		jobs:        make(map[string]*jobState),
	}
}

// Submit validates the input and starts a new job. Validation failures
// surface synchronously; no job is created for them.
func (c *Controller) Submit(file *SubmittedFile, draft Draft) (string, error) {
	if err := validateDraft(draft); err != nil {
		return "", err
	}
	if err := c.validateFile(file); err != nil {
		return "", err
	}

	machine, err := upload.NewMachine(upload.StatusUploading)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithCancel(context.Background())
	state := &jobState{
		job: upload.Job{
			ID:     uuid.NewString(),
			Status: upload.StatusUploading,
		},
		machine: machine,
		cancel:  cancel,
		file:    file,
		draft:   draft,
	}
	if file != nil {
		state.job.FileName = file.Name
		state.job.SizeBytes = int64(len(file.Data))
		state.job.MimeType = file.MimeType
	} else {
		state.job.FileName = draft.Title
	}

	c.mu.Lock()
	c.jobs[state.job.ID] = state
	c.order = append(c.order, state.job.ID)
	c.mu.Unlock()

	c.logger.Info("Upload job submitted",
		zap.String("job_id", state.job.ID),
		zap.String("owner_id", c.ownerID),
		zap.String("file_name", state.job.FileName),
		zap.Bool("has_file", file != nil))

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.run(ctx, state.job.ID)
	}()

	return state.job.ID, nil
}

// Cancel removes a job from the active set and cancels its in-flight work.
// For terminal jobs this acts as a dismissal. Unknown IDs are an error.
func (c *Controller) Cancel(jobID string) error {
	c.mu.Lock()
	state, ok := c.jobs[jobID]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	c.removeLocked(jobID)
	c.mu.Unlock()

	state.cancel()
	c.logger.Info("Upload job canceled",
		zap.String("job_id", jobID),
		zap.String("status", state.job.Status.String()))
	return nil
}

// Retry discards a failed job and starts a fresh one with the original
// file and draft. Only jobs in the error state are retryable.
func (c *Controller) Retry(jobID string) (string, error) {
	c.mu.Lock()
	state, ok := c.jobs[jobID]
	if !ok {
		c.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	if state.job.Status != upload.StatusError {
		c.mu.Unlock()
		return "", fmt.Errorf("%w: %s is %s", ErrNotRetryable, jobID, state.job.Status)
	}
	c.removeLocked(jobID)
	c.mu.Unlock()

	state.cancel()
	c.logger.Info("Retrying failed upload", zap.String("job_id", jobID))
	return c.Submit(state.file, state.draft)
}

// Jobs returns a snapshot of the active set in submission order.
func (c *Controller) Jobs() []upload.Job {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]upload.Job, 0, len(c.order))
	for _, id := range c.order {
		if state, ok := c.jobs[id]; ok {
			out = append(out, state.job)
		}
	}
	return out
}

// Job returns a snapshot of one job.
func (c *Controller) Job(jobID string) (upload.Job, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if state, ok := c.jobs[jobID]; ok {
		return state.job, true
	}
	return upload.Job{}, false
}

// Close cancels all in-flight work and waits for job goroutines to exit.
func (c *Controller) Close() {
	c.mu.Lock()
	for _, id := range c.order {
		if state, ok := c.jobs[id]; ok {
			state.cancel()
			if state.dismiss != nil {
				state.dismiss.Stop()
			}
		}
	}
	c.mu.Unlock()

	c.wg.Wait()
}

// run drives one job through its stages. Stages execute strictly in order:
// upload -> processing -> persist -> cache upsert.
func (c *Controller) run(ctx context.Context, jobID string) {
	state, ok := c.lookup(jobID)
	if !ok {
		return
	}

	// Stage 1: blob upload. Metadata-only submissions skip straight to
	// processing with the upload axis complete.
	var obj *blobstore.Object
	if state.file != nil {
		var err error
		obj, err = c.blobs.Upload(ctx, c.ownerID, blobstore.File{
			Name:     state.file.Name,
			MimeType: state.file.MimeType,
			Data:     state.file.Data,
		}, func(percent int) {
			c.setUploadProgress(jobID, percent)
		})
		if err != nil {
			c.fail(jobID, fmt.Errorf("upload failed: %w", err))
			return
		}
	}
	c.setUploadProgress(jobID, 100)

	if !c.transition(jobID, upload.TriggerUploadDone, upload.StatusProcessing) {
		// The job was canceled between the finished upload and the
		// transition; the stored blob has no record and never will.
		if obj != nil {
			c.cleanupBlob(obj)
		}
		return
	}

	// The processing axis is a UI-feedback heuristic, not a measurement:
	// the remote call is one request/response. It stays behind the same
	// setter real signals would use.
	stopTicks := c.startProcessingTicks(ctx, jobID)

	rec, err := c.process(ctx, state, obj)
	stopTicks()
	if err != nil {
		if obj != nil {
			c.cleanupBlob(obj)
		}
		c.fail(jobID, err)
		return
	}

	c.setProcessingProgress(jobID, 100)
	if !c.transition(jobID, upload.TriggerComplete, upload.StatusSuccess) {
		return
	}
	c.succeed(jobID, rec)
}

// process runs extraction, completion and parsing, then persists the
// record. No partial record ever reaches the cache: persistence happens
// first, and only a fully persisted record is returned.
func (c *Controller) process(ctx context.Context, state *jobState, obj *blobstore.Object) (*record.MedicalRecord, error) {
	documentText := ""
	if state.file != nil {
		text, err := c.extractText(state.file.MimeType, state.file.Data)
		if err != nil {
			// Extraction trouble degrades to metadata-only prompting.
			c.logger.Warn("Text extraction failed, interpreting from metadata",
				zap.String("file_name", state.file.Name),
				zap.Error(err))
		} else {
			documentText = text
		}
	}
	if documentText == "" {
		documentText = state.draft.Title
		if state.draft.Notes != "" {
			documentText += "\n" + state.draft.Notes
		}
	}

	prompt, err := c.prompts.BuildUserPrompt(interpret.PromptData{
		Title:        state.draft.Title,
		RecordType:   state.draft.RecordType.String(),
		FacilityName: state.draft.FacilityName,
		VisitDate:    state.draft.VisitDate.Format("2006-01-02"),
		Notes:        state.draft.Notes,
		DocumentText: documentText,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build prompt: %w", err)
	}

	reply, err := c.completer.Complete(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("interpretation failed: %w", err)
	}

	// Parse never fails; degraded replies yield generic interpretations.
	interpretation := interpret.Parse(reply)

	rec := &record.MedicalRecord{
		ID:             uuid.NewString(),
		OwnerID:        c.ownerID,
		Title:          state.draft.Title,
		RecordType:     state.draft.RecordType,
		FacilityName:   state.draft.FacilityName,
		VisitDate:      state.draft.VisitDate,
		Notes:          state.draft.Notes,
		Interpretation: &interpretation,
		CreatedAt:      time.Now().UTC(),
	}
	if obj != nil && state.file != nil {
		rec.Attachment = &record.Attachment{
			URL:       obj.URL,
			FileName:  state.file.Name,
			SizeBytes: obj.SizeBytes,
			MimeType:  state.file.MimeType,
		}
	}

	if err := c.repo.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to persist record: %w", err)
	}
	return rec, nil
}

// succeed applies the optimistic upsert and schedules auto-dismissal.
func (c *Controller) succeed(jobID string, rec *record.MedicalRecord) {
	c.cache.Upsert(rec)

	c.mu.Lock()
	state, ok := c.jobs[jobID]
	if ok {
		state.job.ResultRecord = rec
		state.dismiss = time.AfterFunc(c.config.AutoDismissDelay, func() {
			c.mu.Lock()
			c.removeLocked(jobID)
			c.mu.Unlock()
		})
	}
	c.mu.Unlock()

	c.logger.Info("Upload job succeeded",
		zap.String("job_id", jobID),
		zap.String("record_id", rec.ID))

	if c.notifier != nil && rec.Interpretation != nil && len(rec.Interpretation.AttentionIndicators) > 0 {
		go c.notifier.RecordFlagged(context.Background(), rec)
	}
}

// fail moves the job to the error state and retains it until the user
// cancels or retries. Jobs already dismissed stay gone.
func (c *Controller) fail(jobID string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	state, ok := c.jobs[jobID]
	if !ok {
		return
	}
	if fireErr := state.machine.Fire(upload.TriggerFail); fireErr != nil {
		c.logger.Error("Illegal failure transition",
			zap.String("job_id", jobID),
			zap.Error(fireErr))
		return
	}
	state.job.Status = upload.StatusError
	state.job.ErrorMessage = err.Error()

	c.logger.Warn("Upload job failed",
		zap.String("job_id", jobID),
		zap.Error(err))
}

// transition fires a trigger and mirrors the machine state onto the job
// snapshot. Returns false when the job is gone or the transition is
// rejected.
func (c *Controller) transition(jobID string, trigger upload.Trigger, to upload.Status) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	state, ok := c.jobs[jobID]
	if !ok {
		return false
	}
	if err := state.machine.Fire(trigger); err != nil {
		c.logger.Error("Rejected status transition",
			zap.String("job_id", jobID),
			zap.String("trigger", trigger.String()),
			zap.Error(err))
		return false
	}
	state.job.Status = to
	return true
}

func (c *Controller) setUploadProgress(jobID string, percent int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	state, ok := c.jobs[jobID]
	if !ok {
		return
	}
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	// Monotonic: late or duplicated callbacks never move the bar backwards.
	if percent > state.job.UploadProgress {
		state.job.UploadProgress = percent
	}
}

func (c *Controller) setProcessingProgress(jobID string, percent int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	state, ok := c.jobs[jobID]
	if !ok {
		return
	}
	if percent > 100 {
		percent = 100
	}
	if percent > state.job.ProcessingProgress {
		state.job.ProcessingProgress = percent
	}
}

// startProcessingTicks advances the processing axis toward 90 until
// stopped; completion sets the final 100.
func (c *Controller) startProcessingTicks(ctx context.Context, jobID string) func() {
	done := make(chan struct{})
	var once sync.Once

	go func() {
		ticker := time.NewTicker(c.config.ProcessingTick)
		defer ticker.Stop()

		percent := 0
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if percent < 90 {
					percent += 10
					c.setProcessingProgress(jobID, percent)
				}
			}
		}
	}()

	return func() { once.Do(func() { close(done) }) }
}

// cleanupBlob best-effort deletes an uploaded blob whose record never made
// it to the backend.
func (c *Controller) cleanupBlob(obj *blobstore.Object) {
	if err := c.blobs.Delete(context.Background(), obj.Path); err != nil {
		c.logger.Warn("Failed to clean up orphaned blob",
			zap.String("path", obj.Path),
			zap.Error(err))
	}
}

func (c *Controller) lookup(jobID string) (*jobState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	state, ok := c.jobs[jobID]
	return state, ok
}

// removeLocked drops a job from the active set. Callers hold c.mu.
func (c *Controller) removeLocked(jobID string) {
	state, ok := c.jobs[jobID]
	if !ok {
		return
	}
	if state.dismiss != nil {
		state.dismiss.Stop()
	}
	delete(c.jobs, jobID)
	for i, id := range c.order {
		if id == jobID {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}
