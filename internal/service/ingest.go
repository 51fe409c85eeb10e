package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/vektor-ai/vektor/internal/domain"
	"github.com/vektor-ai/vektor/internal/index"
	"github.com/vektor-ai/vektor/internal/progress"
)

// EmbeddingClient defines the interface for generating embeddings
type EmbeddingClient interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
}

// TextExtractor converts raw file bytes to plain text, by file type
type TextExtractor interface {
	Supported(filename string) bool
	Extract(filename string, data []byte) (string, error)
}

// ProgressSink receives per-upload progress events
type ProgressSink interface {
	Register(uploadID string)
	Publish(uploadID string, ev progress.Event)
	Release(uploadID string)
}

// RawFileStore archives raw uploaded files. Archival is best-effort and never
// fails an ingestion job.
type RawFileStore interface {
	Put(ctx context.Context, namespace, filename string, data []byte) error
}

// UUIDGenerator defines interface for UUID generation (for testing)
type UUIDGenerator interface {
	NewString() string
}

// DefaultUUIDGenerator is the default UUID generator using google/uuid
type DefaultUUIDGenerator struct{}

// NewString generates a new UUID string
func (g *DefaultUUIDGenerator) NewString() string {
	return uuid.NewString()
}

// IngestConfig tunes the ingestion pipeline.
type IngestConfig struct {
	Chunking ChunkConfig

	// EmbedConcurrency bounds parallel embedding calls within one job.
	EmbedConcurrency int

	// MaxRetries is the number of additional attempts for a failed
	// embed-or-index operation at single-chunk granularity.
	MaxRetries uint64

	// RetryInitialInterval seeds the exponential backoff between retries.
	RetryInitialInterval time.Duration

	// Retention is how long terminal jobs are kept before the janitor
	// purges them and releases their progress streams.
	Retention time.Duration

	// ContinueOnExtractError skips files whose text cannot be extracted
	// instead of failing the batch, reporting them in the terminal event.
	// Embedding and indexing errors always fail the whole job.
	ContinueOnExtractError bool
}

// DefaultIngestConfig provides sane pipeline defaults.
func DefaultIngestConfig() IngestConfig {
	return IngestConfig{
		Chunking:             DefaultChunkConfig(),
		EmbedConcurrency:     4,
		MaxRetries:           2,
		RetryInitialInterval: 200 * time.Millisecond,
		Retention:            60 * time.Second,
	}
}

// IngestionCoordinator owns the upload lifecycle: it validates batches,
// extracts and chunks document text, embeds chunks, writes passages to the
// vector index, and emits progress events. Each submitted job runs in its own
// goroutine and owns its UploadJob state exclusively.
type IngestionCoordinator struct {
	idx       index.VectorIndex
	embedder  EmbeddingClient
	extractor TextExtractor
	sink      ProgressSink
	rawStore  RawFileStore
	uuidGen   UUIDGenerator
	cfg       IngestConfig

	mu   sync.Mutex
	jobs map[string]*domain.UploadJob
}

// NewIngestionCoordinator creates a coordinator with default configuration.
func NewIngestionCoordinator(idx index.VectorIndex, embedder EmbeddingClient, extractor TextExtractor, sink ProgressSink) *IngestionCoordinator {
	return NewIngestionCoordinatorWithConfig(idx, embedder, extractor, sink, nil, DefaultIngestConfig())
}

// NewIngestionCoordinatorWithConfig creates a coordinator with explicit
// configuration and an optional raw-file archive.
func NewIngestionCoordinatorWithConfig(
	idx index.VectorIndex,
	embedder EmbeddingClient,
	extractor TextExtractor,
	sink ProgressSink,
	rawStore RawFileStore,
	cfg IngestConfig,
) *IngestionCoordinator {
	if cfg.EmbedConcurrency <= 0 {
		cfg.EmbedConcurrency = DefaultIngestConfig().EmbedConcurrency
	}
	if cfg.RetryInitialInterval <= 0 {
		cfg.RetryInitialInterval = DefaultIngestConfig().RetryInitialInterval
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultIngestConfig().Retention
	}
	if cfg.Chunking.MaxChars <= 0 {
		cfg.Chunking = DefaultChunkConfig()
	}
	return &IngestionCoordinator{
		idx:       idx,
		embedder:  embedder,
		extractor: extractor,
		sink:      sink,
		rawStore:  rawStore,
		uuidGen:   &DefaultUUIDGenerator{},
		cfg:       cfg,
		jobs:      make(map[string]*domain.UploadJob),
	}
}

// Submit validates the batch and starts asynchronous ingestion, returning the
// upload ID immediately. The whole batch is rejected before any processing if
// any file has an unsupported extension or no content.
func (c *IngestionCoordinator) Submit(ctx context.Context, files []domain.UploadFile, namespace string) (string, error) {
	if len(files) == 0 {
		return "", domain.ErrEmptyBatch
	}
	if namespace == "" {
		namespace = domain.DefaultNamespace
	}

	for _, f := range files {
		if !c.extractor.Supported(f.Filename) {
			return "", domain.NewUnsupportedFileTypeError(f.Filename)
		}
		if len(f.Data) == 0 {
			return "", domain.NewDomainErrorWithCause(domain.ErrCodeValidation,
				domain.ErrEmptyFileContent.Message, fmt.Errorf("file %s", f.Filename))
		}
	}

	now := time.Now().UTC()
	job := &domain.UploadJob{
		ID:        c.uuidGen.NewString(),
		Namespace: namespace,
		Files:     files,
		State:     domain.UploadStateQueued,
		Progress:  domain.Progress{Phase: domain.PhaseUpload, Percent: 0},
		CreatedAt: now,
		UpdatedAt: now,
	}

	c.mu.Lock()
	c.jobs[job.ID] = job
	c.mu.Unlock()
	c.sink.Register(job.ID)

	go c.run(job)

	return job.ID, nil
}

// GetJob returns a snapshot of an upload job's state.
func (c *IngestionCoordinator) GetJob(uploadID string) (*domain.UploadJob, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	job, ok := c.jobs[uploadID]
	if !ok {
		return nil, domain.ErrUploadNotFound
	}
	snapshot := *job
	snapshot.FailedFiles = append([]string(nil), job.FailedFiles...)
	return &snapshot, nil
}

// PurgeTerminal removes terminal jobs older than the retention window and
// releases their progress streams, returning the number purged.
func (c *IngestionCoordinator) PurgeTerminal(olderThan time.Duration) int {
	cutoff := time.Now().UTC().Add(-olderThan)

	c.mu.Lock()
	var purged []string
	for id, job := range c.jobs {
		if job.State.Terminal() && job.UpdatedAt.Before(cutoff) {
			delete(c.jobs, id)
			purged = append(purged, id)
		}
	}
	c.mu.Unlock()

	for _, id := range purged {
		c.sink.Release(id)
	}
	return len(purged)
}

// Retention returns the configured retention window for terminal jobs.
func (c *IngestionCoordinator) Retention() time.Duration {
	return c.cfg.Retention
}

// chunkTask is one unit of embed-and-index work within a job.
type chunkTask struct {
	filename string
	text     string
	position int
}

// run executes one ingestion job to completion. It deliberately uses a
// background context: ingestion is not tied to the submitting request or to
// the presence of a progress listener.
func (c *IngestionCoordinator) run(job *domain.UploadJob) {
	ctx := context.Background()

	c.transition(job, domain.UploadStateUploading)
	c.receiveFiles(ctx, job)

	c.transition(job, domain.UploadStateProcessing)

	tasks, failedFiles, err := c.prepareChunks(job)
	if err != nil {
		c.fail(job, failedFiles, err)
		return
	}

	written, err := c.embedAndIndex(ctx, job, tasks)
	if err != nil {
		c.rollback(ctx, job, written)
		c.fail(job, failedFiles, err)
		return
	}

	c.setProgress(job, domain.PhaseProcessing, 100)
	c.mu.Lock()
	job.FailedFiles = failedFiles
	c.mu.Unlock()
	c.transition(job, domain.UploadStateCompleted)
	c.publish(job)
	log.Printf("upload %s completed: %d passages indexed across %d files", job.ID, len(written), len(job.Files))
}

// receiveFiles reports byte-level upload progress and archives raw files when
// an archive is configured.
func (c *IngestionCoordinator) receiveFiles(ctx context.Context, job *domain.UploadJob) {
	var total, received int64
	for _, f := range job.Files {
		total += int64(len(f.Data))
	}

	for _, f := range job.Files {
		if c.rawStore != nil {
			if err := c.rawStore.Put(ctx, job.Namespace, f.Filename, f.Data); err != nil {
				log.Printf("upload %s: failed to archive %s: %v", job.ID, f.Filename, err)
			}
		}
		received += int64(len(f.Data))
		percent := int(received * 100 / total)
		c.setProgress(job, domain.PhaseUpload, percent)
		c.publish(job)
	}
}

// prepareChunks extracts and chunks every file in the batch up front so the
// processing-phase denominator (total chunks) is known before embedding starts.
func (c *IngestionCoordinator) prepareChunks(job *domain.UploadJob) ([]chunkTask, []string, error) {
	var tasks []chunkTask
	var failedFiles []string

	position := 0
	for _, f := range job.Files {
		text, err := c.extractor.Extract(f.Filename, f.Data)
		if err == nil && text == "" {
			err = fmt.Errorf("file %s contains no extractable text", f.Filename)
		}

		var chunks []string
		if err == nil {
			chunks, err = ChunkText(text, c.cfg.Chunking)
			if err == nil && len(chunks) == 0 {
				err = fmt.Errorf("file %s produced no chunks", f.Filename)
			}
		}

		if err != nil {
			if c.cfg.ContinueOnExtractError {
				log.Printf("upload %s: skipping %s: %v", job.ID, f.Filename, err)
				failedFiles = append(failedFiles, f.Filename)
				continue
			}
			return nil, nil, domain.NewExtractionError(f.Filename, err)
		}

		for _, chunk := range chunks {
			tasks = append(tasks, chunkTask{filename: f.Filename, text: chunk, position: position})
			position++
		}
	}

	if len(tasks) == 0 {
		return nil, failedFiles, domain.NewDomainErrorWithCause(domain.ErrCodeExtraction,
			"no file in the batch yielded extractable text",
			fmt.Errorf("%d of %d files failed", len(failedFiles), len(job.Files)))
	}
	return tasks, failedFiles, nil
}

// embedAndIndex runs the embed-and-upsert pipeline over all chunk tasks with
// bounded concurrency, returning the IDs written so far. On error the caller
// rolls those IDs back.
func (c *IngestionCoordinator) embedAndIndex(ctx context.Context, job *domain.UploadJob, tasks []chunkTask) ([]string, error) {
	var (
		mu      sync.Mutex
		written []string
		done    int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.EmbedConcurrency)

	for _, task := range tasks {
		g.Go(func() error {
			passage, err := c.processChunk(gctx, job, task)
			if err != nil {
				return err
			}

			mu.Lock()
			written = append(written, passage.ID)
			done++
			percent := done * 100 / len(tasks)
			if percent > 99 {
				percent = 99 // terminal 100 is published with the completed state
			}
			c.setProgress(job, domain.PhaseProcessing, percent)
			c.publish(job)
			mu.Unlock()
			return nil
		})
	}

	err := g.Wait()
	return written, err
}

// processChunk embeds one chunk and upserts the resulting passage, retrying
// transient failures with exponential backoff.
func (c *IngestionCoordinator) processChunk(ctx context.Context, job *domain.UploadJob, task chunkTask) (*domain.Passage, error) {
	var passage *domain.Passage

	op := func() error {
		embedding, err := c.embedder.GenerateEmbedding(ctx, task.text)
		if err != nil {
			return err
		}

		p := &domain.Passage{
			ID:         c.uuidGen.NewString(),
			Content:    task.text,
			SourceFile: task.filename,
			Namespace:  job.Namespace,
			Embedding:  embedding,
			Meta: domain.Meta{
				"chunk_index": domain.MetaNumber(float64(task.position)),
			},
		}
		if err := c.idx.Upsert(ctx, p); err != nil {
			var domainErr *domain.DomainError
			if errors.As(err, &domainErr) {
				if domainErr.Code == domain.ErrCodeValidation ||
					domainErr.Message == domain.ErrDimensionMismatch.Message {
					// Malformed passage or wrong dimensions, retrying cannot help.
					return backoff.Permanent(err)
				}
			}
			return err
		}
		passage = p
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(newExponentialBackoff(c.cfg.RetryInitialInterval), c.cfg.MaxRetries),
		ctx,
	)
	if err := backoff.Retry(op, policy); err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeEmbedding,
			fmt.Sprintf("failed to embed and index chunk %d of %s", task.position, task.filename), err)
	}
	return passage, nil
}

// rollback deletes every passage the job wrote, restoring the index to its
// pre-job state for this upload.
func (c *IngestionCoordinator) rollback(ctx context.Context, job *domain.UploadJob, written []string) {
	if len(written) == 0 {
		return
	}
	sort.Strings(written)
	removed, err := c.idx.DeleteByIDs(ctx, written)
	if err != nil {
		log.Printf("upload %s: rollback failed for %d passages: %v", job.ID, len(written), err)
		return
	}
	log.Printf("upload %s: rolled back %d passages", job.ID, removed)
}

func (c *IngestionCoordinator) fail(job *domain.UploadJob, failedFiles []string, err error) {
	c.mu.Lock()
	job.Error = err.Error()
	job.FailedFiles = failedFiles
	c.mu.Unlock()
	c.transition(job, domain.UploadStateFailed)
	c.publish(job)
	log.Printf("upload %s failed: %v", job.ID, err)
}

func (c *IngestionCoordinator) transition(job *domain.UploadJob, next domain.UploadState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := job.Transition(next); err != nil {
		log.Printf("upload %s: %v", job.ID, err)
	}
}

func (c *IngestionCoordinator) setProgress(job *domain.UploadJob, phase domain.Phase, percent int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	job.Progress = domain.Progress{Phase: phase, Percent: percent}
	job.UpdatedAt = time.Now().UTC()
}

func (c *IngestionCoordinator) publish(job *domain.UploadJob) {
	c.mu.Lock()
	ev := progress.Event{
		Phase:       job.Progress.Phase,
		Percent:     job.Progress.Percent,
		State:       job.State,
		Error:       job.Error,
		FailedFiles: append([]string(nil), job.FailedFiles...),
	}
	c.mu.Unlock()
	c.sink.Publish(job.ID, ev)
}

func newExponentialBackoff(initial time.Duration) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	return b
}
