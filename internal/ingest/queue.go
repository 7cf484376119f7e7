package ingest

import (
	"context"
	"math/rand"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	logging "github.com/ipfs/go-log/v2"

	"github.com/lumen-network/lumen-gateway/internal/apperr"
	"github.com/lumen-network/lumen-gateway/internal/events"
	"github.com/lumen-network/lumen-gateway/internal/kubo"
	"github.com/lumen-network/lumen-gateway/internal/walletdb"
)

var log = logging.Logger("gateway/ingest")

const (
	// Per-job import delay bounds. The jitter decorrelates import load
	// from upload bursts.
	minImportDelay = 100 * time.Millisecond
	maxImportDelay = 5000 * time.Millisecond

	queueDepth = 1024
)

// Job is one spooled upload awaiting import.
type Job struct {
	ID            string
	Wallet        string
	PlanID        string
	DisplayName   string
	SpoolPath     string
	UploadedBytes int64
	ContentType   string
	EnqueuedAt    time.Time
}

// Pipeline owns the upload queue and its single import worker. Jobs run
// FIFO; once a job is enqueued (and the 200 sent) it is committed and no
// client cancellation can abort it.
type Pipeline struct {
	kubo    *kubo.Client
	store   *walletdb.Store
	emitter *events.Emitter

	Tokens *TokenStore
	Spool  *Spooler

	jobs chan Job
	wg   sync.WaitGroup

	mu    sync.Mutex
	rng   *rand.Rand
	delay func() time.Duration
}

// NewPipeline wires the pipeline's dependencies.
func NewPipeline(kc *kubo.Client, store *walletdb.Store, emitter *events.Emitter, spool *Spooler) *Pipeline {
	p := &Pipeline{
		kubo:    kc,
		store:   store,
		emitter: emitter,
		Tokens:  NewTokenStore(),
		Spool:   spool,
		jobs:    make(chan Job, queueDepth),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	p.delay = p.importDelay
	return p
}

// Enqueue commits a spooled upload for import and returns its job id.
func (p *Pipeline) Enqueue(job Job) (string, error) {
	job.ID = uuid.NewString()
	job.EnqueuedAt = time.Now()
	select {
	case p.jobs <- job:
		log.Infow("ingest job queued", "job", job.ID, "wallet", job.Wallet, "bytes", job.UploadedBytes)
		return job.ID, nil
	default:
		// Full queue: fail the request rather than block the handler;
		// the spool file goes away with the failed request.
		_ = p.Spool.Remove(job.SpoolPath)
		return "", apperr.New(apperr.KindInternal, "ingest queue is full")
	}
}

// QueueDepth reports jobs waiting for the worker.
func (p *Pipeline) QueueDepth() int { return len(p.jobs) }

// Start launches the single FIFO worker. It drains until ctx is canceled.
func (p *Pipeline) Start(ctx context.Context) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case job := <-p.jobs:
				p.process(ctx, job)
			}
		}
	}()
}

// Wait blocks until the worker has exited.
func (p *Pipeline) Wait() { p.wg.Wait() }

// process imports one spooled CAR. The spool file is removed on every
// exit path; a failed import consumes the job (clients re-upload).
func (p *Pipeline) process(ctx context.Context, job Job) {
	defer func() {
		if err := p.Spool.Remove(job.SpoolPath); err != nil {
			log.Warnw("spool cleanup failed", "job", job.ID, "path", job.SpoolPath, "err", err)
		}
	}()

	select {
	case <-time.After(p.delay()):
	case <-ctx.Done():
		return
	}

	f, err := os.Open(job.SpoolPath)
	if err != nil {
		log.Errorw("spool file vanished before import", "job", job.ID, "err", err)
		return
	}
	roots, err := p.kubo.DagImport(ctx, f)
	f.Close()
	if err != nil {
		log.Warnw("dag import failed, job consumed", "job", job.ID, "wallet", job.Wallet, "err", err)
		return
	}

	if err := p.store.AddOrUpdateWalletRoots(ctx, job.Wallet, roots, job.UploadedBytes); err != nil {
		log.Errorw("wallet roots update failed", "job", job.ID, "err", err)
	}
	if job.DisplayName != "" {
		for _, root := range roots {
			if err := p.store.SetDisplayName(ctx, job.Wallet, root, job.DisplayName); err != nil {
				log.Warnw("display name write failed", "job", job.ID, "root", root, "err", err)
			}
		}
	}

	p.emitter.EmitIngest(job.Wallet, job.PlanID, job.UploadedBytes, roots)
	log.Infow("ingest job imported", "job", job.ID, "wallet", job.Wallet, "roots", len(roots))
}

// importDelay draws an unbiased uniform delay in [minImportDelay, maxImportDelay].
func (p *Pipeline) importDelay() time.Duration {
	span := int64(maxImportDelay - minImportDelay)
	p.mu.Lock()
	d := p.rng.Int63n(span + 1)
	p.mu.Unlock()
	return minImportDelay + time.Duration(d)
}
