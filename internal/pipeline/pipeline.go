package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"log/slog"

	"github.com/jnoonan94/ccd-intro/internal/logging"
	"github.com/jnoonan94/ccd-intro/internal/solve"
	"github.com/jnoonan94/ccd-intro/internal/storage"
)

// Job represents a single plate-solve request.
type Job struct {
	ID   string
	File string
	RA   float64
	Dec  float64
}

// Result captures the outcome of a Job.
type Result struct {
	Job    Job
	Solve  *solve.Result
	Error  error
	Meta   map[string]any
	Elapse time.Duration
}

// Solver runs one plate solve. *solve.Assigner satisfies it.
type Solver interface {
	AssignWCS(ctx context.Context, imagePath string, centerRA, centerDec float64) (*solve.Result, error)
}

// Pipeline dispatches solve jobs to workers and fans out results.
type Pipeline struct {
	solver    Solver
	log       *slog.Logger
	jobs      chan Job
	wg        sync.WaitGroup
	cancel    context.CancelFunc
	startOnce sync.Once
	stopOnce  sync.Once
	store     *storage.Store
	mu        sync.Mutex
	subs      map[int]chan Result
	nextSubID int
}

// New creates a Pipeline with the given concurrency.
func New(ctx context.Context, concurrency int, solver Solver, logger *slog.Logger, store *storage.Store) *Pipeline {
	if concurrency < 1 {
		concurrency = 1
	}

	ctx, cancel := context.WithCancel(ctx)
	p := &Pipeline{
		solver: solver,
		log:    logger,
		jobs:   make(chan Job, concurrency*2),
		cancel: cancel,
		store:  store,
		subs:   make(map[int]chan Result),
	}

	p.startOnce.Do(func() {
		for i := 0; i < concurrency; i++ {
			p.wg.Add(1)
			go p.worker(ctx, i)
		}
	})

	return p
}

// Submit adds a job to the processing queue. The job is recorded before
// the enqueue so a worker can never observe an unrecorded job; a rejected
// submission removes the row again and leaves no trace.
func (p *Pipeline) Submit(job Job) error {
	if p.store != nil {
		_ = p.store.RecordJobQueued(storage.JobRecord{
			ID:        job.ID,
			JobType:   "solve",
			Status:    "queued",
			InputPath: job.File,
			RADeg:     job.RA,
			DecDeg:    job.Dec,
		})
	}

	select {
	case p.jobs <- job:
		return nil
	default:
		if p.store != nil {
			_ = p.store.DeleteJob(job.ID)
		}
		return errors.New("job queue is full")
	}
}

// Stop signals workers to exit and waits for completion.
func (p *Pipeline) Stop() {
	p.stopOnce.Do(func() {
		p.cancel()
		close(p.jobs)
		p.wg.Wait()
		p.mu.Lock()
		for id, ch := range p.subs {
			close(ch)
			delete(p.subs, id)
		}
		p.mu.Unlock()
	})
}

func (p *Pipeline) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-p.jobs:
			if !ok {
				return
			}
			start := time.Now()

			logging.LogSolveStart(p.log, job.ID, job.File, job.RA, job.Dec)

			if p.store != nil {
				_ = p.store.RecordJobStart(job.ID)
			}
			res, err := p.solver.AssignWCS(ctx, job.File, job.RA, job.Dec)
			duration := time.Since(start)

			out := Result{Job: job, Solve: res, Error: err, Elapse: duration}
			if res != nil {
				out.Meta = res.Meta()
			}

			if err != nil {
				logging.LogSolveError(p.log, job.ID, job.File, duration, err)
				if p.store != nil {
					_ = p.store.RecordJobResult(job.ID, "failed", "", storage.SolveStats{}, out.Meta, err.Error())
				}
			} else {
				logging.LogSolveComplete(p.log, job.ID, res.OutputPath, duration, out.Meta)
				if p.store != nil {
					_ = p.store.RecordJobResult(job.ID, "completed", res.OutputPath, storage.SolveStats{
						Detections:  res.Detections,
						CatalogRows: res.CatalogRows,
						Pairs:       res.Pairs,
						RMSArcsec:   res.RMSArcsec,
					}, out.Meta, "")
				}
			}

			p.broadcast(out)
		}
	}
}

// Subscribe returns a channel for receiving job results and an unsubscribe function.
func (p *Pipeline) Subscribe() (<-chan Result, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextSubID
	p.nextSubID++
	ch := make(chan Result, 8)
	p.subs[id] = ch
	unsub := func() {
		p.mu.Lock()
		if c, ok := p.subs[id]; ok {
			close(c)
			delete(p.subs, id)
		}
		p.mu.Unlock()
	}
	return ch, unsub
}

func (p *Pipeline) broadcast(res Result) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, ch := range p.subs {
		select {
		case ch <- res:
		default:
			p.log.Warn("result channel full", "subscriber", id, "job", res.Job.ID)
		}
	}
}
