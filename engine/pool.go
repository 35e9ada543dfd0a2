package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/rs/zerolog"

	"github.com/megacli/megadl/mega"
)

// Pool implements C7: a bounded worker pool over Downloads, dispatching up
// to cfg.MaxWorkers of them at once, each in turn fanning out over up to
// cfg.ConcurrencyBudget byte ranges via the Downloader (spec §4.7 two-level
// concurrency model). Admission is dynamic: Submit may be called any time
// after Run starts, and a newly-submitted Download is picked up as soon as
// a worker slot frees.
type Pool struct {
	downloader *Downloader
	sem        *semaphore.Weighted
	fanout     int

	queueMu   sync.Mutex
	queueCond *sync.Cond
	queue     []*Download

	activeMu sync.Mutex
	active   map[string]*Download

	events chan Event
	doneCh chan struct{}

	cancelAll atomic.Bool
	wg        sync.WaitGroup
	log       zerolog.Logger
	metrics   *Metrics
}

// NewPool builds a Pool bound to client, honoring cfg's worker and per-file
// concurrency budgets.
func NewPool(cfg mega.Config, client *mega.Client, log zerolog.Logger, metrics *Metrics) *Pool {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	p := &Pool{
		downloader: NewDownloader(client, cfg, log, metrics),
		sem:        semaphore.NewWeighted(int64(cfg.MaxWorkers)),
		fanout:     cfg.ConcurrencyBudget,
		active:     make(map[string]*Download),
		events:     make(chan Event, 256),
		doneCh:     make(chan struct{}),
		log:        log,
		metrics:    metrics,
	}
	p.queueCond = sync.NewCond(&p.queueMu)
	return p
}

// Events returns the channel the pool publishes lifecycle notifications on
// (spec §4.8). Consumers must drain it; a full buffer backpressures workers
// emitting events.
func (p *Pool) Events() <-chan Event {
	return p.events
}

// Submit enqueues a Download for processing. Safe to call before or after
// Run, and safe to call concurrently with itself.
func (p *Pool) Submit(dl *Download) {
	p.queueMu.Lock()
	p.queue = append(p.queue, dl)
	p.queueCond.Signal()
	p.queueMu.Unlock()
}

// Run dispatches queued Downloads until ctx is cancelled or CancelAll is
// called, blocking the calling goroutine. Each dispatched Download runs in
// its own goroutine, gated by the pool's worker semaphore.
func (p *Pool) Run(ctx context.Context) {
	go func() {
		<-ctx.Done()
		p.queueMu.Lock()
		p.queueCond.Broadcast()
		p.queueMu.Unlock()
	}()

	for {
		dl := p.popNext(ctx)
		if dl == nil {
			break
		}

		if err := p.sem.Acquire(ctx, 1); err != nil {
			break
		}
		p.wg.Add(1)
		go p.runOne(ctx, dl)
	}

	p.wg.Wait()
	p.emit(Event{Type: EventFinished})
}

// popNext blocks until a queued Download is available, cancelAll is set,
// or ctx is done, returning nil in the latter two cases.
func (p *Pool) popNext(ctx context.Context) *Download {
	p.queueMu.Lock()
	defer p.queueMu.Unlock()
	for len(p.queue) == 0 {
		if p.cancelAll.Load() || ctx.Err() != nil {
			return nil
		}
		p.queueCond.Wait()
	}
	if p.cancelAll.Load() || ctx.Err() != nil {
		return nil
	}
	dl := p.queue[0]
	p.queue = p.queue[1:]
	return dl
}

func (p *Pool) runOne(ctx context.Context, dl *Download) {
	defer p.wg.Done()
	defer p.sem.Release(1)

	// Each Download gets its own cancelable context, derived from the
	// pool's, so Cancel()/CancelAll() can abort this one task's in-flight
	// HTTP reads without touching siblings still running under ctx.
	dlCtx, cancel := context.WithCancel(ctx)
	dl.bindCancel(cancel)
	defer cancel()

	p.activeMu.Lock()
	p.active[dl.Node.Handle] = dl
	p.activeMu.Unlock()
	p.metrics.ActiveDownloads.Inc()

	dl.state.Store(int32(StateActive))
	dl.startSpeedSampler()
	p.emit(Event{Type: EventActive, Download: dl})

	err := p.downloader.Download(dlCtx, dl, p.fanout)

	dl.stopSpeedSampler()
	p.activeMu.Lock()
	delete(p.active, dl.Node.Handle)
	p.activeMu.Unlock()
	p.metrics.ActiveDownloads.Dec()

	switch {
	case errors.Is(err, mega.ECANCELLED) || dl.IsCancelled():
		dl.state.Store(int32(StateCancelled))
		err = nil
	case err != nil:
		dl.setErr(err)
		dl.state.Store(int32(StateFailed))
		p.metrics.DownloadErrors.Inc()
		p.emit(Event{Type: EventError, Download: dl, Err: err})
	default:
		dl.state.Store(int32(StateDone))
		p.metrics.FilesCompleted.Inc()
	}

	p.emit(Event{Type: EventInactive, Download: dl, Err: err})
}

// emit publishes ev, backpressuring the caller until it's drained or the
// pool is shut down.
func (p *Pool) emit(ev Event) {
	select {
	case p.events <- ev:
	case <-p.doneCh:
	}
}

// PauseAll pauses every currently active Download (spec §4.8).
func (p *Pool) PauseAll() {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	for _, dl := range p.active {
		dl.Pause()
	}
}

// ResumeAll resumes every currently active Download.
func (p *Pool) ResumeAll() {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	for _, dl := range p.active {
		dl.Resume()
	}
}

// CancelAll drains the pending queue and cancels every active Download
// (spec §4.8). The pool stops dispatching new work; Run returns once all
// in-flight Downloads have unwound.
func (p *Pool) CancelAll() {
	p.cancelAll.Store(true)

	p.queueMu.Lock()
	drained := p.queue
	p.queue = nil
	p.queueCond.Broadcast()
	p.queueMu.Unlock()
	for _, dl := range drained {
		dl.cancelled.Store(true)
		dl.state.Store(int32(StateCancelled))
	}

	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	for _, dl := range p.active {
		dl.Cancel()
	}
}

// Shutdown stops the pool from accepting further dispatch and closes its
// event channel once Run has returned. Call after Run's goroutine exits
// (e.g. following CancelAll or ctx cancellation).
func (p *Pool) Shutdown() {
	close(p.doneCh)
	close(p.events)
}

// ActiveCount returns the number of Downloads currently being processed.
func (p *Pool) ActiveCount() int {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	return len(p.active)
}
