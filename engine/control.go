package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/VividCortex/ewma"

	"github.com/megacli/megadl/mega"
)

// State is a Download's lifecycle stage (spec §3, §4.8).
type State int32

const (
	StateQueued State = iota
	StateActive
	StatePaused
	StateDone
	StateCancelled
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateQueued:
		return "queued"
	case StateActive:
		return "active"
	case StatePaused:
		return "paused"
	case StateDone:
		return "done"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Download is a single file's download task (spec §3). It is exclusively
// mutated by whichever worker goroutine currently owns it; its atomics and
// the control methods below are safe to call concurrently from the pool's
// dispatcher or an external caller (CLI/UI) issuing pause/resume/cancel.
type Download struct {
	Node    *mega.Node
	DestDir string
	RelPath string // node-tree path, mirrored under DestDir

	downloaded atomic.Int64
	state      atomic.Int32
	paused     atomic.Bool
	cancelled  atomic.Bool

	mu         sync.Mutex
	resumeCond *sync.Cond

	cancelMu sync.Mutex
	cancelFn context.CancelFunc

	speedMu     sync.Mutex
	speedAvg    ewma.MovingAverage
	lastSampled int64
	lastSample  time.Time
	sampleDone  chan struct{}

	lastErr atomic.Value // error
}

// NewDownload builds a queued Download for node, to be written under
// destDir/relPath.
func NewDownload(node *mega.Node, destDir, relPath string) *Download {
	d := &Download{
		Node:     node,
		DestDir:  destDir,
		RelPath:  relPath,
		speedAvg: ewma.NewMovingAverage(),
	}
	d.resumeCond = sync.NewCond(&d.mu)
	d.state.Store(int32(StateQueued))
	return d
}

// State returns the Download's current lifecycle stage.
func (d *Download) State() State {
	return State(d.state.Load())
}

// Downloaded returns the number of bytes written so far.
func (d *Download) Downloaded() int64 {
	return d.downloaded.Load()
}

// Progress returns the fraction of bytes written, in [0, 1]. A zero-size
// file reports 1 once Done.
func (d *Download) Progress() float64 {
	size := d.Node.Size
	if size <= 0 {
		if d.State() == StateDone {
			return 1
		}
		return 0
	}
	return float64(d.downloaded.Load()) / float64(size)
}

// SpeedBytesPerSec returns the most recent EWMA-smoothed transfer rate.
func (d *Download) SpeedBytesPerSec() float64 {
	d.speedMu.Lock()
	defer d.speedMu.Unlock()
	return d.speedAvg.Value()
}

// IsPaused reports whether the task is currently paused.
func (d *Download) IsPaused() bool {
	return d.paused.Load()
}

// IsCancelled reports whether the task has been cancelled.
func (d *Download) IsCancelled() bool {
	return d.cancelled.Load()
}

// Pause requests that the task suspend issuing new range fetches (spec
// §4.6, §4.8). In-flight range requests are allowed to finish; the next
// range boundary blocks until Resume or Cancel.
func (d *Download) Pause() {
	if d.paused.CompareAndSwap(false, true) {
		if State(d.state.Load()) == StateActive {
			d.state.Store(int32(StatePaused))
		}
	}
}

// Resume clears a pause and wakes any worker blocked in waitIfPaused.
func (d *Download) Resume() {
	if d.paused.CompareAndSwap(true, false) {
		d.mu.Lock()
		if State(d.state.Load()) == StatePaused {
			d.state.Store(int32(StateActive))
		}
		d.resumeCond.Broadcast()
		d.mu.Unlock()
	}
}

// Cancel requests that the task stop permanently; unlike Pause it can never
// be undone (spec §4.8). Any in-flight range fetch bound via bindCancel has
// its context cancelled too, aborting the response stream it's reading
// instead of letting it drain to completion (spec §5(ii), invariant 7).
func (d *Download) Cancel() {
	d.cancelled.Store(true)

	d.cancelMu.Lock()
	cancel := d.cancelFn
	d.cancelMu.Unlock()
	if cancel != nil {
		cancel()
	}

	d.mu.Lock()
	d.resumeCond.Broadcast()
	d.mu.Unlock()
}

// bindCancel records the CancelFunc for the context this Download is
// currently running under, so a later Cancel can abort in-flight I/O. The
// pool calls this once per dispatch, before starting the downloader.
func (d *Download) bindCancel(cancel context.CancelFunc) {
	d.cancelMu.Lock()
	d.cancelFn = cancel
	d.cancelMu.Unlock()
}

// waitIfPaused blocks the calling goroutine (a range worker) on resumeCond
// while the task is paused, waking it immediately on Resume or Cancel. This
// is a condition-variable wait, not a spin loop (spec §9 "no busy-waiting").
func (d *Download) waitIfPaused() {
	d.mu.Lock()
	for d.paused.Load() && !d.cancelled.Load() {
		d.resumeCond.Wait()
	}
	d.mu.Unlock()
}

// addBytes records n newly-written bytes toward the progress total.
func (d *Download) addBytes(n int64) {
	d.downloaded.Add(n)
}

// setErr records the terminal error for LastError.
func (d *Download) setErr(err error) {
	if err != nil {
		d.lastErr.Store(err)
	}
}

// LastError returns the error that failed the task, if any.
func (d *Download) LastError() error {
	err, _ := d.lastErr.Load().(error)
	return err
}

// startSpeedSampler launches a background ticker that samples the byte
// delta every 500ms and feeds it to the EWMA, grounded on the instantaneous-
// rate-then-smooth pattern the examples' speed trackers use. It runs until
// stopSpeedSampler closes sampleDone.
func (d *Download) startSpeedSampler() {
	d.speedMu.Lock()
	d.sampleDone = make(chan struct{})
	d.lastSample = time.Now()
	done := d.sampleDone
	d.speedMu.Unlock()

	go func() {
		ticker := time.NewTicker(500 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case now := <-ticker.C:
				d.speedMu.Lock()
				cur := d.downloaded.Load()
				elapsed := now.Sub(d.lastSample).Seconds()
				if elapsed > 0 {
					rate := float64(cur-d.lastSampled) / elapsed
					d.speedAvg.Add(rate)
				}
				d.lastSampled = cur
				d.lastSample = now
				d.speedMu.Unlock()
			}
		}
	}()
}

// stopSpeedSampler stops the background sampler goroutine started by
// startSpeedSampler.
func (d *Download) stopSpeedSampler() {
	d.speedMu.Lock()
	done := d.sampleDone
	d.speedMu.Unlock()
	if done != nil {
		close(done)
	}
}

// EventType distinguishes the lifecycle notifications the pool emits
// (spec §4.8).
type EventType int

const (
	EventActive EventType = iota
	EventInactive
	EventError
	EventFinished
)

// Event is one control/progress notification emitted by the pool.
type Event struct {
	Type     EventType
	Download *Download
	Err      error
}
