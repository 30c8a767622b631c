package adsb

import (
	"context"
	"sync"
	"time"

	"github.com/yegors/sbs-radar/pkg/logger"
	"go.uber.org/multierr"
)

const recorderWriteTimeout = 10 * time.Second

type saveKind int

const (
	saveUpdate saveKind = iota
	saveFinal
)

type saveJob struct {
	kind     saveKind
	aircraft Aircraft
}

// Recorder persists store updates. It decides what to save in memory and hands
// the writes to a single background goroutine, so the ingestion path never
// waits on storage.
type Recorder struct {
	storage      Storage
	saveInterval time.Duration
	enabled      bool
	logger       *logger.Logger

	mu        sync.Mutex
	cond      *sync.Cond
	queue     []saveJob
	lastSaved map[string]Aircraft
	closed    bool
	drainErr  error
	saved     int64
	failed    int64

	done chan struct{}
}

// NewRecorder creates a recorder and starts its writer. A disabled recorder
// (used while replaying) accepts notifications and writes nothing.
func NewRecorder(storage Storage, saveInterval time.Duration, enabled bool, log *logger.Logger) *Recorder {
	r := &Recorder{
		storage:      storage,
		saveInterval: saveInterval,
		enabled:      enabled,
		logger:       log.Named("adsb-rec"),
		lastSaved:    make(map[string]Aircraft),
		done:         make(chan struct{}),
	}
	r.cond = sync.NewCond(&r.mu)

	go r.writeLoop()
	return r
}

// OnUpdated queues a save when the record has a position and either nothing was
// saved for it yet, the last save is older than the save interval, or the
// position moved.
func (r *Recorder) OnUpdated(a Aircraft) {
	if !r.enabled || !a.HasPosition() {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}

	last, ok := r.lastSaved[a.ICAO]
	if ok && !r.shouldSave(last, a) {
		return
	}

	r.lastSaved[a.ICAO] = a
	r.enqueueLocked(saveJob{kind: saveUpdate, aircraft: a})
}

// OnRemoved forgets the aircraft and queues a final save, which the writer
// skips when the position matches the last stored row
func (r *Recorder) OnRemoved(a Aircraft) {
	if !r.enabled {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.lastSaved, a.ICAO)
	if r.closed || !a.HasPosition() {
		return
	}
	r.enqueueLocked(saveJob{kind: saveFinal, aircraft: a})
}

func (r *Recorder) shouldSave(last, next Aircraft) bool {
	if next.UpdatedAt.Sub(last.UpdatedAt) > r.saveInterval {
		return true
	}
	return positionChanged(last, next)
}

func positionChanged(a, b Aircraft) bool {
	if !a.HasPosition() || !b.HasPosition() {
		return a.HasPosition() != b.HasPosition()
	}
	return *a.Lat != *b.Lat || *a.Lon != *b.Lon
}

func (r *Recorder) enqueueLocked(job saveJob) {
	r.queue = append(r.queue, job)
	r.cond.Signal()
}

// Pending returns the number of queued writes
func (r *Recorder) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue)
}

// Stats returns the number of successful and failed writes
func (r *Recorder) Stats() (saved, failed int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.saved, r.failed
}

func (r *Recorder) writeLoop() {
	defer close(r.done)

	for {
		r.mu.Lock()
		for len(r.queue) == 0 && !r.closed {
			r.cond.Wait()
		}
		if len(r.queue) == 0 && r.closed {
			r.mu.Unlock()
			return
		}
		job := r.queue[0]
		r.queue[0] = saveJob{}
		r.queue = r.queue[1:]
		draining := r.closed
		r.mu.Unlock()

		err := r.write(job)

		r.mu.Lock()
		if err != nil {
			r.failed++
			if draining {
				r.drainErr = multierr.Append(r.drainErr, err)
			}
		} else {
			r.saved++
		}
		r.mu.Unlock()
	}
}

func (r *Recorder) write(job saveJob) error {
	ctx, cancel := context.WithTimeout(context.Background(), recorderWriteTimeout)
	defer cancel()

	a := job.aircraft
	if job.kind == saveFinal {
		last, err := r.storage.GetLastReport(ctx, a.ICAO)
		if err != nil {
			r.logger.Error("Failed to load last report", logger.String("icao", a.ICAO), logger.Error(err))
			return err
		}
		if last != nil && !positionChanged(last.Aircraft, a) {
			return nil
		}
	}

	if _, err := r.storage.SaveReport(ctx, a); err != nil {
		r.logger.Error("Failed to save aircraft", logger.String("icao", a.ICAO), logger.Error(err))
		return err
	}
	return nil
}

// Close stops accepting notifications, writes everything still queued and
// returns the errors hit while draining
func (r *Recorder) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		<-r.done
		return nil
	}
	r.closed = true
	pending := len(r.queue)
	r.cond.Broadcast()
	r.mu.Unlock()

	if pending > 0 {
		r.logger.Info("Draining recorder queue", logger.Int("pending", pending))
	}
	<-r.done

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.drainErr
}
