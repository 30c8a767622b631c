package coverage

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/yegors/sbs-radar/pkg/logger"
)

var (
	// ErrComputation is returned when a worker fails to produce a coverage
	ErrComputation = errors.New("coverage computation failed")
	// ErrStopped is returned once the pool is closed
	ErrStopped = errors.New("coverage pool stopped")
)

type request struct {
	site  string
	reply chan response
}

type response struct {
	Coverage *Coverage
	Err      string
}

// computeFunc is swapped in tests
type computeFunc func(site string, samples []Sample, settings Settings) (*Coverage, error)

// Pool runs coverage computations on dedicated goroutines. Callers talk to it
// only through request and reply messages.
type Pool struct {
	source   Source
	settings Settings
	compute  computeFunc
	timeout  time.Duration
	logger   *logger.Logger

	requests chan request
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewPool starts workers goroutines computing with settings over source
func NewPool(source Source, settings Settings, workers int, timeout time.Duration, log *logger.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		source:   source,
		settings: settings,
		compute:  Compute,
		timeout:  timeout,
		logger:   log.Named("coverage-pool"),
		requests: make(chan request),
		ctx:      ctx,
		cancel:   cancel,
	}

	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker(i)
	}
	return p
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	for {
		select {
		case req := <-p.requests:
			req.reply <- p.handle(id, req.site)
		case <-p.ctx.Done():
			return
		}
	}
}

// handle never panics; failures become the response error string
func (p *Pool) handle(id int, site string) (resp response) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Coverage worker panicked",
				logger.Int("worker", id),
				logger.String("site", site),
				logger.Any("panic", r),
				logger.String("stack", string(debug.Stack())))
			resp = response{Err: fmt.Sprintf("panic: %v", r)}
		}
	}()

	ctx := p.ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	samples, err := p.source.GetAllPositionsForSite(ctx, site)
	if err != nil {
		return response{Err: fmt.Sprintf("load positions: %v", err)}
	}

	cov, err := p.compute(site, samples, p.settings)
	if err != nil {
		return response{Err: err.Error()}
	}

	p.logger.Debug("Computed coverage",
		logger.Int("worker", id),
		logger.String("site", site),
		logger.String("samples", humanize.Comma(int64(len(samples)))),
		logger.Int("layers", len(cov.Layers)),
		logger.Duration("took", time.Since(start)))
	return response{Coverage: cov}
}

// Submit sends a request for site and waits for the reply or ctx
func (p *Pool) Submit(ctx context.Context, site string) (*Coverage, error) {
	reply := make(chan response, 1)
	select {
	case p.requests <- request{site: site, reply: reply}:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.ctx.Done():
		return nil, ErrStopped
	}

	select {
	case resp := <-reply:
		if resp.Err != "" {
			return nil, fmt.Errorf("%w: %s", ErrComputation, resp.Err)
		}
		return resp.Coverage, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops the workers. Running computations finish but their replies are dropped.
func (p *Pool) Close() {
	p.stopOnce.Do(func() {
		p.cancel()
		p.wg.Wait()
	})
}
