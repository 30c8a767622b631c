package coverage

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/yegors/sbs-radar/pkg/logger"
	"golang.org/x/sync/singleflight"
)

const cacheSize = 64

// Options configures the coverage service
type Options struct {
	Workers        int
	CacheTTL       time.Duration // 0 disables caching
	ComputeTimeout time.Duration
	SnapshotDir    string // empty disables snapshots
}

// Service answers coverage requests through the worker pool, sharing in-flight
// computations per site and caching results
type Service struct {
	source    Source
	pool      *Pool
	group     singleflight.Group
	cache     *expirable.LRU[string, *Coverage]
	snapshots *SnapshotStore
	timeout   time.Duration
	logger    *logger.Logger
}

// NewService starts the worker pool and preloads snapshots when enabled
func NewService(source Source, settings Settings, opts Options, log *logger.Logger) (*Service, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	s := &Service{
		source:  source,
		pool:    NewPool(source, settings, opts.Workers, opts.ComputeTimeout, log),
		timeout: opts.ComputeTimeout,
		logger:  log.Named("coverage"),
	}
	if opts.CacheTTL > 0 {
		s.cache = expirable.NewLRU[string, *Coverage](cacheSize, nil, opts.CacheTTL)
	}

	if opts.SnapshotDir != "" {
		store, err := NewSnapshotStore(opts.SnapshotDir)
		if err != nil {
			s.pool.Close()
			return nil, err
		}
		s.snapshots = store
		s.preload()
	}

	return s, nil
}

func (s *Service) preload() {
	snaps, failed := s.snapshots.LoadAll()
	for path, err := range failed {
		s.logger.Warn("Skipping unreadable coverage snapshot", logger.String("path", path), logger.Error(err))
	}
	if s.cache == nil {
		return
	}
	for _, snap := range snaps {
		cov := snap.Coverage
		s.cache.Add(cov.Site, &cov)
	}
	if len(snaps) > 0 {
		s.logger.Info("Preloaded coverage snapshots", logger.Int("count", len(snaps)))
	}
}

// Coverage returns the coverage of site. An unknown site yields empty layers.
func (s *Service) Coverage(ctx context.Context, site string) (*Coverage, error) {
	if s.cache != nil {
		if cov, ok := s.cache.Get(site); ok {
			return cov, nil
		}
	}

	sites, err := s.source.GetAllKnownSiteNames(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load site names: %w", err)
	}
	if !slices.Contains(sites, site) {
		return &Coverage{Site: site, Layers: []Layer{}}, nil
	}

	ch := s.group.DoChan(site, func() (any, error) {
		// Shared by every waiter, so it must not depend on one caller's ctx
		computeCtx := context.Background()
		if s.timeout > 0 {
			var cancel context.CancelFunc
			computeCtx, cancel = context.WithTimeout(computeCtx, s.timeout)
			defer cancel()
		}

		cov, err := s.pool.Submit(computeCtx, site)
		if err != nil {
			return nil, err
		}
		s.store(cov)
		return cov, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			s.logger.Error("Coverage computation failed", logger.String("site", site), logger.Error(res.Err))
			return nil, res.Err
		}
		return res.Val.(*Coverage), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Service) store(cov *Coverage) {
	if s.cache != nil {
		s.cache.Add(cov.Site, cov)
	}
	if s.snapshots != nil {
		if err := s.snapshots.Save(cov, time.Now()); err != nil {
			s.logger.Warn("Failed to write coverage snapshot", logger.String("site", cov.Site), logger.Error(err))
		}
	}
}

// Invalidate drops the cached coverage of site
func (s *Service) Invalidate(site string) {
	if s.cache != nil {
		s.cache.Remove(site)
	}
}

// Close stops the worker pool
func (s *Service) Close() {
	s.pool.Close()
}
