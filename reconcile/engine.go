// Package reconcile periodically copies fields between document pairs that
// describe the same entities through two views, and repairs entity records
// whose layout lost a section.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/railsync/railsync/docstore"
	"github.com/railsync/railsync/document"
)

//go:generate mockgen -typed -package=mocks -destination=./mocks/mocks.go -source=./engine.go

type documentStore interface {
	Read(ctx context.Context, name string) (document.Document, error)
	Update(ctx context.Context, name string, fn docstore.UpdateFunc) (document.Document, error)
}

type Opt func(*Engine)

func WithLogger(logger *zap.Logger) Opt {
	return func(e *Engine) {
		e.logger = logger
	}
}

func WithCatalog(catalog *document.Catalog) Opt {
	return func(e *Engine) {
		e.catalog = catalog
	}
}

func withClock(clock clockwork.Clock) Opt {
	return func(e *Engine) {
		e.clock = clock
	}
}

// Engine runs one reconciliation loop per pair.
type Engine struct {
	logger  *zap.Logger
	cfg     Config
	store   documentStore
	catalog *document.Catalog
	clock   clockwork.Clock
	pairs   []compiledPair

	once   sync.Once
	eg     errgroup.Group
	stop   context.CancelFunc
	mu     sync.Mutex
	closed bool
}

func New(store documentStore, cfg Config, opts ...Opt) (*Engine, error) {
	e := &Engine{
		logger:  zap.NewNop(),
		cfg:     cfg,
		store:   store,
		catalog: document.DefaultCatalog(),
		clock:   clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(e)
	}
	pairs, err := cfg.compile(e.catalog)
	if err != nil {
		return nil, err
	}
	e.pairs = pairs
	return e, nil
}

// Start launches the pair loops. Loops stop when ctx is done or Close is
// called.
func (e *Engine) Start(ctx context.Context) {
	e.once.Do(func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.closed {
			return
		}
		ctx, e.stop = context.WithCancel(ctx)
		for _, p := range e.pairs {
			e.eg.Go(func() error {
				e.run(ctx, p)
				return nil
			})
		}
		e.logger.Info("reconciler started", zap.Int("pairs", len(e.pairs)), zap.Duration("period", e.cfg.Period))
	})
}

// Close stops the loops and waits for passes in progress.
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	if e.stop != nil {
		e.stop()
	}
	e.mu.Unlock()
	_ = e.eg.Wait()
}

func (e *Engine) run(ctx context.Context, p compiledPair) {
	ticker := e.clock.NewTicker(e.cfg.Period)
	defer ticker.Stop()
	for {
		if _, err := e.reconcile(ctx, p); err != nil && ctx.Err() == nil {
			e.logger.Warn("reconcile pass failed", zap.String("pair", p.Name), zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
		}
	}
}

// PreservedValue is a legacy value kept in place of a default.
type PreservedValue struct {
	Entity string
	document.Preserved
}

// Result summarizes one pass over a pair.
type Result struct {
	Created   []string
	Repaired  []string
	Malformed []string
	Copied    int
	Preserved []PreservedValue
	Written   bool
}

// ReconcileAll runs a single pass over every pair.
func (e *Engine) ReconcileAll(ctx context.Context) (map[string]Result, error) {
	results := make(map[string]Result, len(e.pairs))
	var errs []error
	for _, p := range e.pairs {
		res, err := e.reconcile(ctx, p)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p.Name, err))
			continue
		}
		results[p.Name] = res
	}
	return results, errors.Join(errs...)
}

// Reconcile runs a single pass over the configured pair called name.
func (e *Engine) Reconcile(ctx context.Context, name string) (Result, error) {
	for _, p := range e.pairs {
		if p.Name == name {
			return e.reconcile(ctx, p)
		}
	}
	return Result{}, fmt.Errorf("unknown pair %q", name)
}

func (e *Engine) reconcile(ctx context.Context, p compiledPair) (Result, error) {
	start := e.clock.Now()
	source, err := e.store.Read(ctx, p.Source)
	if err != nil {
		passes.WithLabelValues(p.Name, "source_error").Inc()
		return Result{}, fmt.Errorf("read source %s: %w", p.Source, err)
	}
	var res Result
	_, err = e.store.Update(ctx, p.Target, func(target document.Document) (document.Document, bool, error) {
		res = e.apply(p, source, target)
		return target, res.Written, nil
	})
	if err != nil {
		passes.WithLabelValues(p.Name, "target_error").Inc()
		e.reportMalformed(p, res.Malformed)
		return Result{}, fmt.Errorf("update target %s: %w", p.Target, err)
	}
	e.report(p, res)
	passDuration.WithLabelValues(p.Name).Observe(e.clock.Since(start).Seconds())
	return res, nil
}

// apply brings target in line with source in place and reports whether
// anything changed.
func (e *Engine) apply(p compiledPair, source, target document.Document) Result {
	var res Result
	ids := target.Entities()
	for _, id := range source.Entities() {
		if _, ok := target[id]; !ok {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	for _, id := range ids {
		current, exists := target[id]
		entity, rep := p.kind.Repair(current)
		if rep.Shape == document.Malformed {
			res.Malformed = append(res.Malformed, id)
			continue
		}
		switch {
		case !exists:
			res.Created = append(res.Created, id)
		case rep.Changed:
			res.Repaired = append(res.Repaired, id)
		}
		for _, pv := range rep.Preserved {
			res.Preserved = append(res.Preserved, PreservedValue{Entity: id, Preserved: pv})
		}
		if rep.Changed {
			res.Written = true
		}
		target[id] = entity

		src, ok := source.Entity(id)
		if !ok {
			continue
		}
		for _, m := range p.mappings {
			v, ok := document.Lookup(src, m.from)
			if !ok || v == nil {
				continue
			}
			section, _ := document.Object(entity[m.to.Section])
			if cur, ok := section[m.to.Field]; ok && document.Equal(cur, v) {
				continue
			}
			section[m.to.Field] = document.CloneValue(v)
			res.Copied++
			res.Written = true
		}
	}
	return res
}

func (e *Engine) report(p compiledPair, res Result) {
	outcome := "unchanged"
	if res.Written {
		outcome = "written"
	}
	passes.WithLabelValues(p.Name, outcome).Inc()
	copied.WithLabelValues(p.Name).Add(float64(res.Copied))
	for _, pv := range res.Preserved {
		preserved.WithLabelValues(p.Name).Inc()
		e.logger.Warn("kept legacy value instead of default",
			zap.String("pair", p.Name),
			zap.String("doc", p.Target),
			zap.String("entity", pv.Entity),
			zap.String("field", pv.Section+"."+pv.Field),
			zap.Any("kept", pv.Kept),
			zap.Any("default", pv.Default),
		)
	}
	e.reportMalformed(p, res.Malformed)
	if len(res.Created) > 0 || len(res.Repaired) > 0 {
		e.logger.Info("entities repaired",
			zap.String("pair", p.Name),
			zap.String("doc", p.Target),
			zap.Strings("created", res.Created),
			zap.Strings("repaired", res.Repaired),
		)
	}
	if res.Written {
		e.logger.Debug("pass written", zap.String("pair", p.Name), zap.Int("copied", res.Copied))
	}
}

func (e *Engine) reportMalformed(p compiledPair, ids []string) {
	for _, id := range ids {
		malformed.WithLabelValues(p.Name).Inc()
		e.logger.Error("malformed entity left untouched",
			zap.String("pair", p.Name),
			zap.String("doc", p.Target),
			zap.String("entity", id),
		)
	}
}
