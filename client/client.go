// Package client gives subsystems access to the shared documents. Calls go to
// the synchronization service and fall back to a local store, through the
// same boundary rules, when the service cannot be reached.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/railsync/railsync/boundary"
	"github.com/railsync/railsync/docstore"
	"github.com/railsync/railsync/document"
	"github.com/railsync/railsync/log"
)

// ErrOffline is returned when the service cannot be reached and the client
// has no local store to fall back to.
var ErrOffline = errors.New("service offline")

type Config struct {
	URL          string        `mapstructure:"url" validate:"required,url"`
	Timeout      time.Duration `mapstructure:"timeout" validate:"gt=0"`
	RetryMax     int           `mapstructure:"retry-max" validate:"min=0"`
	RetryWaitMin time.Duration `mapstructure:"retry-wait-min"`
	RetryWaitMax time.Duration `mapstructure:"retry-wait-max" validate:"gtefield=RetryWaitMin"`
	ProbePeriod  time.Duration `mapstructure:"probe-period" validate:"gt=0"`
	// OfflineAfter is the number of consecutive failed calls after which
	// the client stops trying the service until a probe succeeds.
	OfflineAfter int `mapstructure:"offline-after" validate:"min=1"`
}

func DefaultConfig() Config {
	return Config{
		URL:          "http://127.0.0.1:7480",
		Timeout:      5 * time.Second,
		RetryMax:     3,
		RetryWaitMin: 50 * time.Millisecond,
		RetryWaitMax: 200 * time.Millisecond,
		ProbePeriod:  5 * time.Second,
		OfflineAfter: 3,
	}
}

type Opt func(*Client)

func WithLogger(logger *zap.Logger) Opt {
	return func(c *Client) {
		c.logger = logger
	}
}

func WithHTTPClient(client *http.Client) Opt {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithServiceOpts sets options of the local boundary service used for
// fallback. They must match the options of the remote service.
func WithServiceOpts(opts ...boundary.Opt) Opt {
	return func(c *Client) {
		c.serviceOpts = append(c.serviceOpts, opts...)
	}
}

func withClock(clock clockwork.Clock) Opt {
	return func(c *Client) {
		c.clock = clock
	}
}

// Client reads and writes documents as one caller.
type Client struct {
	logger      *zap.Logger
	cfg         Config
	caller      boundary.Caller
	clock       clockwork.Clock
	httpClient  *http.Client
	serviceOpts []boundary.Opt

	remote  *remote
	local   *boundary.Service
	tracker *tracker

	once   sync.Once
	eg     errgroup.Group
	stop   context.CancelFunc
	mu     sync.Mutex
	closed bool
}

// New creates a client acting as caller. local may be nil, in which case
// calls fail with ErrOffline instead of falling back.
func New(cfg Config, caller boundary.Caller, local *docstore.Store, opts ...Opt) (*Client, error) {
	if err := caller.Validate(); err != nil {
		return nil, err
	}
	c := &Client{
		logger:  zap.NewNop(),
		cfg:     cfg,
		caller:  caller,
		clock:   clockwork.NewRealClock(),
		tracker: newTracker(cfg.OfflineAfter),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	var err error
	c.remote, err = newRemote(cfg, caller, c.httpClient, c.logger.Named("http"))
	if err != nil {
		return nil, err
	}
	if local != nil {
		svcOpts := append([]boundary.Opt{boundary.WithLogger(c.logger.Named("local"))}, c.serviceOpts...)
		c.local, err = boundary.NewService(local, svcOpts...)
		if err != nil {
			return nil, err
		}
	}
	clientState.WithLabelValues(string(caller.Role)).Set(float64(Probing))
	c.logger.Info("created client",
		zap.Stringer("caller", caller),
		zap.Stringer("url", c.remote.baseURL),
		zap.Bool("fallback", c.local != nil),
		zap.Int("max retries", cfg.RetryMax),
		zap.Duration("timeout", cfg.Timeout),
	)
	return c, nil
}

// Start probes the service immediately and then every probe period while
// the client is offline.
func (c *Client) Start(ctx context.Context) {
	c.once.Do(func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.closed {
			return
		}
		ctx, c.stop = context.WithCancel(ctx)
		c.eg.Go(func() error {
			c.probeLoop(ctx)
			return nil
		})
	})
}

// Close stops probing.
func (c *Client) Close() {
	c.mu.Lock()
	c.closed = true
	if c.stop != nil {
		c.stop()
	}
	c.mu.Unlock()
	_ = c.eg.Wait()
}

// State returns the current connectivity state.
func (c *Client) State() State {
	return c.tracker.get()
}

func (c *Client) Caller() boundary.Caller {
	return c.caller
}

func (c *Client) probeLoop(ctx context.Context) {
	c.probe(ctx)
	ticker := c.clock.NewTicker(c.cfg.ProbePeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if s := c.State(); s == Offline || s == Probing {
				c.probe(ctx)
			}
		}
	}
}

func (c *Client) probe(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	if err := c.remote.probe(ctx); err != nil {
		c.logger.Debug("health probe failed", zap.Error(err))
		c.observe(c.tracker.probeFailure(), err)
		return
	}
	c.observe(c.tracker.success(), nil)
}

func (c *Client) observe(tr transition, cause error) {
	if !tr.changed() {
		return
	}
	clientState.WithLabelValues(string(c.caller.Role)).Set(float64(tr.to))
	c.logger.Info("connectivity changed",
		zap.Stringer("caller", c.caller),
		zap.Stringer("from", tr.from),
		zap.Stringer("to", tr.to),
		zap.NamedError("cause", cause),
	)
}

// Get returns the part of doc the caller may read.
func (c *Client) Get(ctx context.Context, doc string) (document.Document, error) {
	return c.call(ctx, "read", doc,
		func(ctx context.Context) (document.Document, error) { return c.remote.read(ctx, doc) },
		func(ctx context.Context) (document.Document, error) { return c.local.Read(ctx, c.caller, doc) },
	)
}

// Write merges patch into doc and returns the part of the result the caller
// may read.
func (c *Client) Write(ctx context.Context, doc string, patch document.Document) (document.Document, error) {
	body, err := document.Encode(patch)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", boundary.ErrInvalidPatch, err)
	}
	// the local path sees the patch exactly as the service would decode it
	decoded, err := document.Decode(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", boundary.ErrInvalidPatch, err)
	}
	return c.call(ctx, "write", doc,
		func(ctx context.Context) (document.Document, error) { return c.remote.write(ctx, doc, body) },
		func(ctx context.Context) (document.Document, error) { return c.local.Write(ctx, c.caller, doc, decoded) },
	)
}

// Remove deletes entity from doc.
func (c *Client) Remove(ctx context.Context, doc, entity string) (document.Document, error) {
	return c.call(ctx, "remove", doc,
		func(ctx context.Context) (document.Document, error) { return c.remote.remove(ctx, doc, entity) },
		func(ctx context.Context) (document.Document, error) { return c.local.Remove(ctx, c.caller, doc, entity) },
	)
}

type operation func(ctx context.Context) (document.Document, error)

func (c *Client) call(ctx context.Context, op, doc string, remote, local operation) (document.Document, error) {
	if _, ok := log.ExtractRequestId(ctx); !ok {
		ctx = log.WithNewRequestId(ctx)
	}
	var cause error
	if state := c.State(); state == Offline {
		cause = ErrOffline
	} else {
		res, err := remote(ctx)
		switch {
		case err == nil:
			c.observe(c.tracker.success(), nil)
			return res, nil
		case ctx.Err() != nil:
			return nil, err
		case !errors.Is(err, errUnreachable):
			// the service answered, the answer is final
			c.observe(c.tracker.success(), nil)
			return nil, err
		}
		cause = err
		c.observe(c.tracker.failure(), err)
	}
	if c.local == nil {
		return nil, fmt.Errorf("%w: %w", ErrOffline, cause)
	}
	state := c.State()
	fallbacks.WithLabelValues(string(c.caller.Role), doc, op).Inc()
	c.logger.Warn("falling back to local store",
		log.ZContext(ctx),
		zap.Stringer("caller", c.caller),
		zap.String("doc", doc),
		zap.String("op", op),
		zap.Stringer("state", state),
		zap.NamedError("cause", cause),
	)
	return local(ctx)
}
