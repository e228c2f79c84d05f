// Package opqueue assembles a queue engine from a Config: the cache backend
// and executor it drains into, the audit sinks and archive, Prometheus
// collectors and the background Runner.
//
// Typical usage:
//
//	client, _ := opqueue.NewClient(ctx, cfg)
//	defer client.Close()
//
//	client.Start(ctx)
//	id, _ := client.Submit(ctx, opqueue.SetOp{Key: "user:1", Value: "alice"})
//	op, _, _ := client.GetStatus(ctx, id)
package opqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/rzpsarthak13/opqueue/internal/audit"
	"github.com/rzpsarthak13/opqueue/internal/clock"
	"github.com/rzpsarthak13/opqueue/internal/core"
	"github.com/rzpsarthak13/opqueue/internal/errorlog"
	"github.com/rzpsarthak13/opqueue/internal/executor"
	"github.com/rzpsarthak13/opqueue/internal/httpapi"
	"github.com/rzpsarthak13/opqueue/internal/kvstore"
	"github.com/rzpsarthak13/opqueue/internal/logging"
	"github.com/rzpsarthak13/opqueue/internal/metrics"
	"github.com/rzpsarthak13/opqueue/internal/queue"
	"github.com/rzpsarthak13/opqueue/internal/resource"
)

// Operation kinds and results accepted by Submit and reported by GetStatus.
type (
	OperationKind   = core.OperationKind
	SetOp           = core.SetOp
	GetOp           = core.GetOp
	DeleteOp        = core.DeleteOp
	Operation       = core.Operation
	OperationResult = core.OperationResult
	Executor        = core.Executor
	KVStore         = core.KVStore
	BatchResult     = queue.BatchResult
	ErrorRecord     = errorlog.Record
)

type options struct {
	logger   *slog.Logger
	registry *prometheus.Registry
	clock    clock.Clock
	meter    resource.Meter
	store    core.KVStore
	exec     core.Executor
	version  string
}

// Option customizes NewClient.
type Option func(*options)

// WithLogger sets the logger. The default is slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithRegistry registers the collectors on reg instead of a fresh registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(o *options) { o.registry = reg }
}

// WithClock replaces the wall clock.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithMeter replaces the cycles budget built from Config.Budget.
func WithMeter(m resource.Meter) Option {
	return func(o *options) { o.meter = m }
}

// WithKVStore uses store instead of creating one from Config.KVStore.
// The client closes it.
func WithKVStore(store core.KVStore) Option {
	return func(o *options) { o.store = store }
}

// WithExecutor bypasses the KV executor entirely.
func WithExecutor(exec core.Executor) Option {
	return func(o *options) { o.exec = exec }
}

// WithVersion sets the version stamped on error records.
func WithVersion(v string) Option {
	return func(o *options) { o.version = v }
}

// Client owns an Engine and everything wired around it. The Engine's
// methods are promoted; Close shuts everything down in order.
type Client struct {
	*queue.Engine

	cfg        *Config
	store      core.KVStore
	dispatcher *audit.Dispatcher
	archive    *audit.MySQLArchive
	errorList  *audit.RedisSink
	registry   *prometheus.Registry
	runner     *Runner
	log        *slog.Logger

	closeOnce sync.Once
	closeErr  error
}

// NewClient validates cfg and builds the client. Nothing runs in the
// background until Start.
func NewClient(ctx context.Context, cfg *Config, opts ...Option) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.clock == nil {
		o.clock = clock.NewReal()
	}
	if o.registry == nil {
		o.registry = prometheus.NewRegistry()
		o.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	if o.meter == nil {
		o.meter = resource.NewBudgetMeter(cfg.Budget, o.clock)
	}

	c := &Client{
		cfg:      cfg,
		registry: o.registry,
		log:      logging.WithComponent(o.logger, "client"),
	}
	if err := c.build(ctx, o); err != nil {
		c.release()
		return nil, err
	}
	c.runner = NewRunner(c.Engine, cfg.Runner, o.logger)
	c.log.Info("client ready",
		"kvstore", cfg.KVStore.Type,
		"kafka", cfg.Audit.Kafka.Enabled,
		"redis_audit", cfg.Audit.Redis.Enabled,
		"mysql_archive", cfg.Audit.MySQL.Enabled,
	)
	return c, nil
}

func (c *Client) build(ctx context.Context, o options) error {
	cfg := c.cfg

	exec := o.exec
	if exec == nil {
		store := o.store
		if store == nil {
			var err error
			store, err = kvstore.Create(cfg.KVStore)
			if err != nil {
				return fmt.Errorf("failed to create KV store: %w", err)
			}
		}
		c.store = store
		exec = executor.NewKVExecutor(store, executor.Options{
			KeyPrefix:  cfg.KVStore.KeyPrefix,
			DefaultTTL: cfg.KVStore.DefaultTTL,
			Timeout:    cfg.KVStore.WriteTimeout,
			Logger:     o.logger,
		})
	}

	var publishers []audit.Publisher
	if cfg.Audit.Kafka.Enabled {
		sink, err := audit.NewKafkaSink(cfg.Audit.Kafka, o.logger)
		if err != nil {
			return fmt.Errorf("failed to create kafka sink: %w", err)
		}
		publishers = append(publishers, sink)
	}
	if cfg.Audit.Redis.Enabled {
		rc := cfg.Audit.Redis
		list, err := kvstore.NewRedisKVStore(kvstore.RedisOptions{
			Endpoints:    []string{rc.Addr},
			Password:     rc.Password,
			DB:           rc.DB,
			PoolSize:     cfg.KVStore.Redis.PoolSize,
			MaxRetries:   cfg.KVStore.MaxRetries,
			DialTimeout:  cfg.KVStore.DialTimeout,
			ReadTimeout:  cfg.KVStore.ReadTimeout,
			WriteTimeout: cfg.KVStore.WriteTimeout,
		})
		if err != nil {
			closePublishers(publishers)
			return fmt.Errorf("failed to connect audit redis: %w", err)
		}
		c.errorList = audit.NewRedisSink(list, rc.Key, int(rc.MaxEntries), o.logger)
		publishers = append(publishers, c.errorList)
	}
	if len(publishers) > 0 {
		c.dispatcher = audit.NewDispatcher(audit.DispatcherOptions{
			BufferSize: cfg.Audit.BufferSize,
			Logger:     o.logger,
		}, publishers...)
	}

	if cfg.Audit.MySQL.Enabled {
		archive, err := audit.NewMySQLArchive(ctx, cfg.Audit.MySQL, o.logger)
		if err != nil {
			return fmt.Errorf("failed to open mysql archive: %w", err)
		}
		c.archive = archive
	}

	qopts := queue.Options{
		Config:             cfg.Queue.Configuration(),
		Executor:           exec,
		Clock:              o.clock,
		Meter:              o.meter,
		CyclesPerOperation: cfg.Queue.CyclesPerOperation,
		Logger:             o.logger,
		Observer:           metrics.New(c.registry),
		Version:            o.version,
	}
	if c.dispatcher != nil {
		qopts.ErrorSink = c.dispatcher
		qopts.BatchSink = c.dispatcher
	}
	if c.archive != nil {
		qopts.Archive = c.archive
	}

	engine, err := queue.New(qopts)
	if err != nil {
		return fmt.Errorf("failed to start engine: %w", err)
	}
	c.Engine = engine
	return nil
}

func closePublishers(ps []audit.Publisher) {
	for _, p := range ps {
		_ = p.Close()
	}
}

// Config returns the configuration the client was built from.
func (c *Client) Config() *Config { return c.cfg }

// Registry returns the registry holding the client's collectors.
func (c *Client) Registry() *prometheus.Registry { return c.registry }

// Runner returns the background batch trigger.
func (c *Client) Runner() *Runner { return c.runner }

// Handler returns the admin HTTP API for the client's engine.
func (c *Client) Handler() http.Handler {
	return httpapi.NewRouter(c.Engine, httpapi.Options{
		Gatherer:       c.registry,
		RequestTimeout: c.cfg.HTTP.WriteTimeout,
		Logger:         c.log,
	})
}

// RecentErrors reads the newest n error records mirrored to Redis. It
// returns nil when the Redis audit sink is disabled.
func (c *Client) RecentErrors(ctx context.Context, n int) ([]ErrorRecord, error) {
	if c.errorList == nil {
		return nil, nil
	}
	if c.dispatcher != nil {
		if err := c.dispatcher.Flush(ctx); err != nil {
			return nil, err
		}
	}
	return c.errorList.Recent(ctx, n)
}

// Start launches the Runner when it is enabled in the configuration.
func (c *Client) Start(ctx context.Context) error {
	if !c.cfg.Runner.Enabled {
		c.log.Info("runner disabled; batches are processed on demand")
		return nil
	}
	return c.runner.Start(ctx)
}

// Stop halts the Runner.
func (c *Client) Stop() error {
	return c.runner.Stop()
}

// Close stops the runner and the engine, drains the audit dispatcher and
// closes every connection. It is safe to call more than once.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		var errs []error
		if c.runner != nil {
			errs = append(errs, c.runner.Stop())
		}
		errs = append(errs, c.release())
		c.closeErr = errors.Join(errs...)
		c.log.Info("client closed")
	})
	return c.closeErr
}

// release closes whatever build managed to open, engine first.
func (c *Client) release() error {
	var errs []error
	if c.Engine != nil {
		errs = append(errs, c.Engine.Close())
	}
	if c.dispatcher != nil {
		errs = append(errs, c.dispatcher.Close())
	}
	if c.archive != nil {
		errs = append(errs, c.archive.Close())
	}
	if c.store != nil {
		errs = append(errs, c.store.Close())
	}
	return errors.Join(errs...)
}
