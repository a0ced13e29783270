// Package stress drives concurrent workers issuing random puts and gets against one or more trees, and verifies
// afterwards that no write was lost.
package stress

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"sync/atomic"
	"time"

	"github.com/tidwall/btree"
	"golang.org/x/sync/errgroup"

	"github.com/aryszka/locktree/internal/metrics"
)

var (
	// ErrLostWrite is returned when a key that was written is missing from a store at the end of the run.
	ErrLostWrite = errors.New("written key not found")

	// ErrUnexpectedValue is returned when the final value of a key is not the last value written by any of the
	// workers.
	ErrUnexpectedValue = errors.New("unexpected value")

	// ErrKeyCount is returned when a store holds a different number of keys than what was written.
	ErrKeyCount = errors.New("key count mismatch")
)

// Store is the contract exercised by the workers.
type Store interface {
	PutContext(ctx context.Context, key, value []byte) error
	GetContext(ctx context.Context, key []byte) ([]byte, bool, error)
}

// Target is a named store. Every operation of a worker is issued against each target in turn.
type Target struct {
	Name  string
	Store Store
}

// optional capabilities checked after the run
type (
	verifier interface{ Verify() error }
	lener    interface{ Len() int }
	heighter interface{ Height() int }
)

type Config struct {
	// Workers is the number of concurrent workers. When zero, a random number between MinWorkers and
	// MaxWorkers is used.
	Workers int

	// Ops is the number of operations issued by each worker.
	Ops int

	KeySize   int
	ValueSize int

	// PutRatio is the probability of an operation being a put.
	PutRatio float64

	// Seed of the random generators. When zero, it is taken from the clock.
	Seed uint64

	// ReportEvery sets how often, in iterations, the workers log the number of active workers. Zero disables
	// the reports.
	ReportEvery int
}

const (
	MinWorkers = 10
	MaxWorkers = 50
)

// DefaultConfig returns the configuration of the classic run: 100 operations per worker, 5 byte keys and
// values, and an even mix of puts and gets.
func DefaultConfig() Config {
	return Config{
		Ops:         100,
		KeySize:     5,
		ValueSize:   5,
		PutRatio:    .5,
		ReportEvery: 20,
	}
}

type TargetReport struct {
	Name   string
	Hits   int64
	Keys   int
	Height int
}

type Report struct {
	Seed     uint64
	Workers  int
	Puts     int64
	Gets     int64
	Written  int
	Duration time.Duration
	Targets  []TargetReport
}

func (c Config) validate() error {
	switch {
	case c.Workers < 0:
		return fmt.Errorf("invalid number of workers: %d", c.Workers)
	case c.Ops < 0:
		return fmt.Errorf("invalid number of operations: %d", c.Ops)
	case c.KeySize < 0 || c.ValueSize < 0:
		return fmt.Errorf("invalid key or value size: %d, %d", c.KeySize, c.ValueSize)
	case c.PutRatio < 0 || c.PutRatio > 1:
		return fmt.Errorf("invalid put ratio: %v", c.PutRatio)
	default:
		return nil
	}
}

func randomBytes(r *rand.Rand, n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(r.Uint32())
	}

	return b
}

type worker struct {
	id      int
	cfg     Config
	rnd     *rand.Rand
	targets []Target
	hits    []atomic.Int64
	puts    *atomic.Int64
	gets    *atomic.Int64
	active  *atomic.Int64
	log     *slog.Logger

	// last value written for each key
	written btree.Map[string, []byte]
}

func (w *worker) put(ctx context.Context) error {
	key := randomBytes(w.rnd, w.cfg.KeySize)
	value := randomBytes(w.rnd, w.cfg.ValueSize)
	for _, t := range w.targets {
		if err := t.Store.PutContext(ctx, key, value); err != nil {
			return fmt.Errorf("%s: put: %w", t.Name, err)
		}
	}

	w.written.Set(string(key), value)
	w.puts.Add(1)
	return nil
}

func (w *worker) get(ctx context.Context) error {
	key := randomBytes(w.rnd, w.cfg.KeySize)
	for i, t := range w.targets {
		_, ok, err := t.Store.GetContext(ctx, key)
		if err != nil {
			return fmt.Errorf("%s: get: %w", t.Name, err)
		}

		if ok {
			w.hits[i].Add(1)
		}
	}

	w.gets.Add(1)
	return nil
}

func (w *worker) run(ctx context.Context, start <-chan struct{}) error {
	select {
	case <-start:
	case <-ctx.Done():
		return ctx.Err()
	}

	w.active.Add(1)
	metrics.ActiveWorkers.Inc()
	defer func() {
		w.active.Add(-1)
		metrics.ActiveWorkers.Dec()
	}()

	for i := 0; i < w.cfg.Ops; i++ {
		var err error
		if w.rnd.Float64() < w.cfg.PutRatio {
			err = w.put(ctx)
		} else {
			err = w.get(ctx)
		}

		if err != nil {
			return fmt.Errorf("worker %d: %w", w.id, err)
		}

		if w.cfg.ReportEvery > 0 && i%w.cfg.ReportEvery == 0 {
			w.log.Debug("active workers", "worker", w.id, "iteration", i, "active", w.active.Load())
		}
	}

	return nil
}

// merge collects, for every written key, the last value of each worker that wrote it. The final value of a key
// in a linearizable store must be one of these.
func merge(workers []*worker) *btree.Map[string, [][]byte] {
	var m btree.Map[string, [][]byte]
	for _, w := range workers {
		w.written.Scan(func(key string, value []byte) bool {
			candidates, _ := m.Get(key)
			m.Set(key, append(candidates, value))
			return true
		})
	}

	return &m
}

func verifyTarget(ctx context.Context, t Target, written *btree.Map[string, [][]byte]) error {
	if v, ok := t.Store.(verifier); ok {
		if err := v.Verify(); err != nil {
			return fmt.Errorf("%s: %w", t.Name, err)
		}
	}

	if l, ok := t.Store.(lener); ok && l.Len() != written.Len() {
		return fmt.Errorf("%s: %w: stored %d, written %d", t.Name, ErrKeyCount, l.Len(), written.Len())
	}

	var err error
	written.Scan(func(key string, candidates [][]byte) bool {
		value, ok, gerr := t.Store.GetContext(ctx, []byte(key))
		switch {
		case gerr != nil:
			err = fmt.Errorf("%s: get: %w", t.Name, gerr)
		case !ok:
			err = fmt.Errorf("%s: %w: %x", t.Name, ErrLostWrite, key)
		case !slices.ContainsFunc(candidates, func(c []byte) bool { return bytes.Equal(c, value) }):
			err = fmt.Errorf("%s: %w: %x = %x", t.Name, ErrUnexpectedValue, key, value)
		}

		return err == nil
	})

	return err
}

// Run starts the workers at the same time, waits for them to complete, and verifies the targets. The targets
// are expected to be empty when Run is called, and not to be written by anyone else during the run.
func Run(ctx context.Context, log *slog.Logger, cfg Config, targets ...Target) (*Report, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}

	rnd := rand.New(rand.NewPCG(seed, 0))
	if cfg.Workers == 0 {
		cfg.Workers = MinWorkers + rnd.IntN(MaxWorkers-MinWorkers+1)
	}

	log.Info("starting stress run", "workers", cfg.Workers, "ops", cfg.Ops, "targets", len(targets), "seed", seed)

	var (
		puts, gets, active atomic.Int64
		hits               = make([]atomic.Int64, len(targets))
		workers            = make([]*worker, cfg.Workers)
		start              = make(chan struct{})
	)

	g, gctx := errgroup.WithContext(ctx)
	for i := range workers {
		w := &worker{
			id:      i,
			cfg:     cfg,
			rnd:     rand.New(rand.NewPCG(seed, uint64(i)+1)),
			targets: targets,
			hits:    hits,
			puts:    &puts,
			gets:    &gets,
			active:  &active,
			log:     log,
		}

		workers[i] = w
		g.Go(func() error { return w.run(gctx, start) })
	}

	begin := time.Now()
	close(start)
	if err := g.Wait(); err != nil {
		return nil, err
	}

	report := &Report{
		Seed:     seed,
		Workers:  cfg.Workers,
		Puts:     puts.Load(),
		Gets:     gets.Load(),
		Duration: time.Since(begin),
	}

	written := merge(workers)
	report.Written = written.Len()
	for i, t := range targets {
		if err := verifyTarget(ctx, t, written); err != nil {
			return nil, err
		}

		tr := TargetReport{Name: t.Name, Hits: hits[i].Load(), Keys: written.Len()}
		if h, ok := t.Store.(heighter); ok {
			tr.Height = h.Height()
		}

		report.Targets = append(report.Targets, tr)
	}

	log.Info(
		"stress run completed",
		"workers", report.Workers,
		"puts", report.Puts,
		"gets", report.Gets,
		"keys", report.Written,
		"duration", report.Duration,
	)

	return report, nil
}
