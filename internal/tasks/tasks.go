// Package tasks implements the background maintenance dispatcher from spec
// §4.6: a single shared cron tick fans out to per-task handlers whose
// declared wall-clock interval is coarsened to a multiple of the base tick,
// grounded on the teacher's internal/taskManager registration pattern
// (one Register* function per job, gocron.DurationJob, logged on entry and
// on error, never panics).
package tasks

import (
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/embeddedts/tstore/internal/tslog"
)

// Database is the per-database surface the dispatcher needs. Implemented by
// the top-level store's DB type; kept as a narrow interface here so this
// package has no dependency on the store package (spec §4.6 tasks are
// "shared by all databases").
type Database interface {
	ID() int
	IsEmpty() bool
	TrimBatch(cursor uint64, batchSize int) (scanned int, trimmed int, nextCursor uint64)
	SweepStale(cursor string, batchSize int) (nextCursor string, done bool)
	Optimize(cursor string, batchSize int) (nextCursor string, done bool)
}

// Registry enumerates the live databases and allows pruning empty ones
// (spec §4.6 "DB prune").
type Registry interface {
	Databases() []Database
	PruneEmpty(id int)
}

// Intervals configures the desired wall-clock cadence for each maintenance
// task. Zero disables a task. Defaults mirror the teacher's
// CronFrequency-with-fallback pattern (RegisterUpdateDurationWorker etc).
type Intervals struct {
	Tick          time.Duration // base cron tick; every other interval is coarsened to a multiple of this
	Trim          time.Duration
	StaleIDSweep  time.Duration
	BitmapOptim   time.Duration
	DBPrune       time.Duration
	TrimBatch     int
	SweepBatch    int
	OptimizeBatch int
}

// DefaultIntervals matches the teacher's defaulting style (named constants
// with a documented fallback in the doc comment, applied by the caller
// before constructing a Dispatcher).
func DefaultIntervals() Intervals {
	return Intervals{
		Tick:          time.Second,
		Trim:          time.Minute,
		StaleIDSweep:  30 * time.Second,
		BitmapOptim:   2 * time.Minute,
		DBPrune:       5 * time.Minute,
		TrimBatch:     256,
		SweepBatch:    256,
		OptimizeBatch: 256,
	}
}

type cursors struct {
	mu       sync.Mutex
	trim     map[int]uint64
	sweep    map[int]string
	optimize map[int]string
}

func newCursors() *cursors {
	return &cursors{
		trim:     make(map[int]uint64),
		sweep:    make(map[int]string),
		optimize: make(map[int]string),
	}
}

// handler is one registered maintenance task: it runs whenever n (the tick
// counter) is a multiple of ticksPerInterval.
type handler struct {
	name             string
	ticksPerInterval uint64
	run              func()
}

// Dispatcher is the shared cron scheduler described in spec §4.6. A single
// gocron job fires every Tick; on each fire it increments a counter and
// runs every handler whose divisor divides the counter.
type Dispatcher struct {
	reg     Registry
	cfg     Intervals
	cursors *cursors

	sched    gocron.Scheduler
	handlers []handler
	tickNum  uint64
	mu       sync.Mutex // guards tickNum
}

// New builds a Dispatcher over reg with the given intervals. Call Start to
// begin ticking.
func New(reg Registry, cfg Intervals) (*Dispatcher, error) {
	if cfg.Tick <= 0 {
		cfg.Tick = time.Second
	}
	d := &Dispatcher{reg: reg, cfg: cfg, cursors: newCursors()}
	d.registerHandlers()
	return d, nil
}

func ticksPerInterval(tick, want time.Duration) uint64 {
	if want <= 0 {
		return 0 // disabled
	}
	n := uint64(want / tick)
	if n < 1 {
		n = 1
	}
	return n
}

func (d *Dispatcher) registerHandlers() {
	if n := ticksPerInterval(d.cfg.Tick, d.cfg.Trim); n > 0 {
		d.handlers = append(d.handlers, handler{"trim", n, d.runTrim})
	}
	if n := ticksPerInterval(d.cfg.Tick, d.cfg.StaleIDSweep); n > 0 {
		d.handlers = append(d.handlers, handler{"stale-id-sweep", n, d.runStaleSweep})
	}
	if n := ticksPerInterval(d.cfg.Tick, d.cfg.BitmapOptim); n > 0 {
		d.handlers = append(d.handlers, handler{"bitmap-optimize", n, d.runOptimize})
	}
	if n := ticksPerInterval(d.cfg.Tick, d.cfg.DBPrune); n > 0 {
		d.handlers = append(d.handlers, handler{"db-prune", n, d.runPrune})
	}
}

// Start starts the gocron scheduler, registering a single DurationJob at
// the base tick that dispatches to every due handler.
func (d *Dispatcher) Start() error {
	s, err := gocron.NewScheduler()
	if err != nil {
		return err
	}
	d.sched = s

	_, err = s.NewJob(
		gocron.DurationJob(d.cfg.Tick),
		gocron.NewTask(d.tick),
	)
	if err != nil {
		return err
	}

	tslog.Infof("tasks: dispatcher starting, base tick %s, %d handlers registered", d.cfg.Tick, len(d.handlers))
	s.Start()
	return nil
}

// Shutdown stops the scheduler. Safe to call on a Dispatcher that was never
// started.
func (d *Dispatcher) Shutdown() {
	if d.sched != nil {
		_ = d.sched.Shutdown()
	}
}

// tick is the single gocron task body: advance the counter and run every
// handler whose divisor divides it. Each handler's work runs on its own
// goroutine so a slow task never delays the next tick (spec §4.6 "runs on
// a worker thread").
func (d *Dispatcher) tick() {
	d.mu.Lock()
	d.tickNum++
	n := d.tickNum
	d.mu.Unlock()

	for _, h := range d.handlers {
		if n%h.ticksPerInterval != 0 {
			continue
		}
		h := h
		go func() {
			defer func() {
				if r := recover(); r != nil {
					tslog.Errorf("tasks: handler %q panicked: %v", h.name, r)
				}
			}()
			h.run()
		}()
	}
}

// runTrim implements spec §4.6's Trim task: round-robin across databases,
// fetch up to TrimBatch series starting past the stored cursor, trim each,
// advance the cursor (wrapping to id 1 at the end, handled by Database's
// own TrimBatch cursor semantics).
func (d *Dispatcher) runTrim() {
	for _, db := range d.reg.Databases() {
		d.cursors.mu.Lock()
		cur := d.cursors.trim[db.ID()]
		d.cursors.mu.Unlock()

		scanned, trimmed, next := db.TrimBatch(cur, d.cfg.TrimBatch)

		d.cursors.mu.Lock()
		d.cursors.trim[db.ID()] = next
		d.cursors.mu.Unlock()

		if trimmed > 0 {
			tslog.Debugf("tasks: trim db=%d scanned=%d trimmed=%d", db.ID(), scanned, trimmed)
		}
	}
}

// runStaleSweep implements spec §4.6's Stale-id sweep task, per-DB.
func (d *Dispatcher) runStaleSweep() {
	for _, db := range d.reg.Databases() {
		d.cursors.mu.Lock()
		cur := d.cursors.sweep[db.ID()]
		d.cursors.mu.Unlock()

		next, done := db.SweepStale(cur, d.cfg.SweepBatch)
		if done {
			next = ""
		}

		d.cursors.mu.Lock()
		d.cursors.sweep[db.ID()] = next
		d.cursors.mu.Unlock()
	}
}

// runOptimize implements spec §4.6's Bitmap optimize task, per-DB.
func (d *Dispatcher) runOptimize() {
	for _, db := range d.reg.Databases() {
		d.cursors.mu.Lock()
		cur := d.cursors.optimize[db.ID()]
		d.cursors.mu.Unlock()

		next, done := db.Optimize(cur, d.cfg.OptimizeBatch)
		if done {
			next = ""
		}

		d.cursors.mu.Lock()
		d.cursors.optimize[db.ID()] = next
		d.cursors.mu.Unlock()
	}
}

// runPrune implements spec §4.6's DB prune task: retain only databases
// whose index is non-empty.
func (d *Dispatcher) runPrune() {
	for _, db := range d.reg.Databases() {
		if db.IsEmpty() {
			d.reg.PruneEmpty(db.ID())
		}
	}
}
