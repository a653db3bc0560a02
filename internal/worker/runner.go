// Package worker runs the retention pipeline on a schedule: queue generation
// on a cron cadence, dispatch of due items on a short interval, and an
// occasional reconciliation pass for items stuck in SENDING.
package worker

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/iosfx/autoservice/internal/core"
	"github.com/iosfx/autoservice/internal/metrics"
)

type Config struct {
	// GenerationSpec is a 5-field cron expression for generation runs.
	GenerationSpec string
	// DispatchInterval is how often due items are pushed out.
	DispatchInterval time.Duration
	// DispatchBatch caps items per garage per dispatch pass.
	DispatchBatch int
	// LookaheadDays widens TIME rules to catch soon-due cars.
	LookaheadDays int
	// StuckAfter requeues SENDING items older than this. Zero disables
	// the reconciliation pass.
	StuckAfter time.Duration
}

func DefaultConfig() Config {
	return Config{
		GenerationSpec:   "0 6 * * *", // daily, 06:00
		DispatchInterval: time.Minute,
		DispatchBatch:    50,
		LookaheadDays:    14,
		StuckAfter:       15 * time.Minute,
	}
}

type Runner struct {
	Store      *core.Store
	Dispatcher *core.Dispatcher
	Cfg        Config

	cron *cron.Cron
}

func New(store *core.Store, disp *core.Dispatcher, cfg Config) *Runner {
	if cfg.DispatchInterval <= 0 {
		cfg.DispatchInterval = time.Minute
	}
	if cfg.DispatchBatch <= 0 {
		cfg.DispatchBatch = 50
	}
	return &Runner{Store: store, Dispatcher: disp, Cfg: cfg}
}

// Start schedules the generation cron and launches the dispatch loop. It
// returns immediately; both stop when ctx is canceled.
func (r *Runner) Start(ctx context.Context) error {
	r.cron = cron.New() // standard 5-field expressions
	_, err := r.cron.AddFunc(r.Cfg.GenerationSpec, func() {
		r.GenerateAll(ctx)
	})
	if err != nil {
		return err
	}
	r.cron.Start()

	go r.dispatchLoop(ctx)

	go func() {
		<-ctx.Done()
		<-r.cron.Stop().Done()
	}()
	return nil
}

func (r *Runner) dispatchLoop(ctx context.Context) {
	t := time.NewTicker(r.Cfg.DispatchInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			r.DispatchAll(ctx)
		}
	}
}

// GenerateAll runs queue generation for every garage. Per-garage errors are
// logged and do not stop the sweep.
func (r *Runner) GenerateAll(ctx context.Context) {
	ids, err := r.Store.ListGarageIDs(ctx)
	if err != nil {
		log.Printf("worker: list garages: %v", err)
		return
	}
	for _, gid := range ids {
		res, err := r.Store.RunRetentionGeneration(ctx, gid, r.Cfg.LookaheadDays)
		if err != nil {
			log.Printf("worker: generation garage=%s: %v", gid, err)
			continue
		}
		metrics.ObserveGeneration(res.Created, res.Blocked, res.Skipped)
		if res.Created > 0 || res.Blocked > 0 {
			log.Printf("worker: generation garage=%s created=%d blocked=%d skipped=%d",
				gid, res.Created, res.Blocked, res.Skipped)
		}

		rem, err := r.Store.EnqueueAppointmentReminders(ctx, gid, time.Now())
		if err != nil {
			log.Printf("worker: appointment reminders garage=%s: %v", gid, err)
			continue
		}
		metrics.ObserveGeneration(rem.Created, rem.Blocked, rem.Skipped)
		if rem.Created > 0 || rem.Blocked > 0 {
			log.Printf("worker: appointment reminders garage=%s created=%d blocked=%d skipped=%d",
				gid, rem.Created, rem.Blocked, rem.Skipped)
		}
	}
}

// DispatchAll pushes due items out for every garage and, when configured,
// requeues items stuck in SENDING.
func (r *Runner) DispatchAll(ctx context.Context) {
	ids, err := r.Store.ListGarageIDs(ctx)
	if err != nil {
		log.Printf("worker: list garages: %v", err)
		return
	}
	for _, gid := range ids {
		if r.Cfg.StuckAfter > 0 {
			n, err := r.Dispatcher.ReleaseStuckSending(ctx, gid, r.Cfg.StuckAfter)
			if err != nil {
				log.Printf("worker: release stuck garage=%s: %v", gid, err)
			} else if n > 0 {
				metrics.StuckReleased.Add(float64(n))
				log.Printf("worker: released %d stuck items garage=%s", n, gid)
			}
		}

		res, err := r.Dispatcher.DispatchDueMessages(ctx, gid, r.Cfg.DispatchBatch)
		if err != nil {
			log.Printf("worker: dispatch garage=%s: %v", gid, err)
			continue
		}
		metrics.DispatchTotal.WithLabelValues("sent").Add(float64(res.Sent))
		metrics.DispatchTotal.WithLabelValues("failed").Add(float64(res.Failed))
		if res.Total > 0 {
			log.Printf("worker: dispatch garage=%s total=%d sent=%d failed=%d",
				gid, res.Total, res.Sent, res.Failed)
		}
	}
}
