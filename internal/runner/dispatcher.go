package runner

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// RunFunc is the unit of work a Dispatcher executes.
type RunFunc func(ctx context.Context) error

// Dispatcher runs triggered pipeline runs on a single background worker.
//
// Trigger never blocks and gives no completion signal. While a run is
// queued further triggers collapse into it.
type Dispatcher struct {
	run     RunFunc
	logger  *zap.Logger
	pending chan struct{}
	wg      sync.WaitGroup
}

func NewDispatcher(run RunFunc, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		run:     run,
		logger:  logger,
		pending: make(chan struct{}, 1),
	}
}

// Start launches the worker; it exits when ctx is cancelled.
func (d *Dispatcher) Start(ctx context.Context) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.logger.Info("dispatcher started")
		for {
			select {
			case <-d.pending:
				d.execute(ctx)
			case <-ctx.Done():
				d.logger.Info("dispatcher stopped")
				return
			}
		}
	}()
}

// Trigger requests a run and reports whether a new request was queued
// (false means one was already pending).
func (d *Dispatcher) Trigger() bool {
	select {
	case d.pending <- struct{}{}:
		return true
	default:
		return false
	}
}

// Wait blocks until the worker has exited.
func (d *Dispatcher) Wait() { d.wg.Wait() }

func (d *Dispatcher) execute(ctx context.Context) {
	defer func() {
		if p := recover(); p != nil {
			d.logger.Error("triggered run panicked", zap.Any("panic", p))
		}
	}()

	err := d.run(ctx)
	switch {
	case err == nil:
	case errors.Is(err, ErrRunInProgress):
		d.logger.Info("triggered run skipped, another run is in progress")
	default:
		d.logger.Error("triggered run could not start", zap.Error(err))
	}
}
