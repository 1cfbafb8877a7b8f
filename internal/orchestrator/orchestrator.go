package orchestrator

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Orchestrator wires a Scheduler, Worker and StatusServer into one
// long-running process, grounded on cmd/indexer/main.go's errgroup
// fan-out of its worker and periodic health-check goroutines.
type Orchestrator struct {
	Scheduler    *Scheduler
	Worker       *Worker
	StatusServer *StatusServer
	Logger       *zap.Logger
}

// Run starts every component and blocks until ctx is canceled or a
// component returns an error.
func (o *Orchestrator) Run(ctx context.Context) error {
	logger := o.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	o.Scheduler.Start()
	defer o.Scheduler.Stop()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("orchestrator: starting worker")
		return o.Worker.Run(gCtx)
	})

	if o.StatusServer != nil {
		g.Go(func() error {
			logger.Info("orchestrator: starting status server")
			return o.StatusServer.Run(gCtx)
		})
	}

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}

	logger.Info("orchestrator: shutdown complete")
	return nil
}
