package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/GitThaisen/tv-automation-media-management/internal/config"
	"github.com/GitThaisen/tv-automation-media-management/internal/events"
	"github.com/GitThaisen/tv-automation-media-management/internal/generator"
	"github.com/GitThaisen/tv-automation-media-management/internal/mediascanner"
	"github.com/GitThaisen/tv-automation-media-management/internal/tracked"
	"github.com/GitThaisen/tv-automation-media-management/internal/worker"
	"github.com/GitThaisen/tv-automation-media-management/internal/workflow"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Watch configured storages and run the worker pool",
	RunE:  runService,
}

func runService(cmd *cobra.Command, args []string) error {
	configureLogging()

	cfgPath, _ := cmd.Flags().GetString("config")
	settings, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	objects, closers, err := buildStorages(ctx, settings.Storages)
	if err != nil {
		return err
	}
	defer func() {
		for _, c := range closers {
			c.Close()
		}
	}()

	index := tracked.NewMemIndex()
	ev := events.NewLogger()
	scanner := mediascanner.NewClient(mediascanner.Config{
		Host: settings.MediaScanner.Host,
		Port: settings.MediaScanner.Port,
	})

	base := generator.NewBase(objects, index, ev, generator.NewWatchFolder())
	if err := base.Init(ctx); err != nil {
		return err
	}
	defer base.Destroy()

	pool := worker.NewPool(int64(settings.WorkerPoolSize), index, scanner, ev)

	workflows := ev.Subscribe(events.NewWorkflow)
	go forwardWorkflows(ctx, workflows, pool)

	pool.Run(ctx)
	return nil
}

// forwardWorkflows drains the generator's NEW_WORKFLOW events into the
// pool, one step at a time, until ctx is cancelled ("the
// dispatcher that pairs WorkFlows to workers is out of scope", this is
// the minimal pairing a runnable binary needs, see worker.Pool's doc
// comment).
func forwardWorkflows(ctx context.Context, sub *events.Subscription, pool *worker.Pool) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		e, err := sub.Poll(time.Second)
		if err != nil {
			continue
		}
		wf, ok := e.Data.(*workflow.WorkFlow)
		if !ok {
			continue
		}
		for _, step := range wf.Steps {
			pool.Submit(step)
		}
	}
}
