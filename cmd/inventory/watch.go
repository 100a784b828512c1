package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"inventory/internal/controller"
)

func newWatchCmd(run runner) *cobra.Command {
	var (
		count int
		poll  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print the task list every time it changes",
		Long: `watch prints the task list once and again after every committed change,
until interrupted. Rapid changes may be folded into one print.

With the sqlite driver, changes made by other inventory processes are picked
up by checking the database file every --poll interval. The memory and
postgres drivers only report changes made by this process.`,
		Args: cobra.NoArgs,
		RunE: run(func(cmd *cobra.Command, _ []string, a *app) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			sub, err := a.repo.AllTasksStream(ctx)
			if err != nil {
				return err
			}
			defer sub.Close()
			if r, ok := a.store.(refresher); ok && poll > 0 {
				stopped := make(chan struct{})
				go func() {
					defer close(stopped)
					pollStore(ctx, r, poll, a.logger)
				}()
				defer func() {
					cancel()
					<-stopped
				}()
			}
			out := cmd.OutOrStdout()
			for n := 1; ; n++ {
				tasks, ok := sub.Next(ctx)
				if !ok {
					return nil
				}
				state := controller.DeriveListState(tasks)
				if _, err := fmt.Fprintf(out, "-- %d task(s)\n", len(state.Tasks)); err != nil {
					return err
				}
				if err := printTasks(out, state.Tasks); err != nil {
					return err
				}
				if count > 0 && n >= count {
					return nil
				}
			}
		}),
	}
	cmd.Flags().IntVar(&count, "count", 0, "stop after this many prints (0 means until interrupted)")
	cmd.Flags().DurationVar(&poll, "poll", time.Second, "how often to check for changes made by other processes (0 disables)")
	return cmd
}

// refresher is implemented by stores shared with other processes.
type refresher interface {
	Refresh(ctx context.Context) (bool, error)
}

func pollStore(ctx context.Context, r refresher, every time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Refresh(ctx); err != nil && ctx.Err() == nil {
				logger.Warn("refresh store", "error", err)
			}
		}
	}
}
