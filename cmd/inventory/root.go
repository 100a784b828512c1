package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

func newRootCmd() *cobra.Command {
	var cfgPath string
	root := &cobra.Command{
		Use:   "inventory",
		Short: "Manage the task inventory",
		Long: `inventory stores tasks in SQLite, Postgres or memory and keeps every view
in sync with the store. Configuration comes from an optional file passed with
--config and INVENTORY_* environment variables.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (yaml, json or toml)")

	// run opens the app for one command and always closes it, draining any
	// writes the command submitted.
	run := func(fn func(cmd *cobra.Command, args []string, a *app) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) (err error) {
			a, err := openApp(cfgPath, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() {
				ctx, cancel := context.WithTimeout(context.WithoutCancel(cmd.Context()), shutdownTimeout)
				defer cancel()
				err = errors.Join(err, a.close(ctx))
			}()
			return fn(cmd, args, a)
		}
	}

	root.AddCommand(
		newListCmd(run),
		newShowCmd(run),
		newAddCmd(run),
		newUpdateCmd(run),
		newDeleteCmd(run),
		newWatchCmd(run),
		newExportCmd(run),
	)
	return root
}

type runner func(fn func(cmd *cobra.Command, args []string, a *app) error) func(*cobra.Command, []string) error

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid task id %q", raw)
	}
	return id, nil
}
