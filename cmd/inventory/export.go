package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"inventory/internal/export"
)

func newExportCmd(run runner) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Snapshot the task list into the blob store",
		Args:  cobra.NoArgs,
		RunE: run(func(cmd *cobra.Command, _ []string, a *app) error {
			f, err := export.ParseFormat(format)
			if err != nil {
				return err
			}
			exp, err := a.exporter(cmd.Context())
			if err != nil {
				return err
			}
			obj, err := exp.Export(cmd.Context(), f)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), obj.Key)
			return err
		}),
	}
	cmd.Flags().StringVarP(&format, "format", "f", string(export.FormatJSON), "json or csv")

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List stored exports",
		Args:  cobra.NoArgs,
		RunE: run(func(cmd *cobra.Command, _ []string, a *app) error {
			exp, err := a.exporter(cmd.Context())
			if err != nil {
				return err
			}
			objs, err := exp.List(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "KEY\tSIZE\tMODIFIED")
			for _, o := range objs {
				fmt.Fprintf(tw, "%s\t%d\t%s\n", o.Key, o.Size, o.LastModified.Format(time.RFC3339))
			}
			return tw.Flush()
		}),
	}, &cobra.Command{
		Use:   "show <key>",
		Short: "Print the tasks stored in an export",
		Args:  cobra.ExactArgs(1),
		RunE: run(func(cmd *cobra.Command, args []string, a *app) error {
			exp, err := a.exporter(cmd.Context())
			if err != nil {
				return err
			}
			tasks, err := exp.Load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printTasks(cmd.OutOrStdout(), tasks)
		}),
	})
	return cmd
}
