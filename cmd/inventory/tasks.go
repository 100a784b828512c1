package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"inventory/internal/controller"
	"inventory/pkg/domain"
)

func newListCmd(run runner) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List tasks ordered by id",
		Args:    cobra.NoArgs,
		RunE: run(func(cmd *cobra.Command, _ []string, a *app) error {
			state := controller.DeriveListState(a.repo.ListTasks(cmd.Context()))
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), state.Tasks)
			}
			return printTasks(cmd.OutOrStdout(), state.Tasks)
		}),
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print tasks as JSON")
	return cmd
}

func newShowCmd(run runner) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one task",
		Args:  cobra.ExactArgs(1),
		RunE: run(func(cmd *cobra.Command, args []string, a *app) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			task, ok := a.repo.GetTask(cmd.Context(), id)
			if !ok {
				return domain.ErrNotFound{Entity: domain.EntityTask, ID: id}
			}
			return writeJSON(cmd.OutOrStdout(), task)
		}),
	}
}

func newAddCmd(run runner) *cobra.Command {
	var details domain.TaskDetails
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a task",
		Args:  cobra.NoArgs,
		RunE: run(func(cmd *cobra.Command, _ []string, a *app) error {
			entry := controller.NewEntryController(a.repo, a.dispatch)
			defer entry.Close()
			entry.UpdateUIState(details)
			var saveErr error
			if !entry.SaveItem(func(err error) { saveErr = err }) {
				return fmt.Errorf("invalid task: %w", domain.ValidateDetails(details))
			}
			a.dispatch.Wait()
			if saveErr != nil {
				return saveErr
			}
			tasks := a.repo.ListTasks(cmd.Context())
			if len(tasks) == 0 {
				return errors.New("task was not stored")
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "added task %d\n", tasks[len(tasks)-1].ID)
			return err
		}),
	}
	cmd.Flags().StringVarP(&details.Name, "name", "n", "", "task name")
	cmd.Flags().StringVarP(&details.Priority, "priority", "p", string(domain.PriorityMedium), "priority (High, Medium, Low)")
	return cmd
}

func newUpdateCmd(run runner) *cobra.Command {
	var name, priority string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Change the name and priority of a task",
		Args:  cobra.ExactArgs(1),
		RunE: run(func(cmd *cobra.Command, args []string, a *app) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			current, ok := a.repo.GetTask(cmd.Context(), id)
			if !ok {
				return domain.ErrNotFound{Entity: domain.EntityTask, ID: id}
			}
			if !cmd.Flags().Changed("name") {
				name = current.Name
			}
			if !cmd.Flags().Changed("priority") {
				priority = string(current.Priority)
			}
			details, err := controller.NewDetailsController(cmd.Context(), id, a.repo, a.dispatch)
			if err != nil {
				return err
			}
			defer details.Close()
			var updateErr error
			details.UpdateTask(name, priority, func(err error) { updateErr = err })
			a.dispatch.Wait()
			if updateErr != nil {
				return updateErr
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "updated task %d\n", id)
			return err
		}),
	}
	cmd.Flags().StringVarP(&name, "name", "n", "", "new name")
	cmd.Flags().StringVarP(&priority, "priority", "p", "", "new priority")
	return cmd
}

func newDeleteCmd(run runner) *cobra.Command {
	return &cobra.Command{
		Use:     "delete <id>",
		Aliases: []string{"rm"},
		Short:   "Delete a task; deleting a missing id is not an error",
		Args:    cobra.ExactArgs(1),
		RunE: run(func(cmd *cobra.Command, args []string, a *app) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			details, err := controller.NewDetailsController(cmd.Context(), id, a.repo, a.dispatch)
			if err != nil {
				return err
			}
			defer details.Close()
			var deleteErr error
			details.DeleteTask(func(err error) { deleteErr = err })
			a.dispatch.Wait()
			if deleteErr != nil {
				return deleteErr
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "deleted task %d\n", id)
			return err
		}),
	}
}

func printTasks(w io.Writer, tasks []domain.Task) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tPRIORITY\tPRICE\tQUANTITY")
	for _, t := range tasks {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%.2f\t%d\n", t.ID, t.Name, t.Priority, t.Price, t.Quantity)
	}
	return tw.Flush()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
