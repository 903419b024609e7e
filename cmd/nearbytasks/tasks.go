package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"nearby-tasks/internal/service"
)

var (
	tasksUserID  string
	tasksJSON    bool
	tasksAll     bool
	addDesc      string
	addLocation  string
	clearConfirm bool
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Manage tasks in the configured store",
}

var tasksAddCmd = &cobra.Command{
	Use:   "add [title]",
	Short: "Add a task pinned to a place",
	Long:  `Add a task. --at takes "lat, lon" or "POINT(lon lat)".`,
	Args:  cobra.ExactArgs(1),
	RunE: withTasks(func(ctx context.Context, svc *service.TaskService, owner string, args []string) error {
		loc, err := service.ParseLocationInput(addLocation)
		if err != nil {
			return fmt.Errorf("--at %q: %w", addLocation, err)
		}
		task, err := svc.CreateTask(ctx, owner, service.TaskInput{
			Title:       args[0],
			Description: addDesc,
			Location:    loc,
		})
		if err != nil {
			return err
		}
		fmt.Println(task.ID)
		return nil
	}),
}

var tasksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending tasks (--all includes done ones)",
	Args:  cobra.NoArgs,
	RunE: withTasks(func(ctx context.Context, svc *service.TaskService, owner string, _ []string) error {
		list := svc.ListPending
		if tasksAll {
			list = svc.ListTasks
		}
		tasks, err := list(ctx, owner)
		if err != nil {
			return err
		}

		if tasksJSON {
			encoder := json.NewEncoder(os.Stdout)
			encoder.SetIndent("", "  ")
			return encoder.Encode(tasks)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tDONE\tLOCATION\tTITLE")
		for _, task := range tasks {
			fmt.Fprintf(w, "%s\t%t\t%s\t%s\n", task.ID, task.Done, task.Location.String(), task.Title)
		}
		return w.Flush()
	}),
}

var tasksDoneCmd = &cobra.Command{
	Use:   "done [id]",
	Short: "Mark a task as done",
	Args:  cobra.ExactArgs(1),
	RunE: withTasks(func(ctx context.Context, svc *service.TaskService, owner string, args []string) error {
		task, err := svc.CompleteTask(ctx, owner, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("done: %s\n", task.Title)
		return nil
	}),
}

var tasksDeleteCmd = &cobra.Command{
	Use:   "delete [id]",
	Short: "Delete a task",
	Args:  cobra.ExactArgs(1),
	RunE: withTasks(func(ctx context.Context, svc *service.TaskService, owner string, args []string) error {
		if err := svc.DeleteTask(ctx, owner, args[0]); err != nil {
			return err
		}
		fmt.Printf("deleted: %s\n", args[0])
		return nil
	}),
}

var tasksClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every task of the user",
	Args:  cobra.NoArgs,
	RunE: withTasks(func(ctx context.Context, svc *service.TaskService, owner string, _ []string) error {
		if !clearConfirm {
			return fmt.Errorf("refusing to delete all tasks without --yes")
		}
		n, err := svc.DeleteAll(ctx, owner)
		if err != nil {
			return err
		}
		fmt.Printf("deleted %d task(s)\n", n)
		return nil
	}),
}

func init() {
	rootCmd.AddCommand(tasksCmd)
	tasksCmd.AddCommand(tasksAddCmd, tasksListCmd, tasksDoneCmd, tasksDeleteCmd, tasksClearCmd)

	tasksCmd.PersistentFlags().StringVar(&tasksUserID, "user", "", "Task owner on the local store (defaults to AGENT_USER_ID)")

	tasksAddCmd.Flags().StringVarP(&addDesc, "description", "d", "", "Task description, used as the alert text")
	tasksAddCmd.Flags().StringVar(&addLocation, "at", "", `Place of the task: "lat, lon" or "POINT(lon lat)"`)
	_ = tasksAddCmd.MarkFlagRequired("at")

	tasksListCmd.Flags().BoolVar(&tasksJSON, "json", false, "Output in JSON format")
	tasksListCmd.Flags().BoolVar(&tasksAll, "all", false, "Include done tasks")

	tasksClearCmd.Flags().BoolVarP(&clearConfirm, "yes", "y", false, "Confirm deleting all tasks")
}

type tasksFunc func(ctx context.Context, svc *service.TaskService, owner string, args []string) error

// withTasks opens the configured store and resolves the task owner before
// running fn.
func withTasks(fn tasksFunc) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		rt, err := loadRuntime()
		if err != nil {
			return err
		}
		defer rt.close()

		backend, closeFn, err := openBackend(rt)
		if err != nil {
			return err
		}
		defer closeFn()

		user := tasksUserID
		if user == "" {
			user = rt.cfg.Agent.UserID
		}
		ctx := cmd.Context()
		owner, err := backend.userIdentity(user).CurrentUserID(ctx)
		if err != nil {
			return fmt.Errorf("task owner: %w (set --user or AGENT_USER_ID)", err)
		}
		return fn(ctx, service.NewTaskService(backend.store), owner, args)
	}
}
