package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"icanban/internal/model"
	"icanban/internal/tracker"
)

func listCmd(a *app) *cobra.Command {
	var (
		asJSON  bool
		slices  bool
		running bool
	)

	cmd := &cobra.Command{
		Use:     "list [uid]",
		Aliases: []string{"ls"},
		Short:   "Show the task tree, or the subtree under uid",
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := a.openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer sess.close()
			m := sess.manager

			var views []model.TaskView
			switch {
			case len(args) == 1:
				v, err := m.View(args[0])
				if err != nil {
					return err
				}
				views = []model.TaskView{v}
			case running:
				for _, t := range m.Running() {
					if v, err := m.View(t.UID()); err == nil {
						views = append(views, v)
					}
				}
			default:
				views = m.Views()
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(views)
			}
			if len(views) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No tasks.")
			}
			printTree(cmd.OutOrStdout(), views, slices)
			if orphans := m.Orphans(); len(orphans) > 0 {
				fmt.Fprintf(cmd.ErrOrStderr(), "%d record(s) with a missing parent were skipped\n", len(orphans))
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&asJSON, "json", "j", false, "Output as JSON")
	cmd.Flags().BoolVarP(&slices, "slices", "s", false, "Show time slices")
	cmd.Flags().BoolVarP(&running, "running", "r", false, "Only tasks with a running time slice")

	return cmd
}

func addCmd(a *app) *cobra.Command {
	var (
		parent      string
		description string
		categories  []string
	)

	cmd := &cobra.Command{
		Use:   "add <summary>",
		Short: "Create a task, or a sub-task with --parent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := a.openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer sess.close()

			patch := tracker.Patch{"summary": args[0]}
			if parent != "" {
				patch["related-to"] = parent
			}
			if description != "" {
				patch["description"] = description
			}
			if len(categories) > 0 {
				patch["categories"] = categories
			}
			task, err := sess.manager.Save(cmd.Context(), tracker.NewTask(), patch)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), task.UID())
			return nil
		},
	}

	cmd.Flags().StringVarP(&parent, "parent", "p", "", "Parent task uid")
	cmd.Flags().StringVarP(&description, "description", "d", "", "Description")
	cmd.Flags().StringSliceVarP(&categories, "category", "c", nil, "Category (repeatable)")

	return cmd
}

func editCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "edit <uid> key=value...",
		Short: "Change task properties; key= removes a property",
		Long: `Change task properties. Keys are property names such as summary,
description, status, priority, categories or related-to. An empty value
removes the property; categories take a comma separated list.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			patch, err := parseAssignments(args[1:])
			if err != nil {
				return err
			}
			sess, err := a.openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer sess.close()

			task, err := sess.manager.Get(args[0])
			if err != nil {
				return err
			}
			_, err = sess.manager.Save(cmd.Context(), task, patch)
			return err
		},
	}
}

func startCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "start <uid>",
		Short: "Start tracking time on a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := a.openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer sess.close()

			slice, err := sess.manager.Start(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", runningColor.Sprint("started"), slice.UID())
			return nil
		},
	}
}

func stopCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stop <uid>",
		Short: "Stop tracking time on a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := a.openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer sess.close()

			stopped, err := sess.manager.Stop(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if len(stopped) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "nothing running")
				return nil
			}
			d, err := sess.manager.Elapsed(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "stopped %d slice(s), total %s\n",
				len(stopped), elapsedColor.Sprint(formatElapsed(d.Milliseconds())))
			return nil
		},
	}
}

func rmCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <uid>...",
		Short: "Delete tasks with their sub-tasks and time slices",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := a.openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer sess.close()

			for _, uid := range args {
				if err := sess.manager.Delete(cmd.Context(), uid); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func mvCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "mv <uid> <container>",
		Short: "Move a top-level task and everything below it to another container",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := a.openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer sess.close()
			return sess.manager.Move(cmd.Context(), args[0], args[1])
		},
	}
}

func elapsedCmd(a *app) *cobra.Command {
	var ms bool

	cmd := &cobra.Command{
		Use:   "elapsed <uid>",
		Short: "Print the tracked time of a task and its sub-tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := a.openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer sess.close()

			d, err := sess.manager.Elapsed(args[0])
			if err != nil {
				return err
			}
			if ms {
				fmt.Fprintln(cmd.OutOrStdout(), d.Milliseconds())
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), formatElapsed(d.Milliseconds()))
			return nil
		},
	}

	cmd.Flags().BoolVar(&ms, "ms", false, "Print milliseconds")
	return cmd
}
