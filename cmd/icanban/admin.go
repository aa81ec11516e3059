package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"icanban/internal/config"
	"icanban/internal/ics"
	"icanban/internal/store"
)

func containersCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "containers",
		Short: "List task containers",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, closeStore, err := openStore(cmd.Context(), a.cfg)
			if err != nil {
				return err
			}
			defer closeStore()

			list, err := s.QueryContainers(cmd.Context(), store.ContainerFilter{Capability: store.CapabilityTasks})
			if err != nil {
				return err
			}
			for _, c := range list {
				marker := " "
				if c.ID == a.cfg.Container {
					marker = runningColor.Sprint("*")
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %-20s %s\n", marker, c.Name, uidColor.Sprint(c.ID))
			}
			return nil
		},
	}

	var colorHex string
	add := &cobra.Command{
		Use:   "add <name>",
		Short: "Create a task container",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, closeStore, err := openStore(cmd.Context(), a.cfg)
			if err != nil {
				return err
			}
			defer closeStore()

			creator, ok := s.(store.ContainerCreator)
			if !ok {
				return errors.New("store cannot create containers")
			}
			c, err := creator.CreateContainer(cmd.Context(), store.Container{
				Name:         args[0],
				Color:        colorHex,
				Capabilities: []string{store.CapabilityTasks},
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), c.ID)
			return nil
		},
	}
	add.Flags().StringVar(&colorHex, "color", "", "Display color, e.g. #3f51b5")
	cmd.AddCommand(add)

	return cmd
}

func settingsCmd(a *app) *cobra.Command {
	var (
		frequency int
		container string
	)

	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change the autosave frequency and the task container",
		Long: `Without flags, print the current settings. --poll-frequency sets the
autosave interval in milliseconds (0 or -1 disables it); --container
selects the task container by id.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			freqSet := cmd.Flags().Changed("poll-frequency")
			contSet := cmd.Flags().Changed("container")

			if contSet && container != "" {
				if err := a.checkContainer(cmd.Context(), container); err != nil {
					return err
				}
			}
			if freqSet || contSet {
				err := a.saveSettings(func(c *config.Config) error {
					s := c.Settings()
					if freqSet {
						s.PollFrequencyMs = frequency
					}
					if contSet {
						s.Container = container
					}
					return c.ApplySettings(s)
				})
				if err != nil {
					return err
				}
			}

			s := a.cfg.Settings()
			freq := fmt.Sprintf("%d ms", s.PollFrequencyMs)
			if s.PollFrequencyMs == config.PollDisabled {
				freq = "disabled"
			}
			cont := s.Container
			if cont == "" {
				cont = "(first task container)"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "poll frequency: %s\ncontainer:      %s\n", freq, cont)
			return nil
		},
	}

	cmd.Flags().IntVar(&frequency, "poll-frequency", 0, "Autosave interval in milliseconds")
	cmd.Flags().StringVar(&container, "container", "", "Task container id")

	return cmd
}

func (a *app) checkContainer(ctx context.Context, id string) error {
	s, closeStore, err := openStore(ctx, a.cfg)
	if err != nil {
		return err
	}
	defer closeStore()
	_, err = store.EnsureContainer(ctx, s, id)
	return err
}

func importCmd(a *app) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "import [file-or-url...]",
		Short: "Import VTODOs from iCalendar files or feeds as new tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !all && len(args) == 0 {
				return errors.New("name a file or URL, or pass --all for the configured feeds")
			}
			sess, err := a.openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer sess.close()

			var errs []error
			if all {
				errs = append(errs, a.importSources(cmd.Context(), sess.manager))
			}

			fetcher := ics.NewFetcher(a.cfg.CacheDir, 0)
			for i, arg := range args {
				todos, err := fetcher.FetchTodos(cmd.Context(), ics.Source{ID: fmt.Sprintf("arg-%d", i+1), URL: arg})
				if err != nil {
					errs = append(errs, err)
					continue
				}
				mapping, err := sess.manager.Import(cmd.Context(), todos)
				if err != nil {
					errs = append(errs, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d task(s) imported\n", arg, len(mapping))
			}
			return errors.Join(errs...)
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Import every feed listed under imports in the config")
	return cmd
}

func exportCmd(a *app) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "export [uid]",
		Short: "Write the task tree, or one subtree, as an iCalendar file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := a.openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer sess.close()

			uid := ""
			if len(args) == 1 {
				uid = args[0]
			}
			todos, err := sess.manager.Export(uid)
			if err != nil {
				return err
			}

			var w io.Writer = cmd.OutOrStdout()
			if output != "" && output != "-" {
				f, err := os.Create(output)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			return ics.EncodeICS(w, todos)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default stdout)")
	return cmd
}
