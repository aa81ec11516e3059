package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"icanban/internal/config"
	appLog "icanban/internal/log"
)

var Version = "0.1.0-dev"

// app carries what every subcommand needs once the root has loaded the
// config file.
type app struct {
	cfgPath  string
	logLevel string
	cfg      *config.Config
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:     "icanban",
		Short:   "Hierarchical task and time tracking on a calendar store",
		Version: Version,
		Long: `icanban keeps tasks, sub-tasks and tracked time slices as VTODO records
in a calendar store (SQLite, PostgreSQL or memory) and serves them over
a JSON API.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load()
		},
	}

	rootCmd.PersistentFlags().StringVar(&a.cfgPath, "config", defaultConfigPath(), "Path to config file")
	rootCmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level (overrides config if set)")

	rootCmd.AddCommand(serveCmd(a))
	rootCmd.AddCommand(listCmd(a))
	rootCmd.AddCommand(addCmd(a))
	rootCmd.AddCommand(editCmd(a))
	rootCmd.AddCommand(startCmd(a))
	rootCmd.AddCommand(stopCmd(a))
	rootCmd.AddCommand(rmCmd(a))
	rootCmd.AddCommand(mvCmd(a))
	rootCmd.AddCommand(elapsedCmd(a))
	rootCmd.AddCommand(containersCmd(a))
	rootCmd.AddCommand(settingsCmd(a))
	rootCmd.AddCommand(importCmd(a))
	rootCmd.AddCommand(exportCmd(a))

	return rootCmd
}

func defaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(dir, "icanban", "config.yaml")
}

func (a *app) load() error {
	cfg, err := config.Load(a.cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg.ResolvePaths(a.cfgPath)

	level := cfg.LogLevel
	if a.logLevel != "" {
		level = a.logLevel
	}
	appLog.SetLevel(appLog.ParseLevel(level))

	a.cfg = cfg
	return nil
}

// saveSettings writes the user-editable settings back to the config file
// without the resolved store and cache paths.
func (a *app) saveSettings(apply func(*config.Config) error) error {
	onDisk, err := config.Load(a.cfgPath)
	if err != nil {
		return err
	}
	if err := apply(onDisk); err != nil {
		return err
	}
	if err := onDisk.Save(a.cfgPath); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	return apply(a.cfg)
}
