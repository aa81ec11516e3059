package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"icanban/internal/ics"
	appLog "icanban/internal/log"
	"icanban/internal/tracker"
	"icanban/internal/web"
)

func serveCmd(a *app) *cobra.Command {
	var (
		listen   string
		doImport bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API with live rebuilds and autosave",
		RunE: func(cmd *cobra.Command, args []string) error {
			// Root context with cancellation on SIGINT/SIGTERM.
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			// CLI --listen overrides config file listen if provided.
			if listen != "" {
				a.cfg.Listen = listen
			}

			appLog.Info("icanban starting",
				"version", Version,
				"listen", a.cfg.Listen,
				"backend", a.cfg.Store.Backend,
				"poll_frequency_ms", a.cfg.PollFrequencyMs,
				"imports", len(a.cfg.Imports),
			)

			sess, err := a.openSession(ctx)
			if err != nil {
				return err
			}
			defer sess.close()

			if doImport {
				if err := a.importSources(ctx, sess.manager); err != nil {
					appLog.Error("one or more imports failed", err)
				}
			}

			poller := tracker.NewPoller(sess.manager)
			poller.SetFrequency(a.cfg.PollFrequencyMs)

			srv := web.NewServer(web.Options{
				Config:     a.cfg,
				ConfigPath: a.cfgPath,
				Manager:    sess.manager,
				Poller:     poller,
				Store:      sess.bus,
			})

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return srv.Run(gctx)
			})
			g.Go(func() error {
				return sess.manager.Watch(gctx, sess.bus)
			})
			g.Go(func() error {
				poller.Start(gctx)
				<-gctx.Done()
				poller.Stop()
				return nil
			})

			err = g.Wait()

			// Persist how far running slices got before the process goes away.
			sweepCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if serr := sess.manager.Sweep(sweepCtx); serr != nil {
				appLog.Error("final sweep failed", serr)
			}

			appLog.Info("icanban exiting")
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "HTTP listen address (overrides config if set)")
	cmd.Flags().BoolVar(&doImport, "import", false, "Import every configured feed before serving")

	return cmd
}

// importSources fetches each configured feed and imports its tasks.
func (a *app) importSources(ctx context.Context, m *tracker.Manager) error {
	fetcher := ics.NewFetcher(a.cfg.CacheDir, 0)
	var errs []error
	for _, src := range a.cfg.Sources() {
		todos, err := fetcher.FetchTodos(ctx, src)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		mapping, err := m.Import(ctx, todos)
		if err != nil {
			errs = append(errs, err)
		}
		appLog.Info("feed imported", "id", src.ID, "tasks", len(mapping))
	}
	return errors.Join(errs...)
}
