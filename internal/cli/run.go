package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	epl "github.com/kahana-sysadmin/UnityEPL"
	"github.com/kahana-sysadmin/UnityEPL/internal/server"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <experiment> <participant>",
		Short: "Run or resume one experiment session",
		Long: `Runs the named experiment config for a participant. If a snapshot exists
for the participant and session, the run resumes where it stopped.

Keys are read one per line from stdin ("space", "y", "n", "escape").
With --http, keys can also be sent as POST /keys/{key}.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			runCfg.Experiment = args[0]
			runCfg.Participant = args[1]
			return runSession(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	f := cmd.Flags()
	f.IntVar(&runCfg.Session, "session", runCfg.Session, "Session number")
	f.Uint64Var(&runCfg.Seed, "seed", runCfg.Seed, "Random seed (0 derives one from participant and session)")
	f.DurationVar(&runCfg.TickPeriod, "tick", runCfg.TickPeriod, "Scheduler tick period")
	f.IntVar(&runCfg.EventsPerTick, "events-per-tick", runCfg.EventsPerTick, "Items processed per tick (eventsPerFrame overrides)")
	f.StringVar(&runCfg.QuitKey, "quit-key", runCfg.QuitKey, "Key that ends the run (empty disables)")
	f.StringVar(&runCfg.HTTPAddr, "http", runCfg.HTTPAddr, "Listen address for the key input endpoint (empty disables)")

	return cmd
}

func runSession(ctx context.Context, in io.Reader, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner, err := epl.NewLocalRunner(ctx, runCfg, afero.NewOsFs(), epl.Devices{Screen: out}, logger)
	if err != nil {
		return fmt.Errorf("launch %s: %w", runCfg.Experiment, err)
	}
	defer func() {
		if err := runner.Close(); err != nil {
			logger.Error("close failed", "error", err)
		}
	}()
	logger.Info("session launched",
		"participant", runCfg.Participant,
		"session", runCfg.Session,
		"resumed", runner.Session.Runner.Resumed(),
		"store", runCfg.StoreKind,
	)

	// stdin blocks without a context, so the reader is not part of the group.
	go readKeys(in, runner)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer stop()
		return runner.Run(gctx)
	})

	if runCfg.HTTPAddr != "" {
		srv := server.New(runner.Manager, logger, server.WithStateSource(runner.Session.Runner))
		httpServer := &http.Server{
			Addr:              runCfg.HTTPAddr,
			Handler:           srv,
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			logger.Info("key endpoint starting", "addr", runCfg.HTTPAddr)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("key endpoint: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return httpServer.Shutdown(shutdownCtx)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("session ended", "status", runner.Session.Runner.Status())
	return nil
}

// readKeys turns each stdin line into a key press and release.
func readKeys(in io.Reader, runner *epl.LocalRunner) {
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		key := strings.TrimSpace(sc.Text())
		if key == "" {
			key = "space"
		}
		runner.Key(key, true)
		runner.Key(key, false)
	}
	if err := sc.Err(); err != nil {
		logger.Warn("stdin closed", "error", err)
	}
}
