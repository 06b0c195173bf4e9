package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/cronmaster/internal/config"
	"github.com/nextlevelbuilder/cronmaster/internal/dispatcher"
	"github.com/nextlevelbuilder/cronmaster/internal/invoker"
	"github.com/nextlevelbuilder/cronmaster/internal/maintain"
	"github.com/nextlevelbuilder/cronmaster/internal/ops"
	"github.com/nextlevelbuilder/cronmaster/internal/store/db"
	"github.com/nextlevelbuilder/cronmaster/internal/tracing"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe() error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	setupLogging(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	traceShutdown, err := tracing.Setup(ctx, tracing.Config{
		Endpoint: cfg.OTLPEndpoint,
		Protocol: cfg.OTLPProtocol,
		Insecure: cfg.OTLPInsecure,
	})
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}

	st, err := db.Open(cfg.DatabaseURL, db.WithBodyLimit(cfg.ResponseBodyLimitBytes))
	if err != nil {
		return err
	}
	defer st.Close()

	workerID, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("worker id: %w", err)
	}

	inv := invoker.New(
		invoker.WithTimeout(cfg.RequestTimeout()),
		invoker.WithUserAgent(cfg.UserAgent),
		invoker.WithBodyLimit(cfg.ResponseBodyLimitBytes),
	)
	disp := dispatcher.New(st, inv, workerID,
		dispatcher.WithMaxConcurrent(cfg.MaxConcurrentFirings))

	maintainer := maintain.New(st, disp,
		maintain.WithReconcileInterval(cfg.ReconcileInterval()),
		maintain.WithPruneInterval(cfg.PruneInterval()),
		maintain.WithRetention(cfg.Retention()),
	)

	if err := disp.Start(); err != nil {
		return err
	}
	go maintainer.Run(ctx)

	mux := http.NewServeMux()
	ops.New(st, maintainer).RegisterRoutes(mux)
	srv := &http.Server{Addr: cfg.ListenAddr, Handler: mux}
	go func() {
		slog.Info("ops listening", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("ops server failed", "error", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	s := <-sig
	slog.Info("shutting down", "signal", s)

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)

	disp.Shutdown(cfg.DrainDeadline())
	traceShutdown(shutdownCtx)
	return nil
}
