package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jonathan/grant-matcher/internal/logging"
	"github.com/jonathan/grant-matcher/internal/server"
)

var (
	servePort           int
	serveNoRecalibrator bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the REST API server",
	Long: `Start an HTTP server that exposes matching, search and feedback endpoints.
The feedback recalibration job runs in the background unless --no-recalibrator is set.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Port to listen on (default HTTP_PORT)")
	serveCmd.Flags().BoolVar(&serveNoRecalibrator, "no-recalibrator", false, "Do not run the periodic recalibration job in this process")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, appOptions{generation: true, migrate: true})
	if err != nil {
		return err
	}
	defer a.Close()

	port := a.cfg.HTTPPort
	if servePort > 0 {
		port = servePort
	}

	if !serveNoRecalibrator {
		// The job outlives request contexts; Close stops it.
		a.recalibrator.Start(context.WithoutCancel(ctx))
	}

	srv := server.New(server.Config{Port: port}, server.Deps{
		Matcher:      a.engine,
		Feedback:     a.db,
		Offsets:      a.offsets,
		Recalibrator: a.recalibrator,
		Limiter:      a.limiter,
		Checks:       a.healthChecks(),
		Gatherer:     a.registry,
		Metrics:      a.serverMetrics,
		Logger:       logging.New("server"),
	})
	return srv.Start(ctx)
}
