package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"voice-intake/internal/app"
	"voice-intake/internal/httpapi"
	"voice-intake/internal/logging"
	"voice-intake/internal/metrics"
)

const shutdownGrace = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the intake engine over HTTP",
	Long: `Starts the HTTP transport. The telephony bridge posts each recognized
utterance to /calls/{callId}/utterances and speaks back the returned message.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		logFile, _ := cmd.Flags().GetString("log-file")

		logger := logging.New(levelFlag(cmd), os.Stderr)
		if logFile != "" {
			var closer io.Closer
			logger, closer = logging.NewRotating(logFile, levelFlag(cmd))
			defer closer.Close()
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := app.Build(ctx, appConfig(cmd, logger))
		if err != nil {
			return err
		}
		defer a.Close()

		handler, err := httpapi.NewHandler(a.Engine,
			httpapi.WithLogger(logger),
			httpapi.WithMetricsHandler(metrics.Handler(a.Registry)),
		)
		if err != nil {
			return err
		}
		srv := &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			logger.Info("listening", "addr", addr)
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			logger.Info("shutting down")
			sctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownGrace)
			defer cancel()
			err := srv.Shutdown(sctx)
			if derr := a.Engine.Drain(sctx, "server shutdown"); derr != nil {
				logger.Error("drain sessions failed", "err", derr)
			}
			return err
		})
		return g.Wait()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("addr", "a", envOr("INTAKE_ADDR", ":8080"), "listen address")
	serveCmd.Flags().String("log-file", "", "write logs to a rotating file instead of stderr")
}
