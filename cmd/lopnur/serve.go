package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/torosent/lopnur/internal/config"
	"github.com/torosent/lopnur/internal/server"
	"github.com/torosent/lopnur/internal/storage"
)

func newServeCommand(stderr io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve stored sessions over a read-only HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			flags := cmd.Flags()
			addr, err := flags.GetString("addr")
			if err != nil {
				return err
			}
			dir, err := flags.GetString("data-dir")
			if err != nil {
				return err
			}
			level, err := flags.GetString("log-level")
			if err != nil {
				return err
			}
			return serve(cmd.Context(), addr, dir, level, stderr)
		},
	}
	cmd.Flags().String("addr", ":8080", "Address to listen on")
	cmd.Flags().String("data-dir", config.DefaultDataDir, "Directory where session results are stored")
	cmd.Flags().String("log-level", config.DefaultLogLevel, "Log level (debug, info, warn, error)")
	return cmd
}

func serve(parent context.Context, addr, dir, level string, stderr io.Writer) error {
	log, err := newLogger(level, stderr)
	if err != nil {
		return err
	}
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	srv := server.New(storage.NewFileStore(dir), log).NewHTTPServer(addr)

	errCh := make(chan error, 1)
	go func() {
		log.WithFields(logrus.Fields{"addr": addr, "data_dir": dir}).Info("serving sessions")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info("server stopped")
	return nil
}
