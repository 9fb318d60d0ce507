package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nidhogg/nora/internal/api"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd(o *options) *cobra.Command {
	var (
		host string
		port int
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the REST API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, o, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			if host == "" {
				host = o.cfg.Server.Host
			}
			if port == 0 {
				port = o.cfg.Server.Port
			}

			handler := api.NewHandler(a.engine, a.agents, a.coord, a.indexer, o.logger)
			handler.SetVersion(version)
			if a.rag != nil {
				handler.SetRAG(a.rag)
			}
			if a.store != nil {
				handler.SetStore(a.store)
			}

			srv := &http.Server{
				Addr:              net.JoinHostPort(host, strconv.Itoa(port)),
				Handler:           handler.Router(),
				ReadHeaderTimeout: 10 * time.Second,
			}
			errc := make(chan error, 1)
			go func() {
				o.logger.Info("nora listening", zap.String("addr", srv.Addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errc <- err
				}
				close(errc)
			}()

			select {
			case err := <-errc:
				if err != nil {
					return fmt.Errorf("serve %s: %w", srv.Addr, err)
				}
				return nil
			case <-ctx.Done():
			}

			o.logger.Info("shutting down")
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(sctx); err != nil {
				return fmt.Errorf("shutdown: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "listen host (default from config)")
	cmd.Flags().IntVar(&port, "port", 0, "listen port (default from config)")
	return cmd
}
