package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newServeCommand() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the link HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings, err := loadSettings(nil)
			if err != nil {
				return err
			}
			if addr != "" {
				settings.ListenAddr = addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			_, logger := glog.Resolve("banklinkd", nil, nil)
			return serve(ctx, settings, appOptions{logger: logger}, nil)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address, overrides BANKLINK_LISTEN_ADDR")
	return cmd
}

// serve runs the API until ctx is done. ready, when set, receives the bound
// listener address.
func serve(ctx context.Context, settings Settings, opts appOptions, ready chan<- string) error {
	rt, err := buildApp(ctx, settings, opts)
	if err != nil {
		return err
	}
	defer rt.Close()

	listener, err := net.Listen("tcp", settings.ListenAddr)
	if err != nil {
		return err
	}
	server := &http.Server{
		Handler:           rt.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if ready != nil {
		ready <- listener.Addr().String()
	}
	rt.logger.Info("banklinkd listening", "addr", listener.Addr().String(), "async_revoke", rt.worker != nil)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if rt.worker != nil {
		if err := rt.worker.Start(groupCtx); err != nil {
			_ = listener.Close()
			return err
		}
	}
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), settings.ShutdownTimeout)
		defer cancel()
		rt.logger.Info("banklinkd shutting down")
		err := server.Shutdown(shutdownCtx)
		return errors.Join(err, rt.worker.Stop(shutdownCtx))
	})
	return group.Wait()
}
