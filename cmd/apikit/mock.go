package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/lgc202/apikit/config"
	"github.com/lgc202/apikit/internal/mockapi"
)

func newMockCmd(a *app) *cobra.Command {
	var (
		addr         string
		refreshDelay time.Duration
	)
	cmd := &cobra.Command{
		Use:   "mock",
		Short: "Run a local backend with bearer-protected /items and a refresh endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			backend := mockapi.New(mockapi.WithRefreshDelay(refreshDelay))
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return err
			}
			srv := &http.Server{Handler: backend.Handler(), ReadHeaderTimeout: 5 * time.Second}

			tokens := backend.Tokens()
			fmt.Fprintf(a.stdout, "mock backend listening on http://%s\n", ln.Addr())
			fmt.Fprintf(a.stdout, "apikit login --access %s --refresh %s\n", tokens.AccessToken, tokens.RefreshToken)

			a.cfg.OnChange(func(old, new config.File) {
				if !config.Changed(old.Log, new.Log) || a.verbose {
					return
				}
				lvl, err := logrus.ParseLevel(new.Log.Level)
				if err != nil {
					a.log.WithField("level", new.Log.Level).Warn("ignoring unknown log level")
					return
				}
				a.log.SetLevel(lvl)
				a.log.WithField("level", lvl).Info("log level changed")
			})

			return serve(cmd.Context(), srv, ln)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().DurationVar(&refreshDelay, "refresh-delay", 0, "artificial latency of the refresh endpoint")
	return cmd
}

// serve runs srv on ln until ctx is done, then shuts it down gracefully.
func serve(ctx context.Context, srv *http.Server, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
