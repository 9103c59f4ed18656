package commands

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/zeusync/worldlink/internal/core/observability/log"
	"github.com/zeusync/worldlink/internal/core/protocol/transport"
	"github.com/zeusync/worldlink/internal/injector"
)

func newServeCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the reference authority",
		Long: `Run the in-memory reference authority on every configured endpoint until interrupted.

Examples:
  worldctl serve
  worldctl serve --listen tcp://0.0.0.0:7401 --listen quic://0.0.0.0:7403
  worldctl serve --metrics-addr :9100`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			auth, cleanup, err := injector.InitializeAuthority(g.opts)
			if err != nil {
				return err
			}
			defer cleanup()
			return serve(cmd, auth)
		},
	}
	cmd.Flags().StringArrayVar(&g.opts.Listen, "listen", nil, "endpoint to listen on, repeatable (default from config)")
	cmd.Flags().StringVar(&g.opts.MetricsAddr, "metrics-addr", "", "serve prometheus metrics on this address")
	return cmd
}

func serve(cmd *cobra.Command, auth *injector.Authority) error {
	ctx := cmd.Context()
	if err := auth.Server.Listen(ctx); err != nil {
		return err
	}
	for _, mode := range transport.Modes {
		if ep, ok := auth.Server.Endpoint(mode); ok {
			fmt.Fprintf(cmd.OutOrStdout(), "listening on %s\n", ep)
		}
	}

	grp, gctx := errgroup.WithContext(ctx)
	grp.Go(func() error { return auth.Server.Serve(gctx) })

	if addr := auth.Config.Metrics.Address; addr != "" {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			_ = auth.Server.Close()
			_ = grp.Wait()
			return fmt.Errorf("metrics listener: %w", err)
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", auth.Metrics.Handler())
		srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

		fmt.Fprintf(cmd.OutOrStdout(), "metrics on http://%s/metrics\n", ln.Addr())
		grp.Go(func() error {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		grp.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	err := grp.Wait()
	auth.Logger.Info("Shutdown complete", log.Int("entities", auth.Server.Store().Len()))
	return err
}
