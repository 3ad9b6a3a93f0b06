package main

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"typeless/mockserver"
	"typeless/shutdown"
)

func mockServerCmd(g *globalFlags) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "mock-server",
		Short: "Run a local transcription server for development",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr == "" {
				addr = g.cfg.MockAddr
			}
			srv := mockserver.New(prometheus.NewRegistry())

			errc := make(chan error, 1)
			go func() { errc <- srv.Start(addr) }()
			fmt.Fprintf(cmd.OutOrStdout(), "mock server on ws://%s%s (metrics on /metrics); stream to it with --insecure\n", addr, mockserver.StreamPath)

			ctx, stop := shutdown.Context(cmd.Context())
			defer stop()
			select {
			case err := <-errc:
				return err
			case <-ctx.Done():
			}

			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(sctx); err != nil {
				return fmt.Errorf("shutting down: %w", err)
			}
			fmt.Fprint(cmd.OutOrStdout(), mockserver.Summary(srv.Connections()))
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from TYPELESS_MOCK_ADDR)")
	return cmd
}
