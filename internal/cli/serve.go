package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/claudian/claudian/internal/render"
	"github.com/claudian/claudian/internal/server"
	"github.com/claudian/claudian/internal/session"
	"github.com/claudian/claudian/pkg/logger"
	"github.com/spf13/cobra"
)

const defaultServeAddr = "127.0.0.1:7878"

func newServeCmd(a *app) *cobra.Command {
	var (
		addr   string
		mirror bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the session over a websocket",
		Long: "Serve one session over HTTP. Clients connect to /ws, receive presentation " +
			"frames as JSON and send start, cancel, toggle and set_file commands. " +
			"GET /state returns a snapshot.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ws, err := a.workspace()
			if err != nil {
				return err
			}

			hub := server.NewHub()
			sinks := []session.Sink{hub.Sink()}
			if mirror {
				sinks = append(sinks, a.outputSink(cmd.OutOrStdout()))
			}
			ctrl := session.New(ws, a.runner, render.Multi(sinks...),
				session.WithOnClose(func() { logger.Debugf("serve: cancel with no active run") }),
			)
			defer func() { _ = ctrl.Dispose(context.Background()) }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return server.New(ctrl, hub).ListenAndServe(ctx, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", defaultServeAddr, "listen address")
	cmd.Flags().BoolVar(&mirror, "mirror", false, "also render the session on stdout")
	return cmd
}
