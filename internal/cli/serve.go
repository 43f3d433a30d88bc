package cli

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/dmitrijs2005/casestore/internal/diag"
	"github.com/dmitrijs2005/casestore/internal/storectx"
	"github.com/spf13/cobra"
)

func (a *App) serveCommand() *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Keep the storage open and serve gRPC health, /healthz and /metrics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
			defer stop()

			return a.withStore(ctx, func(sc *storectx.Context) error {
				srv := diag.NewServer(diag.Options{
					HTTPAddr:  a.cfg.DiagHTTPAddr,
					GRPCAddr:  a.cfg.DiagGRPCAddr,
					SecretKey: a.cfg.SecretKey,
					Interval:  interval,
				}, sc, a.registry, a.log)
				return srv.Run(ctx)
			})
		},
	}
	cmd.Flags().DurationVar(&interval, "probe-interval", 10*time.Second, "how often storage health is probed")
	return cmd
}
