package cli

import (
	"github.com/dmitrijs2005/casestore/internal/storage"
	"github.com/dmitrijs2005/casestore/internal/storage/hybrid"
	"github.com/dmitrijs2005/casestore/internal/storectx"
	"github.com/spf13/cobra"
)

func (a *App) healthCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Probe the configured backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return a.withStore(ctx, func(sc *storectx.Context) error {
				st := sc.HealthCheck(ctx)
				if err := printJSON(cmd.OutOrStdout(), st); err != nil {
					return err
				}
				if !st.Healthy {
					return ErrUnhealthy
				}
				return nil
			})
		},
	}
}

type infoOutput struct {
	Backend string              `json:"backend"`
	State   storectx.State      `json:"state"`
	Storage storage.StorageInfo `json:"storage"`
	Sync    *hybrid.Status      `json:"sync,omitempty"`
}

func (a *App) infoCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show storage usage and, for hybrid storage, sync status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return a.withStore(ctx, func(sc *storectx.Context) error {
				backend, err := sc.Backend()
				if err != nil {
					return err
				}
				info, err := backend.GetStorageInfo(ctx)
				if err != nil {
					return err
				}
				out := infoOutput{Backend: a.cfg.Backend, State: sc.State(), Storage: info}
				if h, ok := sc.Hybrid(); ok {
					st, err := h.SyncStatus(ctx)
					if err != nil {
						return err
					}
					out.Sync = &st
				}
				return printJSON(cmd.OutOrStdout(), out)
			})
		},
	}
}
