package cli

import (
	"fmt"

	"github.com/dmitrijs2005/casestore/internal/common"
	"github.com/dmitrijs2005/casestore/internal/storage/hybrid"
	"github.com/dmitrijs2005/casestore/internal/storectx"
	"github.com/dmitrijs2005/casestore/internal/syncqueue"
	"github.com/spf13/cobra"
)

type syncOutput struct {
	Flushed int                           `json:"flushed"`
	Drain   syncqueue.DrainResult         `json:"drain"`
	Merged  map[string]hybrid.MergeReport `json:"merged,omitempty"`
	Status  hybrid.Status                 `json:"status"`
}

func (a *App) syncCommand() *cobra.Command {
	var pull []string
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Flush pending changes, drain the sync queue and optionally pull collections",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return a.withStore(ctx, func(sc *storectx.Context) error {
				h, ok := sc.Hybrid()
				if !ok {
					return fmt.Errorf("%w: sync needs the hybrid backend, configured %q", common.ErrValidation, a.cfg.Backend)
				}
				var out syncOutput
				var err error
				if out.Flushed, err = h.Flush(ctx); err != nil {
					return err
				}
				if out.Drain, err = h.SyncNow(ctx); err != nil {
					return err
				}
				for _, collection := range pull {
					report, err := h.PullAndMerge(ctx, collection)
					if err != nil {
						return fmt.Errorf("pull %s: %w", collection, err)
					}
					if out.Merged == nil {
						out.Merged = map[string]hybrid.MergeReport{}
					}
					out.Merged[collection] = report
				}
				if out.Status, err = h.SyncStatus(ctx); err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), out)
			})
		},
	}
	cmd.Flags().StringSliceVar(&pull, "pull", nil, "collections to pull and merge from the shared store")
	return cmd
}
