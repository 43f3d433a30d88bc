package cli

import (
	"time"

	"github.com/dmitrijs2005/casestore/internal/storectx"
	"github.com/spf13/cobra"
)

func (a *App) auditCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Read and maintain the audit log",
	}
	cmd.AddCommand(a.auditHistoryCommand(), a.auditPruneCommand())
	return cmd
}

func (a *App) auditHistoryCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "history <entity_type> <entity_id>",
		Short: "List audit entries of one record, oldest first",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return a.withStore(ctx, func(sc *storectx.Context) error {
				logger, err := sc.Audit()
				if err != nil {
					return err
				}
				entries, err := logger.History(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), entries)
			})
		},
	}
}

func (a *App) auditPruneCommand() *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete audit entries older than a retention period",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return a.withStore(ctx, func(sc *storectx.Context) error {
				logger, err := sc.Audit()
				if err != nil {
					return err
				}
				n, err := logger.Prune(ctx, olderThan)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]int{"pruned": n})
			})
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 90*24*time.Hour, "retention period")
	return cmd
}
