package cli

import (
	"fmt"
	"os"

	"github.com/dmitrijs2005/casestore/internal/backup"
	"github.com/dmitrijs2005/casestore/internal/cryptox"
	"github.com/dmitrijs2005/casestore/internal/storectx"
	"github.com/spf13/cobra"
)

func (a *App) exportCommand() *cobra.Command {
	var out string
	var seal bool
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write every collection to a snapshot file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			var pass []byte
			if seal {
				p, err := GetPassphrase(cmd.ErrOrStderr(), true)
				if err != nil {
					return err
				}
				defer wipe(p)
				pass = p
			}
			return a.withStore(ctx, func(sc *storectx.Context) error {
				backend, err := sc.Backend()
				if err != nil {
					return err
				}
				snap, err := backend.ExportAll(ctx)
				if err != nil {
					return err
				}
				data, err := backup.Encode(snap, pass)
				if err != nil {
					return err
				}
				if out == "" || out == "-" {
					_, err = cmd.OutOrStdout().Write(data)
					return err
				}
				if err := os.WriteFile(out, data, 0o600); err != nil {
					return fmt.Errorf("write snapshot: %w", err)
				}
				a.log.Info(ctx, "snapshot exported", "path", out, "collections", len(snap), "sealed", seal)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "snapshot file, stdout when empty")
	cmd.Flags().BoolVar(&seal, "seal", false, "encrypt the snapshot with a passphrase")
	return cmd
}

func (a *App) importCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "import <snapshot>",
		Short: "Load a snapshot file, remapping ids and dropping orphans",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read snapshot: %w", err)
			}
			var pass []byte
			if cryptox.IsSealed(data) {
				p, err := GetPassphrase(cmd.ErrOrStderr(), false)
				if err != nil {
					return err
				}
				defer wipe(p)
				pass = p
			}
			snap, err := backup.Decode(data, pass)
			if err != nil {
				return err
			}
			return a.withStore(ctx, func(sc *storectx.Context) error {
				st, err := sc.Storage()
				if err != nil {
					return err
				}
				report, err := st.ImportAll(ctx, snap)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), report)
			})
		},
	}
}
