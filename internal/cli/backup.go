package cli

import (
	"errors"
	"fmt"

	"github.com/dmitrijs2005/casestore/internal/backup"
	"github.com/dmitrijs2005/casestore/internal/common"
	"github.com/dmitrijs2005/casestore/internal/cryptox"
	"github.com/dmitrijs2005/casestore/internal/netx"
	"github.com/dmitrijs2005/casestore/internal/storectx"
	"github.com/spf13/cobra"
)

func (a *App) s3Config() backup.S3Config {
	return backup.S3Config{
		Bucket:    a.cfg.S3Bucket,
		Region:    a.cfg.S3Region,
		Endpoint:  a.cfg.S3BaseEndpoint,
		AccessKey: a.cfg.S3AccessKey,
		SecretKey: a.cfg.S3SecretKey,
		Prefix:    a.cfg.S3Prefix,
	}
}

func (a *App) archiver(cmd *cobra.Command) (*backup.Archiver, error) {
	if !a.cfg.BackupEnabled() {
		return nil, fmt.Errorf("%w: no backup bucket configured (--s3-bucket)", common.ErrValidation)
	}
	s3cfg := a.s3Config()
	objects, err := a.newObjects(cmd.Context(), s3cfg)
	if err != nil {
		return nil, err
	}
	return backup.NewArchiver(objects, s3cfg.Prefix, a.cfg.BackupURLExpiry, a.log), nil
}

func (a *App) backupCommand() *cobra.Command {
	var seal bool
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Upload a snapshot to the backup bucket and print a download link",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			arch, err := a.archiver(cmd)
			if err != nil {
				return err
			}
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
				res, err := arch.Backup(ctx, backend, pass)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
	cmd.Flags().BoolVar(&seal, "seal", false, "encrypt the archive with a passphrase")
	return cmd
}

func (a *App) restoreCommand() *cobra.Command {
	var url string
	cmd := &cobra.Command{
		Use:   "restore [key]",
		Short: "Import an archive from the backup bucket or a presigned link",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if (url == "") == (len(args) == 0) {
				return errors.New("give either an archive key or --url")
			}

			var data []byte
			var err error
			if url != "" {
				if data, err = netx.DownloadFromPresignedURL(ctx, url); err != nil {
					return err
				}
			} else {
				arch, err := a.archiver(cmd)
				if err != nil {
					return err
				}
				if data, err = arch.Fetch(ctx, args[0]); err != nil {
					return err
				}
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
	cmd.Flags().StringVar(&url, "url", "", "presigned download link of the archive")
	return cmd
}
