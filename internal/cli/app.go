// Package cli implements the casestore command line: storage health and
// usage, snapshot export and import, hybrid sync control, audit upkeep,
// S3 backups and the diagnostics server.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/dmitrijs2005/casestore/internal/backup"
	"github.com/dmitrijs2005/casestore/internal/config"
	"github.com/dmitrijs2005/casestore/internal/logging"
	"github.com/dmitrijs2005/casestore/internal/storectx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
)

// ErrUnhealthy is returned by the health command when the backend reports
// a problem.
var ErrUnhealthy = errors.New("storage unhealthy")

// App carries what every command needs once flags are parsed.
type App struct {
	loader   *config.Loader
	cfg      *config.Config
	log      logging.Logger
	logOut   io.Writer
	actor    string
	registry *prometheus.Registry

	openStore  func(ctx context.Context, cfg *config.Config, deps storectx.Deps) (*storectx.Context, error)
	newObjects func(ctx context.Context, cfg backup.S3Config) (backup.ObjectStore, error)
}

func newApp() *App {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return &App{
		loader:    config.NewLoader(),
		logOut:    os.Stderr,
		registry:  reg,
		openStore: storectx.Open,
		newObjects: func(ctx context.Context, cfg backup.S3Config) (backup.ObjectStore, error) {
			return backup.NewS3Store(ctx, cfg)
		},
	}
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	return newApp().rootCommand()
}

func (a *App) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "casestore",
		Short:         "Inspect and maintain casestore storage",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
	}
	a.loader.BindFlags(root.PersistentFlags())
	root.PersistentFlags().StringVar(&a.actor, "actor", "", "user recorded in audit entries of single-user backends")

	root.AddCommand(
		a.healthCommand(),
		a.infoCommand(),
		a.exportCommand(),
		a.importCommand(),
		a.syncCommand(),
		a.auditCommand(),
		a.backupCommand(),
		a.restoreCommand(),
		a.serveCommand(),
	)
	return root
}

func (a *App) setup() error {
	cfg, err := a.loader.Load()
	if err != nil {
		return err
	}
	l, err := logging.New(a.logOut, cfg.LogFormat, cfg.LogLevel)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.log = l
	return nil
}

// withStore opens the configured storage for the duration of fn.
func (a *App) withStore(ctx context.Context, fn func(sc *storectx.Context) error) error {
	sc, err := a.openStore(ctx, a.cfg, storectx.Deps{
		Logger:     a.log,
		Registerer: a.registry,
		Actor:      a.actor,
	})
	if err != nil {
		return err
	}
	defer func() {
		if cerr := sc.Close(ctx); cerr != nil {
			a.log.Warn(ctx, "close storage", "error", cerr)
		}
	}()
	return fn(sc)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}
