package config

import (
	"fmt"

	"github.com/spf13/pflag"
)

// Loader binds Config fields to a flag set and resolves the final
// configuration after parsing.
//
// Precedence, lowest to highest:
//
//	built-in defaults (LoadDefaults)
//	the file named by --config (.json, .yaml or .yml)
//	flags that were set explicitly on the command line
type Loader struct {
	cfg  Config
	path string
	fs   *pflag.FlagSet
}

// NewLoader returns a Loader whose Config starts from the defaults.
func NewLoader() *Loader {
	l := &Loader{}
	l.cfg.LoadDefaults()
	return l
}

// BindFlags registers the configuration flags on fs. Typically fs is a
// cobra root command's PersistentFlags.
func (l *Loader) BindFlags(fs *pflag.FlagSet) {
	l.fs = fs
	c := &l.cfg

	fs.StringVarP(&l.path, "config", "c", "", "path to a JSON or YAML config file")
	fs.StringVar(&c.Backend, "backend", c.Backend, "storage backend: volatile, local, remote or hybrid")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log level: debug, info, warn or error")
	fs.StringVar(&c.LogFormat, "log-format", c.LogFormat, "log format: text or json")

	fs.StringVar(&c.SQLitePath, "sqlite-path", c.SQLitePath, "local SQLite database file")
	fs.StringVarP(&c.DatabaseDSN, "database-dsn", "d", c.DatabaseDSN, "PostgreSQL DSN of the shared store")
	fs.StringVar(&c.AccessToken, "access-token", c.AccessToken, "session access token")
	fs.StringVarP(&c.SecretKey, "secret-key", "s", c.SecretKey, "token signing secret")
	fs.DurationVar(&c.CacheTTL, "cache-ttl", c.CacheTTL, "remote read cache lifetime")
	fs.IntVar(&c.TenantAttempts, "tenant-attempts", c.TenantAttempts, "tenant lookup attempts after sign-in")
	fs.DurationVar(&c.TenantBackoff, "tenant-backoff", c.TenantBackoff, "delay between tenant lookup attempts")

	fs.StringVar(&c.SyncMode, "sync-mode", c.SyncMode, "hybrid sync mode: immediate, batched or manual")
	fs.DurationVar(&c.BatchInterval, "batch-interval", c.BatchInterval, "hybrid batched sync interval")
	fs.BoolVar(&c.Realtime, "realtime", c.Realtime, "subscribe to shared store change notifications")
	fs.StringVar(&c.QueueDir, "queue-dir", c.QueueDir, "sync queue directory, empty for in-memory")
	fs.Float64Var(&c.DispatchRate, "dispatch-rate", c.DispatchRate, "sync queue dispatches per second")

	fs.StringVar(&c.DiagHTTPAddr, "diag-http", c.DiagHTTPAddr, "diagnostics HTTP address")
	fs.StringVar(&c.DiagGRPCAddr, "diag-grpc", c.DiagGRPCAddr, "diagnostics gRPC health address")

	fs.StringVarP(&c.S3Bucket, "s3-bucket", "b", c.S3Bucket, "S3 backup bucket")
	fs.StringVarP(&c.S3Region, "s3-region", "g", c.S3Region, "S3 region")
	fs.StringVarP(&c.S3BaseEndpoint, "s3-endpoint", "e", c.S3BaseEndpoint, "S3 base endpoint (e.g. http://127.0.0.1:9000)")
	fs.StringVar(&c.S3AccessKey, "s3-access-key", c.S3AccessKey, "S3 access key")
	fs.StringVar(&c.S3SecretKey, "s3-secret-key", c.S3SecretKey, "S3 secret key")
	fs.StringVar(&c.S3Prefix, "s3-prefix", c.S3Prefix, "S3 key prefix for backups")
	fs.DurationVar(&c.BackupURLExpiry, "backup-url-expiry", c.BackupURLExpiry, "presigned backup link lifetime")
}

// Load resolves the configuration. It must be called after the flag set
// has been parsed.
func (l *Loader) Load() (*Config, error) {
	if l.fs == nil {
		return nil, fmt.Errorf("config: flags not bound")
	}

	changed := map[string]string{}
	l.fs.Visit(func(f *pflag.Flag) {
		if f.Name != "config" {
			changed[f.Name] = f.Value.String()
		}
	})

	l.cfg.LoadDefaults()
	if l.path != "" {
		fc, err := ReadFile(l.path)
		if err != nil {
			return nil, err
		}
		fc.Apply(&l.cfg)
	}
	for name, v := range changed {
		if err := l.fs.Set(name, v); err != nil {
			return nil, fmt.Errorf("config: flag %s: %w", name, err)
		}
	}

	if err := l.cfg.Validate(); err != nil {
		return nil, err
	}
	c := l.cfg
	return &c, nil
}
