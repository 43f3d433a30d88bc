package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dmitrijs2005/casestore/internal/timex"
	"gopkg.in/yaml.v3"
)

// FileConfig is the on-disk shape of the configuration. Durations use
// timex.Duration, so they can be strings like "60s" or integer
// nanoseconds. Only fields present in the file override the defaults.
type FileConfig struct {
	Backend   string `json:"backend" yaml:"backend"`
	LogLevel  string `json:"log_level" yaml:"log_level"`
	LogFormat string `json:"log_format" yaml:"log_format"`

	SQLitePath  string `json:"sqlite_path" yaml:"sqlite_path"`
	DatabaseDSN string `json:"database_dsn" yaml:"database_dsn"`
	AccessToken string `json:"access_token" yaml:"access_token"`
	SecretKey   string `json:"secret_key" yaml:"secret_key"`

	CacheTTL       *timex.Duration `json:"cache_ttl" yaml:"cache_ttl"`
	TenantAttempts int             `json:"tenant_attempts" yaml:"tenant_attempts"`
	TenantBackoff  *timex.Duration `json:"tenant_backoff" yaml:"tenant_backoff"`

	Hybrid struct {
		SyncMode      string          `json:"sync_mode" yaml:"sync_mode"`
		BatchInterval *timex.Duration `json:"batch_interval" yaml:"batch_interval"`
		Realtime      *bool           `json:"realtime_enabled" yaml:"realtime_enabled"`
		QueueDir      string          `json:"queue_dir" yaml:"queue_dir"`
		DispatchRate  float64         `json:"dispatch_rate" yaml:"dispatch_rate"`
	} `json:"hybrid" yaml:"hybrid"`

	Diagnostics struct {
		HTTPAddr string `json:"http_addr" yaml:"http_addr"`
		GRPCAddr string `json:"grpc_addr" yaml:"grpc_addr"`
	} `json:"diagnostics" yaml:"diagnostics"`

	Backup struct {
		Bucket    string          `json:"s3_bucket" yaml:"s3_bucket"`
		Region    string          `json:"s3_region" yaml:"s3_region"`
		Endpoint  string          `json:"s3_base_endpoint" yaml:"s3_base_endpoint"`
		AccessKey string          `json:"s3_access_key" yaml:"s3_access_key"`
		SecretKey string          `json:"s3_secret_key" yaml:"s3_secret_key"`
		Prefix    string          `json:"prefix" yaml:"prefix"`
		URLExpiry *timex.Duration `json:"url_expiry" yaml:"url_expiry"`
	} `json:"backup" yaml:"backup"`
}

// ReadFile decodes path as YAML when it ends in .yaml or .yml and as JSON
// otherwise.
func ReadFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	fc := &FileConfig{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, fc)
	default:
		err = json.Unmarshal(data, fc)
	}
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return fc, nil
}

// Apply overlays the fields present in fc onto c.
func (fc *FileConfig) Apply(c *Config) {
	setString(&c.Backend, fc.Backend)
	setString(&c.LogLevel, fc.LogLevel)
	setString(&c.LogFormat, fc.LogFormat)
	setString(&c.SQLitePath, fc.SQLitePath)
	setString(&c.DatabaseDSN, fc.DatabaseDSN)
	setString(&c.AccessToken, fc.AccessToken)
	setString(&c.SecretKey, fc.SecretKey)
	if fc.CacheTTL != nil {
		c.CacheTTL = fc.CacheTTL.Duration
	}
	if fc.TenantAttempts != 0 {
		c.TenantAttempts = fc.TenantAttempts
	}
	if fc.TenantBackoff != nil {
		c.TenantBackoff = fc.TenantBackoff.Duration
	}

	setString(&c.SyncMode, fc.Hybrid.SyncMode)
	if fc.Hybrid.BatchInterval != nil {
		c.BatchInterval = fc.Hybrid.BatchInterval.Duration
	}
	if fc.Hybrid.Realtime != nil {
		c.Realtime = *fc.Hybrid.Realtime
	}
	setString(&c.QueueDir, fc.Hybrid.QueueDir)
	if fc.Hybrid.DispatchRate != 0 {
		c.DispatchRate = fc.Hybrid.DispatchRate
	}

	setString(&c.DiagHTTPAddr, fc.Diagnostics.HTTPAddr)
	setString(&c.DiagGRPCAddr, fc.Diagnostics.GRPCAddr)

	setString(&c.S3Bucket, fc.Backup.Bucket)
	setString(&c.S3Region, fc.Backup.Region)
	setString(&c.S3BaseEndpoint, fc.Backup.Endpoint)
	setString(&c.S3AccessKey, fc.Backup.AccessKey)
	setString(&c.S3SecretKey, fc.Backup.SecretKey)
	setString(&c.S3Prefix, fc.Backup.Prefix)
	if fc.Backup.URLExpiry != nil {
		c.BackupURLExpiry = fc.Backup.URLExpiry.Duration
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
