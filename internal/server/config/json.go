package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/feedgate/internal/flagx"
	"github.com/dmitrijs2005/feedgate/internal/timex"
)

// JsonConfig is the on-disk shape of the configuration file. Durations
// accept both "30s" style strings and integer nanoseconds.
type JsonConfig struct {
	EndpointAddrHTTP  string         `json:"endpoint_addr_http"`
	EndpointAddrGRPC  string         `json:"endpoint_addr_grpc"`
	DatabaseDSN       string         `json:"database_dsn"`
	SessionSecret     string         `json:"session_secret"`
	APIKeyHeader      string         `json:"api_key_header"`
	IngestionBaseURL  string         `json:"ingestion_base_url"`
	IngestionTimeout  timex.Duration `json:"ingestion_timeout"`
	TriggerInterval   timex.Duration `json:"trigger_interval"`
	ReconcileInterval timex.Duration `json:"reconcile_interval"`
	PollingLease      timex.Duration `json:"polling_lease"`
	Workers           int            `json:"workers"`
	StatsdAddr        string         `json:"statsd_addr"`
	ArchiveBucket     string         `json:"archive_bucket"`
	S3Region          string         `json:"s3_region"`
	S3BaseEndpoint    string         `json:"s3_base_endpoint"`
	S3AccessKey       string         `json:"s3_access_key"`
	S3SecretKey       string         `json:"s3_secret_key"`
	LogLevel          string         `json:"log_level"`
	CORSOrigins       []string       `json:"cors_origins"`
}

// parseJson overlays values from the file named by -c/-config onto config.
// Keys absent from the file leave the current value in place. An unreadable
// file or invalid JSON panics.
func parseJson(config *Config) {
	jsonConfigFile := flagx.ConfigPath(os.Args[1:])
	if jsonConfigFile == "" {
		return
	}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	setString(&config.EndpointAddrHTTP, c.EndpointAddrHTTP)
	setString(&config.EndpointAddrGRPC, c.EndpointAddrGRPC)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.SessionSecret, c.SessionSecret)
	setString(&config.APIKeyHeader, c.APIKeyHeader)
	setString(&config.IngestionBaseURL, c.IngestionBaseURL)
	setString(&config.StatsdAddr, c.StatsdAddr)
	setString(&config.ArchiveBucket, c.ArchiveBucket)
	setString(&config.S3Region, c.S3Region)
	setString(&config.S3BaseEndpoint, c.S3BaseEndpoint)
	setString(&config.S3AccessKey, c.S3AccessKey)
	setString(&config.S3SecretKey, c.S3SecretKey)
	setString(&config.LogLevel, c.LogLevel)

	if c.IngestionTimeout.Duration > 0 {
		config.IngestionTimeout = c.IngestionTimeout.Duration
	}
	if c.TriggerInterval.Duration > 0 {
		config.TriggerInterval = c.TriggerInterval.Duration
	}
	if c.ReconcileInterval.Duration > 0 {
		config.ReconcileInterval = c.ReconcileInterval.Duration
	}
	if c.PollingLease.Duration > 0 {
		config.PollingLease = c.PollingLease.Duration
	}
	if c.Workers > 0 {
		config.Workers = c.Workers
	}
	if len(c.CORSOrigins) > 0 {
		config.CORSOrigins = c.CORSOrigins
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
