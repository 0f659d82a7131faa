package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const envPrefix = "FEEDGATE_"

// parseEnv loads an optional dotenv file (FEEDGATE_ENV_FILE, default
// ".env") and then overlays FEEDGATE_* variables onto config. Variables
// already present in the process environment win over the file.
func parseEnv(config *Config) {
	envFile := os.Getenv(envPrefix + "ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		panic(err)
	}

	envString(&config.EndpointAddrHTTP, "HTTP_ADDR")
	envString(&config.EndpointAddrGRPC, "GRPC_ADDR")
	envString(&config.DatabaseDSN, "DATABASE_DSN")
	envString(&config.SessionSecret, "SESSION_SECRET")
	envString(&config.APIKeyHeader, "API_KEY_HEADER")
	envString(&config.IngestionBaseURL, "INGESTION_BASE_URL")
	envDuration(&config.IngestionTimeout, "INGESTION_TIMEOUT")
	envDuration(&config.TriggerInterval, "TRIGGER_INTERVAL")
	envDuration(&config.ReconcileInterval, "RECONCILE_INTERVAL")
	envDuration(&config.PollingLease, "POLLING_LEASE")
	envInt(&config.Workers, "WORKERS")
	envString(&config.StatsdAddr, "STATSD_ADDR")
	envString(&config.ArchiveBucket, "ARCHIVE_BUCKET")
	envString(&config.S3Region, "S3_REGION")
	envString(&config.S3BaseEndpoint, "S3_BASE_ENDPOINT")
	envString(&config.S3AccessKey, "S3_ACCESS_KEY")
	envString(&config.S3SecretKey, "S3_SECRET_KEY")
	envString(&config.LogLevel, "LOG_LEVEL")

	if v, ok := os.LookupEnv(envPrefix + "CORS_ORIGINS"); ok && v != "" {
		var origins []string
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
		config.CORSOrigins = origins
	}
}

func envString(dst *string, name string) {
	if v, ok := os.LookupEnv(envPrefix + name); ok && v != "" {
		*dst = v
	}
}

func envDuration(dst *time.Duration, name string) {
	v, ok := os.LookupEnv(envPrefix + name)
	if !ok || v == "" {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		panic(err)
	}
	*dst = d
}

func envInt(dst *int, name string) {
	v, ok := os.LookupEnv(envPrefix + name)
	if !ok || v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		panic(err)
	}
	*dst = n
}
