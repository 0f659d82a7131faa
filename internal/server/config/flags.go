package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/feedgate/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   HTTP bind address (e.g., ":8080")
//	-g string   gRPC health bind address (e.g., ":50051")
//	-d string   PostgreSQL DSN
//	-s string   session JWT secret
//	-i string   ingestion service base URL
//	-t int      ingestion call timeout, seconds
//	-w int      scheduler worker count
//	-l string   log level
//
// Only these flags are parsed; everything else on the command line is
// filtered out first with flagx.FilterArgs.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-g", "-d", "-s", "-i", "-t", "-w", "-l"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddrHTTP, "a", config.EndpointAddrHTTP, "HTTP address and port")
	fs.StringVar(&config.EndpointAddrGRPC, "g", config.EndpointAddrGRPC, "gRPC health address and port")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.SessionSecret, "s", config.SessionSecret, "session secret")
	fs.StringVar(&config.IngestionBaseURL, "i", config.IngestionBaseURL, "ingestion service base URL")

	ingestionTimeout := fs.Int("t", int(config.IngestionTimeout.Seconds()), "ingestion call timeout (in seconds)")

	fs.IntVar(&config.Workers, "w", config.Workers, "scheduler workers")
	fs.StringVar(&config.LogLevel, "l", config.LogLevel, "log level")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.IngestionTimeout = time.Duration(*ingestionTimeout) * time.Second
}
