package config

import (
	"flag"
	"os"
	"time"

	"github.com/studioflow/docsync/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-d string   PostgreSQL DSN for the pointer store
//	-l string   path to the local SQLite database
//	-u string   S3 access key
//	-p string   S3 secret key
//	-b string   S3 bucket name
//	-g string   S3 region
//	-e string   S3 base endpoint (e.g., "http://127.0.0.1:9000/")
//	-i int      queue poll interval, seconds
//	-t int      remote call timeout, seconds
//	-q int      queue maximum size
//	-m int      queue maximum attempts before dead-lettering
//
// The function first filters os.Args to only the flags it recognizes using
// flagx.FilterArgs, avoiding collisions with other components. Duration
// flags are accepted as integers in seconds and then converted to
// time.Duration values.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-d", "-l", "-u", "-p", "-b", "-g", "-e", "-i", "-t", "-q", "-m"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "pointer store DSN")
	fs.StringVar(&config.LocalDBPath, "l", config.LocalDBPath, "local database path")
	fs.StringVar(&config.S3AccessKey, "u", config.S3AccessKey, "S3 access key")
	fs.StringVar(&config.S3SecretKey, "p", config.S3SecretKey, "S3 secret key")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 bucket")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")

	pollInterval := fs.Int("i", int(config.PollInterval.Seconds()), "poll_interval (in seconds)")
	remoteTimeout := fs.Int("t", int(config.RemoteTimeout.Seconds()), "remote_timeout (in seconds)")

	fs.IntVar(&config.QueueMaxSize, "q", config.QueueMaxSize, "queue maximum size")
	fs.IntVar(&config.QueueMaxAttempts, "m", config.QueueMaxAttempts, "queue maximum attempts")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.PollInterval = time.Duration(*pollInterval) * time.Second
	config.RemoteTimeout = time.Duration(*remoteTimeout) * time.Second
}
