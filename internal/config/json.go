package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/studioflow/docsync/internal/flagx"
	"github.com/studioflow/docsync/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling. It relies on
// timex.Duration so JSON can specify intervals either as strings like "30s"
// or as integer nanoseconds. After parsing, values are copied into the
// runtime Config (which uses time.Duration).
type JsonConfig struct {
	DatabaseDSN      string         `json:"database_dsn"`
	LocalDBPath      string         `json:"local_db_path"`
	S3AccessKey      string         `json:"s3_access_key"`
	S3SecretKey      string         `json:"s3_secret_key"`
	S3Bucket         string         `json:"s3_bucket"`
	S3Region         string         `json:"s3_region"`
	S3BaseEndpoint   string         `json:"s3_base_endpoint"`
	SnapshotMaxBytes int            `json:"snapshot_max_bytes"`
	QueueMaxSize     int            `json:"queue_max_size"`
	QueueMaxAttempts int            `json:"queue_max_attempts"`
	QueueBaseDelay   timex.Duration `json:"queue_base_delay"`
	QueueMaxDelay    timex.Duration `json:"queue_max_delay"`
	PollInterval     timex.Duration `json:"poll_interval"`
	RemoteTimeout    timex.Duration `json:"remote_timeout"`
	DeadLetterMaxAge timex.Duration `json:"dead_letter_max_age"`
}

// parseJson overlays Config with values loaded from a JSON file.
//
// The lookup order for the JSON file path is the -c or -config command-line
// flags; if neither is set, no JSON file is loaded. If the file cannot be
// read or contains invalid JSON, the function panics.
//
// Intended usage is: defaults -> parseJson -> parseFlags, where later
// stages override earlier ones.
func parseJson(cfg *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	var jc JsonConfig

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	applyJson(cfg, &jc)
}

// applyJson copies non-zero JsonConfig values onto cfg so a sparse JSON
// file only overrides what it names.
func applyJson(cfg *Config, jc *JsonConfig) {
	if jc.DatabaseDSN != "" {
		cfg.DatabaseDSN = jc.DatabaseDSN
	}
	if jc.LocalDBPath != "" {
		cfg.LocalDBPath = jc.LocalDBPath
	}
	if jc.S3AccessKey != "" {
		cfg.S3AccessKey = jc.S3AccessKey
	}
	if jc.S3SecretKey != "" {
		cfg.S3SecretKey = jc.S3SecretKey
	}
	if jc.S3Bucket != "" {
		cfg.S3Bucket = jc.S3Bucket
	}
	if jc.S3Region != "" {
		cfg.S3Region = jc.S3Region
	}
	if jc.S3BaseEndpoint != "" {
		cfg.S3BaseEndpoint = jc.S3BaseEndpoint
	}
	if jc.SnapshotMaxBytes > 0 {
		cfg.SnapshotMaxBytes = jc.SnapshotMaxBytes
	}
	if jc.QueueMaxSize > 0 {
		cfg.QueueMaxSize = jc.QueueMaxSize
	}
	if jc.QueueMaxAttempts > 0 {
		cfg.QueueMaxAttempts = jc.QueueMaxAttempts
	}
	if jc.QueueBaseDelay.Duration > 0 {
		cfg.QueueBaseDelay = time.Duration(jc.QueueBaseDelay.Duration)
	}
	if jc.QueueMaxDelay.Duration > 0 {
		cfg.QueueMaxDelay = time.Duration(jc.QueueMaxDelay.Duration)
	}
	if jc.PollInterval.Duration > 0 {
		cfg.PollInterval = time.Duration(jc.PollInterval.Duration)
	}
	if jc.RemoteTimeout.Duration > 0 {
		cfg.RemoteTimeout = time.Duration(jc.RemoteTimeout.Duration)
	}
	if jc.DeadLetterMaxAge.Duration > 0 {
		cfg.DeadLetterMaxAge = time.Duration(jc.DeadLetterMaxAge.Duration)
	}
}
