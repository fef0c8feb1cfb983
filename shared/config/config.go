package config

import (
	"os"
	"strconv"
	"time"
)

const (
	defaultPort           = 8080
	defaultResolveTimeout = 10 * time.Second
)

// Config is the server configuration, read from the environment.
type Config struct {
	Port            int
	ProjectID       string // GCP project hosting Firestore
	Bucket          string // GCS bucket for image blobs
	CredentialsFile string // optional service account key file
	DropLateEvents  bool
	ResolveTimeout  time.Duration
}

// FromEnv reads the configuration, applying defaults for anything
// unset. ProjectID and Bucket have no sensible default; the caller
// decides whether their absence is fatal.
func FromEnv() *Config {
	return &Config{
		Port:            envInt("PHOTOFEED_PORT", defaultPort),
		ProjectID:       os.Getenv("PHOTOFEED_GCP_PROJECT"),
		Bucket:          os.Getenv("PHOTOFEED_BUCKET"),
		CredentialsFile: os.Getenv("PHOTOFEED_CREDENTIALS_FILE"),
		DropLateEvents:  envBool("PHOTOFEED_DROP_LATE_EVENTS", false),
		ResolveTimeout:  envDuration("PHOTOFEED_RESOLVE_TIMEOUT", defaultResolveTimeout),
	}
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
