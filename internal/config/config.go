// Package config loads the environment-variable configuration for the
// job creator and job watcher binaries, mirroring the teacher's
// internal/config package shape (a Load function returning a typed
// struct plus an error) but sourced from the environment rather than a
// YAML file, since spec.md §6 names environment variables as the
// configuration surface for both binaries.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// CreatorConfig is the environment-derived configuration for the job
// creator binary (spec.md §6, "Environment variables (creator)").
type CreatorConfig struct {
	DevMode bool

	DefaultRunnerSHA string
	WatcherSHA       string

	APIHost string
	APIKey  string

	QueueHost     string
	QueueName     string
	QueueUser     string
	QueuePassword string

	JobNamespace string

	CephCredsSecretName      string
	CephCredsSecretNamespace string
	ClusterID                string
	FSName                   string

	ManilaShareID       string
	ManilaShareAccessID string

	MaxJobDuration time.Duration

	MetricsAddr string
}

// WatcherConfig is the environment-derived configuration for the job
// watcher binary (spec.md §6, "Environment variables (watcher)").
type WatcherConfig struct {
	MaxJobDuration time.Duration
	ContainerName  string
	JobName        string
	PodName        string
	JobNamespace   string

	APIHost string
	APIKey  string

	MetricsAddr string
}

func getenv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getenvDuration(key string, fallbackSeconds int) (time.Duration, error) {
	raw := getenv(key, "")
	if raw == "" {
		return time.Duration(fallbackSeconds) * time.Second, nil
	}
	seconds, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("config: %s must be an integer number of seconds: %w", key, err)
	}
	return time.Duration(seconds) * time.Second, nil
}

func getenvBool(key string, fallback bool) bool {
	raw := getenv(key, "")
	if raw == "" {
		return fallback
	}
	// Mirrors the original's "anything other than the literal string
	// 'false' (case-insensitive) counts as true" parsing.
	return !strings.EqualFold(raw, "false")
}

// LoadCreatorConfig reads the job creator's configuration from the
// environment. Missing DEFAULT_RUNNER_SHA or WATCHER_SHA is a fatal
// configuration error, per spec.md §6.
func LoadCreatorConfig() (*CreatorConfig, error) {
	defaultSHA := os.Getenv("DEFAULT_RUNNER_SHA")
	if defaultSHA == "" {
		return nil, fmt.Errorf("config: DEFAULT_RUNNER_SHA not set in the environment, please add it")
	}
	watcherSHA := os.Getenv("WATCHER_SHA")
	if watcherSHA == "" {
		return nil, fmt.Errorf("config: WATCHER_SHA not set in the environment, please add it")
	}

	maxJobDuration, err := getenvDuration("MAX_JOB_DURATION", 6*60*60)
	if err != nil {
		return nil, err
	}

	return &CreatorConfig{
		DevMode:                  getenvBool("DEV_MODE", false),
		DefaultRunnerSHA:         defaultSHA,
		WatcherSHA:               watcherSHA,
		APIHost:                  getenv("API_HOST", "fia-api-service.fia.svc.cluster.local:80"),
		APIKey:                   os.Getenv("API_KEY"),
		QueueHost:                os.Getenv("QUEUE_HOST"),
		QueueName:                os.Getenv("QUEUE_NAME"),
		QueueUser:                os.Getenv("QUEUE_USER"),
		QueuePassword:            os.Getenv("QUEUE_PASSWORD"),
		JobNamespace:             getenv("JOB_NAMESPACE", "fia"),
		CephCredsSecretName:      getenv("CEPH_CREDS_SECRET_NAME", "ceph-creds"),
		CephCredsSecretNamespace: getenv("CEPH_CREDS_SECRET_NAMESPACE", "fia"),
		ClusterID:                os.Getenv("CLUSTER_ID"),
		FSName:                   getenv("FS_NAME", "deneb"),
		ManilaShareID:            os.Getenv("MANILA_SHARE_ID"),
		ManilaShareAccessID:      os.Getenv("MANILA_SHARE_ACCESS_ID"),
		MaxJobDuration:           maxJobDuration,
		MetricsAddr:              getenv("METRICS_ADDR", ":8080"),
	}, nil
}

// LoadWatcherConfig reads the job watcher's configuration from the
// environment.
func LoadWatcherConfig() (*WatcherConfig, error) {
	containerName := os.Getenv("CONTAINER_NAME")
	if containerName == "" {
		return nil, fmt.Errorf("config: CONTAINER_NAME not set in the environment, please add it")
	}
	jobName := os.Getenv("JOB_NAME")
	if jobName == "" {
		return nil, fmt.Errorf("config: JOB_NAME not set in the environment, please add it")
	}
	podName := os.Getenv("POD_NAME")
	if podName == "" {
		return nil, fmt.Errorf("config: POD_NAME not set in the environment, please add it")
	}

	maxJobDuration, err := getenvDuration("MAX_JOB_DURATION", 6*60*60)
	if err != nil {
		return nil, err
	}

	return &WatcherConfig{
		MaxJobDuration: maxJobDuration,
		ContainerName:  containerName,
		JobName:        jobName,
		PodName:        podName,
		JobNamespace:   getenv("JOB_NAMESPACE", "fia"),
		APIHost:        getenv("API_HOST", "fia-api-service.fia.svc.cluster.local:80"),
		APIKey:         os.Getenv("API_KEY"),
		MetricsAddr:    getenv("METRICS_ADDR", ":8081"),
	}, nil
}
