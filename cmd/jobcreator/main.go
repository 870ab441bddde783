// Command jobcreator is the entry point for the job creator: it consumes
// autoreduction/simple/rerun messages off the message broker and submits
// each one to the cluster as a Kubernetes Job.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"go.uber.org/zap"

	"github.com/isisneutron/jobcontroller/internal/config"
	"github.com/isisneutron/jobcontroller/internal/logging"
	"github.com/isisneutron/jobcontroller/pkg/creator"
	"github.com/isisneutron/jobcontroller/pkg/k8sclient"
	"github.com/isisneutron/jobcontroller/pkg/metrics"
	"github.com/isisneutron/jobcontroller/pkg/queue"
	"github.com/isisneutron/jobcontroller/pkg/registry"
	"github.com/isisneutron/jobcontroller/pkg/scriptapi"
)

// heartbeatPath is touched once per consume-loop iteration so a
// liveness/readiness probe watching its mtime can tell the process is
// still making progress, mirroring the original's write_readiness_probe_file.
const heartbeatPath = "/tmp/heartbeat"

func main() {
	log := logging.New("jobcreator")
	defer log.Sync() //nolint:errcheck

	cfg, err := config.LoadCreatorConfig()
	if err != nil {
		log.Fatal(err.Error())
	}

	clusterLog := logrus.New()
	clusterLog.SetFormatter(&logrus.JSONFormatter{})

	cluster, err := k8sclient.New(cfg.JobNamespace, clusterLog)
	if err != nil {
		log.Fatal("failed to build kubernetes client", zap.Error(err))
	}

	resolver := registry.New(log)
	scriptAPIClient := scriptapi.New(cfg.APIHost, cfg.APIKey, log)

	defaultRunnerImage := "ghcr.io/fiaisis/mantid@sha256:" + cfg.DefaultRunnerSHA
	creatorInstance := creator.New(creator.Config{
		DevMode:                  cfg.DevMode,
		DefaultRunnerImage:       defaultRunnerImage,
		WatcherSHA:               cfg.WatcherSHA,
		APIHost:                  cfg.APIHost,
		APIKey:                   cfg.APIKey,
		JobNamespace:             cfg.JobNamespace,
		CephCredsSecretName:      cfg.CephCredsSecretName,
		CephCredsSecretNamespace: cfg.CephCredsSecretNamespace,
		ClusterID:                cfg.ClusterID,
		FSName:                   cfg.FSName,
		ManilaShareID:            cfg.ManilaShareID,
		ManilaShareAccessID:      cfg.ManilaShareAccessID,
		MaxJobDuration:           cfg.MaxJobDuration,
	}, cluster, resolver, scriptAPIClient, log)

	consumer, err := queue.New(queue.Config{
		Host:     cfg.QueueHost,
		Username: cfg.QueueUser,
		Password: cfg.QueuePassword,
		Queue:    cfg.QueueName,
	}, log)
	if err != nil {
		log.Fatal("failed to connect to message broker", zap.Error(err))
	}
	defer consumer.Close() //nolint:errcheck

	metricsServer := metrics.NewServer(trimLeadingColon(cfg.MetricsAddr), clusterLog)
	metricsServer.StartAsync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	heartbeat := func() {
		if err := os.WriteFile(heartbeatPath, []byte(time.Now().UTC().Format(time.RFC3339)), 0o644); err != nil {
			log.Warn("failed to write heartbeat file", zap.Error(err))
		}
	}

	log.Info("job creator started", zap.String("queue", cfg.QueueName), zap.String("namespace", cfg.JobNamespace))

	if err := consumer.Run(ctx, heartbeat, creatorInstance.Process); err != nil {
		log.Error("consumer stopped", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := metricsServer.Stop(shutdownCtx); err != nil {
		log.Warn("failed to stop metrics server cleanly", zap.Error(err))
	}
}

// trimLeadingColon strips a leading ":" from addr so it can be passed to
// metrics.NewServer, which wants a bare port the way the teacher's
// NewServer(port, logger) does.
func trimLeadingColon(addr string) string {
	if len(addr) > 0 && addr[0] == ':' {
		return addr[1:]
	}
	return addr
}
