// Command jobwatcher is the entry point for the job watcher: it tracks
// exactly one Kubernetes Job's pod from submission to a terminal state,
// reports the outcome to the status API, and cleans up the volumes the
// creator provisioned for it. The cluster injects JOB_NAME/POD_NAME as
// environment variables when it starts the watcher sidecar/init container
// alongside the job's pod.
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
	"github.com/isisneutron/jobcontroller/pkg/k8sclient"
	"github.com/isisneutron/jobcontroller/pkg/metrics"
	"github.com/isisneutron/jobcontroller/pkg/scriptapi"
	"github.com/isisneutron/jobcontroller/pkg/watcher"
)

func main() {
	log := logging.New("jobwatcher")
	defer log.Sync() //nolint:errcheck

	cfg, err := config.LoadWatcherConfig()
	if err != nil {
		log.Fatal(err.Error())
	}

	clusterLog := logrus.New()
	clusterLog.SetFormatter(&logrus.JSONFormatter{})

	cluster, err := k8sclient.New(cfg.JobNamespace, clusterLog)
	if err != nil {
		log.Fatal("failed to build kubernetes client", zap.Error(err))
	}

	scriptAPIClient := scriptapi.New(cfg.APIHost, cfg.APIKey, log)

	w := watcher.New(watcher.Config{
		JobName:        cfg.JobName,
		PartialPodName: cfg.PodName,
		ContainerName:  cfg.ContainerName,
		Namespace:      cfg.JobNamespace,
		MaxJobDuration: cfg.MaxJobDuration,
	}, cluster, scriptAPIClient, log)

	metricsServer := metrics.NewServer(trimLeadingColon(cfg.MetricsAddr), clusterLog)
	metricsServer.StartAsync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("job watcher started", zap.String("job_name", cfg.JobName), zap.String("container", cfg.ContainerName))

	timer := metrics.NewTimer()
	if err := w.Watch(ctx); err != nil {
		log.Error("watcher stopped with an error", zap.Error(err))
	}
	timer.RecordWatcherObservation()

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
