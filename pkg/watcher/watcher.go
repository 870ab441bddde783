// Package watcher observes one workload from submission to terminal
// state: polling the cluster for container state transitions, detecting
// stalls, extracting a success payload or failure stack trace from
// container logs, reporting the outcome to the status API, and cleaning
// up the volumes the creator provisioned. One Watcher tracks exactly one
// job and exits once that job reaches a terminal state.
package watcher

import (
	"context"
	"strconv"
	"time"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"

	"go.uber.org/zap"

	"github.com/isisneutron/jobcontroller/internal/apperrors"
	"github.com/isisneutron/jobcontroller/pkg/scriptapi"
)

// pollInterval is how often the observation loop refreshes the job/pod
// snapshot from the cluster API.
const pollInterval = 500 * time.Millisecond

// stallWindow is both the minimum pod age before a stall check is
// meaningful and the log-activity window checked within it.
const stallWindow = 30 * time.Minute

// ClusterAPI names the cluster verbs a Watcher needs, satisfied by
// *pkg/k8sclient.Client. Declared here, at the point of use, so tests
// can supply a hand-written fake instead of routing pod-log reads
// through client-go's fake clientset (whose GetLogs has no usable
// in-memory transport).
type ClusterAPI interface {
	GetJob(ctx context.Context, namespace, name string) (*batchv1.Job, error)
	GetPod(ctx context.Context, namespace, name string) (*corev1.Pod, error)
	FindPodByPartialName(ctx context.Context, namespace, partialName string) (*corev1.Pod, error)
	GetContainerLogs(ctx context.Context, namespace, podName, containerName string, tailLines, sinceSeconds int64) (string, error)
	DeletePersistentVolumeClaim(ctx context.Context, namespace, name string) error
	DeletePersistentVolume(ctx context.Context, name string) error
}

// Config names the parameters a Watcher is constructed with, mirroring
// JobWatcher.__init__'s (job_name, partial_pod_name, container_name,
// max_time_to_complete) plus the namespace the original reads from
// JOB_NAMESPACE.
type Config struct {
	JobName        string
	PartialPodName string
	ContainerName  string
	Namespace      string
	MaxJobDuration time.Duration
}

// Watcher tracks one job's pod to a terminal state, then reports and
// cleans up.
type Watcher struct {
	cfg       Config
	cluster   ClusterAPI
	scriptAPI *scriptapi.Client
	log       *zap.Logger

	podName string
}

// New builds a Watcher. It does not touch the cluster until Watch is
// called.
func New(cfg Config, cluster ClusterAPI, scriptAPI *scriptapi.Client, log *zap.Logger) *Watcher {
	return &Watcher{cfg: cfg, cluster: cluster, scriptAPI: scriptAPI, log: log}
}

// Watch blocks, polling every 500ms, until the tracked container
// terminates or stalls; it then reports status, cleans up, and returns.
// Only a cancelled ctx or a fatal pod-discovery failure returns early
// with an error.
func (w *Watcher) Watch(ctx context.Context) error {
	w.log.Info("starting job watcher, scanning for new job states", zap.String("job_name", w.cfg.JobName))

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		done, err := w.checkForChanges(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// checkForChanges refreshes the job/pod snapshot, then dispatches to the
// terminal/stall/cleanup path if one applies. It returns done=true once
// the workload has reached a terminal state and cleanup has run.
func (w *Watcher) checkForChanges(ctx context.Context) (done bool, err error) {
	job, err := w.cluster.GetJob(ctx, w.cfg.Namespace, w.cfg.JobName)
	if err != nil {
		w.log.Warn("failed to read job, will retry on the next poll", zap.String("job_name", w.cfg.JobName), zap.Error(err))
		return false, nil
	}

	discovered := w.podName != ""
	pod, err := w.resolvePod(ctx)
	if err != nil {
		if discovered {
			w.log.Warn("failed to refresh pod, will retry on the next poll", zap.String("pod_name", w.podName), zap.Error(err))
			return false, nil
		}
		return false, err
	}

	if status := containerStatus(pod, w.cfg.ContainerName); status != nil && status.State.Terminated != nil {
		if status.State.Terminated.ExitCode == 0 {
			w.log.Info("job has succeeded, processing success", zap.String("job_name", w.cfg.JobName))
			w.processSuccess(ctx, job, pod)
		} else {
			w.log.Info("job has errored, processing failure", zap.String("job_name", w.cfg.JobName))
			w.processFailure(ctx, job, pod)
		}
		w.cleanup(ctx, job)
		return true, nil
	}

	stalled, reason := w.checkStalled(ctx, pod)
	if stalled {
		w.log.Info("job has stalled out", zap.String("job_name", w.cfg.JobName), zap.String("reason", reason))
		w.processStall(ctx, job, pod, reason)
		w.cleanup(ctx, job)
		return true, nil
	}

	return false, nil
}

// resolvePod finds the pod by partial name on first call and pins it by
// full name afterward, matching update_current_container_info's
// partial-name-once, full-name-thereafter split.
func (w *Watcher) resolvePod(ctx context.Context) (*corev1.Pod, error) {
	if w.podName == "" {
		pod, err := w.cluster.FindPodByPartialName(ctx, w.cfg.Namespace, w.cfg.PartialPodName)
		if err != nil {
			return nil, apperrors.Wrapf(err, apperrors.TypeObservation,
				"the pod could not be found using partial pod name: %s", w.cfg.PartialPodName)
		}
		w.podName = pod.Name
		return pod, nil
	}
	pod, err := w.cluster.GetPod(ctx, w.cfg.Namespace, w.podName)
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.TypeObservation, "failed to read pod %s", w.podName)
	}
	return pod, nil
}

func containerStatus(pod *corev1.Pod, containerName string) *corev1.ContainerStatus {
	for i := range pod.Status.ContainerStatuses {
		if pod.Status.ContainerStatuses[i].Name == containerName {
			return &pod.Status.ContainerStatuses[i]
		}
	}
	return nil
}

// checkStalled reports whether the pod is stalled: either older than 30
// minutes with no log activity in the last 30 minutes, or older than
// MaxJobDuration regardless of log activity.
func (w *Watcher) checkStalled(ctx context.Context, pod *corev1.Pod) (bool, string) {
	age := time.Since(pod.CreationTimestamp.Time)

	if age > stallWindow {
		logs, err := w.cluster.GetContainerLogs(ctx, w.cfg.Namespace, pod.Name, w.cfg.ContainerName, 1, int64(stallWindow.Seconds()))
		if err == nil && logs == "" {
			return true, "no new logs in the last 30 minutes"
		}
	}
	if w.cfg.MaxJobDuration > 0 && age > w.cfg.MaxJobDuration {
		return true, "pod exceeded max job duration"
	}
	return false, ""
}

func jobDuration(pod *corev1.Pod, status *corev1.ContainerStatus) (start, end string) {
	if pod.Status.StartTime != nil {
		start = pod.Status.StartTime.Format(time.RFC3339)
	}
	if status != nil && status.State.Terminated != nil {
		end = status.State.Terminated.FinishedAt.Format(time.RFC3339)
	}
	return start, end
}

func jobID(job *batchv1.Job) int {
	id, _ := strconv.Atoi(job.Annotations["job-id"])
	return id
}
