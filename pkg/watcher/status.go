package watcher

import (
	"context"
	"encoding/json"
	"strings"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"

	"go.uber.org/zap"

	"github.com/isisneutron/jobcontroller/pkg/metrics"
	"github.com/isisneutron/jobcontroller/pkg/scriptapi"
)

// successPayload is what the main container's last log line is expected
// to decode into.
type successPayload struct {
	Status        string   `json:"status"`
	StatusMessage string   `json:"status_message"`
	OutputFiles   []string `json:"output_files"`
	Stacktrace    string   `json:"stacktrace"`
}

// processSuccess reads the main container's full log stream, decodes its
// last non-empty line as the success payload, and reports it. Any
// decode failure (malformed JSON, wrong shape, or a log read error)
// degrades to an UNSUCCESSFUL report carrying the failure reason as
// status_message, matching the original's catch-everything fallback.
func (w *Watcher) processSuccess(ctx context.Context, job *batchv1.Job, pod *corev1.Pod) {
	status := containerStatus(pod, w.cfg.ContainerName)

	payload := successPayload{Status: "UNSUCCESSFUL"}
	logs, err := w.cluster.GetContainerLogs(ctx, w.cfg.Namespace, pod.Name, w.cfg.ContainerName, 0, 0)
	if err != nil {
		w.log.Error("there was a problem recovering the job output", zap.Error(err))
		payload.StatusMessage = err.Error()
	} else {
		lines := strings.Split(logs, "\n")
		output := ""
		for i := len(lines) - 1; i >= 0; i-- {
			// skip the empty element a trailing newline leaves after the
			// split, and any other blank lines at the end of the stream.
			if strings.TrimSpace(lines[i]) != "" {
				output = lines[i]
				break
			}
		}
		if err := json.Unmarshal([]byte(output), &payload); err != nil {
			w.log.Error("last message from job is not a valid JSON status payload", zap.Error(err))
			payload = successPayload{Status: "UNSUCCESSFUL", StatusMessage: err.Error()}
		} else {
			w.log.Info("job has completed", zap.String("job_name", w.cfg.JobName), zap.String("output", output))
		}
	}
	payload.Status = strings.ToUpper(payload.Status)
	if payload.Status == "" {
		payload.Status = "UNSUCCESSFUL"
	}

	start, end := jobDuration(pod, status)
	w.reportStatus(ctx, job, payload.Status, payload.StatusMessage, payload.Stacktrace, payload.OutputFiles, start, end)
}

// processFailure reads the last 50 log lines and extracts the most
// recent error line and any surrounding stack trace.
func (w *Watcher) processFailure(ctx context.Context, job *batchv1.Job, pod *corev1.Pod) {
	status := containerStatus(pod, w.cfg.ContainerName)

	logs, err := w.cluster.GetContainerLogs(ctx, w.cfg.Namespace, pod.Name, w.cfg.ContainerName, 50, 0)
	var errorLine, stacktrace string
	if err != nil {
		w.log.Error("failed to read container logs for failed job", zap.Error(err))
		errorLine = err.Error()
	} else {
		errorLine, stacktrace = findLatestErrorAndStacktrace(logs)
		w.log.Info("job has failed", zap.String("job_name", w.cfg.JobName), zap.String("error", errorLine))
	}

	start, end := jobDuration(pod, status)
	w.reportStatus(ctx, job, "ERROR", errorLine, stacktrace, nil, start, end)
}

// processStall reports a stalled job as ERROR with reason as the
// status message; stalled pods have no terminated container status, so
// there is no end time to report.
func (w *Watcher) processStall(ctx context.Context, job *batchv1.Job, pod *corev1.Pod, reason string) {
	start, _ := jobDuration(pod, nil)
	w.reportStatus(ctx, job, "ERROR", reason, "", nil, start, "")
}

func (w *Watcher) reportStatus(ctx context.Context, job *batchv1.Job, state, statusMessage, stacktrace string, outputFiles []string, start, end string) {
	id := jobID(job)
	metrics.RecordWatcherOutcome(state)
	err := w.scriptAPI.ReportStatus(ctx, id, scriptapi.StatusUpdate{
		State:         state,
		StatusMessage: statusMessage,
		OutputFiles:   outputFiles,
		Start:         start,
		End:           end,
		Stacktrace:    stacktrace,
	})
	if err != nil {
		w.log.Error("failed to contact status api while updating job status", zap.Int("job_id", id), zap.Error(err))
	}
}
