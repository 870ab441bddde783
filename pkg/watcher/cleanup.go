package watcher

import (
	"context"
	"encoding/json"
	"strings"

	batchv1 "k8s.io/api/batch/v1"

	"go.uber.org/zap"
)

// cleanup deletes every PVC then every PV named in job's "pvcs"/"pvs"
// annotations. Deletion is best-effort: a failure for one name is
// logged and does not stop the rest.
func (w *Watcher) cleanup(ctx context.Context, job *batchv1.Job) {
	w.log.Info("starting cleanup of job", zap.String("job_name", job.Name))

	for _, name := range decodeNameList(job.Annotations["pvcs"]) {
		if err := w.cluster.DeletePersistentVolumeClaim(ctx, w.cfg.Namespace, name); err != nil {
			w.log.Error("failed to delete persistent volume claim", zap.String("name", name), zap.Error(err))
			continue
		}
		w.log.Info("deleted persistent volume claim", zap.String("name", name))
	}

	for _, name := range decodeNameList(job.Annotations["pvs"]) {
		if err := w.cluster.DeletePersistentVolume(ctx, name); err != nil {
			w.log.Error("failed to delete persistent volume", zap.String("name", name), zap.Error(err))
			continue
		}
		w.log.Info("deleted persistent volume", zap.String("name", name))
	}
}

// decodeNameList parses an annotation value recorded by pkg/workload
// (a JSON array of strings) or, for a job created before this rewrite,
// Python's str(list) repr (e.g. "['foo-pv', 'bar-pv']"). Entries equal
// to "None" or empty are dropped either way.
func decodeNameList(raw string) []string {
	if raw == "" {
		return nil
	}

	var names []string
	if err := json.Unmarshal([]byte(raw), &names); err != nil {
		names = decodeLegacyReprList(raw)
	}

	out := make([]string, 0, len(names))
	for _, n := range names {
		if n == "" || n == "None" {
			continue
		}
		out = append(out, n)
	}
	return out
}

// decodeLegacyReprList parses Python's str(list) representation of a
// list of strings, e.g. "['foo-pv', 'bar-pv']" or "[]".
func decodeLegacyReprList(raw string) []string {
	trimmed := strings.Trim(raw, "[]")
	if trimmed == "" {
		return nil
	}
	parts := strings.Split(trimmed, ", ")
	names := make([]string, 0, len(parts))
	for _, p := range parts {
		names = append(names, strings.Trim(p, `'"`))
	}
	return names
}
