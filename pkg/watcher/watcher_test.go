package watcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"go.uber.org/zap"

	"github.com/isisneutron/jobcontroller/pkg/scriptapi"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestWatcher(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Watcher Suite")
}

// fakeCluster implements ClusterAPI directly, sidestepping client-go's
// fake transport for pod logs.
type fakeCluster struct {
	job *batchv1.Job
	pod *corev1.Pod
	log string
	err error

	deletedPVCs []string
	deletedPVs  []string
}

func (f *fakeCluster) GetJob(_ context.Context, _, _ string) (*batchv1.Job, error) { return f.job, nil }

func (f *fakeCluster) GetPod(_ context.Context, _, _ string) (*corev1.Pod, error) { return f.pod, nil }

func (f *fakeCluster) FindPodByPartialName(_ context.Context, _, _ string) (*corev1.Pod, error) {
	return f.pod, nil
}

func (f *fakeCluster) GetContainerLogs(_ context.Context, _, _, _ string, _, _ int64) (string, error) {
	return f.log, f.err
}

func (f *fakeCluster) DeletePersistentVolumeClaim(_ context.Context, _, name string) error {
	f.deletedPVCs = append(f.deletedPVCs, name)
	return nil
}

func (f *fakeCluster) DeletePersistentVolume(_ context.Context, name string) error {
	f.deletedPVs = append(f.deletedPVs, name)
	return nil
}

func terminatedPod(name string, exitCode int32, created time.Time) *corev1.Pod {
	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Name: name, CreationTimestamp: metav1.NewTime(created)},
		Status: corev1.PodStatus{
			StartTime: &metav1.Time{Time: created},
			ContainerStatuses: []corev1.ContainerStatus{
				{
					Name: "main",
					State: corev1.ContainerState{
						Terminated: &corev1.ContainerStateTerminated{
							ExitCode:   exitCode,
							FinishedAt: metav1.NewTime(created.Add(time.Minute)),
						},
					},
				},
			},
		},
	}
}

func runningPod(name string, created time.Time) *corev1.Pod {
	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Name: name, CreationTimestamp: metav1.NewTime(created)},
		Status: corev1.PodStatus{
			StartTime:         &metav1.Time{Time: created},
			ContainerStatuses: []corev1.ContainerStatus{{Name: "main", State: corev1.ContainerState{Running: &corev1.ContainerStateRunning{}}}},
		},
	}
}

func jobWithAnnotations(name string, jobID int, pvs, pvcs string) *batchv1.Job {
	return &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{
			Name: name,
			Annotations: map[string]string{
				"job-id": fmt.Sprintf("%d", jobID),
				"pvs":    pvs,
				"pvcs":   pvcs,
			},
		},
	}
}

func newStatusServer(gotPath *string, gotBody *[]byte) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*gotPath = r.URL.Path
		buf, _ := io.ReadAll(r.Body)
		*gotBody = buf
		w.WriteHeader(http.StatusOK)
	}))
}

var _ = Describe("Watch", func() {
	var cfg Config
	var cluster *fakeCluster

	BeforeEach(func() {
		cfg = Config{JobName: "run-mari123-abc", PartialPodName: "run-mari123", ContainerName: "main", Namespace: "fia", MaxJobDuration: 6 * time.Hour}
	})

	It("reports SUCCESSFUL and cleans up on a zero exit code with a valid status payload", func() {
		now := time.Now()
		cluster = &fakeCluster{
			job: jobWithAnnotations(cfg.JobName, 7, `["pv-a", "pv-b"]`, `["pvc-a"]`),
			pod: terminatedPod("run-mari123-abc-xyz", 0, now.Add(-time.Minute)),
			log: "starting\n" + `{"status": "successful", "output_files": ["a.nxs"]}` + "\n",
		}

		var gotPath string
		var gotBody []byte
		server := newStatusServer(&gotPath, &gotBody)
		defer server.Close()

		w := New(cfg, cluster, scriptapi.New(server.URL[len("http://"):], "key", zap.NewNop()), zap.NewNop())
		done, err := w.checkForChanges(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(done).To(BeTrue())

		Expect(gotPath).To(Equal("/job/7"))
		Expect(string(gotBody)).To(ContainSubstring(`"state":"SUCCESSFUL"`))
		Expect(string(gotBody)).To(ContainSubstring(`"a.nxs"`))

		Expect(cluster.deletedPVCs).To(ConsistOf("pvc-a"))
		Expect(cluster.deletedPVs).To(ConsistOf("pv-a", "pv-b"))
	})

	It("reports UNSUCCESSFUL when the log output is not valid JSON", func() {
		now := time.Now()
		cluster = &fakeCluster{
			job: jobWithAnnotations(cfg.JobName, 7, `[]`, `[]`),
			pod: terminatedPod("run-mari123-abc-xyz", 0, now.Add(-time.Minute)),
			log: "not json\n",
		}

		var gotPath string
		var gotBody []byte
		server := newStatusServer(&gotPath, &gotBody)
		defer server.Close()

		w := New(cfg, cluster, scriptapi.New(server.URL[len("http://"):], "key", zap.NewNop()), zap.NewNop())
		done, err := w.checkForChanges(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(done).To(BeTrue())
		Expect(string(gotBody)).To(ContainSubstring(`"state":"UNSUCCESSFUL"`))
	})

	It("reports ERROR with the extracted error line and stacktrace on a non-zero exit code", func() {
		now := time.Now()
		cluster = &fakeCluster{
			job: jobWithAnnotations(cfg.JobName, 9, `[]`, `[]`),
			pod: terminatedPod("run-mari123-abc-xyz", 1, now.Add(-time.Minute)),
			log: "Traceback (most recent call last):\n  File x\nValueError: Error: bad input\nother\n",
		}

		var gotPath string
		var gotBody []byte
		server := newStatusServer(&gotPath, &gotBody)
		defer server.Close()

		w := New(cfg, cluster, scriptapi.New(server.URL[len("http://"):], "key", zap.NewNop()), zap.NewNop())
		done, err := w.checkForChanges(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(done).To(BeTrue())
		Expect(gotPath).To(Equal("/job/9"))
		Expect(string(gotBody)).To(ContainSubstring(`"state":"ERROR"`))
		Expect(string(gotBody)).To(ContainSubstring("ValueError: Error: bad input"))
	})

	It("treats an aged pod with no recent logs as stalled", func() {
		old := time.Now().Add(-45 * time.Minute)
		cluster = &fakeCluster{
			job: jobWithAnnotations(cfg.JobName, 3, `[]`, `[]`),
			pod: runningPod("run-mari123-abc-xyz", old),
			log: "",
		}

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		w := New(cfg, cluster, scriptapi.New(server.URL[len("http://"):], "key", zap.NewNop()), zap.NewNop())
		done, err := w.checkForChanges(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(done).To(BeTrue())
	})

	It("does not treat a young, still-running pod as stalled or complete", func() {
		cluster = &fakeCluster{
			job: jobWithAnnotations(cfg.JobName, 3, `[]`, `[]`),
			pod: runningPod("run-mari123-abc-xyz", time.Now()),
		}

		w := New(cfg, cluster, scriptapi.New("", "key", zap.NewNop()), zap.NewNop())
		done, err := w.checkForChanges(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(done).To(BeFalse())
	})
})

var _ = Describe("findLatestErrorAndStacktrace", func() {
	It("extracts the error line and the enclosing traceback", func() {
		logs := "Traceback (most recent call last):\n  File \"x.py\", line 1\nValueError: Error: boom\ntrailer\n"
		errorLine, stacktrace := findLatestErrorAndStacktrace(logs)
		Expect(errorLine).To(Equal("ValueError: Error: boom"))
		Expect(stacktrace).To(ContainSubstring("Traceback (most recent call last):"))
		Expect(stacktrace).To(ContainSubstring("ValueError: Error: boom"))
	})

	It("falls back to the last log line when no error marker is present", func() {
		logs := "first\nsecond\nthird"
		errorLine, stacktrace := findLatestErrorAndStacktrace(logs)
		Expect(errorLine).To(Equal("third"))
		Expect(stacktrace).To(BeEmpty())
	})
})

var _ = Describe("decodeNameList", func() {
	It("decodes a JSON array", func() {
		Expect(decodeNameList(`["a", "b"]`)).To(Equal([]string{"a", "b"}))
	})

	It("decodes a legacy Python str(list) repr, skipping None and empty entries", func() {
		Expect(decodeNameList(`['a', 'None', '', 'b']`)).To(Equal([]string{"a", "b"}))
	})

	It("returns nil for an empty annotation", func() {
		Expect(decodeNameList("")).To(BeNil())
	})
})
