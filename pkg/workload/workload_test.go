package workload

import (
	"encoding/json"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/isisneutron/jobcontroller/pkg/messages"
)

func baseParams() Params {
	return Params{
		JobName:                  "run-mar123-abc123",
		Script:                   "print('hi')",
		JobNamespace:             "fia",
		CephCredsSecretName:      "ceph-creds",
		CephCredsSecretNamespace: "fia",
		ClusterID:                "cluster-id",
		FSName:                   "deneb",
		CephMountPath:            "/mari/RBNumber/RB1234/autoreduced",
		JobID:                    7,
		RunnerImage:              "ghcr.io/fiaisis/mantid@sha256:deadbeef",
		WatcherSHA:               "cafef00d",
		ManilaShareID:            "share-id",
		ManilaShareAccessID:      "share-access-id",
	}
}

var _ = Describe("Build", func() {
	It("creates archive and extras PVs/PVCs plus a ceph PV/PVC in production mode", func() {
		bundle, err := Build(baseParams())
		Expect(err).NotTo(HaveOccurred())

		var pvNames []string
		for _, pv := range bundle.PersistentVolumes {
			pvNames = append(pvNames, pv.Name)
		}
		Expect(pvNames).To(ConsistOf(
			"run-mar123-abc123-archive-pv-smb",
			"run-mar123-abc123-extras-pv",
			"run-mar123-abc123-ceph-pv",
		))

		var pvcNames []string
		for _, pvc := range bundle.PersistentVolumeClaims {
			pvcNames = append(pvcNames, pvc.Name)
		}
		Expect(pvcNames).To(ConsistOf(
			"run-mar123-abc123-archive-pvc",
			"run-mar123-abc123-extras-pvc",
			"run-mar123-abc123-ceph-pvc",
		))
	})

	It("uses an empty-dir ceph-mount volume in dev mode instead of a ceph PV", func() {
		p := baseParams()
		p.DevMode = true
		bundle, err := Build(p)
		Expect(err).NotTo(HaveOccurred())

		for _, pv := range bundle.PersistentVolumes {
			Expect(pv.Name).NotTo(ContainSubstring("ceph-pv"))
		}

		found := false
		for _, v := range bundle.Job.Spec.Template.Spec.Volumes {
			if v.Name == "ceph-mount" {
				found = true
				Expect(v.EmptyDir).NotTo(BeNil())
			}
		}
		Expect(found).To(BeTrue())
	})

	It("adds imat volumes only when requested", func() {
		p := baseParams()
		p.SpecialPVs = []string{"imat"}
		bundle, err := Build(p)
		Expect(err).NotTo(HaveOccurred())

		var mountNames []string
		for _, m := range bundle.Job.Spec.Template.Spec.Containers[0].VolumeMounts {
			mountNames = append(mountNames, m.Name)
		}
		Expect(mountNames).To(ContainElements("imat-mount", "dev-shm"))
	})

	It("records job-id and the JSON-encoded pv/pvc name lists as annotations", func() {
		bundle, err := Build(baseParams())
		Expect(err).NotTo(HaveOccurred())

		annotations := bundle.Job.Annotations
		Expect(annotations["job-id"]).To(Equal("7"))

		var pvs []string
		Expect(json.Unmarshal([]byte(annotations["pvs"]), &pvs)).To(Succeed())
		Expect(pvs).To(HaveLen(3))

		var pvcs []string
		Expect(json.Unmarshal([]byte(annotations["pvcs"]), &pvcs)).To(Succeed())
		Expect(pvcs).To(HaveLen(3))

		Expect(annotations["kubectl.kubernetes.io/default-container"]).To(Equal("run-mar123-abc123"))
	})

	It("binds the extras claim by label selector on the PV's name label, not by VolumeName", func() {
		bundle, err := Build(baseParams())
		Expect(err).NotTo(HaveOccurred())

		var extrasPVC *corev1.PersistentVolumeClaim
		for i := range bundle.PersistentVolumeClaims {
			if bundle.PersistentVolumeClaims[i].Name == "run-mar123-abc123-extras-pvc" {
				extrasPVC = &bundle.PersistentVolumeClaims[i]
			}
		}
		Expect(extrasPVC).NotTo(BeNil())
		Expect(extrasPVC.Spec.VolumeName).To(BeEmpty())
		Expect(extrasPVC.Spec.Selector).NotTo(BeNil())
		Expect(extrasPVC.Spec.Selector.MatchExpressions).To(ConsistOf(
			metav1.LabelSelectorRequirement{Key: "name", Operator: metav1.LabelSelectorOpIn, Values: []string{"run-mar123-abc123-extras-pv"}},
		))

		var archivePVC *corev1.PersistentVolumeClaim
		for i := range bundle.PersistentVolumeClaims {
			if bundle.PersistentVolumeClaims[i].Name == "run-mar123-abc123-archive-pvc" {
				archivePVC = &bundle.PersistentVolumeClaims[i]
			}
		}
		Expect(archivePVC).NotTo(BeNil())
		Expect(archivePVC.Spec.VolumeName).To(Equal("run-mar123-abc123-archive-pv-smb"))
		Expect(archivePVC.Spec.Selector).To(BeNil())
	})

	It("always sets the anti-affinity, and adds node affinity only when requested", func() {
		bundle, err := Build(baseParams())
		Expect(err).NotTo(HaveOccurred())
		affinity := bundle.Job.Spec.Template.Spec.Affinity
		Expect(affinity.PodAntiAffinity).NotTo(BeNil())
		Expect(affinity.NodeAffinity).To(BeNil())

		p := baseParams()
		p.Affinity = &messages.Affinity{Key: "node-type", Operator: "In", Values: []string{"gpu-worker"}}
		bundle, err = Build(p)
		Expect(err).NotTo(HaveOccurred())
		affinity = bundle.Job.Spec.Template.Spec.Affinity
		Expect(affinity.NodeAffinity).NotTo(BeNil())
		term := affinity.NodeAffinity.RequiredDuringSchedulingIgnoredDuringExecution.NodeSelectorTerms[0]
		Expect(term.MatchExpressions[0].Key).To(Equal("node-type"))
		Expect(term.MatchExpressions[0].Values).To(ConsistOf("gpu-worker"))
	})

	It("converts taints into pod tolerations", func() {
		p := baseParams()
		p.Taints = []messages.Taint{{Key: "gpu", Operator: "Exists", Effect: "NoSchedule"}}
		bundle, err := Build(p)
		Expect(err).NotTo(HaveOccurred())
		Expect(bundle.Job.Spec.Template.Spec.Tolerations).To(HaveLen(1))
		Expect(bundle.Job.Spec.Template.Spec.Tolerations[0].Key).To(Equal("gpu"))
		Expect(bundle.Job.Spec.Template.Spec.Tolerations[0].Effect).To(Equal(corev1.TaintEffect("NoSchedule")))
	})

	It("runs both the runner and the watcher container", func() {
		bundle, err := Build(baseParams())
		Expect(err).NotTo(HaveOccurred())
		containers := bundle.Job.Spec.Template.Spec.Containers
		Expect(containers).To(HaveLen(2))
		Expect(containers[0].Name).To(Equal("run-mar123-abc123"))
		Expect(containers[0].Args).To(ConsistOf("print('hi')"))
		Expect(containers[1].Image).To(Equal("ghcr.io/fiaisis/jobwatcher@sha256:cafef00d"))
	})
})
