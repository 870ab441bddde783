// Package workload builds the Kubernetes object graph (PersistentVolumes,
// PersistentVolumeClaims, and the two-container Job) for a single job
// submission, as pure, testable struct construction — no cluster calls
// live here, only the shapes that pkg/k8sclient later submits.
package workload

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/api/resource"

	"github.com/isisneutron/jobcontroller/pkg/messages"
)

const (
	jobSourceLabelKey   = "reduce.isis.cclrc.ac.uk/job-source"
	jobSourceLabelValue = "automated-reduction"

	// ttlSecondsAfterFinished matches the original's hard-coded 6 hour
	// cleanup window, independent of MaxJobDuration.
	ttlSecondsAfterFinished = 6 * 60 * 60
)

// Params describes everything needed to assemble the Job and its backing
// volumes for one submission.
type Params struct {
	JobName      string
	Script       string
	JobNamespace string

	CephCredsSecretName      string
	CephCredsSecretNamespace string
	ClusterID                string
	FSName                   string
	CephMountPath            string

	JobID int

	MaxJobDuration time.Duration
	APIHost        string
	APIKey         string

	RunnerImage string
	WatcherSHA  string

	ManilaShareID       string
	ManilaShareAccessID string

	DevMode    bool
	SpecialPVs []string
	Taints     []messages.Taint
	Affinity   *messages.Affinity
}

// Bundle is the full set of objects that must be submitted to the
// cluster for one job, in creation order.
type Bundle struct {
	PersistentVolumes      []corev1.PersistentVolume
	PersistentVolumeClaims []corev1.PersistentVolumeClaim
	Job                    *batchv1.Job
}

// Build assembles the Bundle for p. It does not talk to the cluster;
// pkg/k8sclient submits the returned objects in order.
func Build(p Params) (*Bundle, error) {
	var pvs []corev1.PersistentVolume
	var pvcs []corev1.PersistentVolumeClaim
	var pvNames, pvcNames []string

	archivePVName := p.JobName + "-archive-pv-smb"
	pvs = append(pvs, smbPV(archivePVName, "archive-creds", p.JobNamespace,
		"//isisdatar55.isis.cclrc.ac.uk/inst$/", []string{"noserverino", "_netdev", "vers=2.1"}))
	pvNames = append(pvNames, archivePVName)

	archivePVCName := p.JobName + "-archive-pvc"
	pvcs = append(pvcs, boundPVC(archivePVCName, archivePVName, "ReadOnlyMany"))
	pvcNames = append(pvcNames, archivePVCName)

	extrasPVName := p.JobName + "-extras-pv"
	pvs = append(pvs, extrasPV(extrasPVName, p.JobNamespace, p.ManilaShareID, p.ManilaShareAccessID))
	pvNames = append(pvNames, extrasPVName)

	extrasPVCName := p.JobName + "-extras-pvc"
	pvcs = append(pvcs, labelSelectedPVC(extrasPVCName, extrasPVName, "ReadOnlyMany"))
	pvcNames = append(pvcNames, extrasPVCName)

	var cephVolume corev1.Volume
	if !p.DevMode {
		cephPVName := p.JobName + "-ceph-pv"
		pvs = append(pvs, cephPV(cephPVName, p.CephCredsSecretName, p.CephCredsSecretNamespace,
			p.ClusterID, p.FSName, p.CephMountPath))
		pvNames = append(pvNames, cephPVName)

		cephPVCName := p.JobName + "-ceph-pvc"
		pvcs = append(pvcs, boundPVC(cephPVCName, cephPVName, "ReadWriteMany"))
		pvcNames = append(pvcNames, cephPVCName)

		cephVolume = corev1.Volume{
			Name: "ceph-mount",
			VolumeSource: corev1.VolumeSource{
				PersistentVolumeClaim: &corev1.PersistentVolumeClaimVolumeSource{
					ClaimName: cephPVCName,
					ReadOnly:  false,
				},
			},
		}
	} else {
		cephVolume = corev1.Volume{
			Name: "ceph-mount",
			VolumeSource: corev1.VolumeSource{
				EmptyDir: &corev1.EmptyDirVolumeSource{SizeLimit: quantityPtr("100Gi")},
			},
		}
	}

	volumes := []corev1.Volume{
		{
			Name: "archive-mount",
			VolumeSource: corev1.VolumeSource{
				PersistentVolumeClaim: &corev1.PersistentVolumeClaimVolumeSource{
					ClaimName: archivePVCName,
					ReadOnly:  true,
				},
			},
		},
		cephVolume,
		{
			Name: "extras-mount",
			VolumeSource: corev1.VolumeSource{
				PersistentVolumeClaim: &corev1.PersistentVolumeClaimVolumeSource{
					ClaimName: extrasPVCName,
					ReadOnly:  true,
				},
			},
		},
	}
	mounts := []corev1.VolumeMount{
		{Name: "archive-mount", MountPath: "/archive"},
		{Name: "ceph-mount", MountPath: "/output"},
		{Name: "extras-mount", MountPath: "/extras"},
	}

	if containsString(p.SpecialPVs, "imat") {
		imatPVName := p.JobName + "-ndximat-pv-smb"
		imatPVCName := p.JobName + "-ndximat-pvc"
		pvs = append(pvs, smbPV(imatPVName, "imat-creds", p.JobNamespace, "//NDXIMAT.isis.cclrc.ac.uk/data$/", nil))
		pvcs = append(pvcs, boundPVC(imatPVCName, imatPVName, "ReadOnlyMany"))
		pvNames = append(pvNames, imatPVName)
		pvcNames = append(pvcNames, imatPVCName)

		volumes = append(volumes, corev1.Volume{
			Name: "imat-mount",
			VolumeSource: corev1.VolumeSource{
				PersistentVolumeClaim: &corev1.PersistentVolumeClaimVolumeSource{ClaimName: imatPVCName, ReadOnly: true},
			},
		})
		mounts = append(mounts, corev1.VolumeMount{Name: "imat-mount", MountPath: "/imat"})

		// imat uses mantid imaging to load large .tiff files, which needs
		// /dev/shm larger than the default 64Mi.
		volumes = append(volumes, corev1.Volume{
			Name: "dev-shm",
			VolumeSource: corev1.VolumeSource{
				EmptyDir: &corev1.EmptyDirVolumeSource{SizeLimit: quantityPtr("32Gi"), Medium: corev1.StorageMediumMemory},
			},
		})
		mounts = append(mounts, corev1.VolumeMount{Name: "dev-shm", MountPath: "/dev/shm"})
	}

	mainContainer := corev1.Container{
		Name:         p.JobName,
		Image:        p.RunnerImage,
		Args:         []string{p.Script},
		Env:          []corev1.EnvVar{{Name: "PYTHONUNBUFFERED", Value: "1"}},
		VolumeMounts: mounts,
	}

	watcherContainer := corev1.Container{
		Name:  "job-watcher",
		Image: fmt.Sprintf("ghcr.io/fiaisis/jobwatcher@sha256:%s", p.WatcherSHA),
		Env: []corev1.EnvVar{
			{Name: "API_HOST", Value: p.APIHost},
			{Name: "API_KEY", Value: p.APIKey},
			{Name: "MAX_JOB_DURATION", Value: strconv.Itoa(int(p.MaxJobDuration.Seconds()))},
			{Name: "CONTAINER_NAME", Value: p.JobName},
			{Name: "JOB_NAME", Value: p.JobName},
			{Name: "POD_NAME", Value: p.JobName},
		},
	}

	podSpec := corev1.PodSpec{
		Affinity:           buildAffinity(p.Affinity),
		ServiceAccountName: "jobwatcher",
		Containers:         []corev1.Container{mainContainer, watcherContainer},
		RestartPolicy:      corev1.RestartPolicyNever,
		Tolerations:        buildTolerations(p.Taints),
		Volumes:            volumes,
	}

	annotations, err := buildAnnotations(p.JobID, p.JobName, pvNames, pvcNames)
	if err != nil {
		return nil, err
	}

	job := &batchv1.Job{
		TypeMeta: metav1.TypeMeta{APIVersion: "batch/v1", Kind: "Job"},
		ObjectMeta: metav1.ObjectMeta{
			Name:        p.JobName,
			Namespace:   p.JobNamespace,
			Annotations: annotations,
		},
		Spec: batchv1.JobSpec{
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: map[string]string{jobSourceLabelKey: jobSourceLabelValue}},
				Spec:       podSpec,
			},
			BackoffLimit:            int32Ptr(0),
			TTLSecondsAfterFinished: int32Ptr(ttlSecondsAfterFinished),
		},
	}

	return &Bundle{PersistentVolumes: pvs, PersistentVolumeClaims: pvcs, Job: job}, nil
}

// buildAnnotations records the job-id and the exact set of PVs/PVCs this
// job owns as JSON arrays, so pkg/watcher's cleanup step can parse them
// back out without depending on Python's str(list) repr. A legacy
// fallback decoder for that repr lives in pkg/watcher.
func buildAnnotations(jobID int, mainContainerName string, pvNames, pvcNames []string) (map[string]string, error) {
	pvsJSON, err := json.Marshal(pvNames)
	if err != nil {
		return nil, err
	}
	pvcsJSON, err := json.Marshal(pvcNames)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		"job-id":                                 strconv.Itoa(jobID),
		"pvs":                                    string(pvsJSON),
		"pvcs":                                   string(pvcsJSON),
		"kubectl.kubernetes.io/default-container": mainContainerName,
	}, nil
}

func buildTolerations(taints []messages.Taint) []corev1.Toleration {
	tolerations := make([]corev1.Toleration, 0, len(taints))
	for _, t := range taints {
		tolerations = append(tolerations, corev1.Toleration{
			Key:      t.Key,
			Value:    t.Value,
			Operator: corev1.TolerationOperator(t.Operator),
			Effect:   corev1.TaintEffect(t.Effect),
		})
	}
	return tolerations
}

// buildAffinity always applies the anti-affinity that spreads
// automated-reduction pods across nodes, and additionally applies a
// required node affinity when the request carries one. Unlike the
// original (which hard-coded node-type=gpu-worker for every request that
// supplied *any* affinity dict), this honours the key/operator/values the
// request actually asked for.
func buildAffinity(a *messages.Affinity) *corev1.Affinity {
	antiAffinity := &corev1.PodAntiAffinity{
		PreferredDuringSchedulingIgnoredDuringExecution: []corev1.WeightedPodAffinityTerm{
			{
				Weight: 100,
				PodAffinityTerm: corev1.PodAffinityTerm{
					TopologyKey: "kubernetes.io/hostname",
					LabelSelector: &metav1.LabelSelector{
						MatchLabels: map[string]string{jobSourceLabelKey: jobSourceLabelValue},
					},
				},
			},
		},
	}

	affinity := &corev1.Affinity{PodAntiAffinity: antiAffinity}
	if a == nil {
		return affinity
	}

	affinity.NodeAffinity = &corev1.NodeAffinity{
		RequiredDuringSchedulingIgnoredDuringExecution: &corev1.NodeSelector{
			NodeSelectorTerms: []corev1.NodeSelectorTerm{
				{
					MatchExpressions: []corev1.NodeSelectorRequirement{
						{
							Key:      a.Key,
							Operator: corev1.NodeSelectorOperator(a.Operator),
							Values:   a.Values,
						},
					},
				},
			},
		},
	}
	return affinity
}

func smbPV(name, secretName, secretNamespace, source string, mountOptions []string) corev1.PersistentVolume {
	return corev1.PersistentVolume{
		TypeMeta: metav1.TypeMeta{APIVersion: "v1", Kind: "PersistentVolume"},
		ObjectMeta: metav1.ObjectMeta{
			Name:        name,
			Annotations: map[string]string{"pv.kubernetes.io/provisioned-by": "smb.csi.k8s.io"},
		},
		Spec: corev1.PersistentVolumeSpec{
			Capacity:                      corev1.ResourceList{corev1.ResourceStorage: resource.MustParse("1000Gi")},
			AccessModes:                   []corev1.PersistentVolumeAccessMode{corev1.ReadOnlyMany},
			PersistentVolumeReclaimPolicy: corev1.PersistentVolumeReclaimRetain,
			MountOptions:                  mountOptions,
			PersistentVolumeSource: corev1.PersistentVolumeSource{
				CSI: &corev1.CSIPersistentVolumeSource{
					Driver:           "smb.csi.k8s.io",
					ReadOnly:         true,
					VolumeHandle:     name,
					VolumeAttributes: map[string]string{"source": source},
					NodeStageSecretRef: &corev1.SecretReference{
						Name: secretName, Namespace: secretNamespace,
					},
				},
			},
		},
	}
}

func extrasPV(name, secretNamespace, manilaShareID, manilaShareAccessID string) corev1.PersistentVolume {
	secretRef := &corev1.SecretReference{Name: "manila-creds", Namespace: secretNamespace}
	return corev1.PersistentVolume{
		TypeMeta:   metav1.TypeMeta{APIVersion: "v1", Kind: "PersistentVolume"},
		ObjectMeta: metav1.ObjectMeta{Name: name, Labels: map[string]string{"name": name}},
		Spec: corev1.PersistentVolumeSpec{
			Capacity:    corev1.ResourceList{corev1.ResourceStorage: resource.MustParse("1000Gi")},
			AccessModes: []corev1.PersistentVolumeAccessMode{corev1.ReadOnlyMany},
			PersistentVolumeSource: corev1.PersistentVolumeSource{
				CSI: &corev1.CSIPersistentVolumeSource{
					Driver:       "cephfs.manila.csi.openstack.org",
					ReadOnly:     true,
					VolumeHandle: name,
					VolumeAttributes: map[string]string{
						"shareID":       manilaShareID,
						"shareAccessID": manilaShareAccessID,
					},
					NodeStageSecretRef:   secretRef,
					NodePublishSecretRef: secretRef,
				},
			},
		},
	}
}

func cephPV(name, credsSecretName, credsSecretNamespace, clusterID, fsName, rootPath string) corev1.PersistentVolume {
	storageClassName := ""
	return corev1.PersistentVolume{
		TypeMeta:   metav1.TypeMeta{APIVersion: "v1", Kind: "PersistentVolume"},
		ObjectMeta: metav1.ObjectMeta{Name: name},
		Spec: corev1.PersistentVolumeSpec{
			Capacity:                      corev1.ResourceList{corev1.ResourceStorage: resource.MustParse("1000Gi")},
			StorageClassName:              storageClassName,
			AccessModes:                   []corev1.PersistentVolumeAccessMode{corev1.ReadWriteMany},
			PersistentVolumeReclaimPolicy: corev1.PersistentVolumeReclaimRetain,
			VolumeMode:                    volumeModePtr(corev1.PersistentVolumeFilesystem),
			PersistentVolumeSource: corev1.PersistentVolumeSource{
				CSI: &corev1.CSIPersistentVolumeSource{
					Driver: "cephfs.csi.ceph.com",
					NodeStageSecretRef: &corev1.SecretReference{
						Name: credsSecretName, Namespace: credsSecretNamespace,
					},
					VolumeHandle: name,
					VolumeAttributes: map[string]string{
						"clusterID":    clusterID,
						"mounter":      "fuse",
						"fsName":       fsName,
						"staticVolume": "true",
						"rootPath":     rootPath,
					},
				},
			},
		},
	}
}

func boundPVC(name, pvName, accessMode string) corev1.PersistentVolumeClaim {
	storageClassName := ""
	return corev1.PersistentVolumeClaim{
		TypeMeta:   metav1.TypeMeta{APIVersion: "v1", Kind: "PersistentVolumeClaim"},
		ObjectMeta: metav1.ObjectMeta{Name: name},
		Spec: corev1.PersistentVolumeClaimSpec{
			AccessModes: []corev1.PersistentVolumeAccessMode{corev1.PersistentVolumeAccessMode(accessMode)},
			Resources: corev1.VolumeResourceRequirements{
				Requests: corev1.ResourceList{corev1.ResourceStorage: resource.MustParse("1000Gi")},
			},
			VolumeName:       pvName,
			StorageClassName: &storageClassName,
		},
	}
}

// labelSelectedPVC binds to pvName by label selector rather than by
// VolumeName, matching the original's _setup_extras_pvc (a
// V1LabelSelectorRequirement on the "name" key) so the claim binds late to
// whichever PV carries that label rather than a fixed name.
func labelSelectedPVC(name, pvName, accessMode string) corev1.PersistentVolumeClaim {
	storageClassName := ""
	return corev1.PersistentVolumeClaim{
		TypeMeta:   metav1.TypeMeta{APIVersion: "v1", Kind: "PersistentVolumeClaim"},
		ObjectMeta: metav1.ObjectMeta{Name: name},
		Spec: corev1.PersistentVolumeClaimSpec{
			AccessModes: []corev1.PersistentVolumeAccessMode{corev1.PersistentVolumeAccessMode(accessMode)},
			Resources: corev1.VolumeResourceRequirements{
				Requests: corev1.ResourceList{corev1.ResourceStorage: resource.MustParse("1000Gi")},
			},
			Selector: &metav1.LabelSelector{
				MatchExpressions: []metav1.LabelSelectorRequirement{
					{Key: "name", Operator: metav1.LabelSelectorOpIn, Values: []string{pvName}},
				},
			},
			StorageClassName: &storageClassName,
		},
	}
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

func int32Ptr(v int32) *int32 { return &v }

func volumeModePtr(m corev1.PersistentVolumeMode) *corev1.PersistentVolumeMode { return &m }

func quantityPtr(s string) *resource.Quantity {
	q := resource.MustParse(s)
	return &q
}
