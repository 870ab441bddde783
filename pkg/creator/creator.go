// Package creator is the job creator's single entry point: decode one
// queue message, route it to its variant-specific path, and submit the
// resulting workload to the cluster. Nothing here propagates an error
// to a caller that would crash the process — every path logs its own
// failures with context, matching the original's per-message
// try/except-and-log shape. Process still returns an error so callers
// (and tests) can observe what happened; the queue consumer acks the
// delivery unconditionally either way, so a returned error never blocks
// the queue.
package creator

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/isisneutron/jobcontroller/internal/apperrors"
	"github.com/isisneutron/jobcontroller/pkg/k8sclient"
	"github.com/isisneutron/jobcontroller/pkg/messages"
	"github.com/isisneutron/jobcontroller/pkg/metrics"
	"github.com/isisneutron/jobcontroller/pkg/registry"
	"github.com/isisneutron/jobcontroller/pkg/scriptapi"
	"github.com/isisneutron/jobcontroller/pkg/workload"
)

// Config names the cluster/job parameters that are constant across every
// message the creator processes (spec.md §6, "Environment variables
// (creator)").
type Config struct {
	DevMode bool

	// DefaultRunnerImage is already digest-pinned, e.g.
	// "ghcr.io/fiaisis/mantid@sha256:<DEFAULT_RUNNER_SHA>".
	DefaultRunnerImage string
	WatcherSHA         string

	APIHost string
	APIKey  string

	JobNamespace string

	CephCredsSecretName      string
	CephCredsSecretNamespace string
	ClusterID                string
	FSName                   string

	ManilaShareID       string
	ManilaShareAccessID string

	MaxJobDuration time.Duration

	// CephLocalRoot and CephMountPath override where output mount paths
	// are computed from/to. Empty means "use the real cluster mounts"
	// (workload.DefaultLocalCephRoot / workload.DefaultMountPath); tests
	// set both to an isolated temp root.
	CephLocalRoot string
	CephMountPath string
}

func (c Config) cephRoots() (localRoot, mountPath string) {
	localRoot = c.CephLocalRoot
	if localRoot == "" {
		localRoot = workload.DefaultLocalCephRoot
	}
	mountPath = c.CephMountPath
	if mountPath == "" {
		mountPath = workload.DefaultMountPath
	}
	return localRoot, mountPath
}

// InstrumentPolicy names the runner image and any instrument-specific
// volumes a given instrument needs, keyed by lower-cased instrument
// name. This table doesn't exist in the original — its per-instrument
// runner selection was never centralised — but is named explicitly as a
// required behaviour, so it's modelled as data here rather than a chain
// of if-statements.
type InstrumentPolicy struct {
	RunnerImage string
	SpecialPVs  []string
}

var instrumentPolicies = map[string]InstrumentPolicy{
	"imat": {
		RunnerImage: "ghcr.io/fiaisis/imaging-mantid:latest",
		SpecialPVs:  []string{"imat"},
	},
}

// Creator wires the decoded-message routing to the collaborators that
// actually touch the outside world: the cluster API, the image
// registry, and the script-acquisition HTTP API.
type Creator struct {
	cfg Config

	cluster   *k8sclient.Client
	resolver  *registry.Resolver
	scriptAPI *scriptapi.Client
	log       *zap.Logger
}

// New builds a Creator.
func New(cfg Config, cluster *k8sclient.Client, resolver *registry.Resolver, scriptAPI *scriptapi.Client, log *zap.Logger) *Creator {
	return &Creator{cfg: cfg, cluster: cluster, resolver: resolver, scriptAPI: scriptAPI, log: log}
}

// Process decodes raw and routes it to the simple, rerun, or
// autoreduction path. A decode failure (malformed JSON, unknown
// job_type, missing required field) is logged and returned without any
// workload being submitted.
func (c *Creator) Process(ctx context.Context, raw []byte) error {
	req, err := messages.Decode(raw)
	if err != nil {
		c.log.Error("rejected message", zap.Error(err))
		metrics.RecordRejected("malformed_message")
		return err
	}

	switch r := req.(type) {
	case messages.SimpleRequest:
		c.log.Info("processing simple message")
		return c.processSimple(ctx, r)
	case messages.RerunRequest:
		c.log.Info("processing rerun message")
		return c.processRerun(ctx, r)
	case messages.AutoreductionRequest:
		c.log.Info("processing autoreduction message")
		return c.processAutoreduction(ctx, r)
	default:
		c.log.Warn("unroutable message variant", zap.String("job_type", string(r.Type())))
		metrics.RecordRejected("unroutable_variant")
		return apperrors.New(apperrors.TypeValidation, "unroutable message variant")
	}
}

// baseParams fills in the workload.Params fields that are constant
// across every message variant, leaving the caller to set the
// variant-specific ones (JobName, Script, CephMountPath, JobID,
// RunnerImage, SpecialPVs, Taints, Affinity).
func (c *Creator) baseParams() workload.Params {
	return workload.Params{
		JobNamespace:             c.cfg.JobNamespace,
		CephCredsSecretName:      c.cfg.CephCredsSecretName,
		CephCredsSecretNamespace: c.cfg.CephCredsSecretNamespace,
		ClusterID:                c.cfg.ClusterID,
		FSName:                   c.cfg.FSName,
		MaxJobDuration:           c.cfg.MaxJobDuration,
		APIHost:                  c.cfg.APIHost,
		APIKey:                   c.cfg.APIKey,
		WatcherSHA:               c.cfg.WatcherSHA,
		ManilaShareID:            c.cfg.ManilaShareID,
		ManilaShareAccessID:      c.cfg.ManilaShareAccessID,
		DevMode:                  c.cfg.DevMode,
	}
}

func (c *Creator) processSimple(ctx context.Context, r messages.SimpleRequest) error {
	jobName := workload.SimpleJobName(r.UserNumber, r.ExperimentNumber)
	localRoot, containerMountPath := c.cfg.cephRoots()
	mountPath, err := workload.SimpleMountPathIn(localRoot, containerMountPath, r.UserNumber, r.ExperimentNumber)
	if err != nil {
		c.log.Error("failed to compute ceph mount path", zap.String("job_name", jobName), zap.Error(err))
		metrics.RecordRejected("mount_path_error")
		return err
	}

	runnerImage := c.resolver.Resolve(r.RunnerImage)

	params := c.baseParams()
	params.JobName = jobName
	params.Script = r.Script
	params.CephMountPath = mountPath
	params.JobID = r.JobID
	params.RunnerImage = runnerImage
	params.Taints = r.Taints
	params.Affinity = r.Affinity

	bundle, err := workload.Build(params)
	if err != nil {
		c.log.Error("failed to build workload", zap.String("job_name", jobName), zap.Error(err))
		metrics.RecordRejected("workload_build_failed")
		return err
	}

	return c.submit(ctx, string(messages.JobTypeSimple), jobName, bundle)
}

func (c *Creator) processRerun(ctx context.Context, r messages.RerunRequest) error {
	jobName := workload.RunJobName(r.Filename)
	localRoot, containerMountPath := c.cfg.cephRoots()
	mountPath, err := workload.AutoreductionMountPathIn(localRoot, containerMountPath, r.Instrument, r.RBNumber)
	if err != nil {
		c.log.Error("failed to compute ceph mount path", zap.String("job_name", jobName), zap.Error(err))
		metrics.RecordRejected("mount_path_error")
		return err
	}

	runnerImage := c.resolver.Resolve(r.RunnerImage)

	params := c.baseParams()
	params.JobName = jobName
	params.Script = r.Script
	params.CephMountPath = mountPath
	params.JobID = r.JobID
	params.RunnerImage = runnerImage
	params.Taints = r.Taints
	params.Affinity = r.Affinity

	bundle, err := workload.Build(params)
	if err != nil {
		c.log.Error("failed to build workload", zap.String("job_name", jobName), zap.Error(err))
		metrics.RecordRejected("workload_build_failed")
		return err
	}

	return c.submit(ctx, string(messages.JobTypeRerun), jobName, bundle)
}

func (c *Creator) processAutoreduction(ctx context.Context, r messages.AutoreductionRequest) error {
	filename := workload.FilenameStem(r.Filepath)
	jobName := workload.RunJobName(filename)

	runnerImage := r.RunnerImage
	specialPVs := []string(nil)
	if runnerImage == "" {
		policy, ok := instrumentPolicies[strings.ToLower(r.Instrument)]
		if ok {
			runnerImage = policy.RunnerImage
			specialPVs = policy.SpecialPVs
		} else {
			if r.Instrument != "" {
				c.log.Error("no runner image policy configured for instrument, using default",
					zap.String("instrument", r.Instrument))
			}
			runnerImage = c.cfg.DefaultRunnerImage
		}
	}
	runnerImage = c.resolver.Resolve(runnerImage)

	script, jobID, err := c.scriptAPI.AcquireScript(ctx, scriptapi.AutoreductionRequest{
		Instrument:       r.Instrument,
		ExperimentNumber: r.ExperimentNumber,
		Filename:         filename,
		ExperimentTitle:  r.ExperimentTitle,
		Users:            r.Users,
		RunStart:         r.RunStart,
		RunEnd:           r.RunEnd,
		GoodFrames:       r.GoodFrames,
		RawFrames:        r.RawFrames,
		AdditionalValues: r.AdditionalValues,
		RunnerImage:      runnerImage,
	})
	if err != nil {
		c.log.Error("failed to acquire autoreduction script", zap.String("job_name", jobName), zap.Error(err))
		metrics.RecordRejected("script_acquisition_failed")
		return err
	}

	localRoot, containerMountPath := c.cfg.cephRoots()
	mountPath, err := workload.AutoreductionMountPathIn(localRoot, containerMountPath, r.Instrument, r.ExperimentNumber)
	if err != nil {
		c.log.Error("failed to compute ceph mount path", zap.String("job_name", jobName), zap.Error(err))
		metrics.RecordRejected("mount_path_error")
		return err
	}

	params := c.baseParams()
	params.JobName = jobName
	params.Script = script
	params.CephMountPath = mountPath
	params.JobID = jobID
	params.RunnerImage = runnerImage
	params.SpecialPVs = specialPVs
	params.Taints = r.Taints
	params.Affinity = r.Affinity

	bundle, err := workload.Build(params)
	if err != nil {
		c.log.Error("failed to build workload", zap.String("job_name", jobName), zap.Error(err))
		metrics.RecordRejected("workload_build_failed")
		return err
	}

	return c.submit(ctx, string(messages.JobTypeAutoreduction), jobName, bundle)
}

func (c *Creator) submit(ctx context.Context, variant, jobName string, bundle *workload.Bundle) error {
	c.log.Info("submitting workload", zap.String("job_name", jobName))
	if err := c.cluster.SubmitBundle(ctx, c.cfg.JobNamespace, bundle); err != nil {
		c.log.Error("failed to submit workload", zap.String("job_name", jobName), zap.Error(err))
		metrics.RecordRejected("submission_failed")
		return err
	}
	metrics.RecordDispatched(variant)
	return nil
}
