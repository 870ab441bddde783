// Package messages models the inbound queue message as an explicit
// tagged union with a discriminator, per spec.md §9's design note:
// validate eagerly and reject ambiguous input with a typed error rather
// than relying on downstream map lookups.
package messages

import (
	"encoding/json"

	"github.com/isisneutron/jobcontroller/internal/apperrors"
	"github.com/isisneutron/jobcontroller/internal/validation"
)

// JobType discriminates the three job-request variants.
type JobType string

const (
	JobTypeAutoreduction JobType = "autoreduction"
	JobTypeRerun         JobType = "rerun"
	JobTypeSimple        JobType = "simple"
)

// Taint mirrors a single toleration request, e.g.
// {"key": "gpu", "effect": "NoSchedule", "operator": "Exists"}.
type Taint struct {
	Key      string `json:"key,omitempty"`
	Value    string `json:"value,omitempty"`
	Operator string `json:"operator,omitempty"`
	Effect   string `json:"effect,omitempty"`
}

// Affinity mirrors a required node-affinity request, e.g.
// {"key": "node-type", "operator": "In", "values": ["gpu-worker"]}.
type Affinity struct {
	Key      string   `json:"key"`
	Operator string   `json:"operator"`
	Values   []string `json:"values"`
}

// Request is implemented by each of the three job-request variants.
type Request interface {
	Type() JobType
}

// AutoreductionRequest is the "autoreduction" message variant (spec.md §3).
type AutoreductionRequest struct {
	Filepath         string         `json:"filepath" validate:"required"`
	ExperimentNumber string         `json:"experiment_number" validate:"required"`
	Instrument       string         `json:"instrument" validate:"required"`
	ExperimentTitle  string         `json:"experiment_title"`
	Users            string         `json:"users"`
	RunStart         string         `json:"run_start"`
	RunEnd           string         `json:"run_end"`
	GoodFrames       int            `json:"good_frames"`
	RawFrames        int            `json:"raw_frames"`
	AdditionalValues map[string]any `json:"additional_values"`
	RunnerImage      string         `json:"runner_image,omitempty"`
	Taints           []Taint        `json:"taints,omitempty"`
	Affinity         *Affinity      `json:"affinity,omitempty"`
}

func (AutoreductionRequest) Type() JobType { return JobTypeAutoreduction }

// RerunRequest is the "rerun" message variant (spec.md §3).
type RerunRequest struct {
	JobID       int       `json:"job_id"`
	RunnerImage string    `json:"runner_image" validate:"required"`
	Script      string    `json:"script" validate:"required"`
	Instrument  string    `json:"instrument" validate:"required"`
	RBNumber    string    `json:"rb_number" validate:"required"`
	Filename    string    `json:"filename" validate:"required"`
	Taints      []Taint   `json:"taints,omitempty"`
	Affinity    *Affinity `json:"affinity,omitempty"`
}

func (RerunRequest) Type() JobType { return JobTypeRerun }

// SimpleRequest is the "simple" message variant (spec.md §3). Exactly
// one of UserNumber/ExperimentNumber is populated; this is enforced at
// decode time, not left to callers.
type SimpleRequest struct {
	RunnerImage      string    `json:"runner_image" validate:"required"`
	Script           string    `json:"script" validate:"required"`
	UserNumber       string    `json:"user_number,omitempty"`
	ExperimentNumber string    `json:"experiment_number,omitempty"`
	JobID            int       `json:"job_id"`
	Taints           []Taint   `json:"taints,omitempty"`
	Affinity         *Affinity `json:"affinity,omitempty"`
}

func (SimpleRequest) Type() JobType { return JobTypeSimple }

// wireMessage is the raw, untyped shape every inbound message is first
// decoded into so the job_type discriminator can be read before
// validating the variant-specific fields.
type wireMessage struct {
	JobType          JobType        `json:"job_type"`
	Filepath         string         `json:"filepath"`
	ExperimentNumber string         `json:"experiment_number"`
	Instrument       string         `json:"instrument"`
	ExperimentTitle  string         `json:"experiment_title"`
	Users            string         `json:"users"`
	RunStart         string         `json:"run_start"`
	RunEnd           string         `json:"run_end"`
	GoodFrames       int            `json:"good_frames"`
	RawFrames        int            `json:"raw_frames"`
	AdditionalValues map[string]any `json:"additional_values"`
	RunnerImage      string         `json:"runner_image"`
	JobID            int            `json:"job_id"`
	Script           string         `json:"script"`
	RBNumber         string         `json:"rb_number"`
	Filename         string         `json:"filename"`
	UserNumber       string         `json:"user_number"`
	Taints           []Taint        `json:"taints"`
	Affinity         *Affinity      `json:"affinity"`
}

// Decode parses raw JSON into the appropriate Request variant, dispatching
// on job_type (defaulting to "autoreduction" when absent, per spec.md
// §3's discriminator rule) and rejecting ambiguous or malformed input
// with a *apperrors.AppError of type TypeValidation.
func Decode(raw []byte) (Request, error) {
	var wire wireMessage
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, apperrors.Wrap(err, apperrors.TypeValidation, "malformed JSON message")
	}

	jobType := wire.JobType
	if jobType == "" {
		jobType = JobTypeAutoreduction
	}

	switch jobType {
	case JobTypeSimple:
		return decodeSimple(wire)
	case JobTypeRerun:
		return decodeRerun(wire)
	case JobTypeAutoreduction:
		return decodeAutoreduction(wire)
	default:
		return nil, apperrors.Newf(apperrors.TypeValidation, "unknown job_type %q", jobType)
	}
}

func decodeSimple(wire wireMessage) (Request, error) {
	hasUser := wire.UserNumber != ""
	hasExperiment := wire.ExperimentNumber != ""
	if hasUser && hasExperiment {
		return nil, apperrors.New(apperrors.TypeValidation,
			"both user_number and experiment_number cannot be defined, but one must be")
	}
	if !hasUser && !hasExperiment {
		return nil, apperrors.New(apperrors.TypeValidation,
			"one of user_number or experiment_number must be defined")
	}
	if wire.RunnerImage == "" {
		return nil, apperrors.New(apperrors.TypeValidation, "runner_image is required for a simple job")
	}
	if wire.Script == "" {
		return nil, apperrors.New(apperrors.TypeValidation, "script is required for a simple job")
	}
	req := SimpleRequest{
		RunnerImage:      wire.RunnerImage,
		Script:           wire.Script,
		UserNumber:       wire.UserNumber,
		ExperimentNumber: wire.ExperimentNumber,
		JobID:            wire.JobID,
		Taints:           wire.Taints,
		Affinity:         wire.Affinity,
	}
	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	return req, nil
}

func decodeRerun(wire wireMessage) (Request, error) {
	if wire.RunnerImage == "" {
		return nil, apperrors.New(apperrors.TypeValidation, "runner_image is required for a rerun job")
	}
	if wire.Script == "" {
		return nil, apperrors.New(apperrors.TypeValidation, "script is required for a rerun job")
	}
	if wire.Instrument == "" {
		return nil, apperrors.New(apperrors.TypeValidation, "instrument is required for a rerun job")
	}
	if wire.Filename == "" {
		return nil, apperrors.New(apperrors.TypeValidation, "filename is required for a rerun job")
	}
	if wire.RBNumber == "" {
		return nil, apperrors.New(apperrors.TypeValidation, "rb_number is required for a rerun job")
	}
	req := RerunRequest{
		JobID:       wire.JobID,
		RunnerImage: wire.RunnerImage,
		Script:      wire.Script,
		Instrument:  wire.Instrument,
		RBNumber:    wire.RBNumber,
		Filename:    wire.Filename,
		Taints:      wire.Taints,
		Affinity:    wire.Affinity,
	}
	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	return req, nil
}

func decodeAutoreduction(wire wireMessage) (Request, error) {
	if wire.Filepath == "" {
		return nil, apperrors.New(apperrors.TypeValidation, "filepath is required for an autoreduction job")
	}
	if wire.Instrument == "" {
		return nil, apperrors.New(apperrors.TypeValidation, "instrument is required for an autoreduction job")
	}
	if wire.ExperimentNumber == "" {
		return nil, apperrors.New(apperrors.TypeValidation, "experiment_number is required for an autoreduction job")
	}
	req := AutoreductionRequest{
		Filepath:         wire.Filepath,
		ExperimentNumber: wire.ExperimentNumber,
		Instrument:       wire.Instrument,
		ExperimentTitle:  wire.ExperimentTitle,
		Users:            wire.Users,
		RunStart:         wire.RunStart,
		RunEnd:           wire.RunEnd,
		GoodFrames:       wire.GoodFrames,
		RawFrames:        wire.RawFrames,
		AdditionalValues: wire.AdditionalValues,
		RunnerImage:      wire.RunnerImage,
		Taints:           wire.Taints,
		Affinity:         wire.Affinity,
	}
	if err := validation.Struct(req); err != nil {
		return nil, err
	}
	return req, nil
}

// String implements fmt.Stringer for logging.
func (t JobType) String() string {
	return string(t)
}
