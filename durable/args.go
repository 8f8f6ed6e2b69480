// Package durable connects the engine to a "run this later" primitive. A job
// is handed over as a small typed record, a checkpoint holds it until it is
// due, and every resumption re-establishes the tenant before any tenant row
// is read.
package durable

import (
	"strings"

	json "github.com/goccy/go-json"

	pipeline "github.com/goliatone/go-pipeline"
)

// ResumeArgs is everything persisted across a suspension point.
type ResumeArgs struct {
	JobID    string `json:"job_id"`
	TenantID string `json:"tenant_id"`
}

// Key identifies the job across tenants.
func (a ResumeArgs) Key() string {
	return a.TenantID + "/" + a.JobID
}

func (a ResumeArgs) Validate() error {
	switch {
	case strings.TrimSpace(a.JobID) == "":
		return pipeline.NewResumeError("resume args: job id required", nil, nil)
	case strings.TrimSpace(a.TenantID) == "":
		return pipeline.NewResumeError("resume args: tenant id required", nil, map[string]any{"job_id": a.JobID})
	}
	return nil
}

// Encode returns the plain JSON form of the args.
func (a ResumeArgs) Encode() ([]byte, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(a)
}

// DecodeResumeArgs parses and validates persisted args.
func DecodeResumeArgs(raw []byte) (ResumeArgs, error) {
	var args ResumeArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return args, pipeline.NewResumeError("resume args: decode", err, nil)
	}
	return args, args.Validate()
}
