package domain

import (
	"encoding/json"
	"time"
)

// TaskGenerateFloorPlan is the task name the API enqueues and the worker executes.
const TaskGenerateFloorPlan = "generate_floorplan"

// JobStatus enumerates job lifecycle states. The string values are the
// client-facing names returned by the status endpoint.
type JobStatus string

const (
	JobStatusQueued   JobStatus = "queued"
	JobStatusRunning  JobStatus = "started"
	JobStatusFinished JobStatus = "finished"
	JobStatusFailed   JobStatus = "failed"
	JobStatusUnknown  JobStatus = "unknown"
)

// Terminal reports whether no further transition is allowed out of s.
func (s JobStatus) Terminal() bool {
	return s == JobStatusFinished || s == JobStatusFailed
}

// Valid reports whether s is one of the stored lifecycle states.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusQueued, JobStatusRunning, JobStatusFinished, JobStatusFailed:
		return true
	default:
		return false
	}
}

// Job is the canonical queue record. The queue owns it; readers get copies.
type Job struct {
	ID          string
	Task        string
	Status      JobStatus
	Payload     json.RawMessage
	Result      json.RawMessage
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// ModelConfig identifies a base model plus optional adapter weights. Two
// configurations are the same pipeline if and only if they compare equal.
type ModelConfig struct {
	ModelID     string `json:"sd_model_id"`
	AdapterPath string `json:"lora_path"`
}

// GenerationParams is the payload of a floor plan generation job.
type GenerationParams struct {
	Prompt         string      `json:"prompt"`
	NegativePrompt string      `json:"negative_prompt,omitempty"`
	Height         int         `json:"height"`
	Width          int         `json:"width"`
	Steps          int         `json:"num_inference_steps"`
	GuidanceScale  float64     `json:"guidance_scale"`
	Seed           *int64      `json:"seed"`
	Model          ModelConfig `json:"model_cfg"`
}

const (
	ResultStatusSuccess = "success"
	ResultStatusError   = "error"
)

// JobResult is stored on terminal jobs: a success payload carries the artifact
// path, an error payload carries the failure message.
type JobResult struct {
	Status string `json:"status"`
	Path   string `json:"path,omitempty"`
	JobID  string `json:"job_id,omitempty"`
	Error  string `json:"error,omitempty"`
}

// SuccessResult builds the payload recorded for a finished job.
func SuccessResult(jobID, path string) JobResult {
	return JobResult{Status: ResultStatusSuccess, Path: path, JobID: jobID}
}

// ErrorResult builds the payload recorded for a failed job.
func ErrorResult(message string) JobResult {
	return JobResult{Status: ResultStatusError, Error: message}
}
