package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrDuplicateJob      = errors.New("duplicate job id")
	ErrNoJobAvailable    = errors.New("no job available")
	ErrQueueUnavailable  = errors.New("queue unavailable")
	ErrPipelineLoad      = errors.New("pipeline load failed")
	ErrInference         = errors.New("inference failed")
	ErrVisionUnavailable = errors.New("vision service unavailable")
	ErrVisionParse       = errors.New("vision response unparsable")
	ErrArtifactPersist   = errors.New("artifact persist failed")
)
