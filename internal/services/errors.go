package services

import "errors"

var (
	// ErrRunInProgress is returned when a run for the same country is active.
	ErrRunInProgress = errors.New("pipeline run already in progress")
	// ErrRunsDisabled is returned when the service has no pipeline.
	ErrRunsDisabled = errors.New("pipeline runs are not enabled")
)
