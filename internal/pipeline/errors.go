package pipeline

import (
	"errors"
	"fmt"
)

// Stage identifies which pipeline stage an error occurred in.
type Stage string

// Pipeline stages, executed strictly in this order within one date.
const (
	StageFetch     Stage = "fetch"
	StageNormalize Stage = "normalize"
	StageSummarize Stage = "summarize"
)

// Pipeline errors.
var (
	// ErrRetriesExhausted marks a date that hit the retry ceiling and is
	// reported to the operator as permanently failed.
	ErrRetriesExhausted = errors.New("retry ceiling reached")

	// ErrUnknownSource is returned for a source name never registered.
	ErrUnknownSource = errors.New("unknown data source")

	// ErrInvalidRange is returned when since is after until.
	ErrInvalidRange = errors.New("invalid date range")
)

// StepError wraps a stage-local failure with the stage it occurred in,
// so callers always learn which stage failed without inspecting causes.
type StepError struct {
	Stage Stage
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s stage failed: %v", e.Stage, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// stepFailed wraps err as a StepError for the given stage.
func stepFailed(stage Stage, err error) error {
	return &StepError{Stage: stage, Err: err}
}
