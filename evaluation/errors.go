package evaluation

import (
	"fmt"
	"strings"
)

// LoadAttempt records one deserialization strategy and why it failed
type LoadAttempt struct {
	Strategy string
	Err      error
}

// LoadError means every deserialization strategy for an artifact failed.
// It keeps the per-strategy errors in the order they were tried.
type LoadError struct {
	Path      string
	Framework Framework
	Attempts  []LoadAttempt
}

func (e *LoadError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "failed to load %s model from %s", e.Framework, e.Path)
	for _, a := range e.Attempts {
		fmt.Fprintf(&b, "; %s: %v", a.Strategy, a.Err)
	}
	return b.String()
}

// UnsupportedCombinationError means the task type has no evaluation path
// for the model's framework
type UnsupportedCombinationError struct {
	Task      TaskType
	Framework Framework
}

func (e *UnsupportedCombinationError) Error() string {
	return fmt.Sprintf("framework %s not supported for %s evaluation", e.Framework, e.Task)
}

// DataContractError means the dataset does not satisfy the structural
// contract of the requested task
type DataContractError struct {
	Column string
	Reason string
}

func (e *DataContractError) Error() string {
	if e.Column == "" {
		return fmt.Sprintf("dataset contract violation: %s", e.Reason)
	}
	return fmt.Sprintf("dataset contract violation on column %q: %s", e.Column, e.Reason)
}

// PartialAnalysisFailure records an optional analysis that degraded
// without aborting the evaluation
type PartialAnalysisFailure struct {
	Component string
	Cause     error
}

func (e *PartialAnalysisFailure) Error() string {
	return fmt.Sprintf("%s analysis failed: %v", e.Component, e.Cause)
}

func (e *PartialAnalysisFailure) Unwrap() error {
	return e.Cause
}
