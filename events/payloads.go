package events

import (
	"time"

	apperrors "github.com/datarill/datarill/errors"
	"github.com/datarill/datarill/validation"
)

// PipelineConfigEvent announces a pipeline configuration lifecycle change.
// It is published on the pipeline.config.{created,updated,deleted} topics.
type PipelineConfigEvent struct {
	PipelineID   string `json:"pipelineId" validate:"required"`
	PipelineName string `json:"pipelineName"`
}

func (e *PipelineConfigEvent) Validate() error {
	return validation.Validate(e)
}

// ExecutionResultEvent carries the outcome of one pipeline run. Error is
// set on pipeline.execution.error events and empty otherwise. Data may be
// any JSON value on success, including null: a transformation that returns
// null produced a result, not a failure.
type ExecutionResultEvent struct {
	PipelineID   string    `json:"pipelineId" validate:"required"`
	PipelineName string    `json:"pipelineName" validate:"required"`
	Data         any       `json:"data,omitempty"`
	Error        string    `json:"error,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// Validate enforces the required fields and rejects an event carrying both
// a result and an error. A nil Data with an empty Error is a legal null
// result, so data presence is never required.
func (e *ExecutionResultEvent) Validate() error {
	if err := validation.Validate(e); err != nil {
		return err
	}
	if e.Data != nil && e.Error != "" {
		return apperrors.Validation("execution result cannot carry both data and an error")
	}
	return nil
}

// IsError reports whether the event represents a failed execution.
func (e *ExecutionResultEvent) IsError() bool { return e.Error != "" }

// DatasourceEvent signals that a datasource produced fresh data and every
// pipeline attached to it should run.
type DatasourceEvent struct {
	DatasourceID string `json:"datasourceId" validate:"required"`
	Data         any    `json:"data" validate:"required"`
}

func (e *DatasourceEvent) Validate() error {
	return validation.Validate(e)
}
