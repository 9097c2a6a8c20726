package workflow

import "errors"

var (
	// ErrInvalidTransition is returned when no edge leaves the current status
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrInvalidStatus is returned when a status does not belong to the workflow type
	ErrInvalidStatus = errors.New("invalid status")

	// ErrUnknownWorkflowType is returned when a workflow type id or code is not in the catalog
	ErrUnknownWorkflowType = errors.New("unknown workflow type")

	// ErrInvalidDefinition is returned when a workflow definition violates structural rules
	ErrInvalidDefinition = errors.New("invalid workflow definition")
)
