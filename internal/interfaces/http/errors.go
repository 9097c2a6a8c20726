package http

import (
	"errors"
	"net/http"

	"github.com/garyjia/prodflow/internal/application/outbox"
	"github.com/garyjia/prodflow/internal/application/port"
	"github.com/garyjia/prodflow/internal/application/sequence"
	"github.com/garyjia/prodflow/internal/application/service"
	appwf "github.com/garyjia/prodflow/internal/application/workflow"
	"github.com/garyjia/prodflow/internal/billing/formula"
	"github.com/garyjia/prodflow/internal/domain/entity"
	"github.com/garyjia/prodflow/internal/domain/workflow"
)

// errBadRequest marks malformed request input
var errBadRequest = errors.New("bad request")

// statusFor maps application errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest

	case errors.Is(err, port.ErrUnknownAggregate),
		errors.Is(err, port.ErrContextNotFound),
		errors.Is(err, port.ErrTemplateNotFound),
		errors.Is(err, workflow.ErrUnknownWorkflowType):
		return http.StatusNotFound

	case errors.Is(err, port.ErrStaleAggregate),
		errors.Is(err, port.ErrStaleSnapshotVersion),
		errors.Is(err, outbox.ErrEventNotParked):
		return http.StatusConflict

	case errors.Is(err, workflow.ErrInvalidTransition),
		errors.Is(err, formula.ErrFormula),
		errors.Is(err, entity.ErrFieldValidation),
		errors.Is(err, service.ErrInvalidOrder),
		errors.Is(err, port.ErrInvalidContext),
		errors.Is(err, port.ErrNoSnapshot),
		errors.Is(err, appwf.ErrWorkflowMismatch),
		errors.Is(err, sequence.ErrInvalidPrefix):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}
