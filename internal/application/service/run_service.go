package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/garyjia/prodflow/internal/application/port"
	appwf "github.com/garyjia/prodflow/internal/application/workflow"
	"github.com/garyjia/prodflow/internal/domain/entity"
	"github.com/garyjia/prodflow/internal/domain/workflow"
)

// SubmitFieldsInput carries raw field values for one run. With Complete set
// every required field must be present and the run's configuration workflow
// is advanced to its terminal status.
type SubmitFieldsInput struct {
	Values   map[string]json.RawMessage `json:"values"`
	Complete bool                       `json:"complete"`
}

// RunService reads runs and records their field values
type RunService interface {
	GetRun(ctx context.Context, id int64) (*entity.ProcessRun, error)
	ListRuns(ctx context.Context, orderProcessID int64) ([]*entity.ProcessRun, error)
	ListOrderRuns(ctx context.Context, orderID int64) ([]*entity.ProcessRun, error)
	SubmitFields(ctx context.Context, runID int64, in SubmitFieldsInput) (*entity.ProcessRun, error)
}

type runServiceImpl struct {
	runs      port.ProcessRunRepository
	templates port.RunTemplateRepository
	engine    appwf.WorkflowEngine
	txManager port.TransactionManager
	logger    port.Logger
}

// NewRunService creates a new RunService
func NewRunService(
	runs port.ProcessRunRepository,
	templates port.RunTemplateRepository,
	engine appwf.WorkflowEngine,
	txManager port.TransactionManager,
	logger port.Logger,
) RunService {
	return &runServiceImpl{
		runs:      runs,
		templates: templates,
		engine:    engine,
		txManager: txManager,
		logger:    logger,
	}
}

// GetRun implements RunService
func (s *runServiceImpl) GetRun(ctx context.Context, id int64) (*entity.ProcessRun, error) {
	run, err := s.runs.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, fmt.Errorf("%w: process run %d", port.ErrUnknownAggregate, id)
	}
	return run, nil
}

// ListRuns implements RunService
func (s *runServiceImpl) ListRuns(ctx context.Context, orderProcessID int64) ([]*entity.ProcessRun, error) {
	return s.runs.ListByOrderProcess(ctx, orderProcessID)
}

// ListOrderRuns implements RunService
func (s *runServiceImpl) ListOrderRuns(ctx context.Context, orderID int64) ([]*entity.ProcessRun, error) {
	return s.runs.ListByOrder(ctx, orderID)
}

// SubmitFields validates values against the run template, merges them into
// the stored fields and optionally completes configuration
func (s *runServiceImpl) SubmitFields(ctx context.Context, runID int64, in SubmitFieldsInput) (*entity.ProcessRun, error) {
	var updated *entity.ProcessRun
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		run, err := s.GetRun(txCtx, runID)
		if err != nil {
			return err
		}
		tmpl, err := s.templates.GetByID(txCtx, run.TemplateID)
		if err != nil {
			return err
		}
		if tmpl == nil {
			return fmt.Errorf("%w: %s", port.ErrTemplateNotFound, run.TemplateID)
		}

		values, err := tmpl.ParseValues(in.Values)
		if err != nil {
			return err
		}
		merged := make(map[string]entity.FieldValue, len(run.Fields)+len(values))
		for k, v := range run.Fields {
			merged[k] = v
		}
		for k, v := range values {
			merged[k] = v
		}

		if in.Complete {
			if err := tmpl.CheckRequired(merged); err != nil {
				return err
			}
		}

		if err := s.runs.UpdateFields(txCtx, run.ID, run.Version, merged); err != nil {
			return err
		}

		if in.Complete {
			if _, err := s.engine.AdvanceToTerminal(txCtx, entity.AggregateProcessRun, run.ID, run.ConfigWorkflowTypeID, workflow.TriggerManual); err != nil {
				return err
			}
		}

		updated, err = s.GetRun(txCtx, run.ID)
		return err
	})
	if err != nil {
		s.logger.Error("Failed to submit run fields", "error", err, "run_id", runID)
		return nil, err
	}

	s.logger.Info("Run fields submitted", "run_id", runID, "fields", len(in.Values), "complete", in.Complete)
	return updated, nil
}
