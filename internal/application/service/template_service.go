package service

import (
	"context"
	"fmt"

	"github.com/garyjia/prodflow/internal/application/port"
	"github.com/garyjia/prodflow/internal/billing/formula"
	"github.com/garyjia/prodflow/internal/domain/entity"
)

// TemplateService manages run templates
type TemplateService interface {
	SaveTemplate(ctx context.Context, tmpl *entity.RunTemplate) error
	GetTemplate(ctx context.Context, id string) (*entity.RunTemplate, error)
	ListTemplates(ctx context.Context, processID string) ([]*entity.RunTemplate, error)
}

type templateServiceImpl struct {
	templates port.RunTemplateRepository
	logger    port.Logger
}

// NewTemplateService creates a new TemplateService
func NewTemplateService(templates port.RunTemplateRepository, logger port.Logger) TemplateService {
	return &templateServiceImpl{
		templates: templates,
		logger:    logger,
	}
}

// SaveTemplate validates the schema and formula, then creates or replaces the template
func (s *templateServiceImpl) SaveTemplate(ctx context.Context, tmpl *entity.RunTemplate) error {
	if err := tmpl.ValidateDefinition(); err != nil {
		return err
	}
	if tmpl.Formula != "" {
		if _, err := formula.Compile(tmpl.Formula); err != nil {
			return err
		}
	}
	if err := s.templates.Upsert(ctx, tmpl); err != nil {
		return fmt.Errorf("save template %s: %w", tmpl.ID, err)
	}

	s.logger.Info("Run template saved", "id", tmpl.ID, "process_id", tmpl.ProcessID, "fields", len(tmpl.Fields))
	return nil
}

// GetTemplate implements TemplateService
func (s *templateServiceImpl) GetTemplate(ctx context.Context, id string) (*entity.RunTemplate, error) {
	tmpl, err := s.templates.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if tmpl == nil {
		return nil, fmt.Errorf("%w: %s", port.ErrTemplateNotFound, id)
	}
	return tmpl, nil
}

// ListTemplates implements TemplateService
func (s *templateServiceImpl) ListTemplates(ctx context.Context, processID string) ([]*entity.RunTemplate, error) {
	return s.templates.List(ctx, processID)
}
