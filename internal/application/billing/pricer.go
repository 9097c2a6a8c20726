package billing

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/garyjia/prodflow/internal/application/port"
	"github.com/garyjia/prodflow/internal/billing/formula"
	"github.com/garyjia/prodflow/internal/domain/entity"
)

// pricer evaluates run template formulas, compiling each template once
type pricer struct {
	templates port.RunTemplateRepository
	cache     map[string]*compiled
}

type compiled struct {
	template *entity.RunTemplate
	expr     *formula.Expression
	resolver *formula.Resolver
}

func newPricer(templates port.RunTemplateRepository) *pricer {
	return &pricer{templates: templates, cache: make(map[string]*compiled)}
}

// price returns the line for one run, or nil when its template has no formula
func (p *pricer) price(ctx context.Context, orderID int64, run *entity.ProcessRun, values map[string]decimal.Decimal) (*entity.SnapshotLine, error) {
	c, err := p.compile(ctx, run.TemplateID)
	if err != nil {
		return nil, err
	}
	if c.expr == nil {
		return nil, nil
	}

	amount, err := c.resolver.Evaluate(c.expr, values)
	if err != nil {
		return nil, fmt.Errorf("run %d: %w", run.ID, err)
	}
	return &entity.SnapshotLine{
		RunID:      run.ID,
		OrderID:    orderID,
		Label:      run.DisplayName,
		TemplateID: c.template.ID,
		Formula:    c.expr.String(),
		Amount:     amount,
	}, nil
}

func (p *pricer) compile(ctx context.Context, templateID string) (*compiled, error) {
	if c, ok := p.cache[templateID]; ok {
		return c, nil
	}
	tmpl, err := p.templates.GetByID(ctx, templateID)
	if err != nil {
		return nil, err
	}
	if tmpl == nil {
		return nil, fmt.Errorf("%w: %s", port.ErrTemplateNotFound, templateID)
	}

	c := &compiled{template: tmpl, resolver: formula.NewResolver(tmpl.Aliases())}
	if tmpl.Formula != "" {
		c.expr, err = formula.Compile(tmpl.Formula)
		if err != nil {
			return nil, fmt.Errorf("template %s: %w", tmpl.ID, err)
		}
	}
	p.cache[templateID] = c
	return c, nil
}
