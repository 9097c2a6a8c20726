// Package billing computes and stores versioned billing snapshots.
package billing

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/garyjia/prodflow/internal/application/port"
	"github.com/garyjia/prodflow/internal/billing/export"
	"github.com/garyjia/prodflow/internal/domain/entity"
)

const (
	// TotalScale is the number of decimal places of a snapshot total
	TotalScale = 2

	// DefaultCurrency is used when no currency is configured
	DefaultCurrency = "INR"
)

// RunInputs maps run id to the numeric inputs of that run
type RunInputs map[int64]map[string]decimal.Decimal

// CreateContextInput describes a new billing context
type CreateContextInput struct {
	Type        entity.ContextType `json:"type"`
	Name        string             `json:"name"`
	Description string             `json:"description"`
	OrderIDs    []int64            `json:"order_ids"`
}

// Service manages billing contexts and their snapshots
type Service struct {
	contexts  port.BillingContextRepository
	snapshots port.BillingSnapshotRepository
	orders    port.OrderRepository
	runs      port.ProcessRunRepository
	templates port.RunTemplateRepository
	txManager port.TransactionManager
	logger    port.Logger
	exporter  *export.Exporter
	currency  string
	now       func() time.Time
}

// ServiceOption configures a Service
type ServiceOption func(*Service)

// WithCurrency sets the currency stamped on new snapshots
func WithCurrency(currency string) ServiceOption {
	return func(s *Service) {
		if currency != "" {
			s.currency = strings.ToUpper(currency)
		}
	}
}

// WithClock sets the time source
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates a new billing service
func NewService(
	contexts port.BillingContextRepository,
	snapshots port.BillingSnapshotRepository,
	orders port.OrderRepository,
	runs port.ProcessRunRepository,
	templates port.RunTemplateRepository,
	txManager port.TransactionManager,
	logger port.Logger,
	opts ...ServiceOption,
) *Service {
	s := &Service{
		contexts:  contexts,
		snapshots: snapshots,
		orders:    orders,
		runs:      runs,
		templates: templates,
		txManager: txManager,
		logger:    logger,
		exporter:  export.NewExporter(),
		currency:  DefaultCurrency,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateContext creates an ORDER context for exactly one order or a GROUP
// context for one or more orders
func (s *Service) CreateContext(ctx context.Context, in CreateContextInput) (*entity.BillingContext, error) {
	if !in.Type.IsValid() {
		return nil, fmt.Errorf("%w: unknown type %q", port.ErrInvalidContext, in.Type)
	}
	orderIDs := dedupe(in.OrderIDs)
	switch {
	case in.Type == entity.ContextOrder && len(orderIDs) != 1:
		return nil, fmt.Errorf("%w: ORDER context needs exactly one order, got %d", port.ErrInvalidContext, len(orderIDs))
	case in.Type == entity.ContextGroup && len(orderIDs) == 0:
		return nil, fmt.Errorf("%w: GROUP context needs at least one order", port.ErrInvalidContext)
	}

	name := strings.TrimSpace(in.Name)
	bc := &entity.BillingContext{
		Type:        in.Type,
		Name:        name,
		Description: in.Description,
		OrderIDs:    orderIDs,
		CreatedAt:   s.now().UTC(),
	}

	err := s.txManager.WithTransaction(ctx, func(ctx context.Context) error {
		for _, id := range orderIDs {
			order, err := s.orders.GetByID(ctx, id)
			if err != nil {
				return err
			}
			if order == nil {
				return fmt.Errorf("%w: order %d", port.ErrUnknownAggregate, id)
			}
			if bc.Name == "" && in.Type == entity.ContextOrder {
				bc.Name = order.Code
			}
		}
		if bc.Name == "" {
			return fmt.Errorf("%w: name is required", port.ErrInvalidContext)
		}
		return s.contexts.Create(ctx, bc)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Billing context created", "context_id", bc.ID, "type", bc.Type, "orders", len(bc.OrderIDs))
	return bc, nil
}

// EnsureOrderContext returns the ORDER context of orderID, creating it if needed
func (s *Service) EnsureOrderContext(ctx context.Context, orderID int64) (*entity.BillingContext, error) {
	bc, err := s.contexts.GetByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if bc != nil {
		return bc, nil
	}
	return s.CreateContext(ctx, CreateContextInput{Type: entity.ContextOrder, OrderIDs: []int64{orderID}})
}

// GetContext returns a billing context or ErrContextNotFound
func (s *Service) GetContext(ctx context.Context, contextID int64) (*entity.BillingContext, error) {
	bc, err := s.contexts.GetByID(ctx, contextID)
	if err != nil {
		return nil, err
	}
	if bc == nil {
		return nil, fmt.Errorf("%w: %d", port.ErrContextNotFound, contextID)
	}
	return bc, nil
}

// CreateDraft computes and appends a DRAFT snapshot.
//
// For an ORDER context, inputs names the runs to price; a nil or empty map
// prices every run of the order from its stored numeric fields. Values in
// inputs override stored fields of the same key. A GROUP context takes no
// inputs and totals the latest snapshot of each member order.
func (s *Service) CreateDraft(ctx context.Context, contextID int64, inputs RunInputs) (*entity.BillingSnapshot, error) {
	return s.create(ctx, contextID, entity.IntentDraft, func(ctx context.Context, bc *entity.BillingContext, _ *entity.BillingSnapshot) (*calculation, error) {
		if bc.Type == entity.ContextGroup {
			if len(inputs) > 0 {
				return nil, fmt.Errorf("%w: GROUP context %d does not take run inputs", port.ErrInvalidContext, bc.ID)
			}
			return s.computeGroup(ctx, bc)
		}
		return s.computeOrder(ctx, bc, inputs, true)
	})
}

// Finalize appends a FINAL snapshot computed from the latest snapshot's run
// inputs. Finalizing again appends another FINAL version.
func (s *Service) Finalize(ctx context.Context, contextID int64) (*entity.BillingSnapshot, error) {
	return s.create(ctx, contextID, entity.IntentFinal, func(ctx context.Context, bc *entity.BillingContext, latest *entity.BillingSnapshot) (*calculation, error) {
		if latest == nil {
			return nil, fmt.Errorf("%w: context %d needs a draft before it can be finalized", port.ErrNoSnapshot, bc.ID)
		}
		if bc.Type == entity.ContextGroup {
			return s.computeGroup(ctx, bc)
		}
		return s.computeOrder(ctx, bc, RunInputs(latest.Inputs.Runs), false)
	})
}

// GetLatest returns the latest snapshot, or nil when the context has none
func (s *Service) GetLatest(ctx context.Context, contextID int64) (*entity.BillingSnapshot, error) {
	if _, err := s.GetContext(ctx, contextID); err != nil {
		return nil, err
	}
	return s.snapshots.GetLatest(ctx, contextID)
}

// History returns every snapshot of a context in version order
func (s *Service) History(ctx context.Context, contextID int64) ([]*entity.BillingSnapshot, error) {
	if _, err := s.GetContext(ctx, contextID); err != nil {
		return nil, err
	}
	return s.snapshots.ListByContext(ctx, contextID)
}

// Snapshot returns one version, or ErrNoSnapshot
func (s *Service) Snapshot(ctx context.Context, contextID int64, version int) (*entity.BillingSnapshot, error) {
	if _, err := s.GetContext(ctx, contextID); err != nil {
		return nil, err
	}
	snap, err := s.snapshots.GetByVersion(ctx, contextID, version)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, fmt.Errorf("%w: context %d version %d", port.ErrNoSnapshot, contextID, version)
	}
	return snap, nil
}

// Export renders one snapshot as xlsx; version 0 selects the latest.
// It returns the workbook and a suggested file name.
func (s *Service) Export(ctx context.Context, contextID int64, version int) ([]byte, string, error) {
	bc, err := s.GetContext(ctx, contextID)
	if err != nil {
		return nil, "", err
	}

	var snap *entity.BillingSnapshot
	if version == 0 {
		snap, err = s.snapshots.GetLatest(ctx, contextID)
		if err == nil && snap == nil {
			err = fmt.Errorf("%w: context %d", port.ErrNoSnapshot, contextID)
		}
	} else {
		snap, err = s.Snapshot(ctx, contextID, version)
	}
	if err != nil {
		return nil, "", err
	}

	data, err := s.exporter.Bytes(bc, snap)
	if err != nil {
		return nil, "", err
	}
	return data, export.FileName(bc, snap), nil
}

type calculation struct {
	inputs entity.SnapshotInputs
	lines  []entity.SnapshotLine
}

type computeFunc func(ctx context.Context, bc *entity.BillingContext, latest *entity.BillingSnapshot) (*calculation, error)

// create runs compute and appends the snapshot in one transaction: the prior
// latest is demoted only if it is still the version that was read
func (s *Service) create(ctx context.Context, contextID int64, intent entity.Intent, compute computeFunc) (*entity.BillingSnapshot, error) {
	var snap *entity.BillingSnapshot
	err := s.txManager.WithTransaction(ctx, func(ctx context.Context) error {
		bc, err := s.GetContext(ctx, contextID)
		if err != nil {
			return err
		}
		latest, err := s.snapshots.GetLatest(ctx, contextID)
		if err != nil {
			return err
		}

		calc, err := compute(ctx, bc, latest)
		if err != nil {
			return err
		}

		version := 1
		if latest != nil {
			version = latest.Version + 1
			cleared, err := s.snapshots.ClearLatest(ctx, contextID, latest.Version)
			if err != nil {
				return err
			}
			if !cleared {
				return fmt.Errorf("%w: context %d moved past version %d", port.ErrStaleSnapshotVersion, contextID, latest.Version)
			}
		}

		snap = &entity.BillingSnapshot{
			ContextID: contextID,
			Version:   version,
			Intent:    intent,
			Currency:  s.currency,
			Result:    total(calc.lines),
			Inputs:    calc.inputs,
			Lines:     calc.lines,
			IsLatest:  true,
			CreatedAt: s.now().UTC(),
		}
		return s.snapshots.Insert(ctx, snap)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Billing snapshot created",
		"context_id", snap.ContextID,
		"version", snap.Version,
		"intent", snap.Intent,
		"result", snap.Result.StringFixed(TotalScale),
		"currency", snap.Currency,
	)
	return snap, nil
}

// computeOrder prices runs of the context's order. With all set, stored
// numeric fields are the base inputs and an empty inputs map prices every
// run; otherwise inputs are used exactly as given.
func (s *Service) computeOrder(ctx context.Context, bc *entity.BillingContext, inputs RunInputs, all bool) (*calculation, error) {
	orderID := bc.OrderIDs[0]
	runs, err := s.runs.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	byID := make(map[int64]*entity.ProcessRun, len(runs))
	for _, run := range runs {
		byID[run.ID] = run
	}
	for runID := range inputs {
		if _, ok := byID[runID]; !ok {
			return nil, fmt.Errorf("%w: run %d does not belong to order %d", port.ErrInvalidContext, runID, orderID)
		}
	}

	pricer := newPricer(s.templates)
	calc := &calculation{inputs: entity.SnapshotInputs{Runs: make(map[int64]map[string]decimal.Decimal)}}
	for _, run := range runs {
		override, named := inputs[run.ID]
		if !named && !(all && len(inputs) == 0) {
			continue
		}

		values := make(map[string]decimal.Decimal)
		if all {
			values = entity.NumericInputs(run.Fields)
		}
		for k, v := range override {
			values[k] = v
		}

		line, err := pricer.price(ctx, orderID, run, values)
		if err != nil {
			return nil, err
		}
		if line == nil {
			continue
		}
		calc.inputs.Runs[run.ID] = values
		calc.lines = append(calc.lines, *line)
	}
	return calc, nil
}

// computeGroup reads each member order's latest snapshot at calculation time
func (s *Service) computeGroup(ctx context.Context, bc *entity.BillingContext) (*calculation, error) {
	calc := &calculation{}
	for _, orderID := range bc.OrderIDs {
		member, err := s.contexts.GetByOrderID(ctx, orderID)
		if err != nil {
			return nil, err
		}
		if member == nil {
			return nil, fmt.Errorf("%w: order %d has no billing context", port.ErrNoSnapshot, orderID)
		}
		latest, err := s.snapshots.GetLatest(ctx, member.ID)
		if err != nil {
			return nil, err
		}
		if latest == nil {
			return nil, fmt.Errorf("%w: member context %d of order %d", port.ErrNoSnapshot, member.ID, orderID)
		}

		calc.inputs.Members = append(calc.inputs.Members, entity.MemberRef{
			OrderID:    orderID,
			ContextID:  member.ID,
			SnapshotID: latest.ID,
			Version:    latest.Version,
			Result:     latest.Result,
		})
		calc.lines = append(calc.lines, entity.SnapshotLine{
			OrderID: orderID,
			Label:   fmt.Sprintf("%s v%d", member.Name, latest.Version),
			Amount:  latest.Result,
		})
	}
	return calc, nil
}

func total(lines []entity.SnapshotLine) decimal.Decimal {
	sum := decimal.Zero
	for _, l := range lines {
		sum = sum.Add(l.Amount)
	}
	return sum.Round(TotalScale)
}

func dedupe(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
