package port

import (
	"context"
	"time"

	"github.com/garyjia/prodflow/internal/domain/entity"
	"github.com/garyjia/prodflow/internal/domain/event"
	"github.com/garyjia/prodflow/internal/domain/workflow"
)

// Every repository reads the ambient transaction from ctx when one is open.
// Single-row reads return (nil, nil) when the row does not exist.

// WorkflowDefinitionRepository persists the workflow catalog so aggregate
// status columns can reference it
type WorkflowDefinitionRepository interface {
	Sync(ctx context.Context, defs []*workflow.Definition) error
	Load(ctx context.Context) ([]*workflow.Definition, error)
}

// OrderRepository defines persistence operations for Order
type OrderRepository interface {
	Create(ctx context.Context, order *entity.Order) error
	GetByID(ctx context.Context, id int64) (*entity.Order, error)
	GetByCode(ctx context.Context, code string) (*entity.Order, error)
	List(ctx context.Context, limit, offset int) ([]*entity.Order, error)

	// UpdateStatus moves the order to statusID if its version still equals
	// expectedVersion; otherwise ErrStaleAggregate
	UpdateStatus(ctx context.Context, id, expectedVersion, statusID int64) error

	// IncrementCompletedProcesses atomically increments and returns the new count and the total
	IncrementCompletedProcesses(ctx context.Context, id int64) (completed, total int, err error)

	// MarkLifecycleCompletionSent flips the flag false->true; reports whether this call flipped it
	MarkLifecycleCompletionSent(ctx context.Context, id int64) (bool, error)
}

// OrderProcessRepository defines persistence operations for OrderProcess
type OrderProcessRepository interface {
	Create(ctx context.Context, process *entity.OrderProcess) error
	GetByID(ctx context.Context, id int64) (*entity.OrderProcess, error)
	ListByOrder(ctx context.Context, orderID int64) ([]*entity.OrderProcess, error)
	UpdateStatus(ctx context.Context, id, expectedVersion, statusID int64) error
	IncrementConfigCompleted(ctx context.Context, id int64) (completed, total int, err error)
	IncrementLifecycleCompleted(ctx context.Context, id int64) (completed, total int, err error)
}

// ProcessRunRepository defines persistence operations for ProcessRun
type ProcessRunRepository interface {
	CreateBatch(ctx context.Context, runs []*entity.ProcessRun) error
	GetByID(ctx context.Context, id int64) (*entity.ProcessRun, error)
	ListByOrderProcess(ctx context.Context, orderProcessID int64) ([]*entity.ProcessRun, error)
	ListByOrder(ctx context.Context, orderID int64) ([]*entity.ProcessRun, error)
	CountByOrderProcess(ctx context.Context, orderProcessID int64) (int, error)
	UpdateConfigStatus(ctx context.Context, id, expectedVersion, statusID int64) error
	UpdateLifecycleStatus(ctx context.Context, id, expectedVersion, statusID int64) error
	UpdateFields(ctx context.Context, id, expectedVersion int64, fields map[string]entity.FieldValue) error
}

// RunTemplateRepository defines persistence operations for RunTemplate
type RunTemplateRepository interface {
	Upsert(ctx context.Context, tmpl *entity.RunTemplate) error
	GetByID(ctx context.Context, id string) (*entity.RunTemplate, error)
	List(ctx context.Context, processID string) ([]*entity.RunTemplate, error)
}

// OutboxStats summarises the outbox backlog
type OutboxStats struct {
	Pending   int `json:"pending"`
	Parked    int `json:"parked"`
	Processed int `json:"processed"`
}

// OutboxRepository defines persistence operations for outbox events
type OutboxRepository interface {
	Insert(ctx context.Context, evt *event.Event) error
	GetByID(ctx context.Context, id int64) (*event.Event, error)

	// ListPending returns due, unparked, unprocessed events in id order, at most
	// one per aggregate: the oldest unprocessed event of that aggregate
	ListPending(ctx context.Context, now time.Time, limit int) ([]*event.Event, error)

	// MarkProcessed flips processed for an unprocessed event; reports whether this call flipped it
	MarkProcessed(ctx context.Context, id int64) (bool, error)

	RecordFailure(ctx context.Context, id int64, attempts int, lastErr string, nextAttemptAt time.Time, park bool) error
	ListParked(ctx context.Context, limit int) ([]*event.Event, error)
	Requeue(ctx context.Context, id int64) (bool, error)
	ListByAggregate(ctx context.Context, aggregateType entity.AggregateType, aggregateID int64) ([]*event.Event, error)
	Stats(ctx context.Context) (*OutboxStats, error)
}

// BillingContextRepository defines persistence operations for BillingContext
type BillingContextRepository interface {
	Create(ctx context.Context, bc *entity.BillingContext) error
	GetByID(ctx context.Context, id int64) (*entity.BillingContext, error)
	GetByOrderID(ctx context.Context, orderID int64) (*entity.BillingContext, error)
	List(ctx context.Context, limit, offset int) ([]*entity.BillingContext, error)
}

// BillingSnapshotRepository defines persistence operations for BillingSnapshot
type BillingSnapshotRepository interface {
	// Insert appends a snapshot; a version or latest-flag collision is ErrStaleSnapshotVersion
	Insert(ctx context.Context, snap *entity.BillingSnapshot) error

	// ClearLatest demotes the latest snapshot if it still has expectedVersion
	ClearLatest(ctx context.Context, contextID int64, expectedVersion int) (bool, error)

	GetLatest(ctx context.Context, contextID int64) (*entity.BillingSnapshot, error)
	GetByVersion(ctx context.Context, contextID int64, version int) (*entity.BillingSnapshot, error)
	ListByContext(ctx context.Context, contextID int64) ([]*entity.BillingSnapshot, error)
}

// SequenceStore issues fiscal sequence numbers with an atomic upsert-increment
type SequenceStore interface {
	// Increment returns the value issued to this caller; it is never issued again
	Increment(ctx context.Context, prefix, fiscalYear string) (int64, error)
	Current(ctx context.Context, prefix, fiscalYear string) (*entity.FiscalSequence, error)
}

// TransactionManager handles database transactions
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
