package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// ContextType distinguishes single-order from multi-order billing
type ContextType string

const (
	ContextOrder ContextType = "ORDER"
	ContextGroup ContextType = "GROUP"
)

// IsValid returns true if the context type is known
func (t ContextType) IsValid() bool {
	return t == ContextOrder || t == ContextGroup
}

// Intent marks a snapshot as a quote or a final bill
type Intent string

const (
	IntentDraft Intent = "DRAFT"
	IntentFinal Intent = "FINAL"
)

// BillingContext is a single order or a named group of orders billed together
type BillingContext struct {
	ID          int64       `json:"id"`
	Type        ContextType `json:"type"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	OrderIDs    []int64     `json:"order_ids"`
	CreatedAt   time.Time   `json:"created_at"`
}

// MemberRef records which member snapshot a group snapshot was computed from
type MemberRef struct {
	OrderID    int64           `json:"order_id"`
	ContextID  int64           `json:"context_id"`
	SnapshotID int64           `json:"snapshot_id"`
	Version    int             `json:"version"`
	Result     decimal.Decimal `json:"result"`
}

// SnapshotInputs is what a snapshot was computed from: per-run numeric inputs
// for ORDER contexts, member snapshot references for GROUP contexts.
type SnapshotInputs struct {
	Runs    map[int64]map[string]decimal.Decimal `json:"runs,omitempty"`
	Members []MemberRef                          `json:"members,omitempty"`
}

// SnapshotLine is one priced line of a snapshot
type SnapshotLine struct {
	RunID      int64           `json:"run_id,omitempty"`
	OrderID    int64           `json:"order_id,omitempty"`
	Label      string          `json:"label"`
	TemplateID string          `json:"template_id,omitempty"`
	Formula    string          `json:"formula,omitempty"`
	Amount     decimal.Decimal `json:"amount"`
}

// BillingSnapshot is an immutable calculation result; only IsLatest ever changes
type BillingSnapshot struct {
	ID        int64           `json:"id"`
	ContextID int64           `json:"context_id"`
	Version   int             `json:"version"`
	Intent    Intent          `json:"intent"`
	Currency  string          `json:"currency"`
	Result    decimal.Decimal `json:"result"`
	Inputs    SnapshotInputs  `json:"inputs"`
	Lines     []SnapshotLine  `json:"lines"`
	IsLatest  bool            `json:"is_latest"`
	CreatedAt time.Time       `json:"created_at"`
}

// FiscalSequence is the counter behind generated document codes
type FiscalSequence struct {
	Prefix     string `json:"prefix"`
	FiscalYear string `json:"fiscal_year"`
	NextValue  int64  `json:"next_value"`
}
