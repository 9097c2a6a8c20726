package event

import "github.com/garyjia/prodflow/internal/domain/workflow"

// OrderCreatedPayload asks for the runs of each listed order process to be created
type OrderCreatedPayload struct {
	OrderID         int64   `json:"order_id"`
	OrderCode       string  `json:"order_code"`
	OrderProcessIDs []int64 `json:"order_process_ids"`
}

// StatusChangedPayload is the audit record of one applied transition
type StatusChangedPayload struct {
	WorkflowTypeID int64            `json:"workflow_type_id"`
	From           string           `json:"from"`
	To             string           `json:"to"`
	Trigger        workflow.Trigger `json:"trigger"`
}

// TransitionRequestedPayload asks for the target aggregate to advance one edge.
// Count is the counter value that satisfied the completion condition.
type TransitionRequestedPayload struct {
	TargetID int64            `json:"target_id"`
	Reason   workflow.Trigger `json:"reason"`
	Count    int              `json:"count"`
	Total    int              `json:"total"`
}

// OrderCompletedPayload announces that an order reached its terminal status
type OrderCompletedPayload struct {
	OrderID   int64  `json:"order_id"`
	OrderCode string `json:"order_code"`
}
