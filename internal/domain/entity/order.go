package entity

import "time"

// AggregateType names an aggregate kind that owns workflow status and outbox events
type AggregateType string

const (
	AggregateOrder        AggregateType = "ORDER"
	AggregateOrderProcess AggregateType = "ORDER_PROCESS"
	AggregateProcessRun   AggregateType = "PROCESS_RUN"
)

// IsValid returns true if the aggregate type is known
func (a AggregateType) IsValid() bool {
	switch a {
	case AggregateOrder, AggregateOrderProcess, AggregateProcessRun:
		return true
	}
	return false
}

// Order is the root production aggregate
type Order struct {
	ID                      int64     `json:"id"`
	Code                    string    `json:"code"`
	CustomerName            string    `json:"customer_name"`
	WorkflowTypeID          int64     `json:"workflow_type_id"`
	StatusID                int64     `json:"status_id"`
	StatusCode              string    `json:"status_code"`
	TotalProcesses          int       `json:"total_processes"`
	CompletedProcesses      int       `json:"completed_processes"`
	LifecycleCompletionSent bool      `json:"lifecycle_completion_sent"`
	Version                 int64     `json:"version"`
	CreatedAt               time.Time `json:"created_at"`
	UpdatedAt               time.Time `json:"updated_at"`
}

// OrderProcess is one production process of an order.
// TotalRuns is len(TemplateIDs) * BatchCount and never changes after creation.
type OrderProcess struct {
	ID                         int64     `json:"id"`
	OrderID                    int64     `json:"order_id"`
	ProcessID                  string    `json:"process_id"`
	WorkflowTypeID             int64     `json:"workflow_type_id"`
	StatusID                   int64     `json:"status_id"`
	StatusCode                 string    `json:"status_code"`
	RunConfigWorkflowTypeID    int64     `json:"run_config_workflow_type_id"`
	RunLifecycleWorkflowTypeID int64     `json:"run_lifecycle_workflow_type_id"`
	BatchCount                 int       `json:"batch_count"`
	TemplateIDs                []string  `json:"template_ids"`
	TotalRuns                  int       `json:"total_runs"`
	ConfigCompletedRuns        int       `json:"config_completed_runs"`
	LifecycleCompletedRuns     int       `json:"lifecycle_completed_runs"`
	Version                    int64     `json:"version"`
	CreatedAt                  time.Time `json:"created_at"`
	UpdatedAt                  time.Time `json:"updated_at"`
}

// ProcessRun is a single physical run. It carries two independent statuses:
// configuration (data entry completeness) and lifecycle (production stage).
type ProcessRun struct {
	ID                      int64                 `json:"id"`
	OrderProcessID          int64                 `json:"order_process_id"`
	RunNumber               int                   `json:"run_number"`
	TemplateID              string                `json:"template_id"`
	DisplayName             string                `json:"display_name"`
	ConfigWorkflowTypeID    int64                 `json:"config_workflow_type_id"`
	ConfigStatusID          int64                 `json:"config_status_id"`
	ConfigStatusCode        string                `json:"config_status_code"`
	LifecycleWorkflowTypeID int64                 `json:"lifecycle_workflow_type_id"`
	LifecycleStatusID       int64                 `json:"lifecycle_status_id"`
	LifecycleStatusCode     string                `json:"lifecycle_status_code"`
	Fields                  map[string]FieldValue `json:"fields"`
	Version                 int64                 `json:"version"`
	CreatedAt               time.Time             `json:"created_at"`
	UpdatedAt               time.Time             `json:"updated_at"`
}
