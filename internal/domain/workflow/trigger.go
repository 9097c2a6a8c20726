package workflow

// Trigger identifies what caused a transition
type Trigger string

const (
	// TriggerManual is an operator-requested transition
	TriggerManual Trigger = "MANUAL"

	// TriggerAllRunsCompleted fires when every run of an order process finished its lifecycle
	TriggerAllRunsCompleted Trigger = "ALL_RUNS_COMPLETED"

	// TriggerAllProcessesCompleted fires when every process of an order finished its lifecycle
	TriggerAllProcessesCompleted Trigger = "ALL_PROCESSES_COMPLETED"

	// TriggerConfigComplete fires when every run of an order process finished configuration
	TriggerConfigComplete Trigger = "CONFIG_COMPLETE"
)

var validTriggers = map[Trigger]bool{
	TriggerManual:                true,
	TriggerAllRunsCompleted:      true,
	TriggerAllProcessesCompleted: true,
	TriggerConfigComplete:        true,
}

// String returns the string representation of the trigger
func (t Trigger) String() string {
	return string(t)
}

// IsValid returns true if the trigger is known
func (t Trigger) IsValid() bool {
	return validTriggers[t]
}
