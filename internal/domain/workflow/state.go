package workflow

// Scope names the aggregate kind a workflow type drives
type Scope string

const (
	ScopeOrder        Scope = "ORDER"
	ScopeOrderProcess Scope = "ORDER_PROCESS"
	ScopeRunConfig    Scope = "RUN_CONFIG"
	ScopeRunLifecycle Scope = "RUN_LIFECYCLE"
)

var validScopes = map[Scope]bool{
	ScopeOrder:        true,
	ScopeOrderProcess: true,
	ScopeRunConfig:    true,
	ScopeRunLifecycle: true,
}

// IsValid returns true if the scope is a known aggregate scope
func (s Scope) IsValid() bool {
	return validScopes[s]
}

// String returns the string representation of the scope
func (s Scope) String() string {
	return string(s)
}

// Status is one step of a workflow type
type Status struct {
	ID         int64
	Code       string
	Name       string
	Position   int
	IsInitial  bool
	IsTerminal bool
}

// String returns the status code
func (s Status) String() string {
	return s.Code
}

// Transition is a permitted edge between two statuses of the same workflow type
type Transition struct {
	FromStatusID int64
	ToStatusID   int64
}
