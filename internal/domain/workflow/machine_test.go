package workflow

import (
	"errors"
	"strings"
	"testing"
)

func buildOrderWorkflow(t *testing.T) *Definition {
	t.Helper()
	b := NewBuilder(1, "ORDER_STANDARD", ScopeOrder).
		Status(Status{ID: 101, Code: "PLACED", IsInitial: true}).
		Status(Status{ID: 102, Code: "IN_PRODUCTION"}).
		Status(Status{ID: 103, Code: "COMPLETED", IsTerminal: true})
	b.Configure("PLACED").Permit("IN_PRODUCTION")
	b.Configure("IN_PRODUCTION").Permit("COMPLETED")

	d, err := b.Build()
	if err != nil {
		t.Fatalf("Build() failed: %v", err)
	}
	return d
}

func TestScope_IsValid(t *testing.T) {
	tests := []struct {
		scope    Scope
		expected bool
	}{
		{ScopeOrder, true},
		{ScopeOrderProcess, true},
		{ScopeRunConfig, true},
		{ScopeRunLifecycle, true},
		{Scope("INVOICE"), false},
		{Scope(""), false},
	}

	for _, tt := range tests {
		t.Run(string(tt.scope), func(t *testing.T) {
			if got := tt.scope.IsValid(); got != tt.expected {
				t.Errorf("Scope.IsValid() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestTrigger_String(t *testing.T) {
	if got := TriggerAllRunsCompleted.String(); got != "ALL_RUNS_COMPLETED" {
		t.Errorf("Trigger.String() = %v, want %v", got, "ALL_RUNS_COMPLETED")
	}
	if Trigger("SUBMIT").IsValid() {
		t.Error("unknown trigger should not be valid")
	}
}

func TestDefinition_Next(t *testing.T) {
	d := buildOrderWorkflow(t)

	if got := d.InitialStatus().Code; got != "PLACED" {
		t.Errorf("InitialStatus() = %v, want PLACED", got)
	}

	next, err := d.Next(101)
	if err != nil {
		t.Fatalf("Next() failed: %v", err)
	}
	if next.Code != "IN_PRODUCTION" {
		t.Errorf("Next(PLACED) = %v, want IN_PRODUCTION", next.Code)
	}

	_, err = d.Next(103)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Next(COMPLETED) error = %v, want %v", err, ErrInvalidTransition)
	}

	_, err = d.Next(999)
	if !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("Next(999) error = %v, want %v", err, ErrInvalidStatus)
	}
}

func TestDefinition_StatusesKeepPosition(t *testing.T) {
	d := buildOrderWorkflow(t)

	statuses := d.Statuses()
	if len(statuses) != 3 {
		t.Fatalf("len(Statuses()) = %d, want 3", len(statuses))
	}
	for i, s := range statuses {
		if s.Position != i {
			t.Errorf("status %s position = %d, want %d", s.Code, s.Position, i)
		}
	}

	transitions := d.Transitions()
	if len(transitions) != 2 || transitions[0].FromStatusID != 101 {
		t.Errorf("Transitions() = %+v, want PLACED edge first", transitions)
	}
}

func TestBuilder_Validation(t *testing.T) {
	tests := []struct {
		name    string
		build   func() *Builder
		wantErr string
	}{
		{
			name: "no initial status",
			build: func() *Builder {
				return NewBuilder(1, "W", ScopeOrder).
					Status(Status{ID: 1, Code: "A"}).
					Status(Status{ID: 2, Code: "B", IsTerminal: true})
			},
			wantErr: "exactly one initial",
		},
		{
			name: "two initial statuses",
			build: func() *Builder {
				return NewBuilder(1, "W", ScopeOrder).
					Status(Status{ID: 1, Code: "A", IsInitial: true}).
					Status(Status{ID: 2, Code: "B", IsInitial: true})
			},
			wantErr: "found 2",
		},
		{
			name: "edge out of terminal",
			build: func() *Builder {
				b := NewBuilder(1, "W", ScopeOrder).
					Status(Status{ID: 1, Code: "A", IsInitial: true}).
					Status(Status{ID: 2, Code: "B", IsTerminal: true})
				b.Configure("B").Permit("A")
				return b
			},
			wantErr: "terminal status B",
		},
		{
			name: "branching edges",
			build: func() *Builder {
				b := NewBuilder(1, "W", ScopeOrder).
					Status(Status{ID: 1, Code: "A", IsInitial: true}).
					Status(Status{ID: 2, Code: "B"}).
					Status(Status{ID: 3, Code: "C", IsTerminal: true})
				b.Configure("A").Permit("B").Permit("C")
				return b
			},
			wantErr: "already transitions",
		},
		{
			name: "unknown target",
			build: func() *Builder {
				b := NewBuilder(1, "W", ScopeOrder).
					Status(Status{ID: 1, Code: "A", IsInitial: true})
				b.Configure("A").Permit("Z")
				return b
			},
			wantErr: "unknown status Z",
		},
		{
			name: "invalid scope",
			build: func() *Builder {
				return NewBuilder(1, "W", Scope("X")).
					Status(Status{ID: 1, Code: "A", IsInitial: true})
			},
			wantErr: "invalid scope",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.build().Build()
			if !errors.Is(err, ErrInvalidDefinition) {
				t.Fatalf("Build() error = %v, want %v", err, ErrInvalidDefinition)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Build() error = %q, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}
