package event

// Type identifies an outbox event type. The set is closed: every type is
// either active (has a handler) or deprecated (recognised and ignored).
type Type string

const (
	TypeOrderCreated                             Type = "ORDER_CREATED"
	TypeStatusChanged                            Type = "STATUS_CHANGED"
	TypeOrderProcessLifecycleTransitionRequested Type = "ORDER_PROCESS_LIFECYCLE_TRANSITION_REQUESTED"
	TypeOrderProcessConfigCompleted              Type = "ORDER_PROCESS_CONFIG_COMPLETED"
	TypeOrderLifecycleTransitionRequested        Type = "ORDER_LIFECYCLE_TRANSITION_REQUESTED"
	TypeOrderCompleted                           Type = "ORDER_COMPLETED"

	// Retired types. Older releases emitted them and long-lived outboxes may
	// still hold rows; they are acknowledged without side effects.
	TypeOrderProcessCreated Type = "ORDER_PROCESS_CREATED"
	TypeRunFieldsUpdated    Type = "RUN_FIELDS_UPDATED"
)

// Kind classifies an event type for the relay
type Kind int

const (
	KindUnknown Kind = iota
	KindActive
	KindDeprecated
)

func (k Kind) String() string {
	switch k {
	case KindActive:
		return "active"
	case KindDeprecated:
		return "deprecated"
	}
	return "unknown"
}

var kinds = map[Type]Kind{
	TypeOrderCreated:  KindActive,
	TypeStatusChanged: KindActive,
	TypeOrderProcessLifecycleTransitionRequested: KindActive,
	TypeOrderProcessConfigCompleted:              KindActive,
	TypeOrderLifecycleTransitionRequested:        KindActive,
	TypeOrderCompleted:                           KindActive,
	TypeOrderProcessCreated:                      KindDeprecated,
	TypeRunFieldsUpdated:                         KindDeprecated,
}

// String returns the string representation of the event type
func (t Type) String() string {
	return string(t)
}

// Kind returns how the relay must treat the type
func (t Type) Kind() Kind {
	return kinds[t]
}

// IsValid checks if the event type is an active type that may be enqueued
func (t Type) IsValid() bool {
	return t.Kind() == KindActive
}

// IsDeprecated reports whether the type is recognised but intentionally ignored
func (t Type) IsDeprecated() bool {
	return t.Kind() == KindDeprecated
}

// ActiveTypes lists every type that requires a handler
func ActiveTypes() []Type {
	return []Type{
		TypeOrderCreated,
		TypeStatusChanged,
		TypeOrderProcessLifecycleTransitionRequested,
		TypeOrderProcessConfigCompleted,
		TypeOrderLifecycleTransitionRequested,
		TypeOrderCompleted,
	}
}
