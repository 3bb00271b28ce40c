package domain

// allowedTransitions is the session state machine. completed and cancelled are terminal.
var allowedTransitions = map[SessionStatus][]SessionStatus{
	SessionUpcoming: {SessionLive, SessionCancelled},
	SessionLive:     {SessionCompleted, SessionCancelled},
}

// IsValid reports whether s is a known status.
func (s SessionStatus) IsValid() bool {
	switch s {
	case SessionUpcoming, SessionLive, SessionCompleted, SessionCancelled:
		return true
	}
	return false
}

// IsActive reports whether a session in this status is neither cancelled nor completed.
func (s SessionStatus) IsActive() bool {
	return s == SessionUpcoming || s == SessionLive
}

// IsTerminal reports whether no further transitions are possible.
func (s SessionStatus) IsTerminal() bool {
	return s == SessionCompleted || s == SessionCancelled
}

// CanTransitionTo reports whether moving from s to next is permitted.
func (s SessionStatus) CanTransitionTo(next SessionStatus) bool {
	for _, candidate := range allowedTransitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// SourcesFor returns the statuses a session may be in to move into target.
func SourcesFor(target SessionStatus) []SessionStatus {
	var sources []SessionStatus
	for _, from := range []SessionStatus{SessionUpcoming, SessionLive} {
		if from.CanTransitionTo(target) {
			sources = append(sources, from)
		}
	}
	return sources
}

// ActiveStatuses lists the statuses that still accept enrollments.
func ActiveStatuses() []SessionStatus {
	return []SessionStatus{SessionUpcoming, SessionLive}
}
