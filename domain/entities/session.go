package entities

// SessionState represents the lifecycle state of a live voice session
type SessionState string

const (
	SessionStateIdle       SessionState = "idle"
	SessionStateConnecting SessionState = "connecting"
	SessionStateConnected  SessionState = "connected"
	SessionStateSpeaking   SessionState = "speaking"
	SessionStateClosed     SessionState = "closed"
	SessionStateErrored    SessionState = "errored"
)

var sessionTransitions = map[SessionState][]SessionState{
	SessionStateIdle:       {SessionStateConnecting},
	SessionStateConnecting: {SessionStateConnected, SessionStateClosed, SessionStateErrored, SessionStateIdle},
	SessionStateConnected:  {SessionStateSpeaking, SessionStateClosed, SessionStateErrored, SessionStateIdle},
	SessionStateSpeaking:   {SessionStateConnected, SessionStateClosed, SessionStateErrored, SessionStateIdle},
	SessionStateClosed:     {SessionStateConnecting, SessionStateIdle},
	SessionStateErrored:    {SessionStateConnecting, SessionStateIdle},
}

// CanTransition reports whether moving from s to next is allowed.
// Staying in the same state is always allowed.
func (s SessionState) CanTransition(next SessionState) bool {
	if s == next {
		return true
	}
	for _, allowed := range sessionTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsActive reports whether the state holds live resources
func (s SessionState) IsActive() bool {
	switch s {
	case SessionStateConnecting, SessionStateConnected, SessionStateSpeaking:
		return true
	}
	return false
}

// IsTerminal reports whether only an explicit connect can leave the state
func (s SessionState) IsTerminal() bool {
	return s == SessionStateClosed || s == SessionStateErrored
}

// SessionSnapshot is the UI-facing view of a live session
type SessionSnapshot struct {
	State    SessionState `json:"state"`
	Speaking bool         `json:"speaking"`
	Volume   float64      `json:"volume"`
	Error    string       `json:"error,omitempty"`
}

// Connected reports whether the remote channel is open
func (s SessionSnapshot) Connected() bool {
	return s.State == SessionStateConnected || s.State == SessionStateSpeaking
}
