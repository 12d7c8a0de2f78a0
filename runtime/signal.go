package runtime

// SignalType discriminates the external events that re-enter a waiting
// instance.
type SignalType string

const (
	SignalResume        SignalType = "RESUME"
	SignalStopFailed    SignalType = "STOP_FAILED"
	SignalStopSuspended SignalType = "STOP_SUSPENDED"
	SignalReturn        SignalType = "RETURN"
)

// Signal is an external event that resumes, stops, or returns a value into a
// waiting process instance.
type Signal struct {
	Type    SignalType `json:"type"`
	Payload any        `json:"payload,omitempty"`
}

// Resume continues normal execution, optionally carrying a payload that
// becomes the waiting task's OUTPUT.
func Resume(payload any) Signal {
	return Signal{Type: SignalResume, Payload: payload}
}

// StopFailed fails the instance, carrying the failure payload.
func StopFailed(payload any) Signal {
	return Signal{Type: SignalStopFailed, Payload: payload}
}

// StopSuspended suspends the instance cooperatively.
func StopSuspended() Signal {
	return Signal{Type: SignalStopSuspended}
}

// Return completes the instance early with the given return value.
func Return(value any) Signal {
	return Signal{Type: SignalReturn, Payload: value}
}

// FlowStatus maps the signal onto the flow status it implies.
func (s Signal) FlowStatus() ProcessFlowStatus {
	switch s.Type {
	case SignalStopFailed:
		return FlowFailed
	case SignalStopSuspended:
		return FlowSuspended
	case SignalReturn:
		return FlowCompleted
	default:
		return FlowContinue
	}
}
