package epidemic

// Listener observes or mutates a Model around each simulated day.
//
// StartCycle runs before the day's epidemic update and EndCycle after it.
// Listeners are invoked in registration order at both points. A listener
// keeps any cross-cycle state on itself; the model never resets it. A
// non-nil error aborts the cycle and is returned from Step.
type Listener interface {
	StartCycle(m *Model) error
	EndCycle(m *Model) error
}

// ListenerFuncs adapts plain functions to Listener. A nil field is a no-op.
type ListenerFuncs struct {
	Start func(m *Model) error
	End   func(m *Model) error
}

// StartCycle calls f.Start when set.
func (f ListenerFuncs) StartCycle(m *Model) error {
	if f.Start == nil {
		return nil
	}
	return f.Start(m)
}

// EndCycle calls f.End when set.
func (f ListenerFuncs) EndCycle(m *Model) error {
	if f.End == nil {
		return nil
	}
	return f.End(m)
}
