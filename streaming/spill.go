package streaming

// SpillPolicy decides what a reader sees when a read crosses the in-memory
// ceiling. It is the seam for overflow storage; the engine itself only keeps
// bytes in memory. A nil return reports the capacity error unchanged.
type SpillPolicy interface {
	OnCapacityExceeded(err *CapacityError) error
}

// SpillPolicyFunc adapts a function to SpillPolicy.
type SpillPolicyFunc func(err *CapacityError) error

func (f SpillPolicyFunc) OnCapacityExceeded(err *CapacityError) error { return f(err) }

// FailPolicy fails the read with the capacity error. It is the default.
type FailPolicy struct{}

func (FailPolicy) OnCapacityExceeded(err *CapacityError) error { return err }
