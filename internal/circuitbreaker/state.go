package circuitbreaker

type State int

const (
	// StateClosed - calls pass through
	StateClosed State = iota

	// StateOpen - calls fail immediately with ErrCircuitOpen
	StateOpen

	// StateHalfOpen - one probe call decides whether to close again
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
