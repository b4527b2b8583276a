package injector

// State is a runtime lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateLoading
	StateMatching
	StatePatched
	StateObserving
	StateReapplying
	StateTornDown
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateMatching:
		return "matching"
	case StatePatched:
		return "patched"
	case StateObserving:
		return "observing"
	case StateReapplying:
		return "reapplying"
	case StateTornDown:
		return "torn_down"
	}
	return "unknown"
}
