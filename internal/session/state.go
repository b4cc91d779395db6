package session

// State is the closed set of session states. Transitions are handled
// exhaustively in Run; there is no string-keyed dispatch.
type State int

const (
	StateInit State = iota
	StateNavigated
	StateFormFilled
	StateSubmitted
	StateResultsReady
	StateExtracting
	StatePaginating
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateNavigated:
		return "NAVIGATED"
	case StateFormFilled:
		return "FORM_FILLED"
	case StateSubmitted:
		return "SUBMITTED"
	case StateResultsReady:
		return "RESULTS_READY"
	case StateExtracting:
		return "EXTRACTING"
	case StatePaginating:
		return "PAGINATING"
	case StateDone:
		return "DONE"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}
