package export

// State is the lifecycle of one export run.
type State int

const (
	// StateIdle means no run has started yet.
	StateIdle State = iota

	// StateRunning means a run is in progress.
	StateRunning

	// StateCompleted means the run exported every planned layer (skipped
	// layers under the skip policies still count as handled).
	StateCompleted

	// StateCancelled means the run stopped on cancellation. Files written
	// before the stop remain on disk.
	StateCancelled

	// StateFailed means the run aborted on a layer failure.
	StateFailed
)

// String returns the state name for logs and diagnostics.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}
