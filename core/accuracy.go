package core

// Accuracy selects how aggressively the pipeline trades performance
// for guest-host memory coherence.
type Accuracy int

const (
	// AccuracyNormal uses the fast paths: unsafe command-list reads and
	// opportunistic cache recycling.
	AccuracyNormal Accuracy = iota

	// AccuracyHigh flushes on topology-mismatched surface recycling.
	AccuracyHigh

	// AccuracyExtreme always flushes on recycle and reads command lists
	// through the coherent path.
	AccuracyExtreme
)

// String returns the accuracy level name.
func (a Accuracy) String() string {
	switch a {
	case AccuracyNormal:
		return "Normal"
	case AccuracyHigh:
		return "High"
	case AccuracyExtreme:
		return "Extreme"
	default:
		return "Unknown"
	}
}
