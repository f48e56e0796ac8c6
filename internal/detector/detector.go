package detector

// Detector is a strategy that locates the live processes of one worker.
// Implementations may scan the process table or consult a PID file.
// It must be safe for concurrent use.
type Detector interface {
	// Find returns the PIDs of every process the strategy currently matches.
	// An empty result with a nil error means no instance is running.
	Find() ([]int, error)
	// Describe returns a human-readable description of the detection method.
	Describe() string
}
