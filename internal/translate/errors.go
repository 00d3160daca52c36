package translate

import "fmt"

// StreamCorruptionError reports an upstream stream that degenerated into
// output the translator refuses to forward.
type StreamCorruptionError struct {
	OutputIndex int
	Reason      string
}

func (e *StreamCorruptionError) Error() string {
	return fmt.Sprintf("stream corrupted at output %d: %s", e.OutputIndex, e.Reason)
}
