package queue

import "fmt"

// Status of one node. Transitions only move forward, except that a failed
// attempt may send a node back to Submitted for resubmission.
type Status int

const (
	NotSubmitted Status = iota
	Submitted
	Pending
	Running
	Done
	Fail
	Killed
)

var statusNames = [...]string{"NotSubmitted", "Submitted", "Pending", "Running", "Done", "Fail", "Killed"}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return fmt.Sprintf("Status(%d)", int(s))
	}
	return statusNames[s]
}

func (s Status) IsTerminal() bool {
	return s == Done || s == Fail || s == Killed
}

// InFlight reports whether a node in this status holds a concurrency slot.
func (s Status) InFlight() bool {
	return s == Submitted || s == Pending || s == Running
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(b []byte) error {
	for i, n := range statusNames {
		if n == string(b) {
			*s = Status(i)
			return nil
		}
	}
	return fmt.Errorf("unknown status %q", b)
}
