package queue

import "time"

// Config of a JobQueue.
// MaxRunning - ceiling on nodes that are Submitted, Pending or Running.
//     Zero means no ceiling.
// MaxSubmit - submission attempts per node before it Fails.
// PollInterval - time between polling cycles.
// MaxLostPolls - consecutive Lost polls that count as a failed attempt.
// Workers - driver calls allowed to run at once.
// SubmitRate - submissions per second, zero for unlimited.
// StepTimeout - wall-clock limit of a running attempt for jobs that do not
//     set their own. Zero means none.
// DebugMode - if true the polling loop is not started. Instead the queue
//     must be advanced manually by calling step(), and public methods run
//     on the caller's goroutine. Intended for tests.
type Config struct {
	MaxRunning   int
	MaxSubmit    int
	PollInterval time.Duration
	MaxLostPolls int
	Workers      int
	SubmitRate   float64
	StepTimeout  time.Duration
	DebugMode    bool
}

const (
	DefaultMaxSubmit    = 2
	DefaultPollInterval = time.Second
	DefaultMaxLostPolls = 5
	DefaultWorkers      = 16
)

func (c Config) withDefaults() Config {
	if c.MaxSubmit <= 0 {
		c.MaxSubmit = DefaultMaxSubmit
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.MaxLostPolls <= 0 {
		c.MaxLostPolls = DefaultMaxLostPolls
	}
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.MaxRunning < 0 {
		c.MaxRunning = 0
	}
	return c
}
