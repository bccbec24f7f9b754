package errors

type ExitCode int

const (
	GenericFailureExitCode ExitCode = 1

	// At least one ensemble member ended in Fail or Killed.
	PartialFailureExitCode ExitCode = 2

	// Run aborted by the user (SIGINT/SIGTERM); outstanding jobs were killed.
	InterruptedExitCode ExitCode = 3

	// Duplicate or missing job definition, or an unusable site configuration.
	ConfigErrorExitCode ExitCode = 78
)
