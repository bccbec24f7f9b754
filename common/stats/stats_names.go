package stats

// Names of the instruments recorded by the queue and the drivers. Drivers
// record under a scope named after the driver (e.g. "lsf/submitLatency_ms").

const (
	/************************* Queue metrics **************************/
	/*
		number of nodes per status, updated once per polling cycle
	*/
	QueueNotSubmittedGauge = "notSubmittedGauge"
	QueueSubmittedGauge    = "submittedGauge"
	QueuePendingGauge      = "pendingGauge"
	QueueRunningGauge      = "runningGauge"
	QueueDoneGauge         = "doneGauge"
	QueueFailedGauge       = "failedGauge"
	QueueKilledGauge       = "killedGauge"

	/*
		number of driver calls waiting for or occupying a worker slot
	*/
	QueueInFlightCallsGauge = "inFlightCallsGauge"

	/*
		ensemble members added to the queue, and those that ended Done
	*/
	QueueMembersCounter     = "membersCounter"
	QueueMembersDoneCounter = "membersDoneCounter"

	/*
		every submission attempt handed to a driver, and those the driver rejected
	*/
	QueueSubmitCounter       = "submitCounter"
	QueueSubmitFailedCounter = "submitFailedCounter"

	/*
		failed attempts that were scheduled for another submission
	*/
	QueueRetryCounter = "retryCounter"

	/*
		steps that exited zero but left no target file behind
	*/
	QueueTargetMissingCounter = "targetMissingCounter"

	/*
		polls that came back Lost, and nodes failed after too many of them
	*/
	QueueLostPollCounter   = "lostPollCounter"
	QueueLostFailedCounter = "lostFailedCounter"

	/*
		steps killed for exceeding their wall-clock timeout
	*/
	QueueTimeoutCounter = "timeoutCounter"

	/*
		nodes killed by KillNode/KillAll
	*/
	QueueKillCounter = "killCounter"

	/*
		results that arrived for a node that was killed or resubmitted meanwhile
	*/
	QueueStaleResultCounter = "staleResultCounter"

	/*
		time spent in one polling cycle
	*/
	QueueCycleLatency_ms = "cycleLatency_ms"

	/************************* Driver metrics **************************/
	DriverSubmitLatency_ms = "submitLatency_ms"
	DriverPollLatency_ms   = "pollLatency_ms"
	DriverKillLatency_ms   = "killLatency_ms"

	/*
		number of handles issued but not yet released
	*/
	DriverOutstandingGauge = "outstandingGauge"

	/*
		backend commands (bsub, qstat, ssh sessions...) that failed or timed out
	*/
	DriverCommandErrorCounter = "commandErrorCounter"
)
