package config

type JobStatus string

const (
	JobStatusPending        JobStatus = "pending"
	JobStatusFetched        JobStatus = "fetched"
	JobStatusDone           JobStatus = "done"
	JobStatusFailedRetry    JobStatus = "failed-retryable"
	JobStatusFailedTerminal JobStatus = "failed-terminal"
)

var (
	// UnfinishedStatuses are the statuses a job can be claimed or reclaimed from.
	UnfinishedStatuses = []JobStatus{JobStatusPending, JobStatusFetched, JobStatusFailedRetry}
	// FinishedStatuses are terminal; only cleanup and manual reset touch them.
	FinishedStatuses = []JobStatus{JobStatusDone, JobStatusFailedTerminal}
)

// Finished reports whether s is a terminal status.
func (s JobStatus) Finished() bool {
	return s == JobStatusDone || s == JobStatusFailedTerminal
}

func (s JobStatus) String() string { return string(s) }
