package jobs

// Aggregate derives a job status from the statuses of its sub-tasks. It is
// pure and order independent:
//   - any PENDING or IN_PROGRESS sub-task keeps the job IN_PROGRESS
//   - all COMPLETED yields COMPLETED
//   - all FAILED, CANCELLED or TIMEOUT yields FAILED
//   - a mix of COMPLETED and failures yields PARTIAL_SUCCESS
//
// An empty set yields FAILED since there is nothing that could ever complete.
// Explicit cancellation and the job deadline are handled by Job, not here.
func Aggregate(statuses []SubTaskStatus) JobStatus {
	if len(statuses) == 0 {
		return JobStatusFailed
	}

	var completed, failed int
	for _, s := range statuses {
		switch {
		case !s.IsTerminal():
			return JobStatusInProgress
		case s == SubTaskStatusCompleted:
			completed++
		default:
			failed++
		}
	}

	switch {
	case failed == 0:
		return JobStatusCompleted
	case completed == 0:
		return JobStatusFailed
	default:
		return JobStatusPartialSuccess
	}
}
