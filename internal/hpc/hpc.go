package hpc

import "context"

// JobStatus is the outcome of a status query by handle. Unreachable
// means the remote queue could not be queried at all; it is a state,
// not an error, and never causes a lifecycle transition.
type JobStatus string

const (
	StatusSuccess     JobStatus = "success"
	StatusFailure     JobStatus = "failure"
	StatusRunning     JobStatus = "running"
	StatusNotFound    JobStatus = "not_found"
	StatusUnreachable JobStatus = "unreachable"
)

// LookupOutcome is the result of re-identifying a remote job by its
// submission label after a crash.
type LookupOutcome string

const (
	LookupFound       LookupOutcome = "found"
	LookupNotFound    LookupOutcome = "not_found"
	LookupUnreachable LookupOutcome = "unreachable"
)

// Client is the remote transfer and execution collaborator. Every
// call is bounded by a timeout enforced by the implementation and
// surfaces connectivity problems as unreachable-class outcomes, never
// as an indefinite hang.
type Client interface {
	// Submit copies the case directory to the remote host and enqueues
	// a labeled job on the given group, returning the job handle.
	Submit(ctx context.Context, sourcePath, group, label string) (string, error)

	// StatusByHandle queries the remote status of a job.
	StatusByHandle(ctx context.Context, handle string) JobStatus

	// StatusByLabel locates a remote job by its submission label and
	// returns its handle when found.
	StatusByLabel(ctx context.Context, label string) (LookupOutcome, string)

	// Kill terminates a remote job. It returns true only when the kill
	// is confirmed; an unreachable queue or a failed kill command both
	// report false.
	Kill(ctx context.Context, handle string) bool
}
