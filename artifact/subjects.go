package artifact

// Stream names.
const (
	// TaskStream carries stage tasks consumed by the worker pools.
	TaskStream = "SIEVE_TASKS"
	// EventStream carries lifecycle events consumed by the orchestrator.
	EventStream = "SIEVE_EVENTS"
)

// Subjects. Tasks are stage-scoped so normalize and evaluate pools can be
// sized independently; events all route to the orchestrator.
const (
	SubjectTaskNormalize = "sieve.task.normalize"
	SubjectTaskEvaluate  = "sieve.task.evaluate"

	SubjectArtifactCreated   = "sieve.event.artifact.created"
	SubjectJobResult         = "sieve.event.job.result"
	SubjectJobCancel         = "sieve.event.job.cancel"
	SubjectEvaluateRequested = "sieve.event.evaluate.requested"
)

// TaskSubjects returns the subject filter for the task stream.
func TaskSubjects() []string {
	return []string{"sieve.task.>"}
}

// EventSubjects returns the subject filter for the event stream.
func EventSubjects() []string {
	return []string{"sieve.event.>"}
}

// TaskSubjectFor maps a job type to its task subject. Returns "" for job
// types with no worker queue (ingest runs in the external collaborator).
func TaskSubjectFor(t JobType) string {
	switch t {
	case JobTypeNormalize:
		return SubjectTaskNormalize
	case JobTypeEvaluate:
		return SubjectTaskEvaluate
	}
	return ""
}
