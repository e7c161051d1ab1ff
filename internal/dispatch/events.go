package dispatch

// Event types published on the bus. Data is always a JobEvent.
const (
	EventJobStarted     = "job.started"
	EventJobReplaced    = "job.replaced"
	EventJobStopped     = "job.stopped"
	EventJobFailed      = "job.failed"
	EventJobExhausted   = "job.exhausted"
	EventDelivered      = "quiz.delivered"
	EventDeliveryFailed = "quiz.delivery_failed"
)

type JobEvent struct {
	JobID       string
	Destination Destination
	Rule        string
	QuestionID  string
	MessageID   int
	Err         string
}
