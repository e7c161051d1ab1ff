package dispatch

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"quizbot/internal/schedule"
	kit "quizbot/internal/transport"
)

// Destination is where a job delivers: a chat and optional forum thread.
type Destination = kit.ChatTarget

type State int

const (
	StateActive State = iota
	StateCancelled
)

func (s State) String() string {
	if s == StateActive {
		return "active"
	}
	return "cancelled"
}

// Job binds one destination to a rule. It is created Active and moves to
// Cancelled exactly once; Cancelled is terminal.
type Job struct {
	id      string
	dest    Destination
	rule    schedule.Rule
	created time.Time

	done     chan struct{} // closed on cancel
	finished chan struct{} // closed when the job loop has returned

	mu       sync.Mutex
	state    State
	termErr  error
	next     time.Time
	lastFire time.Time
	lastErr  error
	fires    uint64
	failures uint64
}

// JobInfo is a read-only snapshot of a job.
type JobInfo struct {
	ID          string
	Destination Destination
	Rule        string
	Timezone    string
	State       State
	Created     time.Time
	Next        time.Time
	LastFire    time.Time
	LastError   string
	Fires       uint64
	Failures    uint64
	Err         string // why the job ended, if it ended on its own
}

func newJob(dest Destination, rule schedule.Rule, now time.Time) *Job {
	return &Job{
		id:       uuid.NewString(),
		dest:     dest,
		rule:     rule,
		created:  now,
		done:     make(chan struct{}),
		finished: make(chan struct{}),
	}
}

func (j *Job) ID() string               { return j.id }
func (j *Job) Destination() Destination { return j.dest }

// cancel moves the job to Cancelled and records err as the reason (nil for an
// explicit Stop or replacement). It reports whether the job was Active.
func (j *Job) cancel(err error) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state == StateCancelled {
		return false
	}
	j.state = StateCancelled
	j.termErr = err
	j.next = time.Time{}
	close(j.done)
	return true
}

// beginFire reports whether the job may deliver now. Once cancel has returned,
// beginFire is false forever.
func (j *Job) beginFire(at time.Time) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state != StateActive {
		return false
	}
	j.lastFire = at
	j.next = time.Time{}
	return true
}

func (j *Job) endFire(err error) {
	j.mu.Lock()
	j.fires++
	if err != nil {
		j.failures++
	}
	j.lastErr = err
	j.mu.Unlock()
}

func (j *Job) setNext(t time.Time) {
	j.mu.Lock()
	if j.state == StateActive {
		j.next = t
	}
	j.mu.Unlock()
}

func (j *Job) Active() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state == StateActive
}

func (j *Job) Info() JobInfo {
	j.mu.Lock()
	defer j.mu.Unlock()
	info := JobInfo{
		ID:          j.id,
		Destination: j.dest,
		Rule:        j.rule.String(),
		Timezone:    j.rule.Timezone(),
		State:       j.state,
		Created:     j.created,
		Next:        j.next,
		LastFire:    j.lastFire,
		Fires:       j.fires,
		Failures:    j.failures,
	}
	if j.lastErr != nil {
		info.LastError = j.lastErr.Error()
	}
	if j.termErr != nil {
		info.Err = j.termErr.Error()
	}
	return info
}
