package dispatch

import (
	"cmp"
	"slices"
	"sync"

	"quizbot/internal/schedule"
	logx "quizbot/pkg/logx"
)

// Registry owns the destination -> job mapping. At most one Active job exists
// per destination at any moment; Start and Stop are serialized.
type Registry struct {
	d *Dispatcher

	mu   sync.Mutex
	jobs map[Destination]*Job
}

func NewRegistry(d *Dispatcher) *Registry {
	return &Registry{d: d, jobs: map[Destination]*Job{}}
}

// Start installs a new job for dest, cancelling any job already there, and
// reports whether an Active job was replaced. The replaced job will not begin
// another fire after Start returns.
func (r *Registry) Start(dest Destination, rule schedule.Rule) bool {
	j := newJob(dest, rule, r.d.clock.Now())

	r.mu.Lock()
	old := r.jobs[dest]
	replaced := old != nil && old.cancel(nil)
	r.jobs[dest] = j
	r.mu.Unlock()

	if replaced {
		r.d.log.Info("job replaced", logx.String("dest", dest.String()), logx.String("job", old.id), logx.String("rule", rule.String()))
		r.d.publish(EventJobReplaced, old, JobEvent{})
	}
	r.d.log.Info("job started", logx.String("dest", dest.String()), logx.String("job", j.id), logx.String("rule", rule.String()))
	r.d.publish(EventJobStarted, j, JobEvent{})

	r.d.launch(j, func() { r.release(j) })
	return replaced
}

// Stop cancels and removes the Active job for dest. It reports whether one
// was there.
func (r *Registry) Stop(dest Destination) bool {
	r.mu.Lock()
	j := r.jobs[dest]
	stopped := false
	if j != nil {
		delete(r.jobs, dest)
		stopped = j.cancel(nil)
	}
	r.mu.Unlock()

	if !stopped {
		return false
	}
	r.d.log.Info("job stopped", logx.String("dest", dest.String()), logx.String("job", j.id))
	r.d.publish(EventJobStopped, j, JobEvent{})
	return true
}

// StopAll stops every job and returns how many were Active.
func (r *Registry) StopAll() int {
	r.mu.Lock()
	dests := make([]Destination, 0, len(r.jobs))
	for dest := range r.jobs {
		dests = append(dests, dest)
	}
	r.mu.Unlock()

	n := 0
	for _, dest := range dests {
		if r.Stop(dest) {
			n++
		}
	}
	return n
}

// Lookup returns the Active job for dest, if any.
func (r *Registry) Lookup(dest Destination) (JobInfo, bool) {
	r.mu.Lock()
	j := r.jobs[dest]
	r.mu.Unlock()
	if j == nil {
		return JobInfo{}, false
	}
	info := j.Info()
	if info.State != StateActive {
		return JobInfo{}, false
	}
	return info, true
}

// Snapshot lists Active jobs ordered by destination.
func (r *Registry) Snapshot() []JobInfo {
	r.mu.Lock()
	jobs := make([]*Job, 0, len(r.jobs))
	for _, j := range r.jobs {
		jobs = append(jobs, j)
	}
	r.mu.Unlock()

	out := make([]JobInfo, 0, len(jobs))
	for _, j := range jobs {
		if info := j.Info(); info.State == StateActive {
			out = append(out, info)
		}
	}
	slices.SortFunc(out, func(a, b JobInfo) int {
		if c := cmp.Compare(a.Destination.ChatID, b.Destination.ChatID); c != 0 {
			return c
		}
		return cmp.Compare(a.Destination.ThreadID, b.Destination.ThreadID)
	})
	return out
}

// release drops j once its loop has ended, unless a newer job took its slot.
func (r *Registry) release(j *Job) {
	r.mu.Lock()
	if r.jobs[j.dest] == j {
		delete(r.jobs, j.dest)
	}
	r.mu.Unlock()
}
