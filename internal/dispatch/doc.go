// Package dispatch runs recurring quiz jobs.
//
// A Registry maps each destination to at most one active Job. Starting a job
// for a destination that already has one cancels the old job first; the old
// job is guaranteed not to begin another fire once Start returns.
//
// The Dispatcher runs one goroutine per job under a supervisor: compute the
// next fire time from the job's rule, wait for it (or for cancellation), pick
// a question, deliver it, repeat. Delivery errors are logged and the job keeps
// going. An unsatisfiable rule or an exhausted pool ends the job.
package dispatch
