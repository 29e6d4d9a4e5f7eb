// Package scheduler runs configured jobs on independent cron schedules.
//
// Each job gets its own cancellable task goroutine. A task computes the next
// fire time from the clock, waits for it in short slices so cancellation is
// observed promptly, runs the job's action with a timeout, and repeats.
// Failures and panics in an action are logged and counted; they never end
// the task.
//
// Successive runs of one job are strictly sequential. The next fire time is
// computed after the action returns, so a run that overlaps its next slot
// skips it rather than catching up. A task stopped while its action is still
// running stays registered until it returns, and a restarted task for the
// same job waits for it.
package scheduler
