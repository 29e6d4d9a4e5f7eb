package scheduler

import "sort"

// Snapshot returns the tasks that have not exited, sorted by name.
func (s *Service) Snapshot() []TaskInfo {
	s.mu.Lock()
	tasks := make([]*task, 0, len(s.tasks))
	for _, t := range s.tasks {
		tasks = append(tasks, t)
	}
	s.mu.Unlock()

	out := make([]TaskInfo, 0, len(tasks))
	for _, t := range tasks {
		if t.exited() {
			continue
		}
		t.mu.Lock()
		out = append(out, TaskInfo{
			Name:     t.job.Name,
			Type:     t.job.Type,
			Dispatch: t.job.Dispatch,
			Spec:     t.job.Cron,
			Next:     t.next,
			LastRun:  t.lastRun,
			LastErr:  t.lastErr,
			Runs:     t.runs,
			Draining: t.stopping.Load(),
		})
		t.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
