package scheduler

// SetFinishedRetention overrides how many finished tasks s keeps inspectable.
func SetFinishedRetention(s *Scheduler, n int) {
	s.mu.Lock()
	s.keep = n
	s.mu.Unlock()
}
