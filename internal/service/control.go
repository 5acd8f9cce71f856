package service

// Pause marks a running session paused; the pipeline observes this at its
// next loop iteration.
func (s *Service) Pause(sessionID string) bool {
	c, ok := s.registry.Get(sessionID)
	if !ok {
		return false
	}
	c.Pause()
	return true
}

// Resume releases a paused session's pipeline.
func (s *Service) Resume(sessionID string) bool {
	c, ok := s.registry.Get(sessionID)
	if !ok {
		return false
	}
	c.Resume()
	return true
}

// Cancel sets a running session's canceled flag and wakes any paused
// pipeline so it can observe the cancellation.
func (s *Service) Cancel(sessionID string) bool {
	c, ok := s.registry.Get(sessionID)
	if !ok {
		return false
	}
	c.Cancel()
	return true
}
