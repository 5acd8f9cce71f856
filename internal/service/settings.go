package service

import "github.com/meshdrop/transfer/internal/config"

// GetSettings returns the current clamped settings.
func (s *Service) GetSettings() config.Settings {
	s.settingsMu.RLock()
	defer s.settingsMu.RUnlock()
	return s.settings
}

// UpdateSettings applies a partial patch, clamps, persists, and propagates
// the discovery_enabled toggle to the running discovery loop.
func (s *Service) UpdateSettings(patch config.Patch) (config.Settings, error) {
	s.settingsMu.Lock()
	updated := s.settings.Apply(patch)
	s.settingsMu.Unlock()

	if err := s.store.SaveSettings(updated); err != nil {
		return config.Settings{}, err
	}

	s.settingsMu.Lock()
	s.settings = updated
	s.settingsMu.Unlock()

	if s.discovery != nil {
		s.discovery.SetEnabled(updated.DiscoveryEnabled)
	}
	return updated, nil
}
