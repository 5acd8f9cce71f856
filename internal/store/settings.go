package store

import (
	"encoding/json"
	"fmt"

	"github.com/meshdrop/transfer/internal/config"
)

// app_settings keys. The device identity lives alongside user settings in
// the same key/value table as the device id and device name.
const (
	keyDeviceID     = "device_id"
	keyDeviceName   = "device_name"
	keySettingsBlob = "settings"
)

// SetValue upserts a single app_settings key.
func (s *Store) SetValue(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO app_settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("set app_settings[%s]: %w", key, err)
	}
	return nil
}

// GetValue returns a single app_settings value, or "" if unset.
func (s *Store) GetValue(key string) (string, error) {
	var v string
	err := s.db.QueryRow(`SELECT value FROM app_settings WHERE key = ?`, key).Scan(&v)
	if err != nil {
		return "", nil // unset, not an error
	}
	return v, nil
}

// LoadSettings returns the persisted Settings, falling back to defaults
// when none have been saved yet.
func (s *Store) LoadSettings() (config.Settings, error) {
	raw, err := s.GetValue(keySettingsBlob)
	if err != nil {
		return config.Settings{}, err
	}
	if raw == "" {
		return config.Defaults(), nil
	}
	var out config.Settings
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return config.Settings{}, fmt.Errorf("unmarshal settings: %w", err)
	}
	out.Clamp()
	return out, nil
}

// SaveSettings persists the given settings as a single JSON blob.
func (s *Store) SaveSettings(settings config.Settings) error {
	settings.Clamp()
	raw, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	return s.SetValue(keySettingsBlob, string(raw))
}

// LoadDeviceIdentity returns the persisted device id/name, or ("", "") if
// no identity has been established yet.
func (s *Store) LoadDeviceIdentity() (deviceID, deviceName string, err error) {
	deviceID, err = s.GetValue(keyDeviceID)
	if err != nil {
		return "", "", err
	}
	deviceName, err = s.GetValue(keyDeviceName)
	return deviceID, deviceName, err
}

// SaveDeviceIdentity persists the device id/name.
func (s *Store) SaveDeviceIdentity(deviceID, deviceName string) error {
	if err := s.SetValue(keyDeviceID, deviceID); err != nil {
		return err
	}
	return s.SetValue(keyDeviceName, deviceName)
}
