// Package identity manages the device's stable identifier and display
// name, persisted via the store's app_settings table and
// mirrored to an on-disk keystore file for recovery when the database is
// rebuilt. There is no asymmetric keypair here: the trust model derives
// every session key from a pairing code, not from a device identity key
// (see DESIGN.md).
package identity

import (
	"fmt"
	"os"

	"github.com/google/uuid"

	"github.com/meshdrop/transfer/internal/crypto"
)

// Identity is this device's stable id and human-readable name.
type Identity struct {
	DeviceID   string
	DeviceName string
}

// identityStore is the subset of *store.Store identity needs, kept narrow
// to avoid an import cycle with the store package's own dependents.
type identityStore interface {
	LoadDeviceIdentity() (deviceID, deviceName string, err error)
	SaveDeviceIdentity(deviceID, deviceName string) error
}

// LoadOrCreate returns the persisted identity, generating and persisting a
// new one (random UUID device id, hostname-derived display name) if none
// exists yet. The identity is also mirrored into a keystore file at
// keystorePath so it can be recovered if the database is lost; passphrase
// may be empty for an unencrypted (".insecure") keystore file.
func LoadOrCreate(st identityStore, keystorePath, passphrase string) (*Identity, error) {
	deviceID, deviceName, err := st.LoadDeviceIdentity()
	if err != nil {
		return nil, fmt.Errorf("load device identity: %w", err)
	}
	if deviceID != "" {
		return &Identity{DeviceID: deviceID, DeviceName: deviceName}, nil
	}

	id := &Identity{DeviceID: uuid.New().String(), DeviceName: defaultDeviceName()}
	if err := st.SaveDeviceIdentity(id.DeviceID, id.DeviceName); err != nil {
		return nil, fmt.Errorf("save device identity: %w", err)
	}
	if keystorePath != "" {
		if err := crypto.SaveSecret([]byte(id.DeviceID), keystorePath, passphrase); err != nil {
			return nil, fmt.Errorf("mirror identity to keystore: %w", err)
		}
	}
	return id, nil
}

func defaultDeviceName() string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return "meshdrop-device"
}
