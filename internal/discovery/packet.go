package discovery

import "encoding/json"

// Packet is the UDP discovery datagram broadcast every 3 seconds on the
// shared TCP/UDP port.
type Packet struct {
	DeviceID     string   `json:"device_id"`
	DeviceName   string   `json:"device_name"`
	ListenPort   int      `json:"listen_port"`
	Version      int      `json:"version"`
	Capabilities []string `json:"capabilities"`
}

func (p Packet) marshal() ([]byte, error) { return json.Marshal(p) }

func unmarshalPacket(b []byte) (Packet, error) {
	var p Packet
	err := json.Unmarshal(b, &p)
	return p, err
}
