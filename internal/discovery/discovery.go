// Package discovery implements UDP LAN peer discovery: a broadcast loop
// announcing this device, a listen loop building an in-memory peer map, and
// TTL-based eviction.
package discovery

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/meshdrop/transfer/internal/observability"
	"golang.org/x/sys/unix"
)

// Service runs the broadcast and listen loops and maintains the in-memory
// online-peer map.
type Service struct {
	deviceID     string
	deviceName   string
	port         int
	capabilities []string

	logger  *observability.Logger
	metrics *observability.Metrics

	mu     sync.RWMutex
	online map[string]OnlinePeer

	enabledMu sync.RWMutex
	enabled   bool

	cache *Cache
}

// New constructs a discovery service bound to the given UDP/TCP port.
func New(deviceID, deviceName string, port int, capabilities []string, logger *observability.Logger, metrics *observability.Metrics) *Service {
	return &Service{
		deviceID:     deviceID,
		deviceName:   deviceName,
		port:         port,
		capabilities: capabilities,
		logger:       logger,
		metrics:      metrics,
		online:       make(map[string]OnlinePeer),
		enabled:      true,
	}
}

// AttachCache wires a durable peer-sighting cache into the service: every
// listenLoop sighting is recorded, and CachedPeers surfaces sightings from
// before the current process started.
func (s *Service) AttachCache(cache *Cache) {
	s.cache = cache
}

// CachedPeers returns every durably-recorded sighting, including ones not
// currently in the live online map (e.g. from a previous process run).
func (s *Service) CachedPeers() ([]OnlinePeer, error) {
	if s.cache == nil {
		return nil, nil
	}
	return s.cache.List()
}

// SetEnabled toggles discovery at runtime (the discovery_enabled setting).
func (s *Service) SetEnabled(enabled bool) {
	s.enabledMu.Lock()
	defer s.enabledMu.Unlock()
	s.enabled = enabled
}

func (s *Service) isEnabled() bool {
	s.enabledMu.RLock()
	defer s.enabledMu.RUnlock()
	return s.enabled
}

// Snapshot returns a copy of the current online-peer map.
func (s *Service) Snapshot() map[string]OnlinePeer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]OnlinePeer, len(s.online))
	for k, v := range s.online {
		out[k] = v
	}
	return out
}

// Run binds the shared UDP port and runs the broadcast and listen loops
// until ctx is canceled. Both loops share one socket bound to the same
// well-known port number the TCP listener uses.
func (s *Service) Run(ctx context.Context) error {
	laddr := &net.UDPAddr{Port: s.port}
	conn, err := net.ListenUDP("udp4", laddr)
	if err != nil {
		return fmt.Errorf("bind discovery udp port %d: %w", s.port, err)
	}
	defer conn.Close()

	if err := enableBroadcast(conn); err != nil {
		s.logger.Warn("could not enable SO_BROADCAST, falling back to directed sends only: " + err.Error())
	}

	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); s.broadcastLoop(ctx, conn) }()
	go func() { defer wg.Done(); s.listenLoop(ctx, conn) }()
	go func() { defer wg.Done(); s.evictionLoop(ctx) }()
	wg.Wait()
	return nil
}

func (s *Service) broadcastLoop(ctx context.Context, conn *net.UDPConn) {
	ticker := time.NewTicker(BroadcastInterval)
	defer ticker.Stop()

	dst := &net.UDPAddr{IP: net.IPv4bcast, Port: s.port}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.isEnabled() {
				continue
			}
			packet := Packet{
				DeviceID:     s.deviceID,
				DeviceName:   s.deviceName,
				ListenPort:   s.port,
				Version:      1,
				Capabilities: s.capabilities,
			}
			payload, err := packet.marshal()
			if err != nil {
				continue
			}
			if _, err := conn.WriteToUDP(payload, dst); err != nil {
				s.metrics.DiscoveryPacketsDropped.Inc()
				continue
			}
			s.metrics.DiscoveryPacketsSent.Inc()
		}
	}
}

func (s *Service) listenLoop(ctx context.Context, conn *net.UDPConn) {
	buf := make([]byte, 4096)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_ = conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			continue
		}
		if !s.isEnabled() {
			continue
		}

		packet, err := unmarshalPacket(buf[:n])
		if err != nil || packet.DeviceID == "" {
			s.metrics.DiscoveryPacketsDropped.Inc()
			continue
		}
		if packet.DeviceID == s.deviceID {
			continue // ignore our own broadcast
		}

		now := time.Now().UnixMilli()
		sighting := OnlinePeer{
			DeviceID:     packet.DeviceID,
			DisplayName:  packet.DeviceName,
			Address:      addr.IP.String(),
			ListenPort:   packet.ListenPort,
			LastSeenAtMS: now,
		}
		s.mu.Lock()
		s.online[packet.DeviceID] = sighting
		count := len(s.online)
		s.mu.Unlock()

		if s.cache != nil {
			if err := s.cache.Record(packet.DeviceID, sighting); err != nil {
				s.logger.Warn("peer cache record failed: " + err.Error())
			}
		}

		s.metrics.SetPeersOnline(count)
		s.logger.PeerDiscovered(packet.DeviceID, packet.DeviceName, addr.String())
	}
}

func (s *Service) evictionLoop(ctx context.Context) {
	ticker := time.NewTicker(PeerTTL / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-PeerTTL).UnixMilli()
			s.mu.Lock()
			for id, p := range s.online {
				if p.LastSeenAtMS < cutoff {
					delete(s.online, id)
				}
			}
			count := len(s.online)
			s.mu.Unlock()
			s.metrics.SetPeersOnline(count)
		}
	}
}

// enableBroadcast sets SO_BROADCAST on the UDP socket so WriteToUDP to the
// limited-broadcast address (255.255.255.255) is permitted.
func enableBroadcast(conn *net.UDPConn) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}
	var sockErr error
	err = raw.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}
