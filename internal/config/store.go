package config

import "sync/atomic"

// Store holds the current configuration snapshot. Readers get an immutable
// *GatewayConfig; updates replace the pointer wholesale and are announced
// on the Updates channel. Request handlers read one snapshot per request,
// so a reload never changes behavior mid-request.
type Store struct {
	current atomic.Pointer[GatewayConfig]
	updates chan *GatewayConfig
}

// NewStore creates a store seeded with the initial snapshot.
func NewStore(initial *GatewayConfig) *Store {
	s := &Store{
		updates: make(chan *GatewayConfig, 1),
	}
	s.current.Store(initial)
	return s
}

// Current returns the active snapshot.
func (s *Store) Current() *GatewayConfig {
	return s.current.Load()
}

// Replace installs a new snapshot and announces it. The announcement is
// best effort: if nobody is draining the channel the stale notification is
// replaced by the newer one.
func (s *Store) Replace(cfg *GatewayConfig) {
	s.current.Store(cfg)
	select {
	case s.updates <- cfg:
	default:
		select {
		case <-s.updates:
		default:
		}
		select {
		case s.updates <- cfg:
		default:
		}
	}
}

// Updates returns the channel announcing new snapshots.
func (s *Store) Updates() <-chan *GatewayConfig {
	return s.updates
}
