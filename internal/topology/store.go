package topology

import (
	"fmt"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Store.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Store holds the canonical in-memory desired/observed state for all
// zones and clients. It is the single shared mutable resource of the
// core; every mutation goes through whole-value replacement here.
//
// Writes are linearizable per key: the write lock covers the old/new
// comparison, the replacement, and the synchronous hand-off of resulting
// notifications to the sink, so per-entity notification order matches
// write order and readers never observe a torn value.
//
// All public methods are thread-safe.
type Store struct {
	mu      sync.RWMutex
	zones   map[int]*Zone
	clients map[int]*Client

	sink   Sink
	logger Logger
}

// NewStore creates an empty store. Entries are added with
// InitializeZoneState / InitializeClientState during startup.
func NewStore() *Store {
	return &Store{
		zones:   make(map[int]*Zone),
		clients: make(map[int]*Client),
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for the store.
func (s *Store) SetLogger(logger Logger) {
	s.logger = logger
}

// SetSink registers the notification sink. Must be called before any
// writes that should notify; typically once at startup.
func (s *Store) SetSink(sink Sink) {
	s.mu.Lock()
	s.sink = sink
	s.mu.Unlock()
}

// GetZone retrieves a zone by index.
// The returned zone is a deep copy; callers can safely modify it.
func (s *Store) GetZone(index int) (*Zone, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	zone, ok := s.zones[index]
	if !ok {
		return nil, fmt.Errorf("%w: index %d", ErrZoneNotFound, index)
	}
	return zone.DeepCopy(), nil
}

// GetClient retrieves a client by index.
// The returned client is a deep copy; callers can safely modify it.
func (s *Store) GetClient(index int) (*Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	client, ok := s.clients[index]
	if !ok {
		return nil, fmt.Errorf("%w: index %d", ErrClientNotFound, index)
	}
	return client.DeepCopy(), nil
}

// AllZones returns a snapshot copy of all zones keyed by index.
// The map and every value are independent of store internals.
func (s *Store) AllZones() map[int]*Zone {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[int]*Zone, len(s.zones))
	for idx, zone := range s.zones {
		out[idx] = zone.DeepCopy()
	}
	return out
}

// AllClients returns a snapshot copy of all clients keyed by index.
func (s *Store) AllClients() map[int]*Client {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[int]*Client, len(s.clients))
	for idx, client := range s.clients {
		out[idx] = client.DeepCopy()
	}
	return out
}

// ZoneCount returns the number of zones.
func (s *Store) ZoneCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.zones)
}

// ClientCount returns the number of clients.
func (s *Store) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// ZoneOfClient returns the zone index whose desired membership contains
// the client, or 0 if the client is unassigned.
func (s *Store) ZoneOfClient(clientIndex int) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for idx, zone := range s.zones {
		if zone.HasMember(clientIndex) {
			return idx
		}
	}
	return 0
}

// SetZoneState replaces the stored zone atomically and emits one
// notification per observable field that differs from the previous
// state. A write that changes nothing emits nothing.
//
// The zone must already exist (created via InitializeZoneState).
func (s *Store) SetZoneState(index int, state *Zone) error {
	if state == nil {
		return fmt.Errorf("%w: nil state", ErrInvalidZone)
	}
	if err := ValidateZone(state); err != nil {
		return err
	}

	now := time.Now().UTC()

	s.mu.Lock()
	old, ok := s.zones[index]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: index %d", ErrZoneNotFound, index)
	}

	updated := state.DeepCopy()
	updated.Index = index
	updated.UpdatedAt = now

	changes := diffZones(old, updated, now)
	if len(changes) == 0 {
		// Idempotent write: keep the previous value and timestamp.
		s.mu.Unlock()
		return nil
	}

	s.zones[index] = updated
	sink := s.sink
	if sink != nil {
		for _, n := range changes {
			sink.Notify(n)
		}
	}
	s.mu.Unlock()

	s.logger.Debug("zone state updated", "zone", index, "changes", len(changes))
	return nil
}

// SetClientState replaces the stored client atomically, with the same
// diff-and-notify contract as SetZoneState.
func (s *Store) SetClientState(index int, state *Client) error {
	if state == nil {
		return fmt.Errorf("%w: nil state", ErrInvalidClient)
	}
	if err := ValidateClient(state); err != nil {
		return err
	}

	now := time.Now().UTC()

	s.mu.Lock()
	old, ok := s.clients[index]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: index %d", ErrClientNotFound, index)
	}

	updated := state.DeepCopy()
	updated.Index = index
	updated.UpdatedAt = now

	changes := diffClients(old, updated, now)
	if len(changes) == 0 {
		s.mu.Unlock()
		return nil
	}

	s.clients[index] = updated
	sink := s.sink
	if sink != nil {
		for _, n := range changes {
			sink.Notify(n)
		}
	}
	s.mu.Unlock()

	s.logger.Debug("client state updated", "client", index, "changes", len(changes))
	return nil
}

// InitializeZoneState inserts a zone if absent. It never overwrites an
// existing entry, so racing initialisers cannot clobber state that was
// already restored or written. Emits no notifications.
func (s *Store) InitializeZoneState(index int, state *Zone) error {
	if state == nil {
		return fmt.Errorf("%w: nil state", ErrInvalidZone)
	}
	if err := ValidateZone(state); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.zones[index]; exists {
		return nil
	}

	entry := state.DeepCopy()
	entry.Index = index
	if entry.UpdatedAt.IsZero() {
		entry.UpdatedAt = time.Now().UTC()
	}
	s.zones[index] = entry
	return nil
}

// InitializeClientState inserts a client if absent, with the same
// contract as InitializeZoneState.
func (s *Store) InitializeClientState(index int, state *Client) error {
	if state == nil {
		return fmt.Errorf("%w: nil state", ErrInvalidClient)
	}
	if err := ValidateClient(state); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.clients[index]; exists {
		return nil
	}

	entry := state.DeepCopy()
	entry.Index = index
	if entry.UpdatedAt.IsZero() {
		entry.UpdatedAt = time.Now().UTC()
	}
	s.clients[index] = entry
	return nil
}
