package clock

import "time"

// DualTimestamp pairs the client-observed and server-observed instants for
// one event. Both are kept because client and server clocks drift: elapsed
// time shown to the user follows the client value, audit ordering and
// replay resolution follow the server value. A zero field means that side
// never observed the event.
type DualTimestamp struct {
	Client time.Time `json:"client"`
	Server time.Time `json:"server"`
}

func (d DualTimestamp) HasServer() bool { return !d.Server.IsZero() }

func (d DualTimestamp) HasClient() bool { return !d.Client.IsZero() }

// Display returns the instant to use for elapsed-time display: the client
// observation when present, otherwise the server one.
func (d DualTimestamp) Display() time.Time {
	if d.HasClient() {
		return d.Client
	}
	return d.Server
}

// Compare orders two dual timestamps. Server time is authoritative whenever
// both sides carry one; client time is the fallback for purely-local events
// that have not been acknowledged yet.
func Compare(a, b DualTimestamp) int {
	if a.HasServer() && b.HasServer() {
		return a.Server.Compare(b.Server)
	}
	return a.Client.Compare(b.Client)
}

// Source produces dual timestamps from an injectable wall clock so tests
// can pin time.
type Source struct {
	now func() time.Time
}

func NewSource(now func() time.Time) *Source {
	if now == nil {
		now = time.Now
	}
	return &Source{now: now}
}

func System() *Source { return NewSource(time.Now) }

func (s *Source) Now() time.Time { return s.now() }

// Stamp records an event observed on this side only: both fields carry the
// local instant. Used on the server when the server is the first observer.
func (s *Source) Stamp() DualTimestamp {
	t := s.now()
	return DualTimestamp{Client: t, Server: t}
}

// StampClient records a purely local, not-yet-synced event. The server
// field stays zero until the server acknowledges it.
func (s *Source) StampClient() DualTimestamp {
	return DualTimestamp{Client: s.now()}
}

// Reconcile pairs a client-observed instant with the current server
// instant. When the client observation is missing (an action originated on
// the server), the server instant fills both sides. The result is produced
// once and never mutated afterward.
func (s *Source) Reconcile(client time.Time) DualTimestamp {
	t := s.now()
	if client.IsZero() {
		client = t
	}
	return DualTimestamp{Client: client, Server: t}
}
