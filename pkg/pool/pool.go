package pool

import (
	"fmt"
	"net"
	"sync"
	"time"
)

type entry struct {
	mu   sync.Mutex
	conn net.Conn
	dead bool
}

// Pool is a concurrent map from peer identity ("ip:port") to a pooled
// outbound connection. WithConn dials lazily and reuses a live entry;
// Evict marks an entry dead and closes it so no new user picks it up.
type Pool struct {
	dialTimeout time.Duration

	mu      sync.Mutex
	entries map[string]*entry
}

// New returns a Pool whose dials use dialTimeout (0 means no timeout).
func New(dialTimeout time.Duration) *Pool {
	return &Pool{
		dialTimeout: dialTimeout,
		entries:     make(map[string]*entry),
	}
}

// WithConn runs fn against a live connection to identity, dialing a
// fresh one if none is pooled or the pooled one is dead. The entry's
// lock is held for fn's entire duration, so two callers targeting the
// same peer (e.g. two dispatch workers for different jobs landing on
// the same destination node, spec §4.6/§5) never interleave writes or
// reads on the same socket: the second caller blocks until the first
// has finished its whole send/receive exchange. fn's error is treated
// as the connection's error — the socket is evicted and closed before
// WithConn returns it, since a caller has no way to know whether a
// mid-exchange failure left the peer's framing in a usable state.
func (p *Pool) WithConn(identity string, fn func(net.Conn) error) error {
	p.mu.Lock()
	e, ok := p.entries[identity]
	if !ok {
		e = &entry{}
		p.entries[identity] = e
	}
	p.mu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.conn == nil || e.dead {
		conn, err := net.DialTimeout("tcp", identity, p.dialTimeout)
		if err != nil {
			return fmt.Errorf("pool: dial %s: %w", identity, err)
		}
		e.conn = conn
		e.dead = false
	}

	if err := fn(e.conn); err != nil {
		e.dead = true
		_ = e.conn.Close()
		e.conn = nil
		return err
	}
	return nil
}

// Evict marks identity's entry dead and closes its socket. Safe to
// call more than once or on an identity never dialed.
func (p *Pool) Evict(identity string) {
	p.mu.Lock()
	e, ok := p.entries[identity]
	p.mu.Unlock()
	if !ok {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dead {
		return
	}
	e.dead = true
	if e.conn != nil {
		_ = e.conn.Close()
		e.conn = nil
	}
}

// CloseAll evicts every pooled connection; used on shutdown.
func (p *Pool) CloseAll() {
	p.mu.Lock()
	identities := make([]string, 0, len(p.entries))
	for id := range p.entries {
		identities = append(identities, id)
	}
	p.mu.Unlock()

	for _, id := range identities {
		p.Evict(id)
	}
}
