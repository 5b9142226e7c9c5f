// Package registry keeps the directory of live station connections.
package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/michalkurzeja/go-clock"
	log "github.com/sirupsen/logrus"

	"github.com/zdex/evcpms/internal/models"
	"github.com/zdex/evcpms/internal/ocpp/wire"
)

// DefaultLivenessInterval is how often unanswered pings are swept.
const DefaultLivenessInterval = 30 * time.Second

// Transport is the write side of a station connection. Implementations must
// allow Ping and Close to be called concurrently with WriteMessage.
type Transport interface {
	WriteMessage(data []byte) error
	Ping() error
	Close() error
}

// Connection is the registry's record of one live station. Its fields are only
// reachable through methods so the registry stays the single owner.
type Connection struct {
	identity string
	version  wire.Version
	t        Transport

	mu              sync.RWMutex
	stationID       string
	connectedAt     time.Time
	lastHeartbeatAt time.Time
	lastMessageAt   time.Time
	connectors      map[int]string
	boot            *models.BootInfo
	alive           bool
}

func (c *Connection) Identity() string      { return c.identity }
func (c *Connection) Version() wire.Version { return c.version }

// Send writes a raw frame to the station.
func (c *Connection) Send(data []byte) error { return c.t.WriteMessage(data) }

// MarkAlive records a liveness acknowledgement from the transport.
func (c *Connection) MarkAlive() {
	c.mu.Lock()
	c.alive = true
	c.mu.Unlock()
}

func (c *Connection) StationID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stationID
}

// Info is a point-in-time copy of a connection record.
type Info struct {
	Identity        string           `json:"identity"`
	Version         wire.Version     `json:"version"`
	StationID       string           `json:"stationId,omitempty"`
	ConnectedAt     time.Time        `json:"connectedAt"`
	LastHeartbeatAt time.Time        `json:"lastHeartbeatAt"`
	LastMessageAt   time.Time        `json:"lastMessageAt"`
	Connectors      map[int]string   `json:"connectors"`
	Boot            *models.BootInfo `json:"boot,omitempty"`
	Alive           bool             `json:"alive"`
}

func (c *Connection) Snapshot() Info {
	c.mu.RLock()
	defer c.mu.RUnlock()

	connectors := make(map[int]string, len(c.connectors))
	for k, v := range c.connectors {
		connectors[k] = v
	}
	var boot *models.BootInfo
	if c.boot != nil {
		b := *c.boot
		boot = &b
	}
	return Info{
		Identity:        c.identity,
		Version:         c.version,
		StationID:       c.stationID,
		ConnectedAt:     c.connectedAt,
		LastHeartbeatAt: c.lastHeartbeatAt,
		LastMessageAt:   c.lastMessageAt,
		Connectors:      connectors,
		Boot:            boot,
		Alive:           c.alive,
	}
}

type Registry struct {
	mu    sync.RWMutex
	conns map[string]*Connection
}

func New() *Registry {
	return &Registry{conns: make(map[string]*Connection)}
}

// Register records a new connection for identity. A previous connection with
// the same identity is superseded and its transport closed.
func (r *Registry) Register(identity string, t Transport, version wire.Version) *Connection {
	now := clock.Now().UTC()
	conn := &Connection{
		identity:        identity,
		version:         version,
		t:               t,
		connectedAt:     now,
		lastHeartbeatAt: now,
		lastMessageAt:   now,
		connectors:      make(map[int]string),
		alive:           true,
	}

	r.mu.Lock()
	old := r.conns[identity]
	r.conns[identity] = conn
	r.mu.Unlock()

	if old != nil {
		log.WithField("identity", identity).Info("registry: station reconnected, closing previous connection")
		sid := old.StationID()
		conn.mu.Lock()
		conn.stationID = sid
		conn.mu.Unlock()
		_ = old.t.Close()
	}
	return conn
}

// Unregister removes conn only if it is still the current record for its
// identity. It reports whether anything was removed.
func (r *Registry) Unregister(conn *Connection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.conns[conn.identity]; ok && cur == conn {
		delete(r.conns, conn.identity)
		return true
	}
	return false
}

func (r *Registry) Remove(identity string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, identity)
}

func (r *Registry) get(identity string) *Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.conns[identity]
}

// Connection returns the live record for identity.
func (r *Registry) Connection(identity string) (*Connection, bool) {
	c := r.get(identity)
	return c, c != nil
}

func (r *Registry) UpdateHeartbeat(identity string) {
	if c := r.get(identity); c != nil {
		now := clock.Now().UTC()
		c.mu.Lock()
		c.lastHeartbeatAt = now
		c.mu.Unlock()
	}
}

func (r *Registry) UpdateLastMessageTime(identity string) {
	if c := r.get(identity); c != nil {
		now := clock.Now().UTC()
		c.mu.Lock()
		c.lastMessageAt = now
		c.mu.Unlock()
	}
}

func (r *Registry) UpdateConnectorStatus(identity string, connector int, status string) {
	if c := r.get(identity); c != nil {
		c.mu.Lock()
		c.connectors[connector] = status
		c.mu.Unlock()
	}
}

func (r *Registry) UpdateBootInfo(identity string, info models.BootInfo) {
	if c := r.get(identity); c != nil {
		c.mu.Lock()
		c.boot = &info
		c.mu.Unlock()
	}
}

// BindStation attaches the station id resolved at boot.
func (r *Registry) BindStation(identity, stationID string) {
	if c := r.get(identity); c != nil {
		c.mu.Lock()
		c.stationID = stationID
		c.mu.Unlock()
	}
}

func (r *Registry) FindByIdentity(identity string) (Info, bool) {
	c := r.get(identity)
	if c == nil {
		return Info{}, false
	}
	return c.Snapshot(), true
}

func (r *Registry) FindByStationID(stationID string) (Info, bool) {
	if stationID == "" {
		return Info{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.conns {
		if c.StationID() == stationID {
			return c.Snapshot(), true
		}
	}
	return Info{}, false
}

// ListAll returns snapshots ordered by identity.
func (r *Registry) ListAll() []Info {
	r.mu.RLock()
	out := make([]Info, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c.Snapshot())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Identity < out[j].Identity })
	return out
}

// SendCommand sends a CALL frame to the station. It returns the generated
// message id, or false when the station has no live connection.
func (r *Registry) SendCommand(identity, action string, payload any) (string, bool) {
	c := r.get(identity)
	if c == nil {
		return "", false
	}

	messageID := uuid.NewString()
	frame, err := wire.EncodeCall(messageID, action, payload)
	if err != nil {
		log.WithError(err).WithField("identity", identity).WithField("action", action).Error("registry: failed to encode command")
		return "", false
	}
	if err := c.Send(frame); err != nil {
		log.WithError(err).WithField("identity", identity).WithField("action", action).Error("registry: failed to send command")
		return "", false
	}
	return messageID, true
}

// Sweep closes connections that did not acknowledge the previous probe, then
// marks the rest unconfirmed and probes them again. It returns the identities
// it closed.
func (r *Registry) Sweep() []string {
	r.mu.RLock()
	conns := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	r.mu.RUnlock()

	var closed []string
	for _, c := range conns {
		c.mu.Lock()
		alive := c.alive
		c.alive = false
		c.mu.Unlock()

		if !alive {
			log.WithField("identity", c.identity).Warn("registry: liveness probe unanswered, closing connection")
			_ = c.t.Close()
			closed = append(closed, c.identity)
			continue
		}
		if err := c.t.Ping(); err != nil {
			log.WithError(err).WithField("identity", c.identity).Debug("registry: ping failed")
		}
	}
	return closed
}

// Run sweeps on every interval until ctx is done.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultLivenessInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}

// CloseAll closes every transport, used on shutdown.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.conns {
		_ = c.t.Close()
	}
}
