package registry

import (
	"sort"
	"sync"

	"omegartc/native/internal/config"
	"omegartc/native/internal/domain"
)

// Connection is one registered peer connection. All fields behind mu are
// mutated only by the registry and the native callbacks it installs.
type Connection struct {
	ID   string
	Mode domain.Mode

	native domain.NativeConnection
	cfg    config.RTC

	mu            sync.Mutex
	displayName   string
	state         domain.ConnectionState
	channels      map[string]*Channel
	payloads      map[string]domain.Payload
	candidates    []domain.ICECandidatePayload
	gatheringDone bool
	released      bool

	closedOnce sync.Once
}

func newConnection(id string, mode domain.Mode, native domain.NativeConnection, cfg config.RTC) *Connection {
	return &Connection{
		ID:       id,
		Mode:     mode,
		native:   native,
		cfg:      cfg,
		state:    domain.StateNew,
		channels: make(map[string]*Channel),
		payloads: make(map[string]domain.Payload),
	}
}

// Native returns the engine handle owned by the connection.
func (c *Connection) Native() domain.NativeConnection {
	return c.native
}

// Config returns the configuration captured when the connection was created.
func (c *Connection) Config() config.RTC {
	return c.cfg.Clone()
}

// DisplayName returns the name the caller gave the remote peer.
func (c *Connection) DisplayName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.displayName
}

// SetDisplayName records the name the caller gives the remote peer.
func (c *Connection) SetDisplayName(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.displayName = name
}

// State returns the last state the engine reported.
func (c *Connection) State() domain.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Connection) setState(s domain.ConnectionState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
}

// Channel returns the channel registered under label.
func (c *Connection) Channel(label string) (*Channel, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.channels[label]
	return ch, ok
}

func (c *Connection) labels() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.channels))
	for label := range c.channels {
		out = append(out, label)
	}
	sort.Strings(out)
	return out
}

func (c *Connection) addChannel(ch *Channel) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return false
	}
	c.channels[ch.Label] = ch
	return true
}

// removeChannel drops a channel and its cached payload. It reports whether
// the channel was present.
func (c *Connection) removeChannel(label string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return false
	}
	if _, ok := c.channels[label]; !ok {
		return false
	}
	delete(c.channels, label)
	delete(c.payloads, label)
	return true
}

// record stores p as the last payload of label. It reports false when the
// channel is unknown or the connection was released.
func (c *Connection) record(label string, p domain.Payload) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return false
	}
	if _, ok := c.channels[label]; !ok {
		return false
	}
	c.payloads[label] = p
	return true
}

func (c *Connection) payload(label string) (domain.Payload, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.payloads[label]
	return p, ok
}

func (c *Connection) addCandidate(cand domain.ICECandidatePayload) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released || c.gatheringDone {
		return false
	}
	c.candidates = append(c.candidates, cand)
	return true
}

// markGatheringDone flips the done flag. It reports true only for the call
// that performed the transition.
func (c *Connection) markGatheringDone() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released || c.gatheringDone {
		return false
	}
	c.gatheringDone = true
	return true
}

// GatheringDone reports whether the engine has finished gathering
// candidates. Once true it stays true.
func (c *Connection) GatheringDone() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gatheringDone
}

// Candidates returns a copy of the gathered candidates in discovery order.
func (c *Connection) Candidates() []domain.ICECandidatePayload {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.ICECandidatePayload(nil), c.candidates...)
}

func (c *Connection) isReleased() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.released
}

// release marks the connection dead and hands back its channels in label
// order. Only the first call gets the channels and true.
func (c *Connection) release() ([]*Channel, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return nil, false
	}
	c.released = true

	labels := make([]string, 0, len(c.channels))
	for label := range c.channels {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	out := make([]*Channel, 0, len(labels))
	for _, label := range labels {
		out = append(out, c.channels[label])
	}

	c.channels = make(map[string]*Channel)
	c.payloads = make(map[string]domain.Payload)
	c.candidates = nil
	return out, true
}

// Channel is one data channel of a data-mode connection.
type Channel struct {
	Label   string
	Ordered bool

	native domain.NativeChannel

	mu      sync.Mutex
	waiters []chan struct{}
}

func newChannel(native domain.NativeChannel) *Channel {
	ch := &Channel{
		Label:   native.Label(),
		Ordered: native.Ordered(),
		native:  native,
	}
	// Zero means fully flushed.
	native.SetBufferedAmountLowThreshold(0)
	native.OnBufferedAmountLow(ch.flushed)
	return ch
}

// Native returns the engine handle of the channel.
func (ch *Channel) Native() domain.NativeChannel {
	return ch.native
}

func (ch *Channel) flushed() {
	ch.mu.Lock()
	waiters := ch.waiters
	ch.waiters = nil
	ch.mu.Unlock()

	for _, w := range waiters {
		close(w)
	}
}

// awaitFlush returns a channel closed the next time the send buffer drains,
// and a function that drops the registration if nobody waits any longer.
func (ch *Channel) awaitFlush() (<-chan struct{}, func()) {
	w := make(chan struct{})
	ch.mu.Lock()
	ch.waiters = append(ch.waiters, w)
	ch.mu.Unlock()

	return w, func() {
		ch.mu.Lock()
		defer ch.mu.Unlock()
		for i, other := range ch.waiters {
			if other == w {
				ch.waiters = append(ch.waiters[:i], ch.waiters[i+1:]...)
				return
			}
		}
	}
}
