// Package registry owns every live peer connection, its data channels, the
// last payload received per channel and the ICE candidates gathered for it.
// It is the only component that creates or closes native connection handles.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/pion/logging"

	"omegartc/native/internal/config"
	"omegartc/native/internal/domain"
	"omegartc/native/internal/events"
)

const (
	// DefaultChannel is the reserved, pre-negotiated ordered channel every
	// data connection starts with.
	DefaultChannel = "default"

	defaultChannelID = 0
	channelProtocol  = "omegartc"
)

// ErrNoConnection is returned when an operation needs an existing connection.
var ErrNoConnection = errors.New("no such connection")

// Registry tracks data and voice connections keyed by peer id.
type Registry struct {
	engine domain.Engine
	bus    *events.Bus
	log    logging.LeveledLogger

	cfgMu sync.RWMutex
	cfg   config.RTC

	mu    sync.Mutex
	conns map[key]*Connection

	keys keyedMutex
}

// New creates a registry. A nil bus gets a fresh one; a nil logger factory
// falls back to pion's default factory.
func New(engine domain.Engine, cfg config.RTC, bus *events.Bus, lf logging.LoggerFactory) *Registry {
	if bus == nil {
		bus = events.NewBus()
	}
	if lf == nil {
		lf = logging.NewDefaultLoggerFactory()
	}
	return &Registry{
		engine: engine,
		bus:    bus,
		log:    lf.NewLogger("registry"),
		cfg:    cfg.Clone(),
		conns:  make(map[key]*Connection),
	}
}

// Bus returns the bus lifecycle events are published on.
func (r *Registry) Bus() *events.Bus {
	return r.bus
}

// SetConfig replaces the configuration used for connections created from
// now on. Existing connections keep the copy they were created with.
func (r *Registry) SetConfig(cfg config.RTC) {
	r.cfgMu.Lock()
	defer r.cfgMu.Unlock()
	r.cfg = cfg.Clone()
}

// Config returns a copy of the current configuration.
func (r *Registry) Config() config.RTC {
	r.cfgMu.RLock()
	defer r.cfgMu.RUnlock()
	return r.cfg.Clone()
}

// Lock serializes callers working on the same connection key. The returned
// function releases the lock.
func (r *Registry) Lock(mode domain.Mode, id string) (unlock func()) {
	return r.keys.lock(key{mode, id})
}

// DataConnection returns the data connection for id, creating it when
// absent. A new connection already carries the default channel.
func (r *Registry) DataConnection(id string) (*Connection, error) {
	if conn, ok := r.Connection(domain.ModeData, id); ok {
		return conn, nil
	}

	cfg := r.Config()
	native, err := r.engine.NewConnection(cfg, domain.ModeData)
	if err != nil {
		return nil, fmt.Errorf("create data connection %s: %w", id, err)
	}

	conn := newConnection(id, domain.ModeData, native, cfg)
	r.attach(conn)

	def, err := native.CreateDataChannel(DefaultChannel, domain.ChannelInit{
		Ordered:    true,
		Negotiated: true,
		ID:         defaultChannelID,
	})
	if err != nil {
		r.discard(conn)
		return nil, fmt.Errorf("create default channel for %s: %w", id, err)
	}
	conn.addChannel(r.watchChannel(conn, def))

	registered, err := r.register(conn)
	if err != nil || registered != conn {
		return registered, err
	}

	r.log.Infof("data connection %s created", id)
	return conn, nil
}

// VoiceConnection returns the voice connection for id, creating it when
// absent. When requestMicrophone is set a new connection acquires local
// audio input; if that fails the connection is torn down and the error
// returned.
func (r *Registry) VoiceConnection(ctx context.Context, id string, requestMicrophone bool) (*Connection, error) {
	if conn, ok := r.Connection(domain.ModeVoice, id); ok {
		return conn, nil
	}

	cfg := r.Config()
	native, err := r.engine.NewConnection(cfg, domain.ModeVoice)
	if err != nil {
		return nil, fmt.Errorf("create voice connection %s: %w", id, err)
	}

	conn := newConnection(id, domain.ModeVoice, native, cfg)
	r.attach(conn)

	registered, err := r.register(conn)
	if err != nil || registered != conn {
		return registered, err
	}

	r.log.Infof("voice connection %s created", id)

	if requestMicrophone {
		if err := native.AttachMicrophone(ctx); err != nil {
			r.log.Warnf("microphone for %s: %v", id, err)
			r.teardown(conn)
			return nil, fmt.Errorf("acquire microphone: %w", err)
		}
	}
	return conn, nil
}

// register inserts a freshly built conn unless another caller registered
// the same key first, in which case conn is discarded and the winner
// returned.
func (r *Registry) register(conn *Connection) (*Connection, error) {
	k := key{conn.Mode, conn.ID}

	r.mu.Lock()
	if existing, ok := r.conns[k]; ok {
		r.mu.Unlock()
		r.discard(conn)
		return existing, nil
	}
	if conn.isReleased() {
		r.mu.Unlock()
		return nil, fmt.Errorf("%s connection %s closed during setup", conn.Mode, conn.ID)
	}
	r.conns[k] = conn
	r.mu.Unlock()
	return conn, nil
}

// discard closes a connection that was never registered. No closed event
// is published for it.
func (r *Registry) discard(conn *Connection) {
	conn.release()
	if err := conn.native.Close(); err != nil {
		r.log.Debugf("discard %s connection %s: %v", conn.Mode, conn.ID, err)
	}
}

// Connection looks up an existing connection.
func (r *Registry) Connection(mode domain.Mode, id string) (*Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.conns[key{mode, id}]
	return conn, ok
}

// Close tears down the connection for (mode, id). It is a no-op when the
// connection does not exist, so it may be called again from callbacks the
// teardown itself triggers.
func (r *Registry) Close(mode domain.Mode, id string) {
	conn, ok := r.Connection(mode, id)
	if !ok {
		return
	}
	r.teardown(conn)
}

// CreateChannel opens an in-band negotiated channel on the data connection
// id. It returns nil when the connection does not exist or the engine
// refuses the channel. Label collisions are not checked here.
func (r *Registry) CreateChannel(id, label string, ordered bool) *Channel {
	conn, ok := r.Connection(domain.ModeData, id)
	if !ok {
		return nil
	}

	native, err := conn.native.CreateDataChannel(label, domain.ChannelInit{
		Ordered:  ordered,
		Protocol: channelProtocol,
	})
	if err != nil {
		r.log.Errorf("create channel %s/%s: %v", id, label, err)
		return nil
	}

	ch := r.watchChannel(conn, native)
	if !conn.addChannel(ch) {
		native.Close()
		return nil
	}
	r.log.Debugf("channel %s/%s created (ordered=%t)", id, label, ordered)
	return ch
}

// CloseChannel closes one channel of the data connection id. Closing the
// default channel ends the whole connection.
func (r *Registry) CloseChannel(id, label string) {
	conn, ok := r.Connection(domain.ModeData, id)
	if !ok {
		return
	}
	ch, ok := conn.Channel(label)
	if !ok {
		return
	}
	if err := ch.native.Close(); err != nil {
		r.log.Warnf("close channel %s/%s: %v", id, label, err)
	}
	r.channelGone(conn, label, false)
}

// RecordIncomingData stores payload as the last value received on
// (id, label) and publishes it on {id}_message.
func (r *Registry) RecordIncomingData(id, label string, payload domain.Payload) {
	conn, ok := r.Connection(domain.ModeData, id)
	if !ok {
		return
	}
	if conn.record(label, payload) {
		r.bus.Publish(events.Topic(id, events.KindMessage), label, payload)
	}
}

// Send writes payload on (id, label). Sending to an unknown connection or
// channel does nothing. With waitFlushed set it returns once the channel's
// send buffer is empty or ctx is done.
func (r *Registry) Send(ctx context.Context, id, label string, payload domain.Payload, waitFlushed bool) error {
	conn, ok := r.Connection(domain.ModeData, id)
	if !ok {
		return nil
	}
	ch, ok := conn.Channel(label)
	if !ok {
		return nil
	}

	var flushed <-chan struct{}
	if waitFlushed {
		var cancel func()
		flushed, cancel = ch.awaitFlush()
		defer cancel()
	}

	var err error
	if payload.IsString {
		err = ch.native.SendText(string(payload.Data))
	} else {
		err = ch.native.Send(payload.Data)
	}
	if err != nil {
		return fmt.Errorf("send on %s/%s: %w", id, label, err)
	}

	if !waitFlushed || ch.native.BufferedAmount() == 0 {
		return nil
	}
	select {
	case <-flushed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ChannelData returns the last payload received on (id, label).
func (r *Registry) ChannelData(id, label string) (domain.Payload, bool) {
	conn, ok := r.Connection(domain.ModeData, id)
	if !ok {
		return domain.Payload{}, false
	}
	return conn.payload(label)
}

// Peers returns the ids of all connections of mode, sorted.
func (r *Registry) Peers(mode domain.Mode) []string {
	return r.peers(mode, false)
}

// ConnectedPeers returns the ids of connections of mode in the connected
// state, sorted.
func (r *Registry) ConnectedPeers(mode domain.Mode) []string {
	return r.peers(mode, true)
}

func (r *Registry) peers(mode domain.Mode, connectedOnly bool) []string {
	r.mu.Lock()
	conns := make([]*Connection, 0, len(r.conns))
	for k, conn := range r.conns {
		if k.mode == mode {
			conns = append(conns, conn)
		}
	}
	r.mu.Unlock()

	out := []string{}
	for _, conn := range conns {
		if connectedOnly && conn.State() != domain.StateConnected {
			continue
		}
		out = append(out, conn.ID)
	}
	sort.Strings(out)
	return out
}

// Channels returns the labels of the data connection id, sorted.
func (r *Registry) Channels(id string) []string {
	conn, ok := r.Connection(domain.ModeData, id)
	if !ok {
		return []string{}
	}
	return conn.labels()
}

// Exists reports whether a connection is registered for (mode, id).
func (r *Registry) Exists(mode domain.Mode, id string) bool {
	_, ok := r.Connection(mode, id)
	return ok
}

// IsConnected reports whether (mode, id) is in the connected state.
func (r *Registry) IsConnected(mode domain.Mode, id string) bool {
	return r.State(mode, id) == domain.StateConnected
}

// State returns the state of (mode, id), or StateClosed when absent.
func (r *Registry) State(mode domain.Mode, id string) domain.ConnectionState {
	conn, ok := r.Connection(mode, id)
	if !ok {
		return domain.StateClosed
	}
	return conn.State()
}

// ChannelExists reports whether label is open on the data connection id.
func (r *Registry) ChannelExists(id, label string) bool {
	conn, ok := r.Connection(domain.ModeData, id)
	if !ok {
		return false
	}
	_, ok = conn.Channel(label)
	return ok
}

// IceGatheringDone reports whether the engine finished gathering candidates
// for (mode, id).
func (r *Registry) IceGatheringDone(mode domain.Mode, id string) bool {
	conn, ok := r.Connection(mode, id)
	if !ok {
		return false
	}
	return conn.GatheringDone()
}

// Candidates returns the candidates gathered so far for (mode, id).
func (r *Registry) Candidates(mode domain.Mode, id string) []domain.ICECandidatePayload {
	conn, ok := r.Connection(mode, id)
	if !ok {
		return []domain.ICECandidatePayload{}
	}
	return conn.Candidates()
}

// attach installs the native callbacks of conn.
func (r *Registry) attach(conn *Connection) {
	conn.native.OnConnectionStateChange(func(state domain.ConnectionState) {
		r.handleState(conn, state)
	})

	conn.native.OnICECandidate(func(cand *domain.ICECandidatePayload) {
		if cand == nil {
			if conn.markGatheringDone() {
				r.log.Debugf("ICE gathering complete for %s", conn.ID)
				r.emit(events.Topic(conn.ID, events.KindICEDone))
			}
			return
		}
		if conn.addCandidate(*cand) && conn.cfg.Trickle {
			r.emit(events.Topic(conn.ID, events.KindICE), *cand)
		}
	})

	if conn.Mode == domain.ModeData {
		conn.native.OnDataChannel(func(native domain.NativeChannel) {
			ch := r.watchChannel(conn, native)
			if !conn.addChannel(ch) {
				native.Close()
				return
			}
			r.log.Debugf("remote opened channel %s/%s", conn.ID, ch.Label)
		})
	}
}

func (r *Registry) handleState(conn *Connection, state domain.ConnectionState) {
	conn.setState(state)
	r.log.Infof("%s connection %s (%s): %s", conn.Mode, conn.ID, conn.DisplayName(), state)

	if state.Terminal() {
		r.teardown(conn)
		return
	}
	// Voice connections only log.
	if state == domain.StateConnected && conn.Mode == domain.ModeData {
		r.emit(events.Topic(conn.ID, events.KindConnected))
	}
}

func (r *Registry) watchChannel(conn *Connection, native domain.NativeChannel) *Channel {
	ch := newChannel(native)
	label := ch.Label

	native.OnOpen(func() {
		r.log.Debugf("channel %s/%s open", conn.ID, label)
		r.emit(events.Topic(conn.ID, events.KindChannelOpen), label)
	})
	native.OnMessage(func(msg domain.Payload) {
		if conn.record(label, msg) {
			r.emit(events.Topic(conn.ID, events.KindMessage), label, msg)
		}
	})
	native.OnClose(func() {
		r.channelGone(conn, label, true)
	})
	return ch
}

// channelGone forgets a closed channel. The default channel takes the
// whole connection with it.
func (r *Registry) channelGone(conn *Connection, label string, remote bool) {
	if label == DefaultChannel {
		r.teardown(conn)
		return
	}
	if conn.removeChannel(label) {
		r.log.Debugf("channel %s/%s closed (remote=%t)", conn.ID, label, remote)
		r.emit(events.Topic(conn.ID, events.KindChannelClose), label)
	}
}

// teardown unregisters conn if it is still the registered instance for its
// key and releases its resources. Later calls do nothing.
func (r *Registry) teardown(conn *Connection) {
	r.mu.Lock()
	k := key{conn.Mode, conn.ID}
	if current, ok := r.conns[k]; ok && current == conn {
		delete(r.conns, k)
	}
	r.mu.Unlock()

	channels, first := conn.release()
	if !first {
		return
	}

	for _, ch := range channels {
		if err := ch.native.Close(); err != nil {
			r.log.Debugf("close channel %s/%s: %v", conn.ID, ch.Label, err)
		}
	}
	if conn.Mode == domain.ModeVoice {
		conn.native.StopMedia()
	}
	if err := conn.native.Close(); err != nil {
		r.log.Warnf("close %s connection %s: %v", conn.Mode, conn.ID, err)
	}

	r.log.Infof("%s connection %s closed", conn.Mode, conn.ID)
	conn.closedOnce.Do(func() {
		r.emit(events.Topic(conn.ID, events.KindClosed))
	})
}

// emit publishes from inside engine callbacks, where a panicking subscriber
// would otherwise take down the engine goroutine.
func (r *Registry) emit(topic string, args ...any) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Errorf("subscriber on %s panicked: %v", topic, p)
		}
	}()
	r.bus.Publish(topic, args...)
}
