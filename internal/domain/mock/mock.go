// Package mock provides an in-memory native engine that records calls and
// lets tests drive engine callbacks by hand.
package mock

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"omegartc/native/internal/config"
	"omegartc/native/internal/domain"
)

// ErrRejected is returned by operations configured to fail.
var ErrRejected = errors.New("mock: rejected")

// Engine records every connection it creates.
type Engine struct {
	mu    sync.Mutex
	conns []*Connection

	// NewErr makes NewConnection fail.
	NewErr error
	// MicErr makes AttachMicrophone fail on new connections.
	MicErr error
	// ChannelErr makes CreateDataChannel fail on new connections.
	ChannelErr error
}

func (e *Engine) NewConnection(cfg config.RTC, mode domain.Mode) (domain.NativeConnection, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.NewErr != nil {
		return nil, e.NewErr
	}
	c := &Connection{Mode: mode, Cfg: cfg, MicErr: e.MicErr, ChannelErr: e.ChannelErr}
	e.conns = append(e.conns, c)
	return c, nil
}

// Connections returns the connections created so far.
func (e *Engine) Connections() []*Connection {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Connection(nil), e.conns...)
}

// Last returns the most recently created connection.
func (e *Engine) Last() *Connection {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.conns) == 0 {
		return nil
	}
	return e.conns[len(e.conns)-1]
}

// Connection is a recording domain.NativeConnection.
type Connection struct {
	Mode domain.Mode
	Cfg  config.RTC

	OfferErr     error
	AnswerErr    error
	SetLocalErr  error
	SetRemoteErr error
	ChannelErr   error
	MicErr       error
	// RejectCandidate makes AddICECandidate fail for that candidate string.
	RejectCandidate string

	mu           sync.Mutex
	offers       int
	local        *domain.SDPPayload
	remote       *domain.SDPPayload
	added        []domain.ICECandidatePayload
	channels     []*Channel
	micAttached  bool
	mediaStopped bool
	closed       int

	onICE   func(*domain.ICECandidatePayload)
	onState func(domain.ConnectionState)
	onDC    func(domain.NativeChannel)
}

func (c *Connection) CreateOffer() (domain.SDPPayload, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.OfferErr != nil {
		return domain.SDPPayload{}, c.OfferErr
	}
	c.offers++
	return domain.SDPPayload{Type: "offer", SDP: fmt.Sprintf("v=0\r\no=mock %d\r\n", c.offers)}, nil
}

func (c *Connection) CreateAnswer() (domain.SDPPayload, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.AnswerErr != nil {
		return domain.SDPPayload{}, c.AnswerErr
	}
	if c.remote == nil {
		return domain.SDPPayload{}, errors.New("mock: no remote description")
	}
	return domain.SDPPayload{Type: "answer", SDP: "v=0\r\no=mock-answer\r\n"}, nil
}

func (c *Connection) SetLocalDescription(sdp domain.SDPPayload) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SetLocalErr != nil {
		return c.SetLocalErr
	}
	c.local = &sdp
	return nil
}

func (c *Connection) SetRemoteDescription(sdp domain.SDPPayload) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SetRemoteErr != nil {
		return c.SetRemoteErr
	}
	c.remote = &sdp
	return nil
}

func (c *Connection) AddICECandidate(candidate domain.ICECandidatePayload) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.RejectCandidate != "" && candidate.Candidate == c.RejectCandidate {
		return ErrRejected
	}
	c.added = append(c.added, candidate)
	return nil
}

func (c *Connection) CreateDataChannel(label string, init domain.ChannelInit) (domain.NativeChannel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ChannelErr != nil {
		return nil, c.ChannelErr
	}
	ch := &Channel{label: label, Init: init}
	c.channels = append(c.channels, ch)
	return ch, nil
}

func (c *Connection) OnICECandidate(fn func(*domain.ICECandidatePayload)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onICE = fn
}

func (c *Connection) OnConnectionStateChange(fn func(domain.ConnectionState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onState = fn
}

func (c *Connection) OnDataChannel(fn func(domain.NativeChannel)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDC = fn
}

func (c *Connection) AttachMicrophone(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.MicErr != nil {
		return c.MicErr
	}
	c.micAttached = true
	return nil
}

func (c *Connection) StopMedia() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mediaStopped = true
}

// Close reports StateClosed synchronously on the first call, the way an
// engine may re-enter its owner from inside Close.
func (c *Connection) Close() error {
	c.mu.Lock()
	c.closed++
	first := c.closed == 1
	fn := c.onState
	c.mu.Unlock()

	if first && fn != nil {
		fn(domain.StateClosed)
	}
	return nil
}

// EmitCandidate drives the candidate callback; nil ends gathering.
func (c *Connection) EmitCandidate(candidate *domain.ICECandidatePayload) {
	c.mu.Lock()
	fn := c.onICE
	c.mu.Unlock()
	if fn != nil {
		fn(candidate)
	}
}

// EmitState drives the connection state callback.
func (c *Connection) EmitState(state domain.ConnectionState) {
	c.mu.Lock()
	fn := c.onState
	c.mu.Unlock()
	if fn != nil {
		fn(state)
	}
}

// EmitDataChannel simulates the remote peer opening a channel in-band.
func (c *Connection) EmitDataChannel(label string, ordered bool) *Channel {
	ch := &Channel{label: label, Init: domain.ChannelInit{Ordered: ordered}}
	c.mu.Lock()
	c.channels = append(c.channels, ch)
	fn := c.onDC
	c.mu.Unlock()
	if fn != nil {
		fn(ch)
	}
	return ch
}

func (c *Connection) Local() *domain.SDPPayload {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.local
}

func (c *Connection) Remote() *domain.SDPPayload {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remote
}

func (c *Connection) Added() []domain.ICECandidatePayload {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.ICECandidatePayload(nil), c.added...)
}

// Channel returns the first channel created with label.
func (c *Connection) Channel(label string) *Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range c.channels {
		if ch.label == label {
			return ch
		}
	}
	return nil
}

func (c *Connection) MicAttached() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.micAttached
}

func (c *Connection) MediaStopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mediaStopped
}

func (c *Connection) Closed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Channel is a recording domain.NativeChannel.
type Channel struct {
	label string
	Init  domain.ChannelInit

	SendErr error

	mu        sync.Mutex
	sent      []domain.Payload
	buffered  uint64
	threshold uint64
	closed    int

	onOpen  func()
	onClose func()
	onMsg   func(domain.Payload)
	onLow   func()
}

func (ch *Channel) Label() string { return ch.label }
func (ch *Channel) Ordered() bool { return ch.Init.Ordered }

func (ch *Channel) Send(data []byte) error {
	return ch.send(domain.Payload{Data: data})
}

func (ch *Channel) SendText(text string) error {
	return ch.send(domain.Payload{Data: []byte(text), IsString: true})
}

func (ch *Channel) send(p domain.Payload) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.SendErr != nil {
		return ch.SendErr
	}
	ch.sent = append(ch.sent, p)
	ch.buffered += uint64(len(p.Data))
	return nil
}

func (ch *Channel) BufferedAmount() uint64 {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.buffered
}

func (ch *Channel) SetBufferedAmountLowThreshold(threshold uint64) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.threshold = threshold
}

func (ch *Channel) OnBufferedAmountLow(fn func()) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.onLow = fn
}

func (ch *Channel) OnOpen(fn func()) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.onOpen = fn
}

func (ch *Channel) OnClose(fn func()) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.onClose = fn
}

func (ch *Channel) OnMessage(fn func(domain.Payload)) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.onMsg = fn
}

// Close fires the close callback synchronously on the first call.
func (ch *Channel) Close() error {
	ch.mu.Lock()
	ch.closed++
	first := ch.closed == 1
	fn := ch.onClose
	ch.mu.Unlock()

	if first && fn != nil {
		fn()
	}
	return nil
}

// Drain empties the send buffer and fires the low-threshold callback.
func (ch *Channel) Drain() {
	ch.mu.Lock()
	ch.buffered = 0
	fn := ch.onLow
	ch.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// EmitOpen drives the open callback.
func (ch *Channel) EmitOpen() {
	ch.mu.Lock()
	fn := ch.onOpen
	ch.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// EmitMessage delivers p as if received from the remote peer.
func (ch *Channel) EmitMessage(p domain.Payload) {
	ch.mu.Lock()
	fn := ch.onMsg
	ch.mu.Unlock()
	if fn != nil {
		fn(p)
	}
}

func (ch *Channel) Sent() []domain.Payload {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return append([]domain.Payload(nil), ch.sent...)
}

func (ch *Channel) Threshold() uint64 {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.threshold
}

func (ch *Channel) Closed() int {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.closed
}
