package webrtc

import (
	pion "github.com/pion/webrtc/v4"

	"omegartc/native/internal/domain"
)

// Channel wraps a Pion DataChannel as a domain.NativeChannel.
type Channel struct {
	dc *pion.DataChannel
}

// Label returns the channel name.
func (c *Channel) Label() string { return c.dc.Label() }

// Ordered reports whether delivery is ordered.
func (c *Channel) Ordered() bool { return c.dc.Ordered() }

// Send sends a binary message.
func (c *Channel) Send(data []byte) error { return c.dc.Send(data) }

// SendText sends a text message.
func (c *Channel) SendText(text string) error { return c.dc.SendText(text) }

// BufferedAmount returns the number of bytes queued for sending.
func (c *Channel) BufferedAmount() uint64 { return c.dc.BufferedAmount() }

// SetBufferedAmountLowThreshold sets the level OnBufferedAmountLow fires at.
func (c *Channel) SetBufferedAmountLowThreshold(threshold uint64) {
	c.dc.SetBufferedAmountLowThreshold(threshold)
}

// OnBufferedAmountLow is called when the queue drains to the threshold.
func (c *Channel) OnBufferedAmountLow(fn func()) { c.dc.OnBufferedAmountLow(fn) }

// OnOpen is called once the channel is open.
func (c *Channel) OnOpen(fn func()) { c.dc.OnOpen(fn) }

// OnClose is called once the channel has closed.
func (c *Channel) OnClose(fn func()) { c.dc.OnClose(fn) }

// OnMessage is called for every message received.
func (c *Channel) OnMessage(fn func(domain.Payload)) {
	c.dc.OnMessage(func(msg pion.DataChannelMessage) {
		fn(domain.Payload{Data: msg.Data, IsString: msg.IsString})
	})
}

// Close closes the channel.
func (c *Channel) Close() error { return c.dc.Close() }
