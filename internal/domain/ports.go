package domain

import (
	"context"

	"omegartc/native/internal/config"
)

// Engine creates native connection handles.
type Engine interface {
	NewConnection(cfg config.RTC, mode Mode) (NativeConnection, error)
}

// ChannelInit configures a new data channel.
type ChannelInit struct {
	Ordered  bool
	Protocol string
	// Negotiated channels are created by both peers out-of-band with the
	// same ID instead of being announced in-band.
	Negotiated bool
	ID         uint16
}

// NativeConnection is one peer connection inside the native engine.
type NativeConnection interface {
	CreateOffer() (SDPPayload, error)
	CreateAnswer() (SDPPayload, error)
	SetLocalDescription(sdp SDPPayload) error
	SetRemoteDescription(sdp SDPPayload) error
	AddICECandidate(candidate ICECandidatePayload) error
	CreateDataChannel(label string, init ChannelInit) (NativeChannel, error)

	// OnICECandidate is called for each gathered candidate and once with
	// nil when gathering is complete.
	OnICECandidate(fn func(candidate *ICECandidatePayload))
	OnConnectionStateChange(fn func(state ConnectionState))
	OnDataChannel(fn func(ch NativeChannel))

	// AttachMicrophone acquires local audio input and sends it on the
	// connection.
	AttachMicrophone(ctx context.Context) error
	// StopMedia stops outgoing tracks and detaches playback sinks.
	StopMedia()
	Close() error
}

// NativeChannel is one data channel inside the native engine.
type NativeChannel interface {
	Label() string
	Ordered() bool
	Send(data []byte) error
	SendText(text string) error
	BufferedAmount() uint64
	SetBufferedAmountLowThreshold(threshold uint64)
	OnBufferedAmountLow(fn func())
	OnOpen(fn func())
	OnClose(fn func())
	OnMessage(fn func(msg Payload))
	Close() error
}
