package signal

import (
	"context"
	"errors"
	"fmt"

	"omegartc/native/internal/config"
	"omegartc/native/internal/domain"
	"omegartc/native/internal/events"
	"omegartc/native/internal/registry"
)

var (
	// ErrDefaultChannel is returned when a caller tries to close the
	// default channel on its own.
	ErrDefaultChannel = errors.New("the default channel closes only with its connection")
	// ErrChannelExists is returned when a label is already in use.
	ErrChannelExists = errors.New("channel already exists")
)

// Config returns the configuration new connections are created with.
func (f *Facade) Config() config.RTC {
	return f.reg.Config()
}

// SetConfig validates cfg and uses it for connections created from now on.
// Existing connections keep the configuration they were created with.
func (f *Facade) SetConfig(cfg config.RTC) error {
	if err := cfg.Validate(); err != nil {
		f.log.Warnf("rejecting configuration: %v", err)
		return err
	}
	f.reg.SetConfig(cfg)
	f.log.Infof("configuration updated: %d ice servers, policy %s, trickle %t",
		len(cfg.ICEServers), cfg.RelayPolicy, cfg.Trickle)
	return nil
}

// The methods below are what the host runtime calls. Descriptions and
// candidate lists cross this boundary in their encoded string form.

// Peers lists the peers of mode.
func (f *Facade) Peers(mode domain.Mode) []string {
	return f.reg.Peers(mode)
}

// ConnectedPeers lists the connected peers of mode.
func (f *Facade) ConnectedPeers(mode domain.Mode) []string {
	return f.reg.ConnectedPeers(mode)
}

// Channels lists the channel labels of a data peer.
func (f *Facade) Channels(peer string) []string {
	return f.reg.Channels(peer)
}

// Exists reports whether a connection to peer exists in mode.
func (f *Facade) Exists(mode domain.Mode, peer string) bool {
	return f.reg.Exists(mode, peer)
}

// IsConnected reports whether the connection to peer has reached the
// connected state.
func (f *Facade) IsConnected(mode domain.Mode, peer string) bool {
	return f.reg.IsConnected(mode, peer)
}

// ChannelExists reports whether the data peer has a channel named label.
func (f *Facade) ChannelExists(peer, label string) bool {
	return f.reg.ChannelExists(peer, label)
}

// Offer creates an offer for peer and returns it encoded.
func (f *Facade) Offer(ctx context.Context, mode domain.Mode, peer, name string, voice *VoiceSetup) (string, error) {
	offer, err := f.MakeOffer(ctx, peer, name, mode, voice)
	if err != nil {
		return "", err
	}
	return EncodeDescription(*offer)
}

// Answer answers an encoded offer from peer and returns the answer encoded.
func (f *Facade) Answer(ctx context.Context, mode domain.Mode, peer, name, encodedOffer string, voice *VoiceSetup) (string, error) {
	offer, err := DecodeDescription(encodedOffer)
	if err != nil {
		f.log.Warnf("answer for %s: %v", peer, err)
		return "", err
	}
	answer, err := f.MakeAnswer(ctx, peer, name, mode, offer, voice)
	if err != nil {
		return "", err
	}
	return EncodeDescription(*answer)
}

// AcceptAnswer applies an encoded answer from peer.
func (f *Facade) AcceptAnswer(ctx context.Context, mode domain.Mode, peer, encodedAnswer string) error {
	answer, err := DecodeDescription(encodedAnswer)
	if err != nil {
		f.log.Warnf("accept answer for %s: %v", peer, err)
		return err
	}
	return f.ApplyAnswer(ctx, peer, mode, answer)
}

// Candidates waits for gathering to finish and returns all local
// candidates of peer encoded.
func (f *Facade) Candidates(ctx context.Context, mode domain.Mode, peer string) (string, error) {
	if err := f.WaitForIceGatheringComplete(ctx, mode, peer); err != nil {
		return "", err
	}
	return EncodeCandidates(f.reg.Candidates(mode, peer))
}

// AcceptCandidates applies an encoded candidate list from peer.
func (f *Facade) AcceptCandidates(ctx context.Context, mode domain.Mode, peer, encoded string) error {
	candidates, err := DecodeCandidates(encoded)
	if err != nil {
		f.log.Warnf("accept candidates for %s: %v", peer, err)
		return err
	}
	return f.ApplyCandidates(ctx, peer, mode, candidates)
}

// Send sends text on (peer, label). Unknown pairs are ignored.
func (f *Facade) Send(ctx context.Context, peer, label, text string, waitFlushed bool) error {
	err := f.reg.Send(ctx, peer, label, domain.Payload{Data: []byte(text), IsString: true}, waitFlushed)
	if err != nil {
		f.log.Warnf("%v", err)
	}
	return err
}

// SendBytes sends binary data on (peer, label). Unknown pairs are ignored.
func (f *Facade) SendBytes(ctx context.Context, peer, label string, data []byte, waitFlushed bool) error {
	err := f.reg.Send(ctx, peer, label, domain.Payload{Data: data}, waitFlushed)
	if err != nil {
		f.log.Warnf("%v", err)
	}
	return err
}

// ChannelData returns the last value received on (peer, label).
func (f *Facade) ChannelData(peer, label string) (string, bool) {
	p, ok := f.reg.ChannelData(peer, label)
	if !ok {
		return "", false
	}
	return p.String(), true
}

// CreateChannel opens a new channel on a data peer.
func (f *Facade) CreateChannel(peer, label string, ordered bool) error {
	if !f.reg.Exists(domain.ModeData, peer) {
		f.log.Warnf("create channel %s on unknown peer %s", label, peer)
		return ErrNoConnection
	}
	if f.reg.ChannelExists(peer, label) {
		f.log.Warnf("channel %s already exists on %s", label, peer)
		return ErrChannelExists
	}
	if f.reg.CreateChannel(peer, label, ordered) == nil {
		return fmt.Errorf("create channel %s on %s failed", label, peer)
	}
	return nil
}

// CloseChannel closes a channel other than the default one.
func (f *Facade) CloseChannel(peer, label string) error {
	if label == registry.DefaultChannel {
		f.log.Warnf("refusing to close the default channel of %s", peer)
		return ErrDefaultChannel
	}
	f.reg.CloseChannel(peer, label)
	return nil
}

// Disconnect tears down the connection to peer.
func (f *Facade) Disconnect(mode domain.Mode, peer string) {
	f.reg.Close(mode, peer)
}

// Subscribe registers fn for {peer}_{kind}.
func (f *Facade) Subscribe(peer string, kind events.Kind, fn events.Handler) events.Subscription {
	return f.reg.Bus().Subscribe(events.Topic(peer, kind), fn)
}

// Unsubscribe removes a subscription made with Subscribe.
func (f *Facade) Unsubscribe(s events.Subscription) bool {
	return f.reg.Bus().Unsubscribe(s)
}
