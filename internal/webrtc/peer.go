package webrtc

import (
	"context"
	"fmt"
	"sync"

	"github.com/pion/logging"
	pion "github.com/pion/webrtc/v4"

	"omegartc/native/internal/domain"
)

// Peer wraps a Pion PeerConnection as a domain.NativeConnection.
type Peer struct {
	pc     *pion.PeerConnection
	mode   domain.Mode
	engine *Engine
	log    logging.LeveledLogger

	mu    sync.Mutex
	mic   *microphone
	sinks []*sink
}

func newPeer(pc *pion.PeerConnection, mode domain.Mode, engine *Engine) *Peer {
	p := &Peer{
		pc:     pc,
		mode:   mode,
		engine: engine,
		log:    engine.log,
	}

	pc.OnICEConnectionStateChange(func(state pion.ICEConnectionState) {
		p.log.Debugf("ICE connection state: %s", state.String())
	})
	return p
}

// CreateOffer returns an offer for the peer connection's current state.
func (p *Peer) CreateOffer() (domain.SDPPayload, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return domain.SDPPayload{}, err
	}
	return domain.SDPPayload{Type: offer.Type.String(), SDP: offer.SDP}, nil
}

// CreateAnswer answers the remote offer already applied.
func (p *Peer) CreateAnswer() (domain.SDPPayload, error) {
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return domain.SDPPayload{}, err
	}
	return domain.SDPPayload{Type: answer.Type.String(), SDP: answer.SDP}, nil
}

// SetLocalDescription applies sdp locally, which starts gathering.
func (p *Peer) SetLocalDescription(sdp domain.SDPPayload) error {
	return p.pc.SetLocalDescription(sessionDescription(sdp))
}

// SetRemoteDescription applies the remote side's description.
func (p *Peer) SetRemoteDescription(sdp domain.SDPPayload) error {
	return p.pc.SetRemoteDescription(sessionDescription(sdp))
}

// AddICECandidate adds a remote candidate.
func (p *Peer) AddICECandidate(c domain.ICECandidatePayload) error {
	return p.pc.AddICECandidate(pion.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	})
}

// CreateDataChannel opens a channel named label with the given options.
func (p *Peer) CreateDataChannel(label string, init domain.ChannelInit) (domain.NativeChannel, error) {
	ordered := init.Ordered
	opts := &pion.DataChannelInit{Ordered: &ordered}
	if init.Protocol != "" {
		protocol := init.Protocol
		opts.Protocol = &protocol
	}
	if init.Negotiated {
		negotiated, id := true, init.ID
		opts.Negotiated = &negotiated
		opts.ID = &id
	}

	dc, err := p.pc.CreateDataChannel(label, opts)
	if err != nil {
		return nil, err
	}
	return &Channel{dc: dc}, nil
}

// OnICECandidate reports each local candidate and then nil once
// gathering has finished.
func (p *Peer) OnICECandidate(fn func(*domain.ICECandidatePayload)) {
	p.pc.OnICECandidate(func(c *pion.ICECandidate) {
		if c == nil {
			fn(nil)
			return
		}
		init := c.ToJSON()
		fn(&domain.ICECandidatePayload{
			Candidate:        init.Candidate,
			SDPMid:           init.SDPMid,
			SDPMLineIndex:    init.SDPMLineIndex,
			UsernameFragment: init.UsernameFragment,
		})
	})
}

// OnConnectionStateChange reports peer connection state changes.
func (p *Peer) OnConnectionStateChange(fn func(domain.ConnectionState)) {
	p.pc.OnConnectionStateChange(func(state pion.PeerConnectionState) {
		s, ok := connectionState(state)
		if !ok {
			p.log.Warnf("ignoring peer connection state %s", state.String())
			return
		}
		fn(s)
	})
}

// OnDataChannel reports channels the remote side opens in-band.
func (p *Peer) OnDataChannel(fn func(domain.NativeChannel)) {
	p.pc.OnDataChannel(func(dc *pion.DataChannel) {
		fn(&Channel{dc: dc})
	})
}

// AttachMicrophone starts the configured capture source and sends it on
// the audio transceiver.
func (p *Peer) AttachMicrophone(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.mode != domain.ModeVoice {
		return fmt.Errorf("microphone on %s connection", p.mode)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.mic != nil {
		return nil
	}

	mic, err := openMicrophone(p.engine.microphone, p.log)
	if err != nil {
		return err
	}

	sender, err := p.pc.AddTrack(mic.track)
	if err != nil {
		mic.stop()
		return fmt.Errorf("add audio track: %w", err)
	}
	p.mic = mic

	go readRTCP(sender)
	go mic.run()
	return nil
}

// StopMedia stops capture and finishes any recordings.
func (p *Peer) StopMedia() {
	p.mu.Lock()
	mic := p.mic
	p.mic = nil
	sinks := p.sinks
	p.sinks = nil
	p.mu.Unlock()

	if mic != nil {
		mic.stop()
	}
	for _, s := range sinks {
		s.close()
	}
}

// Close stops media and closes the peer connection.
func (p *Peer) Close() error {
	p.StopMedia()
	return p.pc.Close()
}

// watchTracks plays out or records incoming audio.
func (p *Peer) watchTracks() {
	p.pc.OnTrack(func(track *pion.TrackRemote, receiver *pion.RTPReceiver) {
		codec := track.Codec()
		p.log.Infof("got track: kind=%s codec=%s pt=%d", track.Kind(), codec.MimeType, codec.PayloadType)

		s, err := newSink(p.engine.recordDir, track)
		if err != nil {
			p.log.Warnf("record track %s: %v", track.ID(), err)
		}

		p.mu.Lock()
		if s != nil {
			p.sinks = append(p.sinks, s)
		}
		p.mu.Unlock()

		go playout(track, s, p.log)
	})
}

func sessionDescription(sdp domain.SDPPayload) pion.SessionDescription {
	return pion.SessionDescription{
		Type: pion.NewSDPType(sdp.Type),
		SDP:  sdp.SDP,
	}
}

func readRTCP(sender *pion.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}
