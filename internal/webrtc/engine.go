// Package webrtc implements the native engine on top of Pion.
package webrtc

import (
	"fmt"

	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/nack"
	"github.com/pion/logging"
	pion "github.com/pion/webrtc/v4"

	"omegartc/native/internal/config"
	"omegartc/native/internal/domain"
)

// Options configures an Engine.
type Options struct {
	LoggerFactory logging.LoggerFactory
	// Microphone selects the capture source for voice connections:
	// config.MicrophoneSilence or config.MicrophoneNone.
	Microphone string
	// RecordDir, when set, receives one Ogg file per incoming Opus track.
	RecordDir string
}

// Engine creates Pion peer connections.
type Engine struct {
	lf         logging.LoggerFactory
	log        logging.LeveledLogger
	microphone string
	recordDir  string
}

// NewEngine creates an engine.
func NewEngine(opts Options) *Engine {
	lf := opts.LoggerFactory
	if lf == nil {
		lf = logging.NewDefaultLoggerFactory()
	}
	mic := opts.Microphone
	if mic == "" {
		mic = config.MicrophoneSilence
	}
	return &Engine{
		lf:         lf,
		log:        lf.NewLogger("webrtc"),
		microphone: mic,
		recordDir:  opts.RecordDir,
	}
}

// NewConnection creates a peer connection for mode with cfg's ICE settings.
// Voice connections start with a receive-only audio transceiver that a
// microphone track upgrades to send-receive.
func (e *Engine) NewConnection(cfg config.RTC, mode domain.Mode) (domain.NativeConnection, error) {
	api, err := e.newAPI(cfg)
	if err != nil {
		return nil, err
	}

	pc, err := api.NewPeerConnection(pion.Configuration{
		ICEServers:         iceServers(cfg.ICEServers),
		ICETransportPolicy: transportPolicy(cfg.RelayPolicy),
		BundlePolicy:       pion.BundlePolicyMaxBundle,
	})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	if mode == domain.ModeVoice {
		_, err = pc.AddTransceiverFromKind(pion.RTPCodecTypeAudio, pion.RTPTransceiverInit{
			Direction: pion.RTPTransceiverDirectionRecvonly,
		})
		if err != nil {
			pc.Close()
			return nil, fmt.Errorf("add audio transceiver: %w", err)
		}
	}

	p := newPeer(pc, mode, e)
	if mode == domain.ModeVoice {
		p.watchTracks()
	}
	return p, nil
}

func (e *Engine) newAPI(cfg config.RTC) (*pion.API, error) {
	m := &pion.MediaEngine{}

	opusCodec := pion.RTPCodecParameters{
		RTPCodecCapability: pion.RTPCodecCapability{
			MimeType:    pion.MimeTypeOpus,
			ClockRate:   48000,
			Channels:    2,
			SDPFmtpLine: "minptime=10;useinbandfec=1",
		},
		PayloadType: 111,
	}
	if err := m.RegisterCodec(opusCodec, pion.RTPCodecTypeAudio); err != nil {
		return nil, fmt.Errorf("register Opus: %w", err)
	}

	pcmuCodec := pion.RTPCodecParameters{
		RTPCodecCapability: pion.RTPCodecCapability{
			MimeType:  pion.MimeTypePCMU,
			ClockRate: 8000,
			Channels:  1,
		},
		PayloadType: 0,
	}
	if err := m.RegisterCodec(pcmuCodec, pion.RTPCodecTypeAudio); err != nil {
		return nil, fmt.Errorf("register PCMU: %w", err)
	}

	i := &interceptor.Registry{}
	responderFactory, err := nack.NewResponderInterceptor()
	if err != nil {
		return nil, fmt.Errorf("create nack responder: %w", err)
	}
	i.Add(responderFactory)

	s := pion.SettingEngine{LoggerFactory: e.lf}
	s.SetIncludeLoopbackCandidate(cfg.IncludeLoopback)

	return pion.NewAPI(
		pion.WithMediaEngine(m),
		pion.WithInterceptorRegistry(i),
		pion.WithSettingEngine(s),
	), nil
}

func iceServers(in []config.ICEServer) []pion.ICEServer {
	var servers []pion.ICEServer
	for _, s := range in {
		servers = append(servers, pion.ICEServer{
			URLs:       append([]string(nil), s.URLs...),
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	return servers
}

func transportPolicy(p config.RelayPolicy) pion.ICETransportPolicy {
	if p == config.RelayPolicyRelay {
		return pion.ICETransportPolicyRelay
	}
	return pion.ICETransportPolicyAll
}

func connectionState(s pion.PeerConnectionState) (domain.ConnectionState, bool) {
	switch s {
	case pion.PeerConnectionStateNew:
		return domain.StateNew, true
	case pion.PeerConnectionStateConnecting, pion.PeerConnectionStateDisconnected:
		return domain.StateConnecting, true
	case pion.PeerConnectionStateConnected:
		return domain.StateConnected, true
	case pion.PeerConnectionStateClosed:
		return domain.StateClosed, true
	case pion.PeerConnectionStateFailed:
		return domain.StateFailed, true
	default:
		return 0, false
	}
}
