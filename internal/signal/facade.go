// Package signal drives the offer/answer/candidate handshake against
// registered connections and encodes what peers exchange out-of-band.
package signal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pion/logging"

	"omegartc/native/internal/domain"
	"omegartc/native/internal/registry"
)

const icePollInterval = 100 * time.Millisecond

var (
	// ErrNoConnection is returned when an answer or candidates arrive for a
	// connection that was never offered or answered.
	ErrNoConnection = registry.ErrNoConnection
	// ErrVoiceSetupRequired is returned when voice mode is used without a
	// VoiceSetup.
	ErrVoiceSetupRequired = errors.New("voice mode requires a voice setup")
)

// VoiceSetup configures a voice connection on first use.
type VoiceSetup struct {
	Microphone bool
}

// Facade runs handshake steps on a registry. Calls for the same connection
// are serialized; calls for different connections run independently.
type Facade struct {
	reg          *registry.Registry
	log          logging.LeveledLogger
	pollInterval time.Duration
}

// NewFacade creates a facade over reg.
func NewFacade(reg *registry.Registry, lf logging.LoggerFactory) *Facade {
	if lf == nil {
		lf = logging.NewDefaultLoggerFactory()
	}
	return &Facade{
		reg:          reg,
		log:          lf.NewLogger("signal"),
		pollInterval: icePollInterval,
	}
}

// Registry returns the registry the facade works on.
func (f *Facade) Registry() *registry.Registry {
	return f.reg
}

func (f *Facade) connection(ctx context.Context, id string, mode domain.Mode, voice *VoiceSetup) (*registry.Connection, error) {
	switch mode {
	case domain.ModeData:
		return f.reg.DataConnection(id)
	case domain.ModeVoice:
		if voice == nil {
			return nil, ErrVoiceSetupRequired
		}
		return f.reg.VoiceConnection(ctx, id, voice.Microphone)
	default:
		return nil, fmt.Errorf("%w: %s", domain.ErrInvalidMode, mode)
	}
}

// MakeOffer gets or creates the connection, names it, and creates and
// applies a local offer.
func (f *Facade) MakeOffer(ctx context.Context, id, displayName string, mode domain.Mode, voice *VoiceSetup) (*domain.SDPPayload, error) {
	unlock := f.reg.Lock(mode, id)
	defer unlock()

	conn, err := f.connection(ctx, id, mode, voice)
	if err != nil {
		f.log.Errorf("offer for %s: %v", id, err)
		return nil, err
	}
	conn.SetDisplayName(displayName)

	offer, err := conn.Native().CreateOffer()
	if err != nil {
		f.log.Errorf("offer for %s: %v", id, err)
		return nil, fmt.Errorf("create offer: %w", err)
	}
	if err := conn.Native().SetLocalDescription(offer); err != nil {
		f.log.Errorf("offer for %s: %v", id, err)
		return nil, fmt.Errorf("set local description: %w", err)
	}

	f.log.Infof("local offer set for %s", id)
	return &offer, nil
}

// MakeAnswer gets or creates the connection, applies remoteOffer, and
// creates and applies a local answer.
func (f *Facade) MakeAnswer(ctx context.Context, id, displayName string, mode domain.Mode, remoteOffer domain.SDPPayload, voice *VoiceSetup) (*domain.SDPPayload, error) {
	unlock := f.reg.Lock(mode, id)
	defer unlock()

	conn, err := f.connection(ctx, id, mode, voice)
	if err != nil {
		f.log.Errorf("answer for %s: %v", id, err)
		return nil, err
	}
	conn.SetDisplayName(displayName)

	if err := conn.Native().SetRemoteDescription(remoteOffer); err != nil {
		f.log.Errorf("answer for %s: %v", id, err)
		return nil, fmt.Errorf("set remote description: %w", err)
	}
	answer, err := conn.Native().CreateAnswer()
	if err != nil {
		f.log.Errorf("answer for %s: %v", id, err)
		return nil, fmt.Errorf("create answer: %w", err)
	}
	if err := conn.Native().SetLocalDescription(answer); err != nil {
		f.log.Errorf("answer for %s: %v", id, err)
		return nil, fmt.Errorf("set local description: %w", err)
	}

	f.log.Infof("local answer set for %s", id)
	return &answer, nil
}

// ApplyAnswer applies the remote answer to an existing connection.
func (f *Facade) ApplyAnswer(ctx context.Context, id string, mode domain.Mode, answer domain.SDPPayload) error {
	unlock := f.reg.Lock(mode, id)
	defer unlock()

	conn, ok := f.reg.Connection(mode, id)
	if !ok {
		f.log.Warnf("answer for unknown %s connection %s", mode, id)
		return ErrNoConnection
	}
	if err := conn.Native().SetRemoteDescription(answer); err != nil {
		f.log.Errorf("apply answer for %s: %v", id, err)
		return fmt.Errorf("set remote description: %w", err)
	}

	f.log.Infof("remote answer set for %s", id)
	return nil
}

// ApplyCandidates adds candidates to an existing connection one at a time,
// in the given order. It stops at the first candidate the engine rejects.
func (f *Facade) ApplyCandidates(ctx context.Context, id string, mode domain.Mode, candidates []domain.ICECandidatePayload) error {
	unlock := f.reg.Lock(mode, id)
	defer unlock()

	conn, ok := f.reg.Connection(mode, id)
	if !ok {
		f.log.Warnf("candidates for unknown %s connection %s", mode, id)
		return ErrNoConnection
	}
	for i, c := range candidates {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := conn.Native().AddICECandidate(c); err != nil {
			f.log.Errorf("add candidate %d for %s: %v", i, id, err)
			return fmt.Errorf("add ice candidate %d: %w", i, err)
		}
	}

	f.log.Debugf("added %d remote candidates for %s", len(candidates), id)
	return nil
}

// WaitForIceGatheringComplete polls until the engine has finished
// gathering candidates for (mode, id) or ctx is done. It returns
// ErrNoConnection when the connection does not exist or goes away while
// waiting. Subscribers to {id}_ice-done learn about completion sooner.
func (f *Facade) WaitForIceGatheringComplete(ctx context.Context, mode domain.Mode, id string) error {
	if done, err := f.gatheringDone(mode, id); done || err != nil {
		return err
	}

	ticker := time.NewTicker(f.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if done, err := f.gatheringDone(mode, id); done || err != nil {
				return err
			}
		}
	}
}

func (f *Facade) gatheringDone(mode domain.Mode, id string) (bool, error) {
	if f.reg.IceGatheringDone(mode, id) {
		return true, nil
	}
	if !f.reg.Exists(mode, id) {
		f.log.Warnf("waiting for candidates of unknown %s connection %s", mode, id)
		return false, ErrNoConnection
	}
	return false, nil
}
