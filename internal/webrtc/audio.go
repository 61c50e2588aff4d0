package webrtc

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pion/logging"
	pion "github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"

	"omegartc/native/internal/config"
)

// ErrNoAudioDevice is returned when a voice connection asks for a
// microphone and no capture source is configured.
var ErrNoAudioDevice = errors.New("no audio capture device")

const frameDuration = 20 * time.Millisecond

// opusSilence is a single Opus frame of silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// microphone feeds a local Opus track.
type microphone struct {
	track *pion.TrackLocalStaticSample
	log   logging.LeveledLogger

	done chan struct{}
	once sync.Once
}

func openMicrophone(source string, log logging.LeveledLogger) (*microphone, error) {
	if source != config.MicrophoneSilence {
		return nil, ErrNoAudioDevice
	}

	track, err := pion.NewTrackLocalStaticSample(
		pion.RTPCodecCapability{MimeType: pion.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"audio", "omegartc",
	)
	if err != nil {
		return nil, fmt.Errorf("create audio track: %w", err)
	}
	return &microphone{track: track, log: log, done: make(chan struct{})}, nil
}

// run writes silence frames until stop is called.
func (m *microphone) run() {
	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			if err := m.track.WriteSample(media.Sample{Data: opusSilence, Duration: frameDuration}); err != nil {
				m.log.Debugf("write audio sample: %v", err)
			}
		}
	}
}

func (m *microphone) stop() {
	m.once.Do(func() { close(m.done) })
}

// sink records one incoming Opus track to an Ogg file.
type sink struct {
	mu     sync.Mutex
	w      *oggwriter.OggWriter
	closed bool
}

// newSink returns nil without error when recording is off or the track
// is not Opus.
func newSink(dir string, track *pion.TrackRemote) (*sink, error) {
	if dir == "" || !strings.EqualFold(track.Codec().MimeType, pion.MimeTypeOpus) {
		return nil, nil
	}
	name := fmt.Sprintf("%s-%d.ogg", sanitize(track.ID()), time.Now().UnixNano())
	w, err := oggwriter.New(filepath.Join(dir, name), 48000, track.Codec().Channels)
	if err != nil {
		return nil, err
	}
	return &sink{w: w}, nil
}

func (s *sink) write(track *pion.TrackRemote) error {
	pkt, _, err := track.ReadRTP()
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	return s.w.WriteRTP(pkt)
}

func (s *sink) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.w.Close()
}

// playout consumes an incoming track until it ends, recording it when s
// is non-nil.
func playout(track *pion.TrackRemote, s *sink, log logging.LeveledLogger) {
	if s == nil {
		buf := make([]byte, 1500)
		for {
			if _, _, err := track.Read(buf); err != nil {
				return
			}
		}
	}

	defer s.close()
	for {
		if err := s.write(track); err != nil {
			log.Debugf("audio track %s ended: %v", track.ID(), err)
			return
		}
	}
}

func sanitize(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, id)
}
