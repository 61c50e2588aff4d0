package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidMode is returned for a connection mode other than data or voice.
var ErrInvalidMode = errors.New("invalid connection mode")

// Mode selects the registry partition a connection lives in.
type Mode int

const (
	ModeData Mode = iota + 1
	ModeVoice
)

func (m Mode) String() string {
	switch m {
	case ModeData:
		return "data"
	case ModeVoice:
		return "voice"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode parses "data" or "voice", case-insensitively.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "data":
		return ModeData, nil
	case "voice":
		return ModeVoice, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidMode, s)
	}
}

// ConnectionState is the lifecycle state reported by the native engine.
type ConnectionState int

const (
	StateNew ConnectionState = iota
	StateConnecting
	StateConnected
	StateClosed
	StateFailed
)

func (s ConnectionState) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether s ends the connection.
func (s ConnectionState) Terminal() bool {
	return s == StateClosed || s == StateFailed
}
