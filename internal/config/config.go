package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const defaultListenAddr = "127.0.0.1:8765"

// Microphone sources for voice connections.
const (
	MicrophoneSilence = "silence"
	MicrophoneNone    = "none"
)

// RelayPolicy restricts which ICE candidates a connection may use.
type RelayPolicy string

const (
	RelayPolicyAll   RelayPolicy = "all"
	RelayPolicyRelay RelayPolicy = "relay"
)

// ParseRelayPolicy parses "all" or "relay". An empty string means "all".
func ParseRelayPolicy(s string) (RelayPolicy, error) {
	switch RelayPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", RelayPolicyAll:
		return RelayPolicyAll, nil
	case RelayPolicyRelay:
		return RelayPolicyRelay, nil
	default:
		return "", fmt.Errorf("invalid relay policy %q", s)
	}
}

// ICEServer holds STUN/TURN server configuration.
type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// RTC is the configuration captured by each connection at creation time.
type RTC struct {
	ICEServers  []ICEServer
	RelayPolicy RelayPolicy
	Trickle     bool
	// IncludeLoopback gathers loopback candidates so peers on the same host
	// can connect without any other interface.
	IncludeLoopback bool
}

// Clone returns a deep copy of c.
func (c RTC) Clone() RTC {
	out := c
	if c.ICEServers != nil {
		out.ICEServers = make([]ICEServer, len(c.ICEServers))
		for i, s := range c.ICEServers {
			s.URLs = append([]string(nil), s.URLs...)
			out.ICEServers[i] = s
		}
	}
	return out
}

// Validate reports settings a connection cannot work with.
func (c RTC) Validate() error {
	for i, s := range c.ICEServers {
		if len(s.URLs) == 0 {
			return fmt.Errorf("ice server %d has no urls", i)
		}
	}
	if c.RelayPolicy == RelayPolicyRelay && len(c.ICEServers) == 0 {
		return fmt.Errorf("relay policy requires at least one ice server")
	}
	return nil
}

// Config holds the application configuration.
type Config struct {
	ListenAddr string
	RTC        RTC

	// ICEURL, when set, is fetched at startup for relay credentials.
	ICEURL   string
	ICEToken string

	Microphone string
	RecordDir  string
}

// Load reads configuration from a .env file (if present) and environment variables.
// Environment variables take precedence over .env values.
func Load() (*Config, error) {
	// godotenv.Load does not overwrite existing env vars
	_ = godotenv.Load()

	policy, err := ParseRelayPolicy(os.Getenv("OMEGA_ICE_POLICY"))
	if err != nil {
		return nil, err
	}
	trickle, err := getBool("OMEGA_TRICKLE")
	if err != nil {
		return nil, err
	}
	loopback, err := getBool("OMEGA_LOOPBACK")
	if err != nil {
		return nil, err
	}

	mic := strings.ToLower(getEnv("OMEGA_MICROPHONE", MicrophoneSilence))
	if mic != MicrophoneSilence && mic != MicrophoneNone {
		return nil, fmt.Errorf("OMEGA_MICROPHONE must be silence or none, got %q", mic)
	}

	cfg := &Config{
		ListenAddr: getEnv("OMEGA_LISTEN", defaultListenAddr),
		RTC: RTC{
			RelayPolicy:     policy,
			Trickle:         trickle,
			IncludeLoopback: loopback,
		},
		ICEURL:     os.Getenv("OMEGA_ICE_URL"),
		ICEToken:   os.Getenv("OMEGA_ICE_TOKEN"),
		Microphone: mic,
		RecordDir:  os.Getenv("OMEGA_RECORD_DIR"),
	}

	if urls := splitList(os.Getenv("OMEGA_ICE_SERVERS")); len(urls) > 0 {
		cfg.RTC.ICEServers = []ICEServer{{
			URLs:       urls,
			Username:   os.Getenv("OMEGA_ICE_USERNAME"),
			Credential: os.Getenv("OMEGA_ICE_CREDENTIAL"),
		}}
	}

	if cfg.RTC.RelayPolicy == RelayPolicyRelay && len(cfg.RTC.ICEServers) == 0 && cfg.ICEURL == "" {
		return nil, fmt.Errorf("OMEGA_ICE_POLICY=relay requires OMEGA_ICE_SERVERS or OMEGA_ICE_URL")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBool(key string) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
