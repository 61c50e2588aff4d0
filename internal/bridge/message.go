package bridge

import (
	"encoding/json"

	"omegartc/native/internal/config"
	"omegartc/native/internal/domain"
)

// request is a call from the host runtime.
type request struct {
	ID         json.RawMessage    `json:"id,omitempty"`
	Method     string             `json:"method"`
	Peer       string             `json:"peer,omitempty"`
	Name       string             `json:"name,omitempty"`
	Mode       string             `json:"mode,omitempty"`
	Microphone bool               `json:"microphone,omitempty"`
	Payload    string             `json:"payload,omitempty"`
	Channel    string             `json:"channel,omitempty"`
	Ordered    *bool              `json:"ordered,omitempty"`
	Data       string             `json:"data,omitempty"`
	Binary     bool               `json:"binary,omitempty"` // Data is base64
	Wait       bool               `json:"wait,omitempty"`
	Topic      string             `json:"topic,omitempty"`
	ICEServers []config.ICEServer `json:"iceServers,omitempty"`
	Policy     string             `json:"policy,omitempty"`
	Trickle    *bool              `json:"trickle,omitempty"`
}

// rtcConfig is the configuration as the host runtime sees it.
type rtcConfig struct {
	ICEServers []config.ICEServer `json:"iceServers"`
	Policy     string             `json:"policy"`
	Trickle    bool               `json:"trickle"`
}

func wireConfig(cfg config.RTC) rtcConfig {
	servers := cfg.ICEServers
	if servers == nil {
		servers = []config.ICEServer{}
	}
	return rtcConfig{
		ICEServers: servers,
		Policy:     string(cfg.RelayPolicy),
		Trickle:    cfg.Trickle,
	}
}

// response answers exactly one request.
type response struct {
	ID     json.RawMessage `json:"id,omitempty"`
	OK     bool            `json:"ok"`
	Result any             `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// event carries a bus publication to the host runtime.
type event struct {
	Event string `json:"event"`
	Args  []any  `json:"args"`
}

// wireArgs makes bus arguments JSON-friendly. Text payloads become
// strings; binary payloads are marshalled as base64 by encoding/json.
func wireArgs(args []any) []any {
	out := make([]any, len(args))
	for i, a := range args {
		switch v := a.(type) {
		case domain.Payload:
			if v.IsString {
				out[i] = string(v.Data)
			} else {
				out[i] = v.Data
			}
		default:
			out[i] = v
		}
	}
	return out
}
