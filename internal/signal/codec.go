package signal

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"omegartc/native/internal/domain"
)

// The wire encoding is Base64 over JSON. It is neither encrypted nor
// authenticated; whoever carries these strings between peers must secure
// that transport.

// EncodeDescription encodes a session description for out-of-band exchange.
func EncodeDescription(sdp domain.SDPPayload) (string, error) {
	return encode(sdp)
}

// DecodeDescription reverses EncodeDescription.
func DecodeDescription(s string) (domain.SDPPayload, error) {
	var sdp domain.SDPPayload
	if err := decode(s, &sdp); err != nil {
		return domain.SDPPayload{}, fmt.Errorf("decode description: %w", err)
	}
	if sdp.Type == "" || sdp.SDP == "" {
		return domain.SDPPayload{}, fmt.Errorf("decode description: missing type or sdp")
	}
	return sdp, nil
}

// EncodeCandidates encodes a candidate list for out-of-band exchange.
func EncodeCandidates(candidates []domain.ICECandidatePayload) (string, error) {
	if candidates == nil {
		candidates = []domain.ICECandidatePayload{}
	}
	return encode(candidates)
}

// DecodeCandidates reverses EncodeCandidates.
func DecodeCandidates(s string) ([]domain.ICECandidatePayload, error) {
	var candidates []domain.ICECandidatePayload
	if err := decode(s, &candidates); err != nil {
		return nil, fmt.Errorf("decode candidates: %w", err)
	}
	if candidates == nil {
		candidates = []domain.ICECandidatePayload{}
	}
	return candidates, nil
}

func encode(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

func decode(s string, v any) error {
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
