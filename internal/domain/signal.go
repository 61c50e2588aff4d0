package domain

// SDPPayload is the JSON structure for SDP offer/answer descriptions.
type SDPPayload struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// ICECandidatePayload is the JSON structure for one ICE candidate. The
// optional fields stay pointers so a decoded candidate keeps the difference
// between an absent field and a zero value.
type ICECandidatePayload struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

// Payload is a message received on a data channel.
type Payload struct {
	Data     []byte
	IsString bool
}

// String returns the payload data as text.
func (p Payload) String() string {
	return string(p.Data)
}
