package signal

import (
	"encoding/base64"
	"reflect"
	"testing"

	"omegartc/native/internal/domain"
)

func strPtr(s string) *string { return &s }
func u16Ptr(v uint16) *uint16 { return &v }

func TestDescription_RoundTrip(t *testing.T) {
	for _, sdp := range []domain.SDPPayload{
		{Type: "offer", SDP: "v=0\r\no=- 4611731400430051336 2 IN IP4 127.0.0.1\r\ns=-\r\n"},
		{Type: "answer", SDP: "v=0\r\na=ice-ufrag:ünïcødé\r\n"},
	} {
		encoded, err := EncodeDescription(sdp)
		if err != nil {
			t.Fatalf("EncodeDescription: %v", err)
		}
		decoded, err := DecodeDescription(encoded)
		if err != nil {
			t.Fatalf("DecodeDescription: %v", err)
		}
		if decoded != sdp {
			t.Errorf("round trip = %+v, want %+v", decoded, sdp)
		}
	}
}

func TestCandidates_RoundTrip(t *testing.T) {
	in := []domain.ICECandidatePayload{
		{
			Candidate:        "candidate:1 1 udp 2130706431 192.168.1.2 54321 typ host",
			SDPMid:           strPtr("0"),
			SDPMLineIndex:    u16Ptr(0),
			UsernameFragment: strPtr("abcd"),
		},
		{Candidate: "candidate:2 1 udp 1694498815 203.0.113.9 61000 typ srflx", SDPMLineIndex: u16Ptr(1)},
		{Candidate: ""},
	}

	encoded, err := EncodeCandidates(in)
	if err != nil {
		t.Fatalf("EncodeCandidates: %v", err)
	}
	out, err := DecodeCandidates(encoded)
	if err != nil {
		t.Fatalf("DecodeCandidates: %v", err)
	}
	if !reflect.DeepEqual(out, in) {
		t.Errorf("round trip = %+v, want %+v", out, in)
	}
}

func TestCandidates_Empty(t *testing.T) {
	encoded, err := EncodeCandidates(nil)
	if err != nil {
		t.Fatal(err)
	}
	out, err := DecodeCandidates(encoded)
	if err != nil {
		t.Fatal(err)
	}
	if out == nil || len(out) != 0 {
		t.Errorf("decoded = %v, want empty list", out)
	}
}

func TestDecode_Errors(t *testing.T) {
	notJSON := base64.StdEncoding.EncodeToString([]byte("not json"))
	noSDP := base64.StdEncoding.EncodeToString([]byte(`{"type":"offer"}`))

	for name, s := range map[string]string{
		"bad base64": "%%%",
		"not json":   notJSON,
		"no sdp":     noSDP,
	} {
		if _, err := DecodeDescription(s); err == nil {
			t.Errorf("%s: expected description error", name)
		}
	}
	if _, err := DecodeCandidates(notJSON); err == nil {
		t.Error("expected candidate error")
	}
}

func TestEncodeDescription_MatchesBrowserShape(t *testing.T) {
	encoded, _ := EncodeDescription(domain.SDPPayload{Type: "offer", SDP: "v=0"})
	raw, _ := base64.StdEncoding.DecodeString(encoded)
	if string(raw) != `{"type":"offer","sdp":"v=0"}` {
		t.Errorf("json = %s", raw)
	}
}
