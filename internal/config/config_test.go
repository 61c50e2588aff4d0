package config

import (
	"os"
	"testing"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"OMEGA_LISTEN", "OMEGA_ICE_SERVERS", "OMEGA_ICE_USERNAME", "OMEGA_ICE_CREDENTIAL",
		"OMEGA_ICE_POLICY", "OMEGA_TRICKLE", "OMEGA_LOOPBACK", "OMEGA_ICE_URL",
		"OMEGA_ICE_TOKEN", "OMEGA_MICROPHONE", "OMEGA_RECORD_DIR",
	} {
		t.Setenv(key, "")
	}
	// Keep a stray .env in the package directory from leaking in.
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatalf("Chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != defaultListenAddr {
		t.Errorf("ListenAddr = %q, want %q", cfg.ListenAddr, defaultListenAddr)
	}
	if cfg.RTC.RelayPolicy != RelayPolicyAll {
		t.Errorf("RelayPolicy = %q, want all", cfg.RTC.RelayPolicy)
	}
	if cfg.RTC.Trickle || cfg.RTC.IncludeLoopback {
		t.Error("expected trickle and loopback off by default")
	}
	if len(cfg.RTC.ICEServers) != 0 {
		t.Errorf("expected no ICE servers, got %d", len(cfg.RTC.ICEServers))
	}
	if cfg.Microphone != "silence" {
		t.Errorf("Microphone = %q, want silence", cfg.Microphone)
	}
}

func TestLoad_ICEServers(t *testing.T) {
	clearEnv(t)
	t.Setenv("OMEGA_ICE_SERVERS", "stun:stun.example.com:3478, turn:turn.example.com:3478")
	t.Setenv("OMEGA_ICE_USERNAME", "alice")
	t.Setenv("OMEGA_ICE_CREDENTIAL", "secret")
	t.Setenv("OMEGA_ICE_POLICY", "RELAY")
	t.Setenv("OMEGA_TRICKLE", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.RTC.ICEServers) != 1 {
		t.Fatalf("expected 1 ICE server entry, got %d", len(cfg.RTC.ICEServers))
	}
	s := cfg.RTC.ICEServers[0]
	if len(s.URLs) != 2 || s.URLs[1] != "turn:turn.example.com:3478" {
		t.Errorf("URLs = %v", s.URLs)
	}
	if s.Username != "alice" || s.Credential != "secret" {
		t.Errorf("credentials = %q/%q", s.Username, s.Credential)
	}
	if cfg.RTC.RelayPolicy != RelayPolicyRelay {
		t.Errorf("RelayPolicy = %q, want relay", cfg.RTC.RelayPolicy)
	}
	if !cfg.RTC.Trickle {
		t.Error("expected trickle on")
	}
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string][2]string{
		"policy":   {"OMEGA_ICE_POLICY", "sometimes"},
		"trickle":  {"OMEGA_TRICKLE", "maybe"},
		"mic":      {"OMEGA_MICROPHONE", "usb"},
		"loopback": {"OMEGA_LOOPBACK", "2"},
	}
	for name, kv := range cases {
		t.Run(name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(kv[0], kv[1])
			if _, err := Load(); err == nil {
				t.Errorf("expected error for %s=%s", kv[0], kv[1])
			}
		})
	}
}

func TestLoad_RelayWithoutServers(t *testing.T) {
	clearEnv(t)
	t.Setenv("OMEGA_ICE_POLICY", "relay")
	if _, err := Load(); err == nil {
		t.Error("expected error for relay policy without servers")
	}
}

func TestLoad_DotEnv(t *testing.T) {
	clearEnv(t)
	os.Unsetenv("OMEGA_LISTEN")
	if err := os.WriteFile(".env", []byte("OMEGA_LISTEN=127.0.0.1:9999\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != "127.0.0.1:9999" {
		t.Errorf("ListenAddr = %q, want value from .env", cfg.ListenAddr)
	}
}

func TestRTCClone_DeepCopy(t *testing.T) {
	orig := RTC{ICEServers: []ICEServer{{URLs: []string{"stun:a"}}}}
	clone := orig.Clone()

	orig.ICEServers[0].URLs[0] = "stun:b"
	orig.ICEServers = append(orig.ICEServers, ICEServer{URLs: []string{"stun:c"}})

	if len(clone.ICEServers) != 1 {
		t.Fatalf("clone grew to %d servers", len(clone.ICEServers))
	}
	if clone.ICEServers[0].URLs[0] != "stun:a" {
		t.Errorf("clone URL = %q, want stun:a", clone.ICEServers[0].URLs[0])
	}
}

func TestRTCValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     RTC
		wantErr bool
	}{
		{"empty", RTC{}, false},
		{"relay with server", RTC{RelayPolicy: RelayPolicyRelay, ICEServers: []ICEServer{{URLs: []string{"turn:a"}}}}, false},
		{"relay without server", RTC{RelayPolicy: RelayPolicyRelay}, true},
		{"server without urls", RTC{ICEServers: []ICEServer{{Username: "u"}}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %t", err, tt.wantErr)
			}
		})
	}
}
