package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestFetchICEServers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("Authorization = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"iceServers":[
			{"urls":["turn:relay.example.com:3478"],"username":"u","credential":"c"},
			{"urls":[]}
		]}`))
	}))
	defer srv.Close()

	servers, err := NewClient(srv.Client()).FetchICEServers(context.Background(), srv.URL, "secret")
	if err != nil {
		t.Fatalf("FetchICEServers: %v", err)
	}
	if len(servers) != 1 {
		t.Fatalf("got %d servers, want 1", len(servers))
	}
	s := servers[0]
	if s.URLs[0] != "turn:relay.example.com:3478" || s.Username != "u" || s.Credential != "c" {
		t.Errorf("unexpected server %+v", s)
	}
}

func TestFetchICEServers_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "denied", http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := NewClient(nil).FetchICEServers(context.Background(), srv.URL, "")
	if err == nil || !strings.Contains(err.Error(), "403") {
		t.Fatalf("err = %v, want http 403", err)
	}
}

func TestFetchICEServers_Empty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"iceServers":[]}`))
	}))
	defer srv.Close()

	if _, err := NewClient(nil).FetchICEServers(context.Background(), srv.URL, ""); err == nil {
		t.Fatal("expected an error for an empty list")
	}
}

func TestFetchICEServers_BadJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	if _, err := NewClient(nil).FetchICEServers(context.Background(), srv.URL, ""); err == nil {
		t.Fatal("expected an error for malformed json")
	}
}
