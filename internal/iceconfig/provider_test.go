package iceconfig

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pion/webrtc/v4"
)

const fallbackSTUN = "stun:stun.l.google.com:19302"

func TestFetchMapsServerList(t *testing.T) {
	var gotAuth, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		w.Write([]byte(`{
			"ice_servers": [
				{"urls": ["stun:stun.example.org:3478"]},
				{"urls": ["turn:turn.example.org:3478"], "username": "u", "credential": "secret"}
			]
		}`))
	}))
	defer srv.Close()

	p := New(srv.URL, "tok", fallbackSTUN)
	servers := p.Fetch(context.Background(), "room-1")

	if gotAuth != "Bearer tok" {
		t.Errorf("Authorization = %q, want Bearer tok", gotAuth)
	}
	if gotPath != "/sessions/room-1/ice-config" {
		t.Errorf("path = %q", gotPath)
	}
	if len(servers) != 2 {
		t.Fatalf("servers = %d, want 2", len(servers))
	}
	if servers[0].URLs[0] != "stun:stun.example.org:3478" {
		t.Errorf("servers[0] = %+v", servers[0])
	}
	if servers[1].Username != "u" || servers[1].Credential != "secret" {
		t.Errorf("servers[1] = %+v", servers[1])
	}
}

func TestFetchFallsBackOnErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	servers := New(srv.URL, "", fallbackSTUN).Fetch(context.Background(), "room-1")
	assertFallback(t, servers)
}

func TestFetchFallsBackOnMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ice_servers": "oops"`))
	}))
	defer srv.Close()

	servers := New(srv.URL, "", fallbackSTUN).Fetch(context.Background(), "room-1")
	assertFallback(t, servers)
}

func TestFetchFallsBackOnEmptyList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ice_servers": []}`))
	}))
	defer srv.Close()

	servers := New(srv.URL, "", fallbackSTUN).Fetch(context.Background(), "room-1")
	assertFallback(t, servers)
}

func TestFetchFallsBackOnNetworkError(t *testing.T) {
	// Nothing listens on port 1.
	servers := New("http://127.0.0.1:1", "", fallbackSTUN).Fetch(context.Background(), "room-1")
	assertFallback(t, servers)
}

func TestFetchSkipsEntriesWithoutURLs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"ice_servers": [
				{"username": "orphan"},
				{"urls": ["stun:stun.example.org:3478"]}
			]
		}`))
	}))
	defer srv.Close()

	servers := New(srv.URL, "", fallbackSTUN).Fetch(context.Background(), "room-1")
	if len(servers) != 1 {
		t.Fatalf("servers = %d, want 1", len(servers))
	}
	if servers[0].URLs[0] != "stun:stun.example.org:3478" {
		t.Errorf("servers[0] = %+v", servers[0])
	}
}

func assertFallback(t *testing.T, servers []webrtc.ICEServer) {
	t.Helper()
	if len(servers) != 1 {
		t.Fatalf("servers = %d, want STUN fallback only", len(servers))
	}
	if servers[0].URLs[0] != fallbackSTUN {
		t.Errorf("servers[0] = %+v, want fallback", servers[0])
	}
}
