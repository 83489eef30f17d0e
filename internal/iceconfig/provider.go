// Package iceconfig fetches the short-lived STUN/TURN server list for a
// session from the platform API.
package iceconfig

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/pion/webrtc/v4"
)

const fetchTimeout = 5 * time.Second

// IceServer mirrors the wire shape of one entry in the ice-config response.
type IceServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

type iceConfigResponse struct {
	IceServers []IceServer `json:"ice_servers"`
}

// Provider resolves ICE servers for a room. It is pure request/response and
// holds no state beyond its HTTP client.
type Provider struct {
	baseURL  string
	token    string
	client   *http.Client
	fallback string
}

// New creates a provider. fallbackSTUN is returned whenever the endpoint
// cannot produce a usable list, so a session can always attempt
// connectivity.
func New(baseURL, token, fallbackSTUN string) *Provider {
	return &Provider{
		baseURL:  baseURL,
		token:    token,
		client:   &http.Client{Timeout: fetchTimeout},
		fallback: fallbackSTUN,
	}
}

// Fetch returns the ICE servers for roomID. It never fails: network errors,
// non-2xx statuses, and malformed bodies all degrade to the STUN-only
// fallback. Called once per connect; no retries.
func (p *Provider) Fetch(ctx context.Context, roomID string) []webrtc.ICEServer {
	servers, err := p.fetch(ctx, roomID)
	if err != nil {
		slog.Warn("ice config fetch failed, using STUN fallback", "room", roomID, "err", err)
		return p.fallbackServers()
	}
	if len(servers) == 0 {
		return p.fallbackServers()
	}
	return servers
}

func (p *Provider) fetch(ctx context.Context, roomID string) ([]webrtc.ICEServer, error) {
	endpoint := fmt.Sprintf("%s/sessions/%s/ice-config", p.baseURL, roomID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ice config endpoint returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var decoded iceConfigResponse
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil, fmt.Errorf("malformed ice config body: %w", err)
	}

	servers := make([]webrtc.ICEServer, 0, len(decoded.IceServers))
	for _, s := range decoded.IceServers {
		if len(s.URLs) == 0 {
			continue
		}
		server := webrtc.ICEServer{URLs: s.URLs}
		if s.Username != "" {
			server.Username = s.Username
		}
		if s.Credential != "" {
			server.Credential = s.Credential
		}
		servers = append(servers, server)
	}
	return servers, nil
}

func (p *Provider) fallbackServers() []webrtc.ICEServer {
	return []webrtc.ICEServer{{URLs: []string{p.fallback}}}
}
