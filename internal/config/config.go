package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/google/uuid"
)

// Default configuration values (production)
const (
	DefaultDomain   = "live.youthurbanism.app"
	DefaultSTUN     = "stun:stun.l.google.com:19302"
	DefaultMaxPeers = 8
)

// Config holds application configuration
type Config struct {
	// Domain is the platform server domain
	Domain string

	// APIBaseURL is the REST base constructed from domain
	APIBaseURL string

	// AuthToken is the ambient session credential for both the REST API
	// and the session socket
	AuthToken string

	// DisplayName shown to other participants
	DisplayName string

	// STUNServer is the public STUN fallback used when the ICE config
	// endpoint is unreachable
	STUNServer string

	// ForceRelay forces TURN-relayed candidates
	ForceRelay bool

	// MaxPeers caps the mesh size; connections are pairwise so the room
	// cost grows quadratically
	MaxPeers int
}

// Options for loading config with CLI flag overrides
type Options struct {
	Domain      string
	AuthToken   string
	DisplayName string
	STUNServer  string
	ForceRelay  bool
	MaxPeers    int
}

// Load reads configuration with the following priority:
// 1. CLI flags (passed via Options) - highest priority
// 2. Environment variables
// 3. Hardcoded defaults - lowest priority
func Load(opts Options) (*Config, error) {
	domain := firstNonEmpty(opts.Domain, os.Getenv("LIVEROOM_DOMAIN"), DefaultDomain)
	token := firstNonEmpty(opts.AuthToken, os.Getenv("LIVEROOM_TOKEN"))
	name := firstNonEmpty(opts.DisplayName, os.Getenv("LIVEROOM_NAME"))
	stun := firstNonEmpty(opts.STUNServer, os.Getenv("LIVEROOM_STUN"), DefaultSTUN)

	if name == "" {
		// Anonymous joins still need something the roster can show.
		name = "guest-" + uuid.NewString()[:8]
	}

	maxPeers := opts.MaxPeers
	if maxPeers == 0 {
		if raw := os.Getenv("LIVEROOM_MAX_PEERS"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil {
				return nil, fmt.Errorf("invalid LIVEROOM_MAX_PEERS: %w", err)
			}
			maxPeers = parsed
		}
	}
	if maxPeers <= 0 {
		maxPeers = DefaultMaxPeers
	}

	return &Config{
		Domain:      domain,
		APIBaseURL:  fmt.Sprintf("https://%s/api", domain),
		AuthToken:   token,
		DisplayName: name,
		STUNServer:  stun,
		ForceRelay:  opts.ForceRelay,
		MaxPeers:    maxPeers,
	}, nil
}

// SessionSocketURL returns the room-scoped websocket address.
func (c *Config) SessionSocketURL(roomID string) string {
	return fmt.Sprintf("wss://%s/ws/sessions/%s", c.Domain, roomID)
}

// RoomLink returns the webapp URL for a room ID.
func (c *Config) RoomLink(roomID string) string {
	return fmt.Sprintf("https://%s/live/%s", c.Domain, roomID)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
