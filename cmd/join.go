package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/EdwinAdvine/liveroom/internal/config"
	"github.com/EdwinAdvine/liveroom/internal/iceconfig"
	"github.com/EdwinAdvine/liveroom/internal/netcheck"
	"github.com/EdwinAdvine/liveroom/internal/session"
	"github.com/EdwinAdvine/liveroom/internal/signaling"
	"github.com/EdwinAdvine/liveroom/internal/ui"
)

var (
	flagName     string
	flagDomain   string
	flagToken    string
	flagSTUN     string
	flagRelay    bool
	flagMaxPeers int
)

var joinCmd = &cobra.Command{
	Use:     "join <room-id>",
	Aliases: []string{"j"},
	Short:   "Join a live video room",
	Long: `Join a live video room and exchange camera, microphone, screen share,
and chat with everyone else in it over direct WebRTC connections.

Examples:
  liveroom join chem-101
  liveroom join chem-101 --name "Ms. Otieno" --token $LIVEROOM_TOKEN
  liveroom join chem-101 --relay`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return joinRoom(args[0])
	},
}

func joinRoom(roomID string) error {
	cfg, err := config.Load(config.Options{
		Domain:      flagDomain,
		AuthToken:   flagToken,
		DisplayName: flagName,
		STUNServer:  flagSTUN,
		ForceRelay:  flagRelay,
		MaxPeers:    flagMaxPeers,
	})
	if err != nil {
		return err
	}

	if !cfg.ForceRelay && netcheck.ShouldForceRelay() {
		ui.PrintWarning("VPN or CGNAT detected, forcing relayed connections")
		cfg.ForceRelay = true
	}

	opts := session.Options{
		RoomID:      roomID,
		DisplayName: cfg.DisplayName,
		Ice:         iceconfig.New(cfg.APIBaseURL, cfg.AuthToken, cfg.STUNServer),
		Channel:     signaling.NewChannel(cfg.SessionSocketURL(roomID), cfg.AuthToken),
		ForceRelay:  cfg.ForceRelay,
		MaxPeers:    cfg.MaxPeers,
	}

	if cfg.AuthToken == "" {
		ui.PrintInfo("No auth token set, joining as " + cfg.DisplayName)
	}

	// The capturer's API registers the VP8/Opus codecs its tracks produce,
	// so its peer connections must come from the same API instance.
	stopDeviceSpinner := ui.RunSpinner("Preparing capture devices...")
	capturer, err := session.NewDeviceCapturer()
	stopDeviceSpinner()
	if err != nil {
		ui.PrintWarning("capture devices unavailable: " + err.Error())
	} else {
		opts.Capturer = capturer
		opts.NewPeerConnection = capturer.NewPeerConnection
	}

	stopSpinner := ui.RunConnectionSpinner("Connecting to " + cfg.Domain + "...")
	defer stopSpinner()

	co := session.NewCoordinator(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := co.Connect(ctx); err != nil {
		return err
	}
	defer co.Disconnect()
	stopSpinner()

	info := ui.RoomInfo{RoomID: roomID, RoomLink: cfg.RoomLink(roomID)}
	fmt.Println(info.View())

	if err := ui.RunRoom(co, roomID); err != nil {
		return err
	}

	co.Disconnect()
	ui.RenderSessionSummary(roomID, co.Summarize())
	ui.PrintSuccess("Left room " + roomID)
	return nil
}

func init() {
	rootCmd.AddCommand(joinCmd)

	joinCmd.Flags().StringVarP(&flagName, "name", "n", "", "Display name shown to other participants")
	joinCmd.Flags().StringVarP(&flagDomain, "domain", "d", "", "Custom platform domain")
	joinCmd.Flags().StringVarP(&flagToken, "token", "t", "", "Auth token for the session socket")
	joinCmd.Flags().StringVarP(&flagSTUN, "stun", "s", "", "Custom STUN server")
	joinCmd.Flags().BoolVarP(&flagRelay, "relay", "r", false, "Force relayed (TURN) connections")
	joinCmd.Flags().IntVarP(&flagMaxPeers, "max-peers", "m", 0, "Maximum remote participants to connect to")
}
