package cmd

import (
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/EdwinAdvine/liveroom/internal/ui"
	"github.com/EdwinAdvine/liveroom/internal/version"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:     "liveroom",
	Short:   "Terminal client for full-mesh WebRTC live video rooms",
	Long:    `LiveRoom joins live video sessions from the terminal. It connects to the platform's signaling service over a websocket, negotiates a direct WebRTC connection with every other participant in the room, and keeps camera, microphone, screen share, and chat state in sync across the mesh.`,
	Version: version.Version,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	go func() {
		<-sig
		os.Exit(0)
	}()

	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		ui.PrintError(err.Error())
		os.Exit(1)
	}
}
