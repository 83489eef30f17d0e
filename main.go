package main

import (
	"github.com/EdwinAdvine/liveroom/cmd"
	"github.com/EdwinAdvine/liveroom/internal/logging"
)

func main() {
	// Initialize logging
	logging.Init()
	cmd.Execute()
}
