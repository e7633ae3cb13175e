package main

import (
	"os"

	"github.com/G-Research/flotilla/cmd/flotilla/cmd"
	"github.com/G-Research/flotilla/internal/common"
)

// Config is handled by cmd/root.go
func main() {
	common.ConfigureCommandLineLogging()
	err := cmd.RootCmd().Execute()
	if err != nil {
		os.Exit(1)
	}
}
