package main

import (
	"log/slog"
	"os"

	"github.com/cutout-cli/cutout/cmd/cutout/commands"
)

func main() {
	// Replaced once flags and config are parsed; stderr keeps stdout for results
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
	slog.SetDefault(logger)

	commands.Execute()
}
